// Package http provides the HTTP API of the kuda server.
package http

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/kuda/internal/catalog"
	"github.com/fyrsmithlabs/kuda/internal/logging"
	"github.com/fyrsmithlabs/kuda/internal/publish"
	"github.com/fyrsmithlabs/kuda/internal/static"
	"github.com/fyrsmithlabs/kuda/internal/store"
	"github.com/fyrsmithlabs/kuda/internal/textures"
)

// Server serves the editor's web root and project API.
type Server struct {
	echo   *echo.Echo
	logger *logging.Logger
	config *Config
	deps   Deps
	routes []Route
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	// RequireXHR answers API requests that lack the
	// X-Requested-With: XMLHttpRequest header with an empty object.
	RequireXHR bool
	// BodyLimit caps request bodies, in echo's size notation ("32M").
	BodyLimit string
	// TexturesPath is the WebSocket route, used when Deps.Textures is set.
	TexturesPath string
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// Deps are the services behind the HTTP routes.
type Deps struct {
	Store     *store.Store
	Publisher *publish.Publisher
	Catalog   *catalog.Catalog
	Root      *static.Root
	// Textures is optional; nil disables the WebSocket endpoint.
	Textures *textures.Broadcaster
}

// DefaultConfig returns the listen address and limits used when no config
// is given.
func DefaultConfig() *Config {
	return &Config{
		Host:            "127.0.0.1",
		Port:            3000,
		ShutdownTimeout: 10 * time.Second,
		BodyLimit:       "32M",
		TexturesPath:    "/textures",
	}
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Store == nil || deps.Publisher == nil || deps.Catalog == nil || deps.Root == nil {
		return nil, fmt.Errorf("store, publisher, catalog and web root are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		logger: logger.Named("http"),
		config: cfg,
		deps:   deps,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator:        uuid.NewString,
		RequestIDHandler: s.bindRequestID,
	}))
	e.Use(s.requestLogger)
	e.Use(NewHTTPMetrics(logger.Underlying()).MetricsMiddleware())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = int(math.Ceil(cfg.RateLimit))
		}
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			},
		)))
	}

	s.routes = s.routeTable()
	for _, r := range s.routes {
		h := r.Handler
		if r.API {
			h = s.requireXHR(h)
		}
		e.Add(r.Method, r.Path, h).Name = r.Name
	}

	return s, nil
}

// bindRequestID makes the request ID available to context-aware logging.
func (s *Server) bindRequestID(c echo.Context, id string) {
	req := c.Request()
	ctx, err := logging.WithRequestID(req.Context(), id)
	if err != nil {
		return
	}
	c.SetRequest(req.WithContext(ctx))
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// requireXHR answers non-XHR API requests with an empty object when the
// server is configured to serve the API to the editor only.
func (s *Server) requireXHR(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.config.RequireXHR && c.Request().Header.Get(echo.HeaderXRequestedWith) != "XMLHttpRequest" {
			return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, []byte("{}\n"))
		}
		return next(c)
	}
}

// Routes returns the route table the server was built with.
func (s *Server) Routes() []Route {
	out := make([]Route, len(s.routes))
	copy(out, s.routes)
	return out
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully within the configured timeout.
//
// Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := s.Addr()
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info(ctx, "starting http server", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) metricsHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
