// Kuda serves the Kuda World Editor and stores its projects.
//
// The server hosts the editor's web root, saves and loads editor projects
// as JSON documents, publishes them as standalone packages and manages the
// plugin manifest. With --ws it also pushes time-of-day textures to
// WebSocket clients.
//
// Configuration is read from an optional YAML file and KUDA_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults on 127.0.0.1:3000
//	kuda
//
//	# Quiet, with the interactive console and texture broadcast
//	kuda -q -i --ws
//
//	# Configure via environment
//	KUDA_SERVER_PORT=8080 kuda
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/kuda/internal/catalog"
	"github.com/fyrsmithlabs/kuda/internal/config"
	kudahttp "github.com/fyrsmithlabs/kuda/internal/http"
	"github.com/fyrsmithlabs/kuda/internal/logging"
	"github.com/fyrsmithlabs/kuda/internal/publish"
	"github.com/fyrsmithlabs/kuda/internal/static"
	"github.com/fyrsmithlabs/kuda/internal/store"
	"github.com/fyrsmithlabs/kuda/internal/telemetry"
	"github.com/fyrsmithlabs/kuda/internal/textures"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

type options struct {
	configPath  string
	host        string
	port        int
	quiet       bool
	interactive bool
	ws          bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "kuda",
		Short: "Kuda World Editor server",
		Long: `kuda serves the Kuda World Editor web root and persists its projects.

Examples:
  # Start on the default address
  kuda

  # Listen on all interfaces, port 8080
  kuda --host 0.0.0.0 --port 8080

  # Interactive console without request logging
  kuda -q -i`,
		Version:       version,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts.interactive, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&opts.host, "host", "", "listen host (overrides server.host)")
	flags.IntVar(&opts.port, "port", 0, "listen port (overrides server.port)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "disable logging")
	flags.BoolVarP(&opts.interactive, "interactive", "i", false, "start the interactive console")
	flags.BoolVar(&opts.ws, "ws", false, "enable the texture WebSocket endpoint")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "kuda by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

// loadConfig loads the config file and environment, then applies the
// flags the user set explicitly.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if opts.quiet {
		cfg.Logging.Quiet = true
	}
	if opts.ws {
		cfg.WebSocket.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	lc.Quiet = cfg.Quiet
	lc.Writer = w
	if cfg.Format != "" {
		lc.Format = cfg.Format
	}
	if cfg.Level != "" {
		level, err := logging.LevelFromString(cfg.Level)
		if err != nil {
			return nil, err
		}
		lc.Level = level
	}
	return logging.NewLogger(lc)
}

// app holds the wired services of a running server.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	store     *store.Store
	publisher *publish.Publisher
	catalog   *catalog.Catalog
	watcher   *catalog.Watcher
	server    *kudahttp.Server
}

// newApp wires the services described by cfg.
func newApp(cfg *config.Config, logger *logging.Logger) (*app, error) {
	st := store.New(cfg.Paths.Projects, logger)

	pub, err := publish.New(st, publish.Config{
		TemplatePath: cfg.Paths.Template,
		ReadmePath:   cfg.Paths.Readme,
		LibFiles:     cfg.Publish.LibFiles,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating publisher: %w", err)
	}

	cat := catalog.New(cfg.Paths.Plugins, cfg.Paths.Assets, logger)

	var watcher *catalog.Watcher
	if cfg.Catalog.Watch {
		watcher, err = catalog.NewWatcher(cat, cfg.Catalog.Debounce.Duration(), logger)
		if err != nil {
			return nil, fmt.Errorf("creating catalog watcher: %w", err)
		}
	}

	deps := kudahttp.Deps{
		Store:     st,
		Publisher: pub,
		Catalog:   cat,
		Root:      static.NewRoot(cfg.Paths.Root, logger),
	}
	if cfg.WebSocket.Enabled {
		deps.Textures = textures.New(cfg.WebSocket.Textures, logger)
	}

	srv, err := kudahttp.NewServer(deps, logger, &kudahttp.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RequireXHR:      cfg.Server.RequireXHR,
		BodyLimit:       cfg.Server.MaxBodyBytes,
		TexturesPath:    cfg.WebSocket.Path,
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating http server: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		publisher: pub,
		catalog:   cat,
		watcher:   watcher,
		server:    srv,
	}, nil
}

// run starts the server and blocks until ctx is cancelled or the console
// exits, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config, interactive bool, in io.Reader, out io.Writer) error {
	logger, err := newLogger(cfg.Logging, out)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tel, err := telemetry.New(ctx, cfg.Telemetry, version, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
		}
	}()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			// Scans still work uncached.
			logger.Warn(ctx, "catalog watcher disabled", zap.Error(err))
			a.watcher = nil
		} else {
			defer a.watcher.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.server.Start(gctx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	if interactive {
		g.Go(func() error {
			defer cancel()
			return newConsole(a, in, out).Run(gctx)
		})
	}

	logger.Info(ctx, "kuda ready",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("root", cfg.Paths.Root),
		zap.Bool("websocket", cfg.WebSocket.Enabled))

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "server stopped", zap.Error(err))
		return err
	}

	logger.Info(context.Background(), "server shutdown complete")
	return nil
}
