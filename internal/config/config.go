// Package config provides configuration loading for the kuda server.
//
// Configuration comes from hardcoded defaults, an optional YAML file and
// KUDA_-prefixed environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config holds the complete kuda configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Paths     PathsConfig     `koanf:"paths"`
	Publish   PublishConfig   `koanf:"publish"`
	WebSocket WebSocketConfig `koanf:"websocket"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// RequireXHR answers API requests lacking X-Requested-With with an empty object.
	RequireXHR   bool   `koanf:"require_xhr"`
	MaxBodyBytes string `koanf:"max_body_bytes"` // echo size notation, e.g. "32M"
	// RateLimit is the per-client request rate in requests per second;
	// 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// PathsConfig locates the web root and the directories served from it.
type PathsConfig struct {
	Root     string `koanf:"root"`
	Projects string `koanf:"projects"`
	Plugins  string `koanf:"plugins"`
	Assets   string `koanf:"assets"`
	Template string `koanf:"template"`
	Readme   string `koanf:"readme"`
}

// LibFile is a library file copied into every publish package.
type LibFile struct {
	Src  string `koanf:"src"`
	Dest string `koanf:"dest"` // directory inside the package, "" for its root
}

// PublishConfig holds publish package settings.
type PublishConfig struct {
	LibFiles []LibFile `koanf:"lib_files"`
}

// WebSocketConfig holds the texture broadcast settings.
type WebSocketConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Path     string   `koanf:"path"`
	Textures []string `koanf:"textures"`
}

// CatalogConfig controls plugin and model directory scanning.
type CatalogConfig struct {
	Watch    bool     `koanf:"watch"`
	Debounce Duration `koanf:"debounce"`
}

// LoggingConfig holds logger settings. Quiet discards all output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Quiet  bool   `koanf:"quiet"`
}

// TelemetryConfig controls OpenTelemetry export. Disabled by default; the
// Prometheus /metrics endpoint works without it.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	// Protocol is "grpc" or "http/protobuf".
	Protocol        string   `koanf:"protocol"`
	Insecure        bool     `koanf:"insecure"`
	ServiceName     string   `koanf:"service_name"`
	SampleRate      float64  `koanf:"sample_rate"`
	Metrics         bool     `koanf:"metrics"`
	ExportInterval  Duration `koanf:"export_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns the host:port pair the server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Default returns the configuration used when nothing overrides it.
//
// The layout matches the editor's checkout:
//
//	public/                     web root
//	public/projects/            saved and published projects
//	public/js/editor/plugins/   editor plugins and plugins.json
//	public/assets/              model assets
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            3000,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    "32M",
		},
		Paths: PathsConfig{
			Root:     "public",
			Projects: "public/projects",
			Plugins:  "public/js/editor/plugins",
			Assets:   "public/assets",
			Template: "PublishTemplate.html",
			Readme:   "PublishReadMe",
		},
		Publish: PublishConfig{
			LibFiles: []LibFile{
				{Src: "public/js/hemi.min.js"},
				{Src: "public/js/o3d.min.js"},
				{Src: "public/js/lib/jshashtable.min.js", Dest: "lib"},
			},
		},
		WebSocket: WebSocketConfig{
			Path: "/textures",
			Textures: []string{
				"public/assets/textures/dawn.jpg",
				"public/assets/textures/day.jpg",
				"public/assets/textures/dusk.jpg",
				"public/assets/textures/night.jpg",
			},
		},
		Catalog: CatalogConfig{
			Watch:    true,
			Debounce: Duration(100 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Endpoint:        "localhost:4317",
			Protocol:        "grpc",
			Insecure:        true,
			ServiceName:     "kuda",
			SampleRate:      1.0,
			Metrics:         true,
			ExportInterval:  Duration(15 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
		},
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Any of the web root, projects, plugins or assets paths is empty
//   - The websocket path does not start with "/"
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return errors.New("rate limit and burst cannot be negative")
	}

	for name, p := range map[string]string{
		"root":     c.Paths.Root,
		"projects": c.Paths.Projects,
		"plugins":  c.Paths.Plugins,
		"assets":   c.Paths.Assets,
	} {
		if p == "" {
			return fmt.Errorf("paths.%s cannot be empty", name)
		}
	}

	for i, lf := range c.Publish.LibFiles {
		if lf.Src == "" {
			return fmt.Errorf("publish.lib_files[%d]: src cannot be empty", i)
		}
	}

	if c.WebSocket.Enabled && (c.WebSocket.Path == "" || c.WebSocket.Path[0] != '/') {
		return fmt.Errorf("websocket path must start with /: %q", c.WebSocket.Path)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

// Validate checks telemetry settings. Nothing is checked while disabled.
func (t TelemetryConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.Endpoint == "" {
		return errors.New("endpoint is required when telemetry is enabled")
	}
	if t.ServiceName == "" {
		return errors.New("service_name is required when telemetry is enabled")
	}
	if t.Protocol != "grpc" && t.Protocol != "http/protobuf" {
		return fmt.Errorf("protocol must be 'grpc' or 'http/protobuf', got %q", t.Protocol)
	}
	// Plaintext export is only allowed to the local collector.
	if t.Insecure && !isLocalEndpoint(t.Endpoint) {
		return errors.New("insecure export to a remote endpoint is not allowed; set insecure=false or use localhost")
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %f", t.SampleRate)
	}
	if t.Metrics && t.ExportInterval.Duration() <= 0 {
		return errors.New("export_interval must be positive when metrics are enabled")
	}
	if t.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	return nil
}

func isLocalEndpoint(endpoint string) bool {
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}
