// Package config resolves the gateway configuration from an optional TOML
// file, command-line flags and environment variables.
package config

import (
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/cors-gateway/config.toml",
	"configs/config.toml",
}

// reservedAdminPaths are served by the admin listener itself.
var reservedAdminPaths = []string{"/healthz", "/status"}

// CLI holds command-line arguments parsed by Kong. Every flag falls back to
// its environment variable when absent.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Target   string `kong:"short='t',help='Upstream base URL every request is forwarded to.',env='TARGET'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Host     string `kong:"help='Host header sent upstream instead of the target host.',env='HOST'"`
	Secure   string `kong:"help='Set to false to skip upstream TLS certificate verification.',env='SECURE'"`
	Bind     string `kong:"help='Listen interface (overrides config).',env='BIND'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	Version kong.VersionFlag `kong:"short='v',help='Print version and exit.'"`
}

// Config is the top-level application configuration. It is built once by
// Load and shared read-only afterwards.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Admin    AdminConfig    `toml:"admin"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds proxy listener settings. Port 0 means "use default"
// (8000). ShutdownTimeoutSeconds 0 lets shutdown wait for every in-flight
// request to finish.
type ServerConfig struct {
	Host                   string `toml:"host"`
	Port                   int    `toml:"port"`
	BodyMaxBytes           int64  `toml:"body_max_bytes"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// UpstreamConfig describes the single upstream target.
type UpstreamConfig struct {
	Target          string `toml:"target"`
	HostHeader      string `toml:"host_header"`
	Secure          *bool  `toml:"secure"` // nil means verify
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// VerifyTLS reports whether upstream TLS certificates must be validated.
// Only an explicit false disables validation.
func (u UpstreamConfig) VerifyTLS() bool {
	return u.Secure == nil || *u.Secure
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AdminConfig holds the optional health and metrics listener.
type AdminConfig struct {
	Enabled     bool   `toml:"enabled"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	MetricsPath string `toml:"metrics_path"`
}

// Load builds the configuration: the TOML file (when one is found) is read
// first, then non-empty CLI/env values override it. The file is optional;
// flags and environment variables alone are enough to run.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Target != "" {
		c.Upstream.Target = cli.Target
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Host != "" {
		c.Upstream.HostHeader = cli.Host
	}
	if cli.Secure != "" {
		verify := ParseSecure(cli.Secure)
		c.Upstream.Secure = &verify
	}
	if cli.Bind != "" {
		c.Server.Host = cli.Bind
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// ParseSecure interprets a secure flag value. The literal "false"
// (case-insensitive) disables verification; anything else keeps it on.
func ParseSecure(v string) bool {
	return !strings.EqualFold(strings.TrimSpace(v), "false")
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish an
// explicit 0 from an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9090
	}
	if c.Admin.MetricsPath == "" {
		c.Admin.MetricsPath = "/metrics"
	}
}

func (c *Config) validate() error {
	if c.Upstream.Target == "" {
		return fmt.Errorf("upstream target is required (--target, TARGET or upstream.target)")
	}
	u, err := url.Parse(c.Upstream.Target)
	if err != nil {
		return fmt.Errorf("upstream target is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream target must use http or https; got %q", c.Upstream.Target)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream target has no host; got %q", c.Upstream.Target)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.ShutdownTimeoutSeconds < 0 {
		return fmt.Errorf("server.shutdown_timeout_seconds must be non-negative; got %d", c.Server.ShutdownTimeoutSeconds)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Admin.Enabled {
		if c.Admin.Port < 1 || c.Admin.Port > 65535 {
			return fmt.Errorf("admin.port must be 1–65535; got %d", c.Admin.Port)
		}
		if c.Admin.Port == c.Server.Port && sharesInterface(c.Admin.Host, c.Server.Host) {
			return fmt.Errorf("admin listener %s conflicts with proxy listener %s", c.Admin.Addr(), c.Server.Addr())
		}
		p := c.Admin.MetricsPath
		if p[0] != '/' {
			return fmt.Errorf("admin.metrics_path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedAdminPaths {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("admin.metrics_path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// sharesInterface reports whether two bind hosts can collide on one port.
func sharesInterface(a, b string) bool {
	return a == b || a == "0.0.0.0" || b == "0.0.0.0"
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ShutdownTimeout returns how long shutdown may wait for in-flight requests.
func (c *ServerConfig) ShutdownTimeout() time.Duration {
	if c.ShutdownTimeoutSeconds == 0 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// Addr returns the admin listen address as host:port.
func (c *AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
