package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9017
body_max_bytes = 5242880

[upstream]
target = "https://api.openai.com"
host_header = "internal.example.com"
secure = false
timeout_seconds = 60
idle_connections = 50

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9017 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9017)
	}
	if cfg.Upstream.Target != "https://api.openai.com" {
		t.Errorf("Upstream.Target = %q, want %q", cfg.Upstream.Target, "https://api.openai.com")
	}
	if cfg.Upstream.HostHeader != "internal.example.com" {
		t.Errorf("Upstream.HostHeader = %q, want %q", cfg.Upstream.HostHeader, "internal.example.com")
	}
	if cfg.Upstream.VerifyTLS() {
		t.Error("Upstream.VerifyTLS() = true, want false for secure = false")
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_FlagsOnly(t *testing.T) {
	cfg, err := Load(&CLI{Target: "https://api.openai.com", Port: 9017})
	if err != nil {
		t.Fatalf("Load() error = %v; flags alone should be enough", err)
	}
	if cfg.Server.Port != 9017 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9017)
	}
	if !cfg.Upstream.VerifyTLS() {
		t.Error("Upstream.VerifyTLS() = false, want true by default")
	}
	if cfg.Upstream.HostHeader != "" {
		t.Errorf("Upstream.HostHeader = %q, want empty", cfg.Upstream.HostHeader)
	}
}

func TestLoad_MissingTarget(t *testing.T) {
	_, err := Load(&CLI{Port: 9017})
	if err == nil {
		t.Fatal("Load() expected error for missing target, got nil")
	}
	if !strings.Contains(err.Error(), "target") {
		t.Errorf("error = %q, want mention of target", err)
	}
}

func TestLoad_InvalidTarget(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"unparseable", "http://[::1"},
		{"no scheme", "api.openai.com"},
		{"unsupported scheme", "ftp://example.com"},
		{"no host", "https://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(&CLI{Target: tt.target})
			if err == nil {
				t.Fatalf("Load() expected error for target %q, got nil", tt.target)
			}
		})
	}
}

func TestLoad_PortRange(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{"lowest", 1, false},
		{"highest", 65535, false},
		{"above range", 65536, true},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(&CLI{Target: "https://api.openai.com", Port: tt.port})
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
[upstream]
target = "https://api.openai.com"

[log]
level = "verbose"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	path := writeConfig(t, `
[upstream]
target = "https://api.openai.com"

[log]
format = "xml"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log format, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
[upstream]
target = "https://api.openai.com"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 0 {
		t.Errorf("default Server.BodyMaxBytes = %d, want 0 (unlimited)", cfg.Server.BodyMaxBytes)
	}
	if cfg.Upstream.TimeoutSeconds != 120 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 120)
	}
	if cfg.Upstream.IdleConnections != 100 {
		t.Errorf("default Upstream.IdleConnections = %d, want %d", cfg.Upstream.IdleConnections, 100)
	}
	if !cfg.Upstream.VerifyTLS() {
		t.Error("default Upstream.VerifyTLS() = false, want true")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Admin.Enabled {
		t.Error("default Admin.Enabled = true, want false")
	}
	if cfg.Admin.MetricsPath != "/metrics" {
		t.Errorf("default Admin.MetricsPath = %q, want %q", cfg.Admin.MetricsPath, "/metrics")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, `[upstream
target = `)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for malformed TOML, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
target = "https://toml.example.com"
host_header = "toml-host"
secure = false

[log]
level = "info"
`)

	cli := &CLI{
		Config:   path,
		Target:   "https://api.openai.com",
		Port:     3000,
		Host:     "cli-host",
		Secure:   "true",
		Bind:     "127.0.0.1",
		LogLevel: "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Upstream.Target != "https://api.openai.com" {
		t.Errorf("Upstream.Target = %q, want %q (CLI override)", cfg.Upstream.Target, "https://api.openai.com")
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Upstream.HostHeader != "cli-host" {
		t.Errorf("Upstream.HostHeader = %q, want %q (CLI override)", cfg.Upstream.HostHeader, "cli-host")
	}
	if !cfg.Upstream.VerifyTLS() {
		t.Error("Upstream.VerifyTLS() = false, want true (CLI override)")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestParseSecure(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"false", false},
		{"FALSE", false},
		{" False ", false},
		{"true", true},
		{"0", true},
		{"no", true},
		{"anything", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := ParseSecure(tt.value); got != tt.want {
				t.Errorf("ParseSecure(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestLoad_SecureFlag(t *testing.T) {
	tests := []struct {
		name   string
		secure string
		want   bool
	}{
		{"unset keeps verification", "", true},
		{"explicit false disables", "false", false},
		{"other value keeps verification", "off", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(&CLI{Target: "https://api.openai.com", Secure: tt.secure})
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got := cfg.Upstream.VerifyTLS(); got != tt.want {
				t.Errorf("VerifyTLS() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoad_NegativeBodyMaxBytes(t *testing.T) {
	path := writeConfig(t, `
[server]
body_max_bytes = -1

[upstream]
target = "https://api.openai.com"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for negative body_max_bytes, got nil")
	}
}

func TestLoad_NegativeTimeout(t *testing.T) {
	path := writeConfig(t, `
[upstream]
target = "https://api.openai.com"
timeout_seconds = -5
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for negative timeout, got nil")
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	cfg := &Config{}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no output without a config file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "[upstream]\ntarget = \"https://api.openai.com\"\n")

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "[upstream]\ntarget = \"https://a.example.com\"\n")
	path2 := writeConfig(t, "[upstream]\ntarget = \"https://b.example.com\"\n")

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_AdminPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, `
[upstream]
target = "https://api.openai.com"

[admin]
enabled = true
metrics_path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics_path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "admin.metrics_path") {
		t.Errorf("error = %q, want mention of admin.metrics_path", err)
	}
}

func TestLoad_AdminPathConflictsWithReservedRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"healthz", "/healthz"},
		{"healthz sub", "/healthz/metrics"},
		{"status", "/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, `
[upstream]
target = "https://api.openai.com"

[admin]
enabled = true
metrics_path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics_path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_AdminPortCollidesWithProxy(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090

[upstream]
target = "https://api.openai.com"

[admin]
enabled = true
port = 9090
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for admin port equal to proxy port, got nil")
	}
}

func TestLoad_AdminDisabledSkipsValidation(t *testing.T) {
	path := writeConfig(t, `
[upstream]
target = "https://api.openai.com"

[admin]
enabled = false
metrics_path = "bad-no-slash"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled admin should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestAdminConfig_Addr(t *testing.T) {
	ac := &AdminConfig{Host: "127.0.0.1", Port: 9090}
	want := "127.0.0.1:9090"
	if got := ac.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestLoad_ShutdownTimeout(t *testing.T) {
	path := writeConfig(t, `
[server]
shutdown_timeout_seconds = 300

[upstream]
target = "https://api.openai.com"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Server.ShutdownTimeout(); got != 300*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want %v", got, 300*time.Second)
	}
}

func TestLoad_NegativeShutdownTimeout(t *testing.T) {
	path := writeConfig(t, `
[server]
shutdown_timeout_seconds = -1

[upstream]
target = "https://api.openai.com"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for negative shutdown_timeout_seconds, got nil")
	}
}

func TestServerConfig_ShutdownTimeoutUnbounded(t *testing.T) {
	sc := &ServerConfig{}

	// Far longer than any stream the upstream timeout could allow.
	if got := sc.ShutdownTimeout(); got < 100*365*24*time.Hour {
		t.Errorf("ShutdownTimeout() = %v, want effectively unbounded", got)
	}
}
