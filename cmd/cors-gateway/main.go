package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"cors-gateway/internal/client"
	"cors-gateway/internal/config"
	"cors-gateway/internal/handler"
	"cors-gateway/internal/metrics"
	"cors-gateway/internal/server"
	"cors-gateway/internal/service"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kctx := kong.Parse(&cli,
		kong.Name("cors-gateway"),
		kong.Description("Reverse proxy that forwards every request to one upstream and adds CORS headers."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	// Loaded ahead of fx so the stop timeout can come from it.
	cfg, err := config.Load(&cli)
	kctx.FatalIfErrorf(err)

	fx.New(
		fx.StopTimeout(cfg.Server.ShutdownTimeout()),
		fx.Supply(cfg),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Provide(
			func() handler.Version { return handler.Version(version) },
			newLogger,
			metrics.New,
			server.NewEcho,
			server.NewAdmin,
			client.NewUpstreamClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer, startAdmin),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	serve(lc, e, cfg.Server.Addr(), logger.With("listener", "proxy"), func(l *slog.Logger) {
		l.Info("forwarding",
			"target", cfg.Upstream.Target,
			"host_header", cfg.Upstream.HostHeader,
			"verify_tls", cfg.Upstream.VerifyTLS(),
		)
	})
}

func startAdmin(lc fx.Lifecycle, admin *server.Admin, health *handler.HealthHandler, m *metrics.Metrics, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Admin.Enabled {
		return
	}
	handler.RegisterAdminRoutes(admin.Echo, health, m, cfg.Admin.MetricsPath)
	serve(lc, admin.Echo, cfg.Admin.Addr(), logger.With("listener", "admin"), nil)
}

func serve(lc fx.Lifecycle, e *echo.Echo, addr string, logger *slog.Logger, onStart func(*slog.Logger)) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := server.Listen(addr)
			if err != nil {
				if errors.Is(err, server.ErrPortInUse) {
					logger.Error("port already in use", "addr", addr)
				}
				return err
			}
			logger.Info("starting server", "addr", ln.Addr().String())
			if onStart != nil {
				onStart(logger)
			}
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
