// Package server builds the echo instances behind the proxy and admin
// listeners and binds their sockets.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"cors-gateway/internal/config"
	"cors-gateway/internal/metrics"
	"cors-gateway/internal/middleware"
)

// ErrPortInUse is returned by Listen when another process holds the address.
var ErrPortInUse = errors.New("port already in use")

// Listen binds a TCP listener on addr.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("bind %s: %w", addr, ErrPortInUse)
		}
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	return ln, nil
}

// NewEcho creates the proxy listener's echo instance.
func NewEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := newBase()

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))
	if cfg.Server.BodyMaxBytes > 0 {
		e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	}

	return e
}

// Admin is the echo instance serving health, status and metrics.
type Admin struct {
	*echo.Echo
}

// NewAdmin creates the admin listener's echo instance.
func NewAdmin() *Admin {
	e := newBase()
	e.Use(echomw.Recover())
	return &Admin{Echo: e}
}

func newBase() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// X-Forwarded-For and X-Real-IP come from the client and are stripped
	// before forwarding, so they are not trusted for the logged address either.
	e.IPExtractor = echo.ExtractIPDirect()

	// No read or write deadline: uploads and streamed responses may run long.
	e.Server.ReadTimeout = 0
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	return e
}
