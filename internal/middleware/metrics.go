package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"cors-gateway/internal/metrics"
)

// Values of the origin label on the inbound request counter.
const (
	OriginUpstream = "upstream"
	OriginGateway  = "gateway"
)

const originKey = "response_origin"

// MarkUpstream records that the status being written was relayed from the
// upstream. Anything else (proxy errors, 405, 413, recovered panics) counts
// as produced by the gateway itself.
func MarkUpstream(c echo.Context) {
	c.Set(originKey, OriginUpstream)
}

func responseOrigin(c echo.Context) string {
	if o, ok := c.Get(originKey).(string); ok {
		return o
	}
	return OriginGateway
}

// responseStatus returns the status the client will see. An *echo.HTTPError
// has not been written yet when next returns.
func responseStatus(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}

// MetricsMiddleware counts and times every request on the proxy listener,
// split by whether the status came from the upstream or the gateway.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)

			method := metrics.NormalizeMethod(c.Request().Method)
			status := strconv.Itoa(responseStatus(c, err))

			m.RequestsTotal.With(prometheus.Labels{
				"method":      method,
				"status_code": status,
				"origin":      responseOrigin(c),
			}).Inc()
			m.RequestDuration.WithLabelValues(method, status).Observe(elapsed.Seconds())

			return err
		}
	}
}
