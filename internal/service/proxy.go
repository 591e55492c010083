// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"cors-gateway/internal/client"
	"cors-gateway/internal/config"
	"cors-gateway/internal/metrics"
	"cors-gateway/internal/model"
)

// ProxyService turns inbound requests into requests against the single
// configured target and returns the transformed upstream response.
type ProxyService struct {
	client       *client.UpstreamClient
	logger       *slog.Logger
	metrics      *metrics.Metrics
	baseURL      *url.URL
	hostOverride string
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.Target)
	if err != nil {
		return nil, fmt.Errorf("parse upstream target: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream target %q is not an absolute URL", cfg.Upstream.Target)
	}

	return &ProxyService{
		client:       c,
		logger:       logger.With("component", "proxy_service"),
		metrics:      m,
		baseURL:      u,
		hostOverride: cfg.Upstream.HostHeader,
	}, nil
}

// Forward sends a ProxyRequest to the upstream target and returns the
// response with the CORS headers already applied. The caller is responsible
// for closing the response body.
//
// Any failure is returned as an *UpstreamError; nothing is retried.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	upstreamURL := s.buildUpstreamURL(pr.Path, pr.RawPath, pr.RawQuery)

	body := pr.Body
	if pr.ContentLength == 0 || body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(pr.Ctx, pr.Method, upstreamURL.String(), body)
	if err != nil {
		return nil, s.fail(fmt.Errorf("build upstream request: %w", err))
	}
	req.ContentLength = pr.ContentLength
	req.Header = filterRequestHeaders(pr.Header)
	if s.hostOverride != "" {
		req.Host = s.hostOverride
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"host", req.Host,
	)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.fail(err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	ApplyCORS(resp.Header)
	return resp, nil
}

// fail classifies err and records it.
func (s *ProxyService) fail(err error) *UpstreamError {
	ue := &UpstreamError{Kind: classify(err), Err: err}
	if s.metrics != nil {
		s.metrics.UpstreamErrors.WithLabelValues(string(ue.Kind)).Inc()
	}
	return ue
}

// buildUpstreamURL keeps the target's scheme and host and appends the
// inbound path and raw query without re-encoding them.
func (s *ProxyService) buildUpstreamURL(path, rawPath, rawQuery string) *url.URL {
	u := *s.baseURL
	u.Path, u.RawPath = joinURLPath(s.baseURL, path, rawPath)

	switch {
	case s.baseURL.RawQuery == "":
		u.RawQuery = rawQuery
	case rawQuery != "":
		u.RawQuery = s.baseURL.RawQuery + "&" + rawQuery
	}
	return &u
}

// joinURLPath joins the target path with the inbound path using exactly one
// slash, preserving the escaped form when either side has one.
func joinURLPath(base *url.URL, path, rawPath string) (string, string) {
	if base.Path == "" || base.Path == "/" {
		return path, rawPath
	}

	if base.RawPath == "" && rawPath == "" {
		return singleJoiningSlash(base.Path, path), ""
	}

	apath := base.EscapedPath()
	bpath := (&url.URL{Path: path, RawPath: rawPath}).EscapedPath()

	aslash := strings.HasSuffix(apath, "/")
	bslash := strings.HasPrefix(bpath, "/")

	switch {
	case aslash && bslash:
		return base.Path + path[1:], apath + bpath[1:]
	case !aslash && !bslash:
		return base.Path + "/" + path, apath + "/" + bpath
	}
	return base.Path + path, apath + bpath
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash && b != "":
		return a + "/" + b
	}
	return a + b
}
