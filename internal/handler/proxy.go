package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"cors-gateway/internal/middleware"
	"cors-gateway/internal/model"
	"cors-gateway/internal/service"
)

// proxyErrorLabel is the fixed "error" value of every synthetic failure response.
const proxyErrorLabel = "Proxy Error"

// credentialPattern matches credential-like query parameter values in URLs
// embedded in error messages.
var credentialPattern = regexp.MustCompile(`(?i)([?&](?:api_?key|key|token|access_token|auth)=)[^&\s"]+`)

// proxyError is the JSON body sent when the upstream cannot be reached.
type proxyError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ProxyHandler forwards every inbound request to the upstream target.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request upstream and streams the response back. It
// never returns an upstream failure to echo: failures are answered here
// with a 500 JSON body.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.Path,
		RawPath:       req.URL.RawPath,
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.writeProxyError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	for key, vals := range resp.Header {
		header[key] = vals
	}
	// Announce upstream trailers so net/http sends them after the body.
	for key := range resp.Trailer {
		header.Add("Trailer", key)
	}
	middleware.MarkUpstream(c)
	c.Response().WriteHeader(resp.StatusCode)

	var dst io.Writer = c.Response()
	if streaming(resp) {
		dst = flushWriter{c.Response()}
	}

	// Once the status line is out a failure can only truncate the body;
	// the client sees the upstream status and a short read.
	if _, err := io.Copy(dst, resp.Body); err != nil {
		h.logger.Warn("streaming response body",
			"err", sanitizeError(err),
			"method", req.Method,
			"path", req.URL.Path,
			"request_id", middleware.RequestID(c),
		)
		return nil
	}

	for key, vals := range resp.Trailer {
		header[key] = vals
	}

	return nil
}

func (h *ProxyHandler) writeProxyError(c echo.Context, err error) error {
	var ue *service.UpstreamError
	if !errors.As(err, &ue) {
		ue = &service.UpstreamError{Kind: service.KindOther, Err: err}
	}

	req := c.Request()
	level := slog.LevelError
	if ue.Kind == service.KindCanceled {
		// The client went away; nobody is left to read the answer.
		level = slog.LevelWarn
	}
	h.logger.Log(req.Context(), level, "proxy error",
		"err", sanitizeError(err),
		"kind", string(ue.Kind),
		"method", req.Method,
		"path", req.URL.Path,
		"request_id", middleware.RequestID(c),
	)

	body, mErr := json.Marshal(proxyError{Error: proxyErrorLabel, Message: ue.Message()})
	if mErr != nil {
		return mErr
	}

	service.ApplyCORS(c.Response().Header())
	return c.Blob(http.StatusInternalServerError, echo.MIMEApplicationJSON, body)
}

// streaming reports whether the body should be flushed chunk by chunk.
func streaming(resp *model.ProxyResponse) bool {
	if resp.ContentLength == -1 {
		return true
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return mediaType == "text/event-stream"
}

// flushWriter pushes every chunk to the client as soon as it is written.
type flushWriter struct {
	res *echo.Response
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.res.Write(p)
	if n > 0 {
		f.res.Flush()
	}
	return n, err
}

// sanitizeError redacts credentials from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return credentialPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
