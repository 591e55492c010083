// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest is an inbound request captured for forwarding upstream.
// Path and RawQuery are kept exactly as the client sent them.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	RawPath       string
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
// Trailer holds the declared trailer keys up front; their values are only
// filled in once Body has been read to EOF.
type ProxyResponse struct {
	StatusCode    int
	Header        http.Header
	Trailer       http.Header
	Body          io.ReadCloser
	ContentLength int64
}
