package service

import (
	"net/http"
	"strings"
)

// CORS values injected into every response returned to the client.
const (
	CORSAllowOrigin  = "*"
	CORSAllowHeaders = "Origin, X-Requested-With, Content-Type, Accept, api_key, Authorization"
)

// hopByHopHeaders apply to a single connection and are never relayed in
// either direction (RFC 7230 §6.1).
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// clientIdentityHeaders would reveal the original client's address upstream.
var clientIdentityHeaders = []string{
	"X-Forwarded-For",
	"X-Real-Ip",
}

// ApplyCORS overwrites the CORS headers on h. It touches nothing else and
// keeps no state, so it is safe to call on every response.
func ApplyCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", CORSAllowOrigin)
	h.Set("Access-Control-Allow-Headers", CORSAllowHeaders)
}

// filterRequestHeaders returns a copy of src fit to send upstream: client
// identity headers, the inbound Host and hop-by-hop headers are dropped,
// everything else is forwarded as-is.
func filterRequestHeaders(src http.Header) http.Header {
	dst := copyEndToEnd(src)
	for _, key := range clientIdentityHeaders {
		dst.Del(key)
	}
	dst.Del("Host")

	// An explicit empty value stops net/http from adding its own User-Agent.
	if _, ok := dst["User-Agent"]; !ok {
		dst.Set("User-Agent", "")
	}
	return dst
}

// filterResponseHeaders returns the end-to-end headers of an upstream response.
func filterResponseHeaders(src http.Header) http.Header {
	return copyEndToEnd(src)
}

// copyEndToEnd copies src without the standard hop-by-hop headers and
// without any header named in its Connection field.
func copyEndToEnd(src http.Header) http.Header {
	named := map[string]bool{}
	for _, v := range src.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if t := strings.TrimSpace(tok); t != "" {
				named[http.CanonicalHeaderKey(t)] = true
			}
		}
	}

	dst := make(http.Header, len(src))
	for key, vals := range src {
		ck := http.CanonicalHeaderKey(key)
		if hopByHopHeaders[ck] || named[ck] {
			continue
		}
		dst[ck] = append(dst[ck], vals...)
	}
	return dst
}
