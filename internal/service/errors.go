package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/url"
	"syscall"
)

// Kind groups upstream failures for logs and metrics. Every kind is answered
// the same way on the wire.
type Kind string

const (
	KindDNS      Kind = "dns"
	KindRefused  Kind = "refused"
	KindReset    Kind = "reset"
	KindTLS      Kind = "tls"
	KindTimeout  Kind = "timeout"
	KindCanceled Kind = "canceled"
	KindOther    Kind = "other"
)

// UpstreamError is the failure branch of Forward.
type UpstreamError struct {
	Kind Kind
	Err  error
}

func (e *UpstreamError) Error() string {
	return "forward to upstream: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Message describes the failure for the client. The request URL is left out
// so query-string credentials never end up in a response body.
func (e *UpstreamError) Message() string {
	msg := e.Err.Error()
	var urlErr *url.Error
	if errors.As(e.Err, &urlErr) && urlErr.Err != nil {
		msg = urlErr.Err.Error()
	}
	if msg == "" {
		return "upstream request failed"
	}
	return msg
}

func classify(err error) Kind {
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindRefused
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return KindReset
	}

	var (
		certErr     *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		hostnameErr x509.HostnameError
		authErr     x509.UnknownAuthorityError
	)
	if errors.As(err, &certErr) || errors.As(err, &recordErr) || errors.As(err, &alertErr) ||
		errors.As(err, &hostnameErr) || errors.As(err, &authErr) {
		return KindTLS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindOther
}
