// Package client builds the HTTP clients used for outbound calls.
package client

import (
	"net/http"
	"time"

	"chatflow-access-api/internal/observability/requestid"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxRedirects = 10

// NewOutboundClient returns an http.Client that traces every call and
// forwards the caller's request id. timeout bounds the whole exchange.
func NewOutboundClient(timeout time.Duration) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()

	return &http.Client{
		Transport: otelhttp.NewTransport(NewRequestIDTransport(base)),
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// RequestIDTransport copies the request id found in the request context into
// the X-Request-Id header. An explicit header is left alone.
type RequestIDTransport struct {
	base http.RoundTripper
}

// NewRequestIDTransport wraps base, or http.DefaultTransport when nil.
func NewRequestIDTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RequestIDTransport{base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *RequestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(requestid.Header) != "" {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	id := requestid.FromContext(ctx)
	if id == "" {
		return t.base.RoundTrip(req)
	}

	// headers are shared with the caller
	cloned := req.Clone(ctx)
	cloned.Header.Set(requestid.Header, id)
	return t.base.RoundTrip(cloned)
}
