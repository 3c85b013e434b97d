// Package requestid correlates a request across the access log, error
// bodies and outbound calls.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header carries the id on inbound and outbound requests.
const Header = "X-Request-Id"

const (
	prefix        = "req_"
	maxInboundLen = 128
)

type ctxKey struct{}

// New returns a time-ordered id of the form req_<uuidv7>.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return prefix + uuid.NewString()
	}
	return prefix + id.String()
}

// Valid reports whether an inbound id can be reused as-is. Ids end up
// in log lines, so only printable ASCII up to maxInboundLen is kept.
func Valid(id string) bool {
	if id == "" || len(id) > maxInboundLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// Resolve returns the caller's id when valid, otherwise a fresh one.
func Resolve(r *http.Request) string {
	if id := r.Header.Get(Header); Valid(id) {
		return id
	}
	return New()
}

// FromContext returns the id stored by WithID, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithID stores id in ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}
