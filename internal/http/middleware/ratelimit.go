package middleware

import (
	"context"
	"net/http"
	"strconv"

	"chatflow-access-api/internal/auth"
	"chatflow-access-api/internal/http/httperr"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/ratelimit"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Limiter is the rate limit backend.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (ratelimit.Decision, error)
}

// AdminRateLimit enforces limitPerMin requests per authenticated admin.
// It must run after the auth gate. A limiter failure lets the request
// through and is logged.
func AdminRateLimit(limiter Limiter, limitPerMin int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := logger.FromContext(ctx)

			authCtx, ok := auth.GetAuthContext(ctx)
			if !ok || limitPerMin <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			d, err := limiter.Allow(ctx, ratelimit.AdminKey(authCtx.UserID), limitPerMin)
			if err != nil {
				log.Warn(ctx, "rate limit check failed, allowing request",
					logger.Module("ratelimit"),
					logger.Action("check"),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				trace.SpanFromContext(ctx).AddEvent("rate_limit_exceeded")
				log.Warn(ctx, "rate limit exceeded",
					logger.Module("ratelimit"),
					logger.Action("reject"),
					zap.Int("limit", limitPerMin),
				)
				w.Header().Set("Retry-After", "60")
				httperr.WriteError(w, ctx, http.StatusTooManyRequests, httperr.ErrCodeRateLimited, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
