package middleware

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"chatflow-access-api/internal/http/httperr"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/observability/requestid"
	"chatflow-access-api/internal/repo"
	"chatflow-access-api/internal/telemetry"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	maxLoggedQuery     = 200
	maxLoggedUserAgent = 100
)

// RequestIDMiddleware propagates X-Request-Id, generating one when absent
// or malformed, and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := requestid.Resolve(r)

		w.Header().Set(requestid.Header, reqID)
		next.ServeHTTP(w, r.WithContext(requestid.WithID(r.Context(), reqID)))
	})
}

// RequestLoggingMiddleware writes one access line per request once the
// status is known. Bodies and headers other than the user agent are never
// logged. A 5xx adds an http_error line naming the recorded root cause.
func RequestLoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := logger.TrackRootError(logger.IntoContext(r.Context(), log))
			r = r.WithContext(ctx)
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)

			log.Info(ctx, "http request completed",
				logger.Module("http"),
				logger.Action("request"),
				zap.String("surface", telemetry.Surface(route)),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.String("query", truncate(r.URL.RawQuery, maxLoggedQuery)),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000),
				zap.String("remote_addr", hostOnly(r.RemoteAddr)),
				zap.String("user_agent", truncate(r.UserAgent(), maxLoggedUserAgent)),
			)

			if status >= http.StatusInternalServerError {
				logServerError(ctx, log, r, route, status)
			}
		})
	}
}

func logServerError(ctx context.Context, log *logger.Logger, r *http.Request, route string, status int) {
	rootErr := logger.RootError(ctx)
	fields := []zap.Field{
		logger.Module("http"),
		logger.Action("http_error"),
		zap.Int("status", status),
		zap.String("method", r.Method),
		zap.String("route", route),
		zap.String("kind", classifyError(rootErr)),
	}
	if rootErr != nil {
		fields = append(fields, zap.String("err", rootErr.Error()))
		var pgErr *pgconn.PgError
		if errors.As(rootErr, &pgErr) {
			fields = append(fields, zap.String("pgcode", pgErr.Code))
		}
	}
	log.Error(ctx, "http_error", fields...)
}

// RecoveryMiddleware turns a handler panic into a 500 with the standard
// error body and logs the stack.
func RecoveryMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				ctx := r.Context()
				logger.RecordRootError(ctx, &panicError{value: rec})

				log.Error(ctx, "panic_recovered",
					logger.Module("http"),
					logger.Action("panic_recovery"),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", r.Method),
					zap.String("route", routePattern(r)),
				)

				httperr.InternalError(w, ctx)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// hostOnly strips the port: 192.168.1.100:54321 -> 192.168.1.100
func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// classifyError buckets a root cause for alerting. Postgres errors are
// split by SQLSTATE class.
func classifyError(err error) string {
	var (
		pgErr *pgconn.PgError
		pe    *panicError
	)
	switch {
	case err == nil:
		return "unknown"
	case errors.As(err, &pe):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, repo.ErrConflict), errors.Is(err, repo.ErrNotFound):
		return "store_state"
	case errors.As(err, &pgErr):
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return "db_constraint"
		case strings.HasPrefix(pgErr.Code, "40"):
			return "db_serialization"
		case strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57"):
			return "db_unavailable"
		default:
			return "db"
		}
	default:
		return "unknown"
	}
}
