package telemetry

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Route surfaces used as a metric and span attribute.
const (
	SurfaceAdmin   = "admin"
	SurfaceRuntime = "runtime"
	SurfaceSystem  = "system"
)

const (
	surfaceKey     = attribute.Key("chatflow_access.surface")
	unmatchedRoute = "unmatched"
)

// probeRoutes are polled by orchestrators and scrapers and are left out
// of traces and request metrics.
var probeRoutes = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/metrics": {},
}

// Surface classifies a chi route pattern.
func Surface(route string) string {
	switch {
	case strings.HasPrefix(route, "/v1/runtime/"):
		return SurfaceRuntime
	case strings.HasPrefix(route, "/v1/"):
		return SurfaceAdmin
	default:
		return SurfaceSystem
	}
}

func isProbe(r *http.Request) bool {
	_, ok := probeRoutes[r.URL.Path]
	return ok
}

// routeOf reads the matched pattern. It is only complete after the
// router has served the request.
func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

// Tracing starts a server span per request and renames it to the
// matched route once routing finishes.
func Tracing(serviceName string, opts ...otelhttp.Option) func(http.Handler) http.Handler {
	opts = append([]otelhttp.Option{
		otelhttp.WithFilter(func(r *http.Request) bool { return !isProbe(r) }),
	}, opts...)

	return func(next http.Handler) http.Handler {
		named := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			route := routeOf(r)
			span := trace.SpanFromContext(r.Context())
			span.SetName(r.Method + " " + route)
			span.SetAttributes(semconv.HTTPRoute(route), surfaceKey.String(Surface(route)))
		})
		return otelhttp.NewHandler(named, serviceName, opts...)
	}
}

// Middleware records request count and latency per surface, route and
// status.
func (m *HTTPMetrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProbe(r) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routeOf(r)
			attrs := metric.WithAttributes(
				surfaceKey.String(Surface(route)),
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRoute(route),
				semconv.HTTPResponseStatusCode(status),
			)

			m.Requests.Add(r.Context(), 1, attrs)
			m.RequestDuration.Record(r.Context(), time.Since(start).Seconds(), attrs)
		})
	}
}
