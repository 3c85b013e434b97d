package main

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"chatflow-access-api/internal/auth"
	"chatflow-access-api/internal/config"
	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/http/docs"
	"chatflow-access-api/internal/http/handler"
	"chatflow-access-api/internal/http/middleware"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterDeps holds everything buildRouter wires together. Nil handlers
// leave their routes unmounted; nil limiter or idempotency store skip
// the corresponding middleware.
type RouterDeps struct {
	Cfg *config.Config
	Log *logger.Logger

	Gate        *auth.AdminGate
	Authn       *auth.Authenticator
	Members     auth.MembershipStore
	Idempotency middleware.IdempotencyStore
	RateLimiter middleware.Limiter
	Metrics     *telemetry.HTTPMetrics
	Gatherer    prometheus.Gatherer

	DB    Pinger
	Redis Pinger

	PermissionHandler      *handler.PermissionHandler
	BatchUploadHandler     *handler.BatchUploadHandler
	RolePermissionHandler  *handler.RolePermissionHandler
	AdminPermissionHandler *handler.AdminPermissionHandler
	RuntimeHandler         *handler.RuntimeHandler
	DebugHandler           *handler.DebugHandler
}

// buildRouter builds the chi.Router with every middleware and route.
func buildRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	// Global middlewares
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLoggingMiddleware(deps.Log))
	r.Use(middleware.RecoveryMiddleware(deps.Log))
	r.Use(telemetry.Tracing(deps.Cfg.OTELServiceName))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, `{"status":"ok"}`)
	})
	r.Get("/ready", readinessHandler(deps))
	r.Get("/metrics", metricsHandler(deps.Cfg.MetricsToken, deps.Gatherer))
	r.Method(http.MethodGet, "/openapi.yaml", docs.YAMLHandler())
	r.Method(http.MethodGet, "/openapi.json", docs.JSONHandler())
	r.Method(http.MethodGet, "/docs", docs.ReferenceHandler("/openapi.yaml"))

	// Debug routes (dev-only)
	if deps.Cfg.IsDev() && deps.DebugHandler != nil {
		r.Route("/debug", func(r chi.Router) {
			r.With(deps.Gate.Require()).Get("/auth", deps.DebugHandler.GetAuthDebug)
			r.Get("/db/ping", deps.DebugHandler.PingDB)
		})
	}

	r.Route("/v1", func(r chi.Router) {
		// admin wraps the gate with the per-admin rate limit, which needs
		// the admin identity the gate resolves.
		admin := func(caps ...domain.AdminCapability) chi.Router {
			mws := []func(http.Handler) http.Handler{deps.Gate.Require(caps...)}
			if deps.RateLimiter != nil {
				mws = append(mws, middleware.AdminRateLimit(deps.RateLimiter, deps.Cfg.RateLimitPerAdminPerMin))
			}
			return r.With(mws...)
		}
		idempotent := func(h http.HandlerFunc) http.Handler {
			if deps.Idempotency == nil {
				return h
			}
			return middleware.Idempotency(deps.Idempotency)(h)
		}

		if h := deps.PermissionHandler; h != nil {
			admin(domain.AdminCapPermissionView, domain.AdminCapPermissionEdit).Get("/permissions", h.ListPermissions)
			edit := admin(domain.AdminCapPermissionEdit)
			edit.Method(http.MethodPost, "/permissions", idempotent(h.CreatePermission))
			edit.Put("/permissions", h.UpdatePermission)
			edit.Delete("/permissions", h.DeletePermission)
		}

		if h := deps.BatchUploadHandler; h != nil {
			admin(domain.AdminCapPermissionEdit).Method(http.MethodPost, "/permissions/batch-upload", idempotent(h.Upload))
		}

		if h := deps.RolePermissionHandler; h != nil {
			admin(domain.AdminCapPermissionView, domain.AdminCapPermissionEdit).Get("/role-permissions", h.ListRolePermissions)
			admin(domain.AdminCapPermissionEdit).Method(http.MethodPost, "/role-permissions", idempotent(h.HandleRolePermission))
		}

		if h := deps.AdminPermissionHandler; h != nil {
			admin(domain.AdminCapUserView).Get("/admin-permissions", h.ListAdminPermissions)
			edit := admin(domain.AdminCapUserEdit)
			edit.Method(http.MethodPost, "/admin-permissions", idempotent(h.GrantAdminPermission))
			edit.Patch("/admin-permissions/{userId}", h.UpdateAdminPermission)
			edit.Delete("/admin-permissions/{userId}", h.RevokeAdminPermission)
		}

		if h := deps.RuntimeHandler; h != nil {
			r.Route("/runtime/chatflows", func(r chi.Router) {
				r.Use(deps.Authn.SessionMiddleware(deps.Members))
				r.Get("/", h.ListAccessible)
				r.Post("/auto-grant", h.AutoGrant)
				r.Get("/{chatflowId}/access", h.CheckAccess)
			})
		}
	})

	return r
}

func writeStatus(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func readinessHandler(deps RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.DB == nil {
			writeStatus(w, http.StatusOK, `{"status":"ready","note":"no database configured"}`)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := deps.DB.Ping(ctx); err != nil {
			deps.Log.Error(ctx, "readiness check failed: database unavailable", zap.Error(err))
			writeStatus(w, http.StatusServiceUnavailable, `{"status":"error","message":"database unavailable"}`)
			return
		}

		// Redis only backs rate limiting, which fails open.
		if deps.Redis != nil {
			if err := deps.Redis.Ping(ctx); err != nil {
				deps.Log.Warn(ctx, "readiness check: redis unavailable", zap.Error(err))
				writeStatus(w, http.StatusOK, `{"status":"degraded","message":"redis unavailable"}`)
				return
			}
		}

		writeStatus(w, http.StatusOK, `{"status":"ready"}`)
	}
}

// metricsHandler serves the Prometheus registry. When token is set the
// caller must present it as X-Metrics-Token or a bearer token.
func metricsHandler(token string, gatherer prometheus.Gatherer) http.HandlerFunc {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})

	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			presented := r.Header.Get("X-Metrics-Token")
			if presented == "" {
				if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					presented = bearer
				}
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeStatus(w, http.StatusUnauthorized, `{"error":"unauthorized"}`)
				return
			}
		}
		h.ServeHTTP(w, r)
	}
}
