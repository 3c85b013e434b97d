package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chatflow-access-api/internal/auth"
	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/http/httperr"
	"chatflow-access-api/internal/observability/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool interface for database operations needed by debug endpoints
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// DebugHandler provides debug endpoints for development
type DebugHandler struct {
	appEnv string
	pool   DBPool
}

// NewDebugHandler creates a new debug handler. appEnv defaults to production.
func NewDebugHandler(appEnv string, pool DBPool) *DebugHandler {
	if appEnv == "" {
		appEnv = "production"
	}
	return &DebugHandler{
		appEnv: appEnv,
		pool:   pool,
	}
}

// DebugAuthData describes how the current session was resolved.
type DebugAuthData struct {
	AuthMethod     string   `json:"authMethod"`
	Principal      string   `json:"principal"`
	UserID         string   `json:"userId"`
	CourseID       string   `json:"courseId,omitempty"`
	Roles          []string `json:"roles"`
	PrivilegedRule *string  `json:"privilegedRule,omitempty"`
}

func (h *DebugHandler) devOnly(w http.ResponseWriter, r *http.Request) bool {
	if h.appEnv == "dev" || h.appEnv == "development" {
		return true
	}
	ctx := r.Context()
	logger.FromContext(ctx).Warn(ctx, "debug endpoint accessed in non-dev environment",
		zap.String("app_env", h.appEnv),
		zap.String("remote_addr", r.RemoteAddr),
	)
	http.NotFound(w, r)
	return false
}

// GetAuthDebug returns the resolved session of the caller.
// Only available in development mode (APP_ENV=dev)
// GET /debug/auth
func (h *DebugHandler) GetAuthDebug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if !h.devOnly(w, r) {
		return
	}

	authCtx, ok := auth.GetAuthContext(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	data := DebugAuthData{
		AuthMethod: authCtx.AuthMethod,
		Principal:  authCtx.Principal,
		UserID:     authCtx.UserID,
		CourseID:   authCtx.CourseID,
		Roles:      authCtx.Roles,
	}
	if data.Roles == nil {
		data.Roles = []string{}
	}
	if rule, ok := domain.MatchPrivileged(authCtx.Roles); ok {
		data.PrivilegedRule = &rule
	}

	log.Info(ctx, "debug auth endpoint accessed",
		logger.Module("debug"),
		logger.Action("auth"),
		zap.String("auth_method", authCtx.AuthMethod),
	)

	writeSuccess(w, http.StatusOK, data)
}

// DebugDBData reports connectivity and the applied migration.
type DebugDBData struct {
	OK            bool    `json:"ok"`
	SchemaVersion int64   `json:"schemaVersion"`
	Dirty         bool    `json:"dirty"`
	LatencyMs     float64 `json:"latencyMs"`
}

// PingDB reads the migration state, which proves connectivity and shows
// whether the schema matches this build. Dev only.
// GET /debug/db/ping
func (h *DebugHandler) PingDB(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if !h.devOnly(w, r) {
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	var data DebugDBData
	err := h.pool.QueryRow(pingCtx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&data.SchemaVersion, &data.Dirty)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		fields := []zap.Field{logger.Module("debug"), logger.Action("db_ping"), zap.Error(err)}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			fields = append(fields, zap.String("pgcode", pgErr.Code))
		}
		log.Error(ctx, "db_ping_failed", fields...)
		httperr.StoreError500(w, ctx, err)
		return
	}

	data.OK = true
	data.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
	writeSuccess(w, http.StatusOK, data)
}
