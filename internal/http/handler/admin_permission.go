package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/http/httperr"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminPermissionManager is the admin permission service.
type AdminPermissionManager interface {
	List(ctx context.Context, activeOnly bool) ([]domain.AdminPermission, error)
	Grant(ctx context.Context, actor service.Actor, req domain.CreateAdminPermissionRequest) (*domain.AdminPermission, error)
	Update(ctx context.Context, actor service.Actor, userID string, req domain.UpdateAdminPermissionRequest) (*domain.AdminPermission, error)
	Revoke(ctx context.Context, actor service.Actor, userID string) error
}

type AdminPermissionHandler struct {
	service AdminPermissionManager
}

func NewAdminPermissionHandler(service AdminPermissionManager) *AdminPermissionHandler {
	return &AdminPermissionHandler{service: service}
}

// ListAdminPermissions handles GET /v1/admin-permissions
func (h *AdminPermissionHandler) ListAdminPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	activeOnly := false
	if v := r.URL.Query().Get("activeOnly"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			httperr.BadRequest400WithFields(w, ctx, httperr.ErrCodeValidationError, "activeOnly must be a boolean",
				map[string]string{"activeOnly": "boolean"})
			return
		}
		activeOnly = parsed
	}

	perms, err := h.service.List(ctx, activeOnly)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	writeSuccess(w, http.StatusOK, perms)
}

// GrantAdminPermission handles POST /v1/admin-permissions
func (h *AdminPermissionHandler) GrantAdminPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	actor, ok := actorFromRequest(r)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	var req domain.CreateAdminPermissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, ctx, err)
		return
	}

	p, err := h.service.Grant(ctx, actor, req)
	if err != nil {
		log.Warn(ctx, "admin grant failed",
			logger.Module("admin_permission"),
			logger.Action("grant"),
			zap.String("target_user_id", req.UserID),
			zap.Error(err),
		)
		handleServiceError(w, ctx, log, err)
		return
	}

	w.Header().Set("Location", "/v1/admin-permissions/"+p.UserID)
	writeSuccess(w, http.StatusCreated, p)
}

// UpdateAdminPermission handles PATCH /v1/admin-permissions/{userId}
func (h *AdminPermissionHandler) UpdateAdminPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	actor, ok := actorFromRequest(r)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userId"))

	var req domain.UpdateAdminPermissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, ctx, err)
		return
	}

	p, err := h.service.Update(ctx, actor, userID, req)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	writeSuccess(w, http.StatusOK, p)
}

// RevokeAdminPermission handles DELETE /v1/admin-permissions/{userId}
func (h *AdminPermissionHandler) RevokeAdminPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	actor, ok := actorFromRequest(r)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if err := h.service.Revoke(ctx, actor, userID); err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
