package handler

import (
	"context"
	"net/http"
	"strings"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/http/httperr"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/service"

	"go.uber.org/zap"
)

// RolePermissionManager is the role permission service.
type RolePermissionManager interface {
	Handle(ctx context.Context, actor service.Actor, req domain.RolePermissionRequest) (*service.RolePermissionResult, error)
	List(ctx context.Context, actor service.Actor, courseID *string) ([]domain.RolePermission, error)
}

type RolePermissionHandler struct {
	service RolePermissionManager
}

func NewRolePermissionHandler(service RolePermissionManager) *RolePermissionHandler {
	return &RolePermissionHandler{service: service}
}

// HandleRolePermission handles POST /v1/role-permissions
func (h *RolePermissionHandler) HandleRolePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	actor, ok := actorFromRequest(r)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	var req domain.RolePermissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, ctx, err)
		return
	}

	result, err := h.service.Handle(ctx, actor, req)
	if err != nil {
		log.Error(ctx, "role permission request failed",
			logger.Module("role_permission"),
			logger.Action(req.Action),
			zap.String("course_id", req.CourseID),
			zap.String("role_name", req.RoleName),
			zap.String("chatflow_id", req.ChatflowID),
			zap.Error(err),
		)
		handleServiceError(w, ctx, log, err)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}

// ListRolePermissions handles GET /v1/role-permissions
func (h *RolePermissionHandler) ListRolePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	actor, ok := actorFromRequest(r)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	var courseID *string
	if c := strings.TrimSpace(r.URL.Query().Get("courseId")); c != "" {
		courseID = &c
	}

	perms, err := h.service.List(ctx, actor, courseID)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	writeSuccess(w, http.StatusOK, perms)
}
