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

	"go.uber.org/zap"
)

// PermissionManager is the coarse permission service.
type PermissionManager interface {
	List(ctx context.Context, actor service.Actor, params domain.ListPermissionsParams) ([]domain.CoarsePermission, error)
	Overview(ctx context.Context, actor service.Actor, params domain.ListPermissionsParams) ([]domain.PermissionOverview, error)
	Create(ctx context.Context, actor service.Actor, req domain.CreateCoarsePermissionRequest) (*domain.CoarsePermission, bool, error)
	Update(ctx context.Context, actor service.Actor, req domain.UpdateCoarsePermissionRequest) (*domain.CoarsePermission, error)
	Delete(ctx context.Context, actor service.Actor, id string) error
}

type PermissionHandler struct {
	service PermissionManager
}

func NewPermissionHandler(service PermissionManager) *PermissionHandler {
	return &PermissionHandler{service: service}
}

// ListPermissions handles GET /v1/permissions
// action=overview returns the listing enriched with catalog data.
func (h *PermissionHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	actor, ok := actorFromRequest(r)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	q := r.URL.Query()
	var params domain.ListPermissionsParams
	if courseID := strings.TrimSpace(q.Get("courseId")); courseID != "" {
		params.CourseID = &courseID
	}
	if chatflowID := strings.TrimSpace(q.Get("chatflowId")); chatflowID != "" {
		params.ChatflowID = &chatflowID
	}
	if active := q.Get("activeOnly"); active != "" {
		activeOnly, err := strconv.ParseBool(active)
		if err != nil {
			httperr.BadRequest400WithFields(w, ctx, httperr.ErrCodeValidationError, "activeOnly must be a boolean",
				map[string]string{"activeOnly": "boolean"})
			return
		}
		params.ActiveOnly = activeOnly
	}

	var (
		data any
		err  error
	)
	switch action := q.Get("action"); action {
	case "overview":
		data, err = h.service.Overview(ctx, actor, params)
	case "", "list":
		data, err = h.service.List(ctx, actor, params)
	default:
		httperr.BadRequest400WithFields(w, ctx, httperr.ErrCodeValidationError, "unknown action",
			map[string]string{"action": "oneof list overview"})
		return
	}
	if err != nil {
		log.Error(ctx, "failed to list permissions",
			logger.Module("permission"),
			logger.Action("list"),
			zap.Error(err),
		)
		handleServiceError(w, ctx, log, err)
		return
	}

	writeSuccess(w, http.StatusOK, data)
}

// CreatePermission handles POST /v1/permissions
func (h *PermissionHandler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	actor, ok := actorFromRequest(r)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	var req domain.CreateCoarsePermissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, ctx, err)
		return
	}

	p, created, err := h.service.Create(ctx, actor, req)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "permission saved",
		logger.Module("permission"),
		logger.Action("create"),
		zap.String("permission_id", p.ID.String()),
		zap.Bool("created", created),
	)
	writeSuccess(w, http.StatusOK, p)
}

// UpdatePermission handles PUT /v1/permissions
func (h *PermissionHandler) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	actor, ok := actorFromRequest(r)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	var req domain.UpdateCoarsePermissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, ctx, err)
		return
	}

	p, err := h.service.Update(ctx, actor, req)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	writeSuccess(w, http.StatusOK, p)
}

// DeletePermission handles DELETE /v1/permissions?id=
func (h *PermissionHandler) DeletePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	actor, ok := actorFromRequest(r)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		httperr.BadRequest400WithFields(w, ctx, httperr.ErrCodeValidationError, "id is required",
			map[string]string{"id": "required"})
		return
	}

	if err := h.service.Delete(ctx, actor, id); err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"id": id, "isActive": false})
}
