package handler

import (
	"context"
	"net/http"
	"strings"

	"chatflow-access-api/internal/access"
	"chatflow-access-api/internal/auth"
	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/http/httperr"
	"chatflow-access-api/internal/observability/logger"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AccessResolver answers runtime access questions for the session caller.
type AccessResolver interface {
	CheckChatflowPermission(ctx context.Context, caller domain.CallerIdentity, courseID, chatflowID string, action domain.Capability) access.Decision
	GetUserAccessibleChatflows(ctx context.Context, caller domain.CallerIdentity, courseID string, action domain.Capability) ([]string, error)
	AutoGrantRolePermissions(ctx context.Context, caller domain.CallerIdentity, courseID string) (int, error)
}

// RuntimeHandler serves chat-time access checks to any authenticated user
// in an active course.
type RuntimeHandler struct {
	resolver AccessResolver
}

func NewRuntimeHandler(resolver AccessResolver) *RuntimeHandler {
	return &RuntimeHandler{resolver: resolver}
}

// AccessResponse is the decision for one chatflow.
type AccessResponse struct {
	ChatflowID string `json:"chatflowId"`
	CourseID   string `json:"courseId"`
	Action     string `json:"action"`
	access.Decision
}

// AccessibleResponse lists the chatflows a caller may use.
type AccessibleResponse struct {
	CourseID    string   `json:"courseId"`
	Action      string   `json:"action"`
	ChatflowIDs []string `json:"chatflowIds"`
}

// sessionAction resolves the action query parameter, writing a 400 for an
// unknown capability.
func sessionAction(w http.ResponseWriter, r *http.Request) (domain.Capability, bool) {
	action, ok := domain.ParseCapability(r.URL.Query().Get("action"))
	if !ok {
		httperr.BadRequest400WithFields(w, r.Context(), httperr.ErrCodeValidationError, "unknown action",
			map[string]string{"action": "oneof view chat edit admin"})
		return "", false
	}
	return action, true
}

// CheckAccess handles GET /v1/runtime/chatflows/{chatflowId}/access
func (h *RuntimeHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authCtx, ok := auth.GetAuthContext(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	chatflowID := strings.TrimSpace(chi.URLParam(r, "chatflowId"))
	ctx = logger.ContextWithChatflow(ctx, chatflowID)
	action, ok := sessionAction(w, r)
	if !ok {
		return
	}

	decision := h.resolver.CheckChatflowPermission(ctx, authCtx.Caller(), authCtx.CourseID, chatflowID, action)

	writeSuccess(w, http.StatusOK, AccessResponse{
		ChatflowID: chatflowID,
		CourseID:   authCtx.CourseID,
		Action:     string(action),
		Decision:   decision,
	})
}

// ListAccessible handles GET /v1/runtime/chatflows
func (h *RuntimeHandler) ListAccessible(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authCtx, ok := auth.GetAuthContext(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	action, ok := sessionAction(w, r)
	if !ok {
		return
	}

	ids, err := h.resolver.GetUserAccessibleChatflows(ctx, authCtx.Caller(), authCtx.CourseID, action)
	if err != nil {
		httperr.StoreError500(w, ctx, err)
		return
	}

	writeSuccess(w, http.StatusOK, AccessibleResponse{
		CourseID:    authCtx.CourseID,
		Action:      string(action),
		ChatflowIDs: ids,
	})
}

// AutoGrant handles POST /v1/runtime/chatflows/auto-grant
func (h *RuntimeHandler) AutoGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	authCtx, ok := auth.GetAuthContext(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	created, err := h.resolver.AutoGrantRolePermissions(ctx, authCtx.Caller(), authCtx.CourseID)
	if err != nil {
		log.Error(ctx, "auto-grant failed",
			logger.Module("access"),
			logger.Action("auto_grant"),
			zap.Int("created_before_failure", created),
			zap.Error(err),
		)
		httperr.StoreError500(w, ctx, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"courseId": authCtx.CourseID, "created": created})
}
