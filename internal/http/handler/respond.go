package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"chatflow-access-api/internal/auth"
	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/http/httperr"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/provisioning"
	"chatflow-access-api/internal/service"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// SuccessResponse is the envelope of every successful response.
type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessResponse{Success: true, Data: data})
}

// actorFromRequest builds the service actor from the gate's auth context.
func actorFromRequest(r *http.Request) (service.Actor, bool) {
	authCtx, ok := auth.GetAuthContext(r.Context())
	if !ok {
		return service.Actor{}, false
	}
	return service.Actor{
		UserID:     authCtx.UserID,
		Permission: authCtx.Permission,
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
	}, true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeJSON reads a JSON body. It writes the 400 itself and reports false
// when the body is not valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.FromContext(ctx).Warn(ctx, "invalid request body", zap.Error(err))
		httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, "request body must be valid JSON")
		return false
	}
	return true
}

// writeValidationError maps DTO validation failures to a 400 with one entry
// per offending field.
func writeValidationError(w http.ResponseWriter, ctx context.Context, err error) {
	var fieldErrs validator.ValidationErrors
	var invalid *domain.InvalidValueError
	switch {
	case errors.As(err, &fieldErrs):
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[jsonFieldName(fe.Field())] = fe.Tag()
		}
		httperr.BadRequest400WithFields(w, ctx, httperr.ErrCodeValidationError, "missing or invalid fields", fields)
	case errors.As(err, &invalid):
		httperr.BadRequest400WithFields(w, ctx, httperr.ErrCodeValidationError, invalid.Error(), map[string]string{invalid.Field: "invalid"})
	default:
		httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, err.Error())
	}
}

// jsonFieldName lower-cases the first letter of a struct field name, which
// matches the camelCase json tags of every request DTO.
func jsonFieldName(field string) string {
	if field == "" {
		return field
	}
	if field == "ID" {
		return "id"
	}
	if strings.HasSuffix(field, "ID") {
		field = strings.TrimSuffix(field, "ID") + "Id"
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func handleServiceError(w http.ResponseWriter, ctx context.Context, log *logger.Logger, err error) {
	var (
		svcValErr   *service.ValidationError
		parseErr    *provisioning.ParseError
		batchValErr *provisioning.ValidationError
		scopeErr    *provisioning.CourseScopeError
		refErr      *provisioning.ReferentialError
		commitErr   *provisioning.CommitError
	)

	switch {
	case errors.As(err, &svcValErr):
		fields := map[string]string{}
		if svcValErr.Field != "" {
			fields[svcValErr.Field] = svcValErr.Message
		}
		httperr.BadRequest400WithFields(w, ctx, httperr.ErrCodeValidationError, svcValErr.Error(), fields)
	case errors.As(err, &parseErr):
		httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, parseErr.Error())
	case errors.As(err, &batchValErr):
		httperr.WriteErrorWithDetails(w, ctx, http.StatusBadRequest, httperr.ErrCodeValidationError,
			batchValErr.Error(), map[string]any{"errors": batchValErr.Errors})
	case errors.As(err, &scopeErr):
		httperr.WriteErrorWithDetails(w, ctx, http.StatusForbidden, httperr.ErrCodeAccessDenied,
			scopeErr.Error(), scopeErr)
	case errors.As(err, &refErr):
		httperr.WriteErrorWithDetails(w, ctx, http.StatusBadRequest, httperr.ErrCodeReferentialError,
			refErr.Error(), refErr)
	case errors.As(err, &commitErr):
		log.Error(ctx, "atomic batch commit rolled back",
			logger.Module("batch_upload"),
			logger.Action("commit"),
			zap.Int("row", commitErr.Row),
			zap.Error(commitErr.Err),
		)
		httperr.WriteErrorWithDetails(w, ctx, http.StatusInternalServerError, httperr.ErrCodeStoreError,
			"Store Error", map[string]any{"row": commitErr.Row})
	case errors.Is(err, service.ErrNotFound):
		httperr.NotFound404(w, ctx, "resource not found")
	case errors.Is(err, service.ErrUserNotFound):
		httperr.NotFound404(w, ctx, "user not found")
	case errors.Is(err, service.ErrConflict):
		httperr.Conflict409(w, ctx, "an active record already exists")
	case errors.Is(err, service.ErrForbidden):
		httperr.Forbidden403(w, ctx, httperr.ErrCodeAccessDenied, "operation not permitted")
	case errors.Is(err, service.ErrCourseRestricted):
		httperr.Forbidden403(w, ctx, httperr.ErrCodeAccessDenied, "course is outside your admin restriction")
	default:
		httperr.StoreError500(w, ctx, err)
	}
}
