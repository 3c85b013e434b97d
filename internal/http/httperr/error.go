package httperr

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"chatflow-access-api/internal/observability/logger"

	"go.uber.org/zap"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	OK    bool         `json:"ok"`
	Error *ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Details any               `json:"details,omitempty"`
	ErrorID string            `json:"error_id,omitempty"`
}

// Error codes for 401 Unauthorized (authentication failures)
const (
	ErrCodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	ErrCodeInvalidToken           = "INVALID_TOKEN"
	ErrCodeIdentityNotFound       = "IDENTITY_NOT_FOUND"
)

// Error codes for 403 Forbidden (authenticated but insufficient permissions)
const (
	ErrCodeAccessDenied = "ACCESS_DENIED"
)

// Error codes for 4xx client errors
const (
	ErrCodeValidationError  = "VALIDATION_ERROR"
	ErrCodeReferentialError = "REFERENTIAL_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// Error codes for 5xx
const (
	ErrCodeStoreError    = "STORE_ERROR"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// WriteError writes a standardized error response
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	write(w, ctx, status, &ErrorDetail{Code: code, Message: message})
}

// WriteErrorWithFields writes a standardized error response with field-level details
func WriteErrorWithFields(w http.ResponseWriter, ctx context.Context, status int, code, message string, fields map[string]string) {
	write(w, ctx, status, &ErrorDetail{Code: code, Message: message, Fields: fields})
}

// WriteErrorWithDetails writes a standardized error response carrying a
// structured details payload (row errors, invalid ids).
func WriteErrorWithDetails(w http.ResponseWriter, ctx context.Context, status int, code, message string, details any) {
	write(w, ctx, status, &ErrorDetail{Code: code, Message: message, Details: details})
}

func write(w http.ResponseWriter, ctx context.Context, status int, detail *ErrorDetail) {
	log := logger.FromContext(ctx)

	fields := make([]zap.Field, 0, len(detail.Fields)+4)
	fields = append(fields,
		zap.Int("status_code", status),
		zap.String("error_code", detail.Code),
		zap.String("message", detail.Message),
		zap.String("request_id", logger.RequestID(ctx)),
	)
	for k, v := range detail.Fields {
		fields = append(fields, zap.String("field_"+k, v))
	}

	if status >= http.StatusInternalServerError {
		log.Error(ctx, "request failed", fields...)
	} else {
		log.Warn(ctx, "request failed", fields...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{OK: false, Error: detail})
}

// Unauthorized401 writes a 401 Unauthorized response
func Unauthorized401(w http.ResponseWriter, ctx context.Context, code, message string) {
	WriteError(w, ctx, http.StatusUnauthorized, code, message)
}

// Forbidden403 writes a 403 Forbidden response
func Forbidden403(w http.ResponseWriter, ctx context.Context, code, message string) {
	WriteError(w, ctx, http.StatusForbidden, code, message)
}

// BadRequest400 writes a 400 Bad Request response
func BadRequest400(w http.ResponseWriter, ctx context.Context, code, message string) {
	WriteError(w, ctx, http.StatusBadRequest, code, message)
}

// BadRequest400WithFields writes a 400 Bad Request response with field-level errors
func BadRequest400WithFields(w http.ResponseWriter, ctx context.Context, code, message string, fields map[string]string) {
	WriteErrorWithFields(w, ctx, http.StatusBadRequest, code, message, fields)
}

// NotFound404 writes a 404 Not Found response
func NotFound404(w http.ResponseWriter, ctx context.Context, message string) {
	WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict409 writes a 409 Conflict response
func Conflict409(w http.ResponseWriter, ctx context.Context, message string) {
	WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, message)
}

// StoreError500 writes a 500 response for a persistence failure. The
// underlying error is logged, never returned to the client.
func StoreError500(w http.ResponseWriter, ctx context.Context, err error) {
	logger.FromContext(ctx).Error(ctx, "store operation failed", zap.Error(err))
	writeInternal(w, ctx, ErrCodeStoreError, "Store Error")
}

// InternalError500 writes a 500 Internal Server Error response
func InternalError500(w http.ResponseWriter, ctx context.Context, message string) {
	logger.FromContext(ctx).Error(ctx, "internal server error",
		zap.String("message", message),
		zap.String("request_id", logger.RequestID(ctx)),
	)
	writeInternal(w, ctx, ErrCodeInternalError, "Internal Server Error")
}

// InternalError is an alias for InternalError500
func InternalError(w http.ResponseWriter, ctx context.Context) {
	InternalError500(w, ctx, "internal server error")
}

func writeInternal(w http.ResponseWriter, ctx context.Context, code, message string) {
	// In prod, return generic message for security
	response := ErrorResponse{
		OK: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
	}

	if os.Getenv("APP_ENV") == "dev" {
		response.Error.ErrorID = logger.RequestID(ctx)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(response)
}
