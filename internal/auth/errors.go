package auth

import (
	"errors"
	"net/http"

	"chatflow-access-api/internal/http/httperr"
)

// AuthFailureReason categorizes authentication and authorization failures
type AuthFailureReason string

const (
	AuthFailureMissingToken       AuthFailureReason = "missing_token"
	AuthFailureInvalidScheme      AuthFailureReason = "invalid_scheme"
	AuthFailureMalformedToken     AuthFailureReason = "malformed_token"
	AuthFailureInvalidSignature   AuthFailureReason = "invalid_signature"
	AuthFailureTokenExpired       AuthFailureReason = "token_expired"
	AuthFailureUnknownKey         AuthFailureReason = "unknown_key"
	AuthFailureMalformedClaims    AuthFailureReason = "malformed_claims"
	AuthFailureIssuerNotAllowed   AuthFailureReason = "issuer_not_allowed"
	AuthFailureIdentityNotFound   AuthFailureReason = "identity_not_found"
	AuthFailureIdentityInactive   AuthFailureReason = "identity_inactive"
	AuthFailureNoAdminRecord      AuthFailureReason = "no_admin_record"
	AuthFailureAdminRecordInvalid AuthFailureReason = "admin_record_invalid"
	AuthFailureCapabilityMissing  AuthFailureReason = "capability_missing"
	AuthFailureNoCourseContext    AuthFailureReason = "no_course_context"
	AuthFailureStoreError         AuthFailureReason = "store_error"
	AuthFailureUnknown            AuthFailureReason = "unknown"
)

// AuthError represents a categorized authentication error
type AuthError struct {
	Reason  AuthFailureReason
	Message string
	Err     error
}

// Error implements the error interface
func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Code maps the reason onto the public error taxonomy.
func (e *AuthError) Code() string {
	switch e.Reason {
	case AuthFailureMissingToken:
		return httperr.ErrCodeAuthenticationRequired
	case AuthFailureIdentityNotFound, AuthFailureIdentityInactive:
		return httperr.ErrCodeIdentityNotFound
	case AuthFailureNoAdminRecord, AuthFailureAdminRecordInvalid,
		AuthFailureCapabilityMissing, AuthFailureNoCourseContext:
		return httperr.ErrCodeAccessDenied
	case AuthFailureStoreError:
		return httperr.ErrCodeStoreError
	default:
		return httperr.ErrCodeInvalidToken
	}
}

// Status returns the HTTP status for the reason.
func (e *AuthError) Status() int {
	switch e.Code() {
	case httperr.ErrCodeAccessDenied:
		return http.StatusForbidden
	case httperr.ErrCodeStoreError:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// NewAuthError creates a new AuthError
func NewAuthError(reason AuthFailureReason, message string, err error) *AuthError {
	return &AuthError{
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// IsAuthError checks if an error is an AuthError and returns it
func IsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// maskToken masks a JWT token for safe logging
// Shows only the first 12 characters followed by "..."
func maskToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:12] + "..."
}
