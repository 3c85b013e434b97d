// Package authtest builds resolved callers for handler and middleware
// tests without minting session tokens.
package authtest

import (
	"net/http"

	"chatflow-access-api/internal/auth"
	"chatflow-access-api/internal/domain"
)

// Admin is a bearer caller that passed the admin gate with role.
func Admin(userID string, role domain.AdminRole) *auth.AuthContext {
	return &auth.AuthContext{
		UserID:     userID,
		AuthMethod: auth.AuthMethodBearer,
		Permission: &domain.AdminPermission{UserID: userID, Role: role, IsActive: true},
	}
}

// Member is a cookie session caller enrolled in courseID.
func Member(userID, courseID string, roles ...string) *auth.AuthContext {
	return &auth.AuthContext{
		UserID:     userID,
		AuthMethod: auth.AuthMethodCookie,
		CourseID:   courseID,
		Roles:      roles,
	}
}

// Bearer is an authenticated caller with no admin record or course.
func Bearer(userID string) *auth.AuthContext {
	return &auth.AuthContext{UserID: userID, AuthMethod: auth.AuthMethodBearer}
}

// As returns a copy of r carrying authCtx. A nil authCtx leaves r
// unauthenticated.
func As(r *http.Request, authCtx *auth.AuthContext) *http.Request {
	if authCtx == nil {
		return r
	}
	return r.WithContext(auth.ContextWithAuth(r.Context(), authCtx))
}
