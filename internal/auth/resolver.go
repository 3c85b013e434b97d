package auth

import (
	"context"
	"errors"
	"fmt"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/repo"
)

// IdentityStore is the user directory every token shape resolves against.
type IdentityStore interface {
	GetUserByID(ctx context.Context, userID string) (*domain.User, error)
	GetUserBySubject(ctx context.Context, subject, issuer string) (*domain.User, error)
}

// IdentityResolver maps a decoded Principal onto one active user record.
type IdentityResolver struct {
	users         IdentityStore
	legacyIssuers map[string]bool
}

// NewIdentityResolver creates an IdentityResolver. When legacyIssuers is
// non-empty, legacy principals from any other issuer are rejected.
func NewIdentityResolver(users IdentityStore, legacyIssuers []string) *IdentityResolver {
	issuers := make(map[string]bool, len(legacyIssuers))
	for _, iss := range legacyIssuers {
		if iss != "" {
			issuers[iss] = true
		}
	}
	return &IdentityResolver{users: users, legacyIssuers: issuers}
}

// Resolve returns the active user referenced by p.
func (ir *IdentityResolver) Resolve(ctx context.Context, p Principal) (*domain.User, error) {
	var (
		user *domain.User
		err  error
	)

	switch v := p.(type) {
	case CurrentPrincipal:
		user, err = ir.users.GetUserByID(ctx, v.UserID)
	case LegacyPrincipal:
		if len(ir.legacyIssuers) > 0 && !ir.legacyIssuers[v.Issuer] {
			return nil, NewAuthError(AuthFailureIssuerNotAllowed, fmt.Sprintf("issuer not allowed: %s", v.Issuer), nil)
		}
		user, err = ir.users.GetUserBySubject(ctx, v.Subject, v.Issuer)
	default:
		return nil, NewAuthError(AuthFailureMalformedClaims, "unsupported principal", ErrNoPrincipal)
	}

	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, NewAuthError(AuthFailureIdentityNotFound, "identity not found", err)
		}
		return nil, NewAuthError(AuthFailureStoreError, "identity lookup failed", err)
	}

	if !user.IsActive {
		return nil, NewAuthError(AuthFailureIdentityInactive, "identity inactive", nil)
	}

	return user, nil
}
