package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/repo"

	"go.uber.org/zap"
)

// AdminStore loads instance-level admin records.
type AdminStore interface {
	GetByUserID(ctx context.Context, userID string) (*domain.AdminPermission, error)
}

// AdminGate guards administrative endpoints. A caller passes when its
// session resolves to an active user that holds a valid admin record
// granting at least one of the required capabilities.
type AdminGate struct {
	authn  *Authenticator
	admins AdminStore
	now    func() time.Time
}

// NewAdminGate creates an AdminGate
func NewAdminGate(authn *Authenticator, admins AdminStore) *AdminGate {
	return &AdminGate{authn: authn, admins: admins, now: time.Now}
}

// Authorize runs the gate for r without writing a response.
func (g *AdminGate) Authorize(r *http.Request, required ...domain.AdminCapability) (*AuthContext, error) {
	authCtx, err := g.authn.Authenticate(r)
	if err != nil {
		return nil, err
	}

	record, err := g.admins.GetByUserID(r.Context(), authCtx.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, NewAuthError(AuthFailureNoAdminRecord, "no admin permission record", nil)
		}
		return nil, NewAuthError(AuthFailureStoreError, "admin permission lookup failed", err)
	}

	// Expired and inactive records are indistinguishable to callers.
	if !record.IsValid(g.now()) {
		return nil, NewAuthError(AuthFailureAdminRecordInvalid, "admin permission inactive or expired", nil)
	}

	if !record.HasAnyCapability(required...) {
		return nil, NewAuthError(AuthFailureCapabilityMissing, "missing capability: "+joinCapabilities(required), nil)
	}

	authCtx.Permission = record
	return authCtx, nil
}

// Require returns middleware admitting callers that hold any of required.
func (g *AdminGate) Require(required ...domain.AdminCapability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, err := g.Authorize(r, required...)
			if err != nil {
				g.authn.deny(w, r, err)
				return
			}

			ctx := ContextWithAuth(r.Context(), authCtx)
			logger.FromContext(ctx).Debug(ctx, "admin request authorized",
				logger.Module("auth"),
				logger.Action("admin_gate"),
				zap.String("auth_method", authCtx.AuthMethod),
				zap.String("admin_role", string(authCtx.Permission.Role)),
				zap.String("required", joinCapabilities(required)),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdminPermission returns the admin record attached by AdminGate.
func GetAdminPermission(ctx context.Context) (*domain.AdminPermission, bool) {
	authCtx, ok := GetAuthContext(ctx)
	if !ok || authCtx.Permission == nil {
		return nil, false
	}
	return authCtx.Permission, true
}

func joinCapabilities(caps []domain.AdminCapability) string {
	return strings.Join(domain.AdminCapabilityStrings(caps), " | ")
}
