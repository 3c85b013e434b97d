package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/http/httperr"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/repo"
	"chatflow-access-api/internal/telemetry"

	"go.uber.org/zap"
)

type contextKey string

const authContextKey contextKey = "auth_context"

// Token transport used by a request.
const (
	AuthMethodBearer = "bearer"
	AuthMethodCookie = "cookie"
)

// AuthContext is the resolved caller attached to a request.
type AuthContext struct {
	UserID     string
	User       *domain.User
	Principal  string
	AuthMethod string

	// Active course context taken from the session.
	CourseID string
	Roles    []string

	// Set by AdminGate only.
	Permission *domain.AdminPermission
}

// Caller returns the identity consumed by the permission resolver.
func (a *AuthContext) Caller() domain.CallerIdentity {
	return domain.CallerIdentity{UserID: a.UserID, Roles: a.Roles}
}

// GetAuthContext retrieves the AuthContext from ctx
func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	authCtx, ok := ctx.Value(authContextKey).(*AuthContext)
	return authCtx, ok && authCtx != nil
}

// ContextWithAuth attaches authCtx to ctx and tags the log scope with the
// caller and course.
func ContextWithAuth(ctx context.Context, authCtx *AuthContext) context.Context {
	ctx = context.WithValue(ctx, authContextKey, authCtx)
	ctx = logger.ContextWithUser(ctx, authCtx.UserID)
	if authCtx.CourseID != "" {
		ctx = logger.ContextWithCourse(ctx, authCtx.CourseID)
	}
	return ctx
}

// ExtractToken returns the session token of r and how it was carried. The
// Authorization header takes precedence over the session cookie.
func ExtractToken(r *http.Request, cookieName string) (string, string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", "", NewAuthError(AuthFailureInvalidScheme, "invalid authorization scheme, expected Bearer", nil)
		}
		return strings.TrimSpace(parts[1]), AuthMethodBearer, nil
	}

	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, AuthMethodCookie, nil
		}
	}

	return "", "", NewAuthError(AuthFailureMissingToken, "authentication required", nil)
}

// Authenticator turns a request's session token into an AuthContext.
type Authenticator struct {
	validator  TokenValidator
	identities *IdentityResolver
	cookieName string
	metrics    *telemetry.AccessMetrics
}

// NewAuthenticator creates an Authenticator
func NewAuthenticator(validator TokenValidator, identities *IdentityResolver, cookieName string, metrics *telemetry.AccessMetrics) *Authenticator {
	if metrics == nil {
		metrics = telemetry.NewNopAccessMetrics()
	}
	return &Authenticator{
		validator:  validator,
		identities: identities,
		cookieName: cookieName,
		metrics:    metrics,
	}
}

// Authenticate verifies the token of r and resolves its identity.
func (a *Authenticator) Authenticate(r *http.Request) (*AuthContext, error) {
	token, method, err := ExtractToken(r, a.cookieName)
	if err != nil {
		return nil, err
	}

	claims, err := a.validator.Validate(token)
	if err != nil {
		return nil, err
	}

	principal, err := claims.Principal()
	if err != nil {
		return nil, NewAuthError(AuthFailureMalformedClaims, "token carries no identity", err)
	}

	user, err := a.identities.Resolve(r.Context(), principal)
	if err != nil {
		return nil, err
	}

	return &AuthContext{
		UserID:     user.ID,
		User:       user,
		Principal:  principal.String(),
		AuthMethod: method,
		CourseID:   strings.TrimSpace(claims.CourseID),
		Roles:      domain.UniqueRoles(claims.Roles),
	}, nil
}

// deny logs, counts and writes an auth failure.
func (a *Authenticator) deny(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	authErr, ok := IsAuthError(err)
	if !ok {
		authErr = NewAuthError(AuthFailureUnknown, "authentication failed", err)
	}
	a.metrics.GateDenials.WithLabelValues(string(authErr.Reason)).Inc()

	fields := []logger.Field{
		logger.Module("auth"),
		logger.Action("authenticate"),
		zap.String("auth_failure_reason", string(authErr.Reason)),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	}
	if token, _, tokenErr := ExtractToken(r, a.cookieName); tokenErr == nil {
		fields = append(fields, zap.String("token_prefix", maskToken(token)))
	}
	if authErr.Reason == AuthFailureStoreError {
		log.Error(ctx, "authentication failed", fields...)
		httperr.StoreError500(w, ctx, err)
		return
	}
	log.Warn(ctx, "authentication failed", fields...)

	httperr.WriteError(w, ctx, authErr.Status(), authErr.Code(), publicMessage(authErr))
}

func publicMessage(e *AuthError) string {
	switch e.Reason {
	case AuthFailureMissingToken:
		return "authentication required"
	case AuthFailureInvalidScheme:
		return "invalid authorization scheme, expected Bearer"
	case AuthFailureIdentityNotFound, AuthFailureIdentityInactive:
		return "identity not found"
	case AuthFailureNoAdminRecord, AuthFailureAdminRecordInvalid:
		return "admin access required"
	case AuthFailureCapabilityMissing, AuthFailureNoCourseContext:
		return e.Message
	default:
		return "invalid or expired token"
	}
}

// MembershipStore loads a user's roles in a course.
type MembershipStore interface {
	GetMembership(ctx context.Context, courseID, userID string) (*domain.CourseMembership, error)
}

// SessionMiddleware authenticates any active user for the runtime routes.
// The session must name an active course; when it carries no roles the
// stored course membership is used instead.
func (a *Authenticator) SessionMiddleware(members MembershipStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, err := a.Authenticate(r)
			if err != nil {
				a.deny(w, r, err)
				return
			}

			if authCtx.CourseID == "" {
				a.deny(w, r, NewAuthError(AuthFailureNoCourseContext, "session has no active course", nil))
				return
			}

			if len(authCtx.Roles) == 0 && members != nil {
				m, err := members.GetMembership(r.Context(), authCtx.CourseID, authCtx.UserID)
				switch {
				case err == nil:
					authCtx.Roles = domain.UniqueRoles(m.Roles)
				case errors.Is(err, repo.ErrNotFound):
				default:
					a.deny(w, r, NewAuthError(AuthFailureStoreError, "membership lookup failed", err))
					return
				}
			}

			ctx := ContextWithAuth(r.Context(), authCtx)
			logger.FromContext(ctx).Debug(ctx, "authenticated request",
				logger.Module("auth"),
				logger.Action("session"),
				zap.String("auth_method", authCtx.AuthMethod),
				zap.String("principal", authCtx.Principal),
				zap.Int("roles", len(authCtx.Roles)),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
