package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/http/httperr"
	"chatflow-access-api/internal/repo"
	"chatflow-access-api/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCookieName = "session_token"

type fakeAdminStore struct {
	records map[string]*domain.AdminPermission
	err     error
}

func (s *fakeAdminStore) GetByUserID(_ context.Context, userID string) (*domain.AdminPermission, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.records[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return p, nil
}

type fakeMembershipStore struct {
	memberships map[string]*domain.CourseMembership
}

func (s *fakeMembershipStore) GetMembership(_ context.Context, courseID, userID string) (*domain.CourseMembership, error) {
	m, ok := s.memberships[courseID+"|"+userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return m, nil
}

type gateFixture struct {
	gate    *AdminGate
	authn   *Authenticator
	admins  *fakeAdminStore
	metrics *telemetry.AccessMetrics
	now     time.Time
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	users := append(testUsers(),
		&domain.User{ID: "editor", IsActive: true},
		&domain.User{ID: "viewer", IsActive: true},
		&domain.User{ID: "super", IsActive: true},
		&domain.User{ID: "expired", IsActive: true},
		&domain.User{ID: "deactivated", IsActive: true},
		&domain.User{ID: "plain", IsActive: true},
	)

	admins := &fakeAdminStore{records: map[string]*domain.AdminPermission{
		"editor": {UserID: "editor", Role: domain.AdminRoleCourse, IsActive: true, ExpiresAt: &future,
			Capabilities: []domain.AdminCapability{domain.AdminCapPermissionEdit}},
		"viewer": {UserID: "viewer", Role: domain.AdminRoleModerator, IsActive: true,
			Capabilities: []domain.AdminCapability{domain.AdminCapPermissionView}},
		"super": {UserID: "super", Role: domain.AdminRoleSuper, IsActive: true},
		"expired": {UserID: "expired", Role: domain.AdminRoleCourse, IsActive: true, ExpiresAt: &past,
			Capabilities: []domain.AdminCapability{domain.AdminCapPermissionEdit}},
		"deactivated": {UserID: "deactivated", Role: domain.AdminRoleCourse, IsActive: false,
			Capabilities: []domain.AdminCapability{domain.AdminCapPermissionEdit}},
	}}

	metrics := telemetry.NewNopAccessMetrics()
	authn := NewAuthenticator(
		NewHS256Validator(newTestKeyStore(), time.Minute),
		NewIdentityResolver(newFakeIdentityStore(users...), nil),
		testCookieName,
		metrics,
	)
	gate := NewAdminGate(authn, admins)
	gate.now = func() time.Time { return now }

	return &gateFixture{gate: gate, authn: authn, admins: admins, metrics: metrics, now: now}
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	return signToken(t, testSecret, "", currentClaims(userID, time.Now().Add(time.Hour)))
}

// serve runs a request through the handler chain and returns the recorder
// and whether the inner handler was reached.
func serve(mw func(http.Handler) http.Handler, req *http.Request) (*httptest.ResponseRecorder, *AuthContext) {
	var seen *AuthContext
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetAuthContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr, seen
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body httperr.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.NotNil(t, body.Error)
	return body.Error.Code
}

func TestAdminGate_Outcomes(t *testing.T) {
	f := newGateFixture(t)

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		required   []domain.AdminCapability
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing token",
			setup:      func(r *http.Request) {},
			required:   []domain.AdminCapability{domain.AdminCapPermissionEdit},
			wantStatus: http.StatusUnauthorized,
			wantCode:   httperr.ErrCodeAuthenticationRequired,
		},
		{
			name:       "wrong scheme",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
			required:   []domain.AdminCapability{domain.AdminCapPermissionEdit},
			wantStatus: http.StatusUnauthorized,
			wantCode:   httperr.ErrCodeInvalidToken,
		},
		{
			name: "bad signature",
			setup: func(r *http.Request) {
				tok := signToken(t, "another-secret-of-at-least-thirty-two-bytes", "", currentClaims("editor", time.Now().Add(time.Hour)))
				r.Header.Set("Authorization", "Bearer "+tok)
			},
			required:   []domain.AdminCapability{domain.AdminCapPermissionEdit},
			wantStatus: http.StatusUnauthorized,
			wantCode:   httperr.ErrCodeInvalidToken,
		},
		{
			name:       "unknown identity",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tokenFor(t, "ghost")) },
			required:   []domain.AdminCapability{domain.AdminCapPermissionEdit},
			wantStatus: http.StatusUnauthorized,
			wantCode:   httperr.ErrCodeIdentityNotFound,
		},
		{
			name:       "inactive identity",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tokenFor(t, "user-off")) },
			required:   []domain.AdminCapability{domain.AdminCapPermissionEdit},
			wantStatus: http.StatusUnauthorized,
			wantCode:   httperr.ErrCodeIdentityNotFound,
		},
		{
			name:       "no admin record",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tokenFor(t, "plain")) },
			required:   []domain.AdminCapability{domain.AdminCapPermissionEdit},
			wantStatus: http.StatusForbidden,
			wantCode:   httperr.ErrCodeAccessDenied,
		},
		{
			name:       "expired record treated like no record",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tokenFor(t, "expired")) },
			required:   []domain.AdminCapability{domain.AdminCapPermissionEdit},
			wantStatus: http.StatusForbidden,
			wantCode:   httperr.ErrCodeAccessDenied,
		},
		{
			name:       "deactivated record",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tokenFor(t, "deactivated")) },
			required:   []domain.AdminCapability{domain.AdminCapPermissionEdit},
			wantStatus: http.StatusForbidden,
			wantCode:   httperr.ErrCodeAccessDenied,
		},
		{
			name:       "capability missing",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tokenFor(t, "viewer")) },
			required:   []domain.AdminCapability{domain.AdminCapPermissionEdit},
			wantStatus: http.StatusForbidden,
			wantCode:   httperr.ErrCodeAccessDenied,
		},
		{
			name:       "any-of satisfied",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tokenFor(t, "viewer")) },
			required:   []domain.AdminCapability{domain.AdminCapPermissionView, domain.AdminCapPermissionEdit},
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "super admin holds everything",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tokenFor(t, "super")) },
			required:   []domain.AdminCapability{domain.AdminCapSystemConfig},
			wantStatus: http.StatusNoContent,
		},
		{
			name: "session cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: testCookieName, Value: tokenFor(t, "editor")})
			},
			required:   []domain.AdminCapability{domain.AdminCapPermissionEdit},
			wantStatus: http.StatusNoContent,
		},
		{
			name: "header wins over cookie",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+tokenFor(t, "plain"))
				r.AddCookie(&http.Cookie{Name: testCookieName, Value: tokenFor(t, "editor")})
			},
			required:   []domain.AdminCapability{domain.AdminCapPermissionEdit},
			wantStatus: http.StatusForbidden,
			wantCode:   httperr.ErrCodeAccessDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/permissions", nil)
			tt.setup(req)

			rr, seen := serve(f.gate.Require(tt.required...), req)

			require.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantCode != "" {
				assert.Nil(t, seen)
				assert.Equal(t, tt.wantCode, errorCode(t, rr))
				return
			}
			require.NotNil(t, seen)
			assert.NotNil(t, seen.Permission)
		})
	}
}

func TestAdminGate_LegacyTokenResolvesSameIdentity(t *testing.T) {
	f := newGateFixture(t)
	f.admins.records["user-1"] = &domain.AdminPermission{UserID: "user-1", Role: domain.AdminRoleSuper, IsActive: true}

	tok := signToken(t, testSecret, "", legacyClaims("sub-1", testLegacyIssuer, time.Now().Add(time.Hour)))
	req := httptest.NewRequest(http.MethodGet, "/v1/permissions", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	rr, seen := serve(f.gate.Require(domain.AdminCapPermissionView), req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.UserID)
	assert.Equal(t, AuthMethodBearer, seen.AuthMethod)
}

func TestAdminGate_StoreErrorIs500(t *testing.T) {
	f := newGateFixture(t)
	f.admins.err = errors.New("connection refused")

	req := httptest.NewRequest(http.MethodGet, "/v1/permissions", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "editor"))

	rr, _ := serve(f.gate.Require(domain.AdminCapPermissionEdit), req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, httperr.ErrCodeStoreError, errorCode(t, rr))
}

func TestAdminGate_CountsDenials(t *testing.T) {
	f := newGateFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/permissions", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "expired"))
	serve(f.gate.Require(domain.AdminCapPermissionEdit), req)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GateDenials.WithLabelValues(string(AuthFailureAdminRecordInvalid))))
}

func TestGetAdminPermission(t *testing.T) {
	_, ok := GetAdminPermission(context.Background())
	assert.False(t, ok)

	record := &domain.AdminPermission{UserID: "u", Role: domain.AdminRoleModerator}
	ctx := ContextWithAuth(context.Background(), &AuthContext{UserID: "u", Permission: record})

	got, ok := GetAdminPermission(ctx)
	require.True(t, ok)
	assert.Same(t, record, got)
}

func TestSessionMiddleware(t *testing.T) {
	f := newGateFixture(t)
	members := &fakeMembershipStore{memberships: map[string]*domain.CourseMembership{
		"course-1|plain": {CourseID: "course-1", UserID: "plain", Roles: []string{domain.RoleLearner}},
	}}
	mw := f.authn.SessionMiddleware(members)

	t.Run("roles from token", func(t *testing.T) {
		claims := currentClaims("plain", time.Now().Add(time.Hour))
		claims.CourseID = "course-1"
		claims.Roles = []string{domain.RoleInstructor, domain.RoleInstructor}
		req := httptest.NewRequest(http.MethodGet, "/v1/runtime/chatflows", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "", claims))

		rr, seen := serve(mw, req)

		require.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "course-1", seen.CourseID)
		assert.Equal(t, []string{domain.RoleInstructor}, seen.Roles)
		assert.Equal(t, domain.CallerIdentity{UserID: "plain", Roles: []string{domain.RoleInstructor}}, seen.Caller())
	})

	t.Run("roles from membership", func(t *testing.T) {
		claims := currentClaims("plain", time.Now().Add(time.Hour))
		claims.CourseID = "course-1"
		req := httptest.NewRequest(http.MethodGet, "/v1/runtime/chatflows", nil)
		req.AddCookie(&http.Cookie{Name: testCookieName, Value: signToken(t, testSecret, "", claims)})

		rr, seen := serve(mw, req)

		require.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, []string{domain.RoleLearner}, seen.Roles)
		assert.Equal(t, AuthMethodCookie, seen.AuthMethod)
	})

	t.Run("no course context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/runtime/chatflows", nil)
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, "plain"))

		rr, seen := serve(mw, req)

		assert.Nil(t, seen)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, httperr.ErrCodeAccessDenied, errorCode(t, rr))
	})
}
