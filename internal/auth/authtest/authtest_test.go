package authtest

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"chatflow-access-api/internal/auth"
	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/observability/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAs(t *testing.T) {
	req := As(httptest.NewRequest(http.MethodGet, "/", nil), Member("u-1", "C1", domain.RoleLearner))

	got, ok := auth.GetAuthContext(req.Context())
	require.True(t, ok)
	assert.Equal(t, "C1", got.CourseID)
	assert.Equal(t, domain.CallerIdentity{UserID: "u-1", Roles: []string{domain.RoleLearner}}, got.Caller())
	assert.Equal(t, logger.Scope{UserID: "u-1", CourseID: "C1"}, logger.ScopeFrom(req.Context()))
}

func TestAs_Nil(t *testing.T) {
	req := As(httptest.NewRequest(http.MethodGet, "/", nil), nil)

	_, ok := auth.GetAuthContext(req.Context())
	assert.False(t, ok)
}

func TestAdmin(t *testing.T) {
	a := Admin("admin-1", domain.AdminRoleSuper)

	assert.Equal(t, auth.AuthMethodBearer, a.AuthMethod)
	require.NotNil(t, a.Permission)
	assert.True(t, a.Permission.IsActive)
	assert.Equal(t, "admin-1", a.Permission.UserID)
}
