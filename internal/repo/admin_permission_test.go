package repo_test

import (
	"context"
	"testing"
	"time"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/repo"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdmin(userID string, role domain.AdminRole, caps ...domain.AdminCapability) *domain.AdminPermission {
	return &domain.AdminPermission{
		ID:           uuid.New(),
		UserID:       userID,
		Role:         role,
		Capabilities: caps,
		GrantedBy:    "root",
	}
}

func TestAdminPermissionRepo_Lifecycle_Integration(t *testing.T) {
	db := integrationDB(t)
	ctx := context.Background()
	seedUser(t, db, "u-1", true)
	admins := repo.NewAdminPermissionRepo(db)

	p := newAdmin("u-1", domain.AdminRoleCourse, domain.AdminCapPermissionView)
	p.RestrictedToCourses = []string{"C1"}
	require.NoError(t, admins.Create(ctx, p))
	assert.True(t, p.IsActive)
	assert.Equal(t, "root", *p.ModifiedBy)

	got, err := admins.GetByUserID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.AdminCapability{domain.AdminCapPermissionView}, got.Capabilities)
	assert.Equal(t, []string{"C1"}, got.RestrictedToCourses)

	t.Run("active record conflicts", func(t *testing.T) {
		err := admins.Create(ctx, newAdmin("u-1", domain.AdminRoleModerator))
		assert.ErrorIs(t, err, repo.ErrConflict)
	})

	t.Run("patch merges and leaves nil fields", func(t *testing.T) {
		caps := []domain.AdminCapability{domain.AdminCapPermissionEdit, domain.AdminCapUserView}
		updated, err := admins.Update(ctx, "u-1", repo.AdminPermissionPatch{Capabilities: &caps}, "root-2")
		require.NoError(t, err)
		assert.Equal(t, caps, updated.Capabilities)
		assert.Equal(t, domain.AdminRoleCourse, updated.Role)
		assert.Equal(t, []string{"C1"}, updated.RestrictedToCourses)
		assert.Equal(t, "root-2", *updated.ModifiedBy)
	})

	t.Run("expiry set then cleared", func(t *testing.T) {
		at := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
		updated, err := admins.Update(ctx, "u-1", repo.AdminPermissionPatch{ExpiresAt: &at}, "root")
		require.NoError(t, err)
		require.NotNil(t, updated.ExpiresAt)
		assert.True(t, at.Equal(*updated.ExpiresAt))

		updated, err = admins.Update(ctx, "u-1", repo.AdminPermissionPatch{ClearExpiry: true}, "root")
		require.NoError(t, err)
		assert.Nil(t, updated.ExpiresAt)
	})

	t.Run("deactivate then re-grant in place", func(t *testing.T) {
		require.NoError(t, admins.Deactivate(ctx, "u-1", "root"))

		got, err := admins.GetByUserID(ctx, "u-1")
		require.NoError(t, err)
		assert.False(t, got.IsActive)

		again := newAdmin("u-1", domain.AdminRoleModerator, domain.AdminCapUserView)
		require.NoError(t, admins.Create(ctx, again))
		assert.Equal(t, got.ID, again.ID, "re-grant reuses the row")
		assert.True(t, again.IsActive)
		assert.Equal(t, domain.AdminRoleModerator, again.Role)
	})

	t.Run("missing user record", func(t *testing.T) {
		_, err := admins.GetByUserID(ctx, "nobody")
		assert.ErrorIs(t, err, repo.ErrNotFound)
		assert.ErrorIs(t, admins.Deactivate(ctx, "nobody", "root"), repo.ErrNotFound)
	})
}

func TestAdminPermissionRepo_ListAndExpiry_Integration(t *testing.T) {
	db := integrationDB(t)
	ctx := context.Background()
	admins := repo.NewAdminPermissionRepo(db)

	for _, id := range []string{"a", "b", "c"} {
		seedUser(t, db, id, true)
	}

	past := time.Now().Add(-time.Hour)
	expired := newAdmin("a", domain.AdminRoleModerator)
	expired.ExpiresAt = &past
	require.NoError(t, admins.Create(ctx, expired))
	require.NoError(t, admins.Create(ctx, newAdmin("b", domain.AdminRoleSuper)))
	require.NoError(t, admins.Create(ctx, newAdmin("c", domain.AdminRoleModerator)))
	require.NoError(t, admins.Deactivate(ctx, "c", "root"))

	all, err := admins.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := admins.DeactivateExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := admins.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].UserID)

	got, err := admins.GetByUserID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "system:expiry", *got.ModifiedBy)
}
