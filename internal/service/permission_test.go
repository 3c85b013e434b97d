package service

import (
	"context"
	"errors"
	"testing"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/observability/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPermissionService(enforce bool) (*PermissionService, *memCoarse, *recordingAudit) {
	store := newMemCoarse()
	audits := &recordingAudit{}
	return NewPermissionService(store, audits, logger.Nop(), enforce), store, audits
}

func TestPermissionService_CreateThenReplace(t *testing.T) {
	svc, store, audits := newPermissionService(false)
	ctx := context.Background()
	actor := superAdmin("admin-1")

	created, inserted, err := svc.Create(ctx, actor, domain.CreateCoarsePermissionRequest{
		ChatflowID:   "cf-1",
		CourseID:     "c-1",
		AllowedRoles: []string{"Instructor", "student", domain.RoleLearner},
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, []string{domain.RoleInstructor, domain.RoleLearner}, created.AllowedRoles)
	assert.True(t, created.IsActive)

	replaced, inserted, err := svc.Create(ctx, actor, domain.CreateCoarsePermissionRequest{
		ChatflowID:   "cf-1",
		CourseID:     "c-1",
		AllowedRoles: []string{"Mentor"},
		IsActive:     boolPtr(false),
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, created.ID, replaced.ID)
	assert.Equal(t, []string{domain.RoleMentor}, replaced.AllowedRoles)
	assert.False(t, replaced.IsActive)
	assert.Len(t, store.rows, 1)

	assert.Equal(t, []string{"permission.create", "permission.update"}, audits.actions())
	assert.Equal(t, "admin-1", audits.entries[0].ActorID)
}

func TestPermissionService_CreateRejectsUnknownRole(t *testing.T) {
	svc, store, _ := newPermissionService(false)

	_, _, err := svc.Create(context.Background(), superAdmin("admin-1"), domain.CreateCoarsePermissionRequest{
		ChatflowID:   "cf-1",
		CourseID:     "c-1",
		AllowedRoles: []string{"Wizard"},
	})

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, "allowedRoles", valErr.Field)
	assert.Contains(t, valErr.Message, "Wizard")
	assert.Empty(t, store.rows)
}

func TestPermissionService_StoreErrorPropagates(t *testing.T) {
	svc, store, audits := newPermissionService(false)
	store.err = errStore

	_, _, err := svc.Create(context.Background(), superAdmin("admin-1"), domain.CreateCoarsePermissionRequest{
		ChatflowID: "cf-1", CourseID: "c-1", AllowedRoles: []string{"Learner"},
	})

	assert.ErrorIs(t, err, errStore)
	assert.Empty(t, audits.entries)
}

func TestPermissionService_AuditFailureDoesNotFailWrite(t *testing.T) {
	svc, _, audits := newPermissionService(false)
	audits.err = errors.New("audit table missing")

	_, inserted, err := svc.Create(context.Background(), superAdmin("admin-1"), domain.CreateCoarsePermissionRequest{
		ChatflowID: "cf-1", CourseID: "c-1", AllowedRoles: []string{"Learner"},
	})

	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestPermissionService_UpdateAndDelete(t *testing.T) {
	svc, _, audits := newPermissionService(false)
	ctx := context.Background()
	actor := superAdmin("admin-1")

	created, _, err := svc.Create(ctx, actor, domain.CreateCoarsePermissionRequest{
		ChatflowID: "cf-1", CourseID: "c-1", AllowedRoles: []string{"Learner"},
	})
	require.NoError(t, err)

	roles := []string{"ta"}
	updated, err := svc.Update(ctx, actor, domain.UpdateCoarsePermissionRequest{ID: created.ID.String(), AllowedRoles: &roles})
	require.NoError(t, err)
	assert.Equal(t, []string{domain.RoleTeachingAssistant}, updated.AllowedRoles)
	assert.True(t, updated.IsActive)

	require.NoError(t, svc.Delete(ctx, actor, created.ID.String()))

	list, err := svc.List(ctx, actor, domain.ListPermissionsParams{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsActive)

	assert.Equal(t, []string{"permission.create", "permission.update", "permission.delete"}, audits.actions())
}

func TestPermissionService_MissingTarget(t *testing.T) {
	svc, _, _ := newPermissionService(false)
	ctx := context.Background()
	actor := superAdmin("admin-1")
	id := uuid.NewString()

	_, err := svc.Update(ctx, actor, domain.UpdateCoarsePermissionRequest{ID: id, IsActive: boolPtr(true)})
	assert.ErrorIs(t, err, ErrNotFound)

	err = svc.Delete(ctx, actor, id)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Update(ctx, actor, domain.UpdateCoarsePermissionRequest{ID: "not-a-uuid", IsActive: boolPtr(true)})
	assert.ErrorIs(t, err, ErrNotFound)

	err = svc.Delete(ctx, actor, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPermissionService_CourseRestriction(t *testing.T) {
	ctx := context.Background()
	restricted := courseAdmin("admin-2", "c-1")

	t.Run("enforced", func(t *testing.T) {
		svc, _, _ := newPermissionService(true)
		seedActor := superAdmin("admin-1")
		for _, course := range []string{"c-1", "c-2"} {
			_, _, err := svc.Create(ctx, seedActor, domain.CreateCoarsePermissionRequest{
				ChatflowID: "cf-1", CourseID: course, AllowedRoles: []string{"Learner"},
			})
			require.NoError(t, err)
		}

		_, _, err := svc.Create(ctx, restricted, domain.CreateCoarsePermissionRequest{
			ChatflowID: "cf-2", CourseID: "c-2", AllowedRoles: []string{"Learner"},
		})
		assert.ErrorIs(t, err, ErrCourseRestricted)

		other := "c-2"
		_, err = svc.List(ctx, restricted, domain.ListPermissionsParams{CourseID: &other})
		assert.ErrorIs(t, err, ErrCourseRestricted)

		list, err := svc.List(ctx, restricted, domain.ListPermissionsParams{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "c-1", list[0].CourseID)

		overview, err := svc.Overview(ctx, restricted, domain.ListPermissionsParams{})
		require.NoError(t, err)
		require.Len(t, overview, 1)
		assert.Equal(t, "Flow cf-1", *overview[0].ChatflowName)

		all, err := svc.List(ctx, seedActor, domain.ListPermissionsParams{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("not enforced", func(t *testing.T) {
		svc, _, _ := newPermissionService(false)

		_, _, err := svc.Create(ctx, restricted, domain.CreateCoarsePermissionRequest{
			ChatflowID: "cf-2", CourseID: "c-2", AllowedRoles: []string{"Learner"},
		})
		assert.NoError(t, err)
	})
}
