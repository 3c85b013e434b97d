package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/provisioning"
	"chatflow-access-api/internal/repo"

	"github.com/google/uuid"
)

var errStore = errors.New("connection reset")

type recordingAudit struct {
	mu      sync.Mutex
	entries []repo.AuditEntry
	err     error
}

func (a *recordingAudit) LogAction(_ context.Context, entry repo.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return a.err
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

// memCoarse keeps coarse permissions keyed by id.
type memCoarse struct {
	rows map[uuid.UUID]*domain.CoarsePermission
	err  error
}

func newMemCoarse() *memCoarse {
	return &memCoarse{rows: map[uuid.UUID]*domain.CoarsePermission{}}
}

func (m *memCoarse) UpsertReplace(_ context.Context, p *domain.CoarsePermission) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	for _, existing := range m.rows {
		if existing.CourseID == p.CourseID && existing.ChatflowID == p.ChatflowID {
			existing.AllowedRoles = p.AllowedRoles
			existing.IsActive = p.IsActive
			existing.UpdatedBy = p.UpdatedBy
			*p = *existing
			return false, nil
		}
	}
	p.ID = uuid.New()
	stored := *p
	m.rows[p.ID] = &stored
	return true, nil
}

func (m *memCoarse) GetByID(_ context.Context, id uuid.UUID) (*domain.CoarsePermission, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.rows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (m *memCoarse) Update(_ context.Context, id uuid.UUID, allowedRoles *[]string, isActive *bool, updatedBy string) (*domain.CoarsePermission, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.rows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if allowedRoles != nil {
		p.AllowedRoles = *allowedRoles
	}
	if isActive != nil {
		p.IsActive = *isActive
	}
	p.UpdatedBy = &updatedBy
	out := *p
	return &out, nil
}

func (m *memCoarse) SoftDelete(_ context.Context, id uuid.UUID, updatedBy string) error {
	if m.err != nil {
		return m.err
	}
	p, ok := m.rows[id]
	if !ok {
		return repo.ErrNotFound
	}
	p.IsActive = false
	p.UpdatedBy = &updatedBy
	return nil
}

func (m *memCoarse) List(_ context.Context, params domain.ListPermissionsParams) ([]domain.CoarsePermission, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []domain.CoarsePermission{}
	for _, p := range m.rows {
		if params.CourseID != nil && p.CourseID != *params.CourseID {
			continue
		}
		if params.ChatflowID != nil && p.ChatflowID != *params.ChatflowID {
			continue
		}
		if params.ActiveOnly && !p.IsActive {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CourseID != out[j].CourseID {
			return out[i].CourseID < out[j].CourseID
		}
		return out[i].ChatflowID < out[j].ChatflowID
	})
	return out, nil
}

func (m *memCoarse) ListOverview(ctx context.Context, params domain.ListPermissionsParams) ([]domain.PermissionOverview, error) {
	perms, err := m.List(ctx, params)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PermissionOverview, len(perms))
	for i, p := range perms {
		name := "Flow " + p.ChatflowID
		out[i] = domain.PermissionOverview{CoarsePermission: p, ChatflowName: &name}
	}
	return out, nil
}

// memRoleGrants keeps role grants keyed by (course, role, chatflow).
type memRoleGrants struct {
	rows    map[string]*domain.RolePermission
	changes []repo.RoleCapabilityChange
	err     error
}

func newMemRoleGrants() *memRoleGrants {
	return &memRoleGrants{rows: map[string]*domain.RolePermission{}}
}

func roleKey(course, role, chatflow string) string {
	return course + "|" + role + "|" + chatflow
}

func (m *memRoleGrants) put(p domain.RolePermission) {
	m.rows[roleKey(p.CourseID, p.RoleName, p.ChatflowID)] = &p
}

func (m *memRoleGrants) Get(_ context.Context, courseID, roleName, chatflowID string) (*domain.RolePermission, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.rows[roleKey(courseID, roleName, chatflowID)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (m *memRoleGrants) ApplyCapabilityChange(_ context.Context, ch repo.RoleCapabilityChange) (*domain.RolePermission, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.changes = append(m.changes, ch)
	key := roleKey(ch.CourseID, ch.RoleName, ch.ChatflowID)
	p, ok := m.rows[key]
	if !ok {
		p = &domain.RolePermission{ID: uuid.New(), CourseID: ch.CourseID, RoleName: ch.RoleName, ChatflowID: ch.ChatflowID}
		m.rows[key] = p
	}
	if ch.Grant {
		p.Capabilities = p.Capabilities.Union(domain.NewCapabilities(ch.Capability))
	} else {
		p.Capabilities = p.Capabilities.Without(ch.Capability)
	}
	if ch.AutoGrant != nil {
		p.AutoGrant = *ch.AutoGrant
	}
	if ch.Priority != nil {
		p.Priority = *ch.Priority
	}
	p.IsActive = true
	out := *p
	return &out, nil
}

func (m *memRoleGrants) ListByCourse(_ context.Context, courseID *string) ([]domain.RolePermission, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []domain.RolePermission{}
	for _, p := range m.rows {
		if courseID == nil || p.CourseID == *courseID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatflowID < out[j].ChatflowID })
	return out, nil
}

type fanoutCall struct {
	CourseID   string
	RoleName   string
	ChatflowID string
	Caps       domain.Capabilities
}

type fakeFanout struct {
	calls    []fanoutCall
	affected int
	err      error
}

func (f *fakeFanout) ApplyRolePermissionToAllUsers(_ context.Context, courseID, roleName, chatflowID string, caps domain.Capabilities) (int, error) {
	f.calls = append(f.calls, fanoutCall{courseID, roleName, chatflowID, caps})
	return f.affected, f.err
}

// memAdmins keeps admin records keyed by user id.
type memAdmins struct {
	rows map[string]*domain.AdminPermission
	err  error
}

func newMemAdmins(records ...domain.AdminPermission) *memAdmins {
	m := &memAdmins{rows: map[string]*domain.AdminPermission{}}
	for i := range records {
		r := records[i]
		m.rows[r.UserID] = &r
	}
	return m
}

func (m *memAdmins) GetByUserID(_ context.Context, userID string) (*domain.AdminPermission, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.rows[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (m *memAdmins) List(_ context.Context, activeOnly bool) ([]domain.AdminPermission, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []domain.AdminPermission{}
	for _, p := range m.rows {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memAdmins) Create(_ context.Context, p *domain.AdminPermission) error {
	if m.err != nil {
		return m.err
	}
	if existing, ok := m.rows[p.UserID]; ok && existing.IsActive {
		return repo.ErrConflict
	}
	p.IsActive = true
	p.GrantedAt = time.Now()
	stored := *p
	m.rows[p.UserID] = &stored
	return nil
}

func (m *memAdmins) Update(_ context.Context, userID string, patch repo.AdminPermissionPatch, modifiedBy string) (*domain.AdminPermission, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.rows[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if patch.Role != nil {
		p.Role = *patch.Role
	}
	if patch.Capabilities != nil {
		p.Capabilities = *patch.Capabilities
	}
	if patch.RestrictedToCourses != nil {
		p.RestrictedToCourses = *patch.RestrictedToCourses
	}
	if patch.ClearExpiry {
		p.ExpiresAt = nil
	} else if patch.ExpiresAt != nil {
		p.ExpiresAt = patch.ExpiresAt
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	p.ModifiedBy = &modifiedBy
	out := *p
	return &out, nil
}

func (m *memAdmins) Deactivate(_ context.Context, userID, modifiedBy string) error {
	if m.err != nil {
		return m.err
	}
	p, ok := m.rows[userID]
	if !ok {
		return repo.ErrNotFound
	}
	p.IsActive = false
	p.ModifiedBy = &modifiedBy
	return nil
}

type memUsers map[string]domain.User

func (m memUsers) GetUserByID(_ context.Context, userID string) (*domain.User, error) {
	u, ok := m[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &u, nil
}

type fakeRunner struct {
	body    string
	actorID string
	opts    int
	result  *provisioning.Result
	err     error
}

func (f *fakeRunner) Run(_ context.Context, r io.Reader, actorID string, opts ...provisioning.RunOption) (*provisioning.Result, error) {
	data, _ := io.ReadAll(r)
	f.body = string(data)
	f.actorID = actorID
	f.opts = len(opts)
	return f.result, f.err
}

// knownCatalogs admits every chatflow and course id.
type knownCatalogs struct{}

func (knownCatalogs) ActiveChatflowIDs(_ context.Context, ids []string) (map[string]struct{}, error) {
	return toSet(ids), nil
}

func (knownCatalogs) ExistingCourseIDs(_ context.Context, ids []string) (map[string]struct{}, error) {
	return toSet(ids), nil
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

type fakeArchive struct {
	key   string
	err   error
	saved []string
}

func (f *fakeArchive) Save(_ context.Context, _ string, filename string, _ []byte) (string, error) {
	f.saved = append(f.saved, filename)
	return f.key, f.err
}

func superAdmin(userID string) Actor {
	return Actor{UserID: userID, Permission: &domain.AdminPermission{UserID: userID, Role: domain.AdminRoleSuper, IsActive: true}}
}

func courseAdmin(userID string, courses ...string) Actor {
	return Actor{UserID: userID, Permission: &domain.AdminPermission{
		UserID:              userID,
		Role:                domain.AdminRoleCourse,
		Capabilities:        []domain.AdminCapability{domain.AdminCapPermissionView, domain.AdminCapPermissionEdit, domain.AdminCapUserEdit},
		RestrictedToCourses: courses,
		IsActive:            true,
	}}
}

func boolPtr(b bool) *bool {
	return &b
}
