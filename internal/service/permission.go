package service

import (
	"context"
	"errors"
	"fmt"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/repo"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CoarseStore is the (course, chatflow) allowed-roles table.
type CoarseStore interface {
	UpsertReplace(ctx context.Context, p *domain.CoarsePermission) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.CoarsePermission, error)
	Update(ctx context.Context, id uuid.UUID, allowedRoles *[]string, isActive *bool, updatedBy string) (*domain.CoarsePermission, error)
	SoftDelete(ctx context.Context, id uuid.UUID, updatedBy string) error
	List(ctx context.Context, params domain.ListPermissionsParams) ([]domain.CoarsePermission, error)
	ListOverview(ctx context.Context, params domain.ListPermissionsParams) ([]domain.PermissionOverview, error)
}

// PermissionService manages coarse chatflow permissions for admins.
type PermissionService struct {
	store             CoarseStore
	auditRepo         AuditLogger
	log               *logger.Logger
	enforceRestricted bool
}

func NewPermissionService(store CoarseStore, auditRepo AuditLogger, log *logger.Logger, enforceRestricted bool) *PermissionService {
	return &PermissionService{
		store:             store,
		auditRepo:         auditRepo,
		log:               log,
		enforceRestricted: enforceRestricted,
	}
}

// List returns coarse permissions matching params. A course-restricted admin
// only sees the courses it is restricted to.
func (s *PermissionService) List(ctx context.Context, actor Actor, params domain.ListPermissionsParams) ([]domain.CoarsePermission, error) {
	if params.CourseID != nil {
		if err := checkCourse(s.enforceRestricted, actor, *params.CourseID); err != nil {
			return nil, err
		}
	}

	perms, err := s.store.List(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	if !isRestricted(s.enforceRestricted, actor) {
		return perms, nil
	}

	visible := make([]domain.CoarsePermission, 0, len(perms))
	for _, p := range perms {
		if actor.Permission.CanAccessCourse(p.CourseID) {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

// Overview returns the listing enriched with chatflow and course catalog data.
func (s *PermissionService) Overview(ctx context.Context, actor Actor, params domain.ListPermissionsParams) ([]domain.PermissionOverview, error) {
	if params.CourseID != nil {
		if err := checkCourse(s.enforceRestricted, actor, *params.CourseID); err != nil {
			return nil, err
		}
	}

	rows, err := s.store.ListOverview(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list permission overview: %w", err)
	}
	if !isRestricted(s.enforceRestricted, actor) {
		return rows, nil
	}

	visible := make([]domain.PermissionOverview, 0, len(rows))
	for _, r := range rows {
		if actor.Permission.CanAccessCourse(r.CourseID) {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

// Create creates or replaces the permission keyed by (course, chatflow).
// Role labels are resolved to canonical identifiers. The boolean result is
// true when a new row was inserted.
func (s *PermissionService) Create(ctx context.Context, actor Actor, req domain.CreateCoarsePermissionRequest) (*domain.CoarsePermission, bool, error) {
	if err := checkCourse(s.enforceRestricted, actor, req.CourseID); err != nil {
		return nil, false, err
	}

	roles, err := canonicalRoles(req.AllowedRoles)
	if err != nil {
		return nil, false, err
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	p := &domain.CoarsePermission{
		CourseID:     req.CourseID,
		ChatflowID:   req.ChatflowID,
		AllowedRoles: roles,
		IsActive:     isActive,
		CreatedBy:    &actor.UserID,
		UpdatedBy:    &actor.UserID,
	}

	inserted, err := s.store.UpsertReplace(ctx, p)
	if err != nil {
		return nil, false, fmt.Errorf("upsert permission: %w", err)
	}

	action := "permission.update"
	if inserted {
		action = "permission.create"
	}
	audit(ctx, s.auditRepo, s.log, actor, &p.CourseID, action, "chatflow_permission", strPtr(p.ID.String()), map[string]any{
		"chatflow_id":   p.ChatflowID,
		"allowed_roles": p.AllowedRoles,
		"is_active":     p.IsActive,
	})

	s.log.Info(ctx, "coarse permission saved",
		logger.Module("permission"),
		logger.Action("upsert"),
		zap.String("course_id", p.CourseID),
		zap.String("chatflow_id", p.ChatflowID),
		zap.Bool("created", inserted),
	)
	return p, inserted, nil
}

// Update applies a partial update by id. An id that is not a UUID names no
// record and reports ErrNotFound.
func (s *PermissionService) Update(ctx context.Context, actor Actor, req domain.UpdateCoarsePermissionRequest) (*domain.CoarsePermission, error) {
	id, err := parsePermissionID(req.ID)
	if err != nil {
		return nil, err
	}

	if s.enforceRestricted {
		existing, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, wrapLookup("get permission", err)
		}
		if err := checkCourse(true, actor, existing.CourseID); err != nil {
			return nil, err
		}
	}

	var roles *[]string
	if req.AllowedRoles != nil {
		resolved, err := canonicalRoles(*req.AllowedRoles)
		if err != nil {
			return nil, err
		}
		roles = &resolved
	}

	p, err := s.store.Update(ctx, id, roles, req.IsActive, actor.UserID)
	if err != nil {
		return nil, wrapLookup("update permission", err)
	}

	audit(ctx, s.auditRepo, s.log, actor, &p.CourseID, "permission.update", "chatflow_permission", strPtr(p.ID.String()), map[string]any{
		"allowed_roles": p.AllowedRoles,
		"is_active":     p.IsActive,
	})
	return p, nil
}

// Delete soft-deletes the permission by setting isActive to false.
func (s *PermissionService) Delete(ctx context.Context, actor Actor, rawID string) error {
	id, err := parsePermissionID(rawID)
	if err != nil {
		return err
	}

	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return wrapLookup("get permission", err)
	}
	if err := checkCourse(s.enforceRestricted, actor, existing.CourseID); err != nil {
		return err
	}

	if err := s.store.SoftDelete(ctx, id, actor.UserID); err != nil {
		return wrapLookup("delete permission", err)
	}

	audit(ctx, s.auditRepo, s.log, actor, &existing.CourseID, "permission.delete", "chatflow_permission", strPtr(id.String()), map[string]any{
		"chatflow_id": existing.ChatflowID,
	})
	return nil
}

// canonicalRoles resolves each role label and deduplicates the result.
func canonicalRoles(labels []string) ([]string, error) {
	roles := make([]string, 0, len(labels))
	for _, label := range labels {
		canonical, ok := domain.ResolveRoleLabel(label)
		if !ok {
			return nil, &ValidationError{Field: "allowedRoles", Message: "unknown role: " + label}
		}
		roles = append(roles, canonical)
	}
	roles = domain.UniqueRoles(roles)
	if len(roles) == 0 {
		return nil, &ValidationError{Field: "allowedRoles", Message: "at least one role is required"}
	}
	return roles, nil
}

// wrapLookup keeps ErrNotFound recognisable and wraps everything else.
// parsePermissionID maps a malformed id to ErrNotFound, the same answer a
// well-formed id with no row gets.
func parsePermissionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrNotFound
	}
	return id, nil
}

func wrapLookup(op string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
