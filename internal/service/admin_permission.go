package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/repo"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminRecordStore is the instance-level admin permission table.
type AdminRecordStore interface {
	GetByUserID(ctx context.Context, userID string) (*domain.AdminPermission, error)
	List(ctx context.Context, activeOnly bool) ([]domain.AdminPermission, error)
	Create(ctx context.Context, p *domain.AdminPermission) error
	Update(ctx context.Context, userID string, patch repo.AdminPermissionPatch, modifiedBy string) (*domain.AdminPermission, error)
	Deactivate(ctx context.Context, userID, modifiedBy string) error
}

// UserLookup resolves user ids against the identity store.
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (*domain.User, error)
}

// AdminPermissionService manages who may administer the instance.
type AdminPermissionService struct {
	store     AdminRecordStore
	users     UserLookup
	auditRepo AuditLogger
	log       *logger.Logger
	now       func() time.Time
}

func NewAdminPermissionService(store AdminRecordStore, users UserLookup, auditRepo AuditLogger, log *logger.Logger) *AdminPermissionService {
	return &AdminPermissionService{
		store:     store,
		users:     users,
		auditRepo: auditRepo,
		log:       log,
		now:       time.Now,
	}
}

// List returns admin records, optionally only the active ones.
func (s *AdminPermissionService) List(ctx context.Context, activeOnly bool) ([]domain.AdminPermission, error) {
	perms, err := s.store.List(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list admin permissions: %w", err)
	}
	return perms, nil
}

// Grant creates an admin record for an existing user. Only a super admin may
// grant super_admin. A user whose record is inactive is re-granted in place;
// an active record yields ErrConflict.
func (s *AdminPermissionService) Grant(ctx context.Context, actor Actor, req domain.CreateAdminPermissionRequest) (*domain.AdminPermission, error) {
	if req.Role == domain.AdminRoleSuper && !actor.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, &ValidationError{Field: "expiresAt", Message: "must be in the future"}
	}
	if err := s.requireUser(ctx, req.UserID); err != nil {
		return nil, err
	}

	p := &domain.AdminPermission{
		ID:                  uuid.New(),
		UserID:              req.UserID,
		Role:                req.Role,
		Capabilities:        req.Capabilities,
		RestrictedToCourses: req.RestrictedToCourses,
		GrantedBy:           actor.UserID,
		ExpiresAt:           req.ExpiresAt,
	}
	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create admin permission: %w", err)
	}

	audit(ctx, s.auditRepo, s.log, actor, nil, "admin_permission.grant", "admin_permission", &p.UserID, map[string]any{
		"role":                  string(p.Role),
		"capabilities":          domain.AdminCapabilityStrings(p.Capabilities),
		"restricted_to_courses": p.RestrictedToCourses,
	})

	s.log.Info(ctx, "admin permission granted",
		logger.Module("admin_permission"),
		logger.Action("grant"),
		zap.String("target_user_id", p.UserID),
		zap.String("role", string(p.Role)),
	)
	return p, nil
}

// Update merges req into the user's record. Super admin records, and
// promotions to super_admin, are reserved to super admins. An admin cannot
// deactivate its own record.
func (s *AdminPermissionService) Update(ctx context.Context, actor Actor, userID string, req domain.UpdateAdminPermissionRequest) (*domain.AdminPermission, error) {
	existing, err := s.store.GetByUserID(ctx, userID)
	if err != nil {
		return nil, wrapLookup("get admin permission", err)
	}

	promoting := req.Role != nil && *req.Role == domain.AdminRoleSuper
	if (existing.Role == domain.AdminRoleSuper || promoting) && !actor.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	if userID == actor.UserID && req.IsActive != nil && !*req.IsActive {
		return nil, ErrForbidden
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, &ValidationError{Field: "expiresAt", Message: "must be in the future"}
	}

	p, err := s.store.Update(ctx, userID, repo.AdminPermissionPatch{
		Role:                req.Role,
		Capabilities:        req.Capabilities,
		RestrictedToCourses: req.RestrictedToCourses,
		ExpiresAt:           req.ExpiresAt,
		ClearExpiry:         req.ClearExpiry,
		IsActive:            req.IsActive,
	}, actor.UserID)
	if err != nil {
		return nil, wrapLookup("update admin permission", err)
	}

	audit(ctx, s.auditRepo, s.log, actor, nil, "admin_permission.update", "admin_permission", &p.UserID, map[string]any{
		"role":         string(p.Role),
		"capabilities": domain.AdminCapabilityStrings(p.Capabilities),
		"is_active":    p.IsActive,
	})
	return p, nil
}

// Revoke soft-deactivates the user's record. Self revocation is refused.
func (s *AdminPermissionService) Revoke(ctx context.Context, actor Actor, userID string) error {
	if userID == actor.UserID {
		return ErrForbidden
	}

	existing, err := s.store.GetByUserID(ctx, userID)
	if err != nil {
		return wrapLookup("get admin permission", err)
	}
	if existing.Role == domain.AdminRoleSuper && !actor.IsSuperAdmin() {
		return ErrForbidden
	}

	if err := s.store.Deactivate(ctx, userID, actor.UserID); err != nil {
		return wrapLookup("deactivate admin permission", err)
	}

	audit(ctx, s.auditRepo, s.log, actor, nil, "admin_permission.revoke", "admin_permission", &userID, nil)

	s.log.Info(ctx, "admin permission revoked",
		logger.Module("admin_permission"),
		logger.Action("revoke"),
		zap.String("target_user_id", userID),
	)
	return nil
}

func (s *AdminPermissionService) requireUser(ctx context.Context, userID string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("get user: %w", err)
	}
	if !user.IsActive {
		return ErrUserNotFound
	}
	return nil
}
