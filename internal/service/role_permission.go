package service

import (
	"context"
	"errors"
	"fmt"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/repo"

	"go.uber.org/zap"
)

// RoleGrantStore is the role-level grant table.
type RoleGrantStore interface {
	Get(ctx context.Context, courseID, roleName, chatflowID string) (*domain.RolePermission, error)
	ApplyCapabilityChange(ctx context.Context, ch repo.RoleCapabilityChange) (*domain.RolePermission, error)
	ListByCourse(ctx context.Context, courseID *string) ([]domain.RolePermission, error)
}

// RoleFanout merges a capability set into every member holding a role.
type RoleFanout interface {
	ApplyRolePermissionToAllUsers(ctx context.Context, courseID, roleName, chatflowID string, caps domain.Capabilities) (int, error)
}

// RolePermissionResult is the outcome of a role permission request.
type RolePermissionResult struct {
	Action        string                 `json:"action"`
	Permission    *domain.RolePermission `json:"permission,omitempty"`
	Capabilities  []string               `json:"capabilities,omitempty"`
	AffectedUsers *int                   `json:"affectedUsers,omitempty"`
}

// RolePermissionService grants and revokes role-level permissions and fans
// them out to course members.
type RolePermissionService struct {
	store             RoleGrantStore
	fanout            RoleFanout
	auditRepo         AuditLogger
	log               *logger.Logger
	enforceRestricted bool
}

func NewRolePermissionService(store RoleGrantStore, fanout RoleFanout, auditRepo AuditLogger, log *logger.Logger, enforceRestricted bool) *RolePermissionService {
	return &RolePermissionService{
		store:             store,
		fanout:            fanout,
		auditRepo:         auditRepo,
		log:               log,
		enforceRestricted: enforceRestricted,
	}
}

// Handle dispatches a validated request on its action.
func (s *RolePermissionService) Handle(ctx context.Context, actor Actor, req domain.RolePermissionRequest) (*RolePermissionResult, error) {
	if err := checkCourse(s.enforceRestricted, actor, req.CourseID); err != nil {
		return nil, err
	}

	capability, ok := domain.ParseCapability(req.PermissionType)
	if !ok {
		return nil, &ValidationError{Field: "permissionType", Message: "unknown permission type"}
	}

	switch req.Action {
	case domain.RoleActionUpdatePermission:
		return s.updatePermission(ctx, actor, req, capability)
	case domain.RoleActionApplyToAllUsers:
		return s.applyToAllUsers(ctx, actor, req, capability)
	default:
		return nil, &ValidationError{Field: "action", Message: "unknown action"}
	}
}

func (s *RolePermissionService) updatePermission(ctx context.Context, actor Actor, req domain.RolePermissionRequest, capability domain.Capability) (*RolePermissionResult, error) {
	grant := req.HasPermission != nil && *req.HasPermission

	p, err := s.store.ApplyCapabilityChange(ctx, repo.RoleCapabilityChange{
		CourseID:   req.CourseID,
		RoleName:   req.RoleName,
		ChatflowID: req.ChatflowID,
		Capability: capability,
		Grant:      grant,
		AutoGrant:  req.AutoGrant,
		Priority:   req.Priority,
		ActorID:    actor.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("apply role capability: %w", err)
	}

	action := "role_permission.revoke"
	if grant {
		action = "role_permission.grant"
	}
	audit(ctx, s.auditRepo, s.log, actor, &req.CourseID, action, "role_permission", strPtr(p.ID.String()), map[string]any{
		"role_name":    req.RoleName,
		"chatflow_id":  req.ChatflowID,
		"capability":   string(capability),
		"capabilities": p.Capabilities.Strings(),
	})

	s.log.Info(ctx, "role permission updated",
		logger.Module("role_permission"),
		logger.Action("update_permission"),
		zap.String("course_id", req.CourseID),
		zap.String("role_name", req.RoleName),
		zap.String("chatflow_id", req.ChatflowID),
		zap.String("capability", string(capability)),
		zap.Bool("grant", grant),
	)

	return &RolePermissionResult{Action: req.Action, Permission: p}, nil
}

// applyToAllUsers fans the role record's capabilities out to every current
// holder of the role. Without a record only the requested capability is sent.
func (s *RolePermissionService) applyToAllUsers(ctx context.Context, actor Actor, req domain.RolePermissionRequest, capability domain.Capability) (*RolePermissionResult, error) {
	if req.HasPermission == nil || !*req.HasPermission {
		return nil, &ValidationError{Field: "hasPermission", Message: "apply_to_all_users only grants; use update_permission to revoke"}
	}

	caps := domain.NewCapabilities(capability)
	existing, err := s.store.Get(ctx, req.CourseID, req.RoleName, req.ChatflowID)
	switch {
	case err == nil:
		if existing.IsActive && len(existing.Capabilities) > 0 {
			caps = existing.Capabilities.Union(caps)
		}
	case errors.Is(err, repo.ErrNotFound):
	default:
		return nil, fmt.Errorf("get role permission: %w", err)
	}

	affected, err := s.fanout.ApplyRolePermissionToAllUsers(ctx, req.CourseID, req.RoleName, req.ChatflowID, caps)
	if err != nil {
		return nil, fmt.Errorf("apply role permission to members: %w", err)
	}

	audit(ctx, s.auditRepo, s.log, actor, &req.CourseID, "role_permission.fanout", "role_permission", nil, map[string]any{
		"role_name":      req.RoleName,
		"chatflow_id":    req.ChatflowID,
		"capabilities":   caps.Strings(),
		"affected_users": affected,
	})

	return &RolePermissionResult{Action: req.Action, Capabilities: caps.Strings(), AffectedUsers: &affected}, nil
}

// List returns role grants, optionally for one course.
func (s *RolePermissionService) List(ctx context.Context, actor Actor, courseID *string) ([]domain.RolePermission, error) {
	if courseID != nil {
		if err := checkCourse(s.enforceRestricted, actor, *courseID); err != nil {
			return nil, err
		}
	}

	perms, err := s.store.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}
	if !isRestricted(s.enforceRestricted, actor) {
		return perms, nil
	}

	visible := make([]domain.RolePermission, 0, len(perms))
	for _, p := range perms {
		if actor.Permission.CanAccessCourse(p.CourseID) {
			visible = append(visible, p)
		}
	}
	return visible, nil
}
