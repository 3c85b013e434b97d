package service

import (
	"context"
	"errors"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/repo"

	"go.uber.org/zap"
)

var (
	ErrNotFound         = repo.ErrNotFound
	ErrConflict         = repo.ErrConflict
	ErrForbidden        = errors.New("operation not permitted for this admin")
	ErrCourseRestricted = errors.New("course is outside the admin's restriction")
	ErrUserNotFound     = errors.New("user not found")
)

// ValidationError rejects input the DTO tags cannot express.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Actor is the admin performing a write, as established by the auth gate.
type Actor struct {
	UserID     string
	Permission *domain.AdminPermission
	IPAddress  string
	UserAgent  string
}

// IsSuperAdmin reports whether the actor holds the super_admin tier.
func (a Actor) IsSuperAdmin() bool {
	return a.Permission != nil && a.Permission.Role == domain.AdminRoleSuper
}

// AuditLogger records administrative writes.
type AuditLogger interface {
	LogAction(ctx context.Context, entry repo.AuditEntry) error
}

// audit writes one audit row. A failed audit write is logged and never fails
// the operation it describes.
func audit(ctx context.Context, sink AuditLogger, log *logger.Logger, actor Actor, courseID *string, action, resourceType string, resourceID *string, metadata map[string]any) {
	if sink == nil {
		return
	}
	err := sink.LogAction(ctx, repo.AuditEntry{
		CourseID:     courseID,
		ActorID:      actor.UserID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		IPAddress:    actor.IPAddress,
		UserAgent:    actor.UserAgent,
	})
	if err != nil {
		log.Error(ctx, "failed to write audit log",
			logger.Module("audit"),
			logger.Action(action),
			zap.String("resource_type", resourceType),
			zap.Error(err),
		)
	}
}

// checkCourse applies the admin course restriction when enforcement is on.
func checkCourse(enforce bool, actor Actor, courseID string) error {
	if !enforce || actor.Permission.CanAccessCourse(courseID) {
		return nil
	}
	return ErrCourseRestricted
}

// isRestricted reports whether the actor is limited to a course subset.
func isRestricted(enforce bool, actor Actor) bool {
	return enforce && !actor.IsSuperAdmin() && actor.Permission != nil && len(actor.Permission.RestrictedToCourses) > 0
}

func strPtr(s string) *string {
	return &s
}
