package domain

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =====================================================
// Admin Roles and Capabilities
// =====================================================

// AdminRole is the instance-level tier of an administrative user.
type AdminRole string

const (
	// AdminRoleSuper implicitly holds every admin capability.
	AdminRoleSuper AdminRole = "super_admin"

	AdminRoleCourse    AdminRole = "course_admin"
	AdminRoleModerator AdminRole = "moderator"
)

// IsValid checks if the role is one of the defined constants
func (r AdminRole) IsValid() bool {
	switch r {
	case AdminRoleSuper, AdminRoleCourse, AdminRoleModerator:
		return true
	default:
		return false
	}
}

// AdminCapability names one administrative action guarded by the auth gate.
type AdminCapability string

const (
	AdminCapUserView       AdminCapability = "user_view"
	AdminCapUserEdit       AdminCapability = "user_edit"
	AdminCapPermissionView AdminCapability = "permission_view"
	AdminCapPermissionEdit AdminCapability = "permission_edit"
	AdminCapAnalyticsView  AdminCapability = "analytics_view"
	AdminCapChatflowView   AdminCapability = "chatflow_view"
	AdminCapChatflowEdit   AdminCapability = "chatflow_edit"
	AdminCapSystemConfig   AdminCapability = "system_config"
)

var adminCapabilities = map[AdminCapability]struct{}{
	AdminCapUserView:       {},
	AdminCapUserEdit:       {},
	AdminCapPermissionView: {},
	AdminCapPermissionEdit: {},
	AdminCapAnalyticsView:  {},
	AdminCapChatflowView:   {},
	AdminCapChatflowEdit:   {},
	AdminCapSystemConfig:   {},
}

// IsValid reports whether c belongs to the fixed admin capability vocabulary.
func (c AdminCapability) IsValid() bool {
	_, ok := adminCapabilities[c]
	return ok
}

// AdminCapabilitiesFromStrings converts a text[] column, dropping unknown entries.
func AdminCapabilitiesFromStrings(values []string) []AdminCapability {
	out := make([]AdminCapability, 0, len(values))
	for _, v := range values {
		c := AdminCapability(strings.TrimSpace(v))
		if c.IsValid() {
			out = append(out, c)
		}
	}
	return out
}

// AdminCapabilityStrings converts capabilities for a text[] column.
func AdminCapabilityStrings(caps []AdminCapability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}

// =====================================================
// Admin Permission Record
// =====================================================

// AdminPermission is the single instance-level admin record of a user.
// Records are merged on update and soft-deactivated, never hard-deleted.
type AdminPermission struct {
	ID                  uuid.UUID         `json:"id" db:"id"`
	UserID              string            `json:"userId" db:"user_id"`
	Role                AdminRole         `json:"role" db:"role"`
	Capabilities        []AdminCapability `json:"capabilities" db:"capabilities"`
	RestrictedToCourses []string          `json:"restrictedToCourses" db:"restricted_to_courses"`
	GrantedBy           string            `json:"grantedBy" db:"granted_by"`
	GrantedAt           time.Time         `json:"grantedAt" db:"granted_at"`
	ExpiresAt           *time.Time        `json:"expiresAt,omitempty" db:"expires_at"`
	IsActive            bool              `json:"isActive" db:"is_active"`
	LastModified        time.Time         `json:"lastModified" db:"last_modified"`
	ModifiedBy          *string           `json:"modifiedBy,omitempty" db:"modified_by"`
}

// IsValid reports whether the record is active and not expired at now.
// An expired record that is still flagged active is treated as absent.
func (p *AdminPermission) IsValid(now time.Time) bool {
	if p == nil || !p.IsActive {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

// HasCapability reports whether the record grants c.
func (p *AdminPermission) HasCapability(c AdminCapability) bool {
	if p == nil {
		return false
	}
	if p.Role == AdminRoleSuper {
		return true
	}
	for _, held := range p.Capabilities {
		if held == c {
			return true
		}
	}
	return false
}

// HasAnyCapability reports whether the record grants at least one of required.
// An empty requirement is satisfied by any record.
func (p *AdminPermission) HasAnyCapability(required ...AdminCapability) bool {
	if len(required) == 0 {
		return p != nil
	}
	for _, c := range required {
		if p.HasCapability(c) {
			return true
		}
	}
	return false
}

// CanAccessCourse reports whether the record's course restriction admits courseID.
// An empty restriction list means unrestricted.
func (p *AdminPermission) CanAccessCourse(courseID string) bool {
	if p == nil {
		return false
	}
	if p.Role == AdminRoleSuper || len(p.RestrictedToCourses) == 0 {
		return true
	}
	for _, c := range p.RestrictedToCourses {
		if c == courseID {
			return true
		}
	}
	return false
}

// CreateAdminPermissionRequest DTO for granting admin access to a user.
type CreateAdminPermissionRequest struct {
	UserID              string            `json:"userId" validate:"required,max=255"`
	Role                AdminRole         `json:"role" validate:"required,oneof=super_admin course_admin moderator"`
	Capabilities        []AdminCapability `json:"capabilities" validate:"omitempty,dive,required"`
	RestrictedToCourses []string          `json:"restrictedToCourses,omitempty" validate:"omitempty,dive,required,max=255"`
	ExpiresAt           *time.Time        `json:"expiresAt,omitempty"`
}

// UpdateAdminPermissionRequest DTO for a partial merge of an admin record.
// nil fields are left untouched.
type UpdateAdminPermissionRequest struct {
	Role                *AdminRole         `json:"role,omitempty" validate:"omitempty,oneof=super_admin course_admin moderator"`
	Capabilities        *[]AdminCapability `json:"capabilities,omitempty"`
	RestrictedToCourses *[]string          `json:"restrictedToCourses,omitempty"`
	ExpiresAt           *time.Time         `json:"expiresAt,omitempty"`
	ClearExpiry         bool               `json:"clearExpiry,omitempty"`
	IsActive            *bool              `json:"isActive,omitempty"`
}

// Validate trims and validates the create request.
func (r *CreateAdminPermissionRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	if err := validator.New().Struct(r); err != nil {
		return err
	}
	return validateAdminCapabilities(r.Capabilities)
}

// Validate validates the update request.
func (r *UpdateAdminPermissionRequest) Validate() error {
	if err := validator.New().Struct(r); err != nil {
		return err
	}
	if r.Capabilities != nil {
		return validateAdminCapabilities(*r.Capabilities)
	}
	return nil
}

func validateAdminCapabilities(caps []AdminCapability) error {
	for _, c := range caps {
		if !c.IsValid() {
			return &InvalidValueError{Field: "capabilities", Value: string(c)}
		}
	}
	return nil
}

// InvalidValueError reports a value outside a fixed vocabulary.
type InvalidValueError struct {
	Field string
	Value string
}

func (e *InvalidValueError) Error() string {
	return "invalid value for " + e.Field + ": " + e.Value
}
