package domain

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =====================================================
// Permission Entities (DB Models)
// =====================================================

// RolePermission grants a capability set to every holder of RoleName in a course.
// Unique on (course_id, role_name, chatflow_id).
type RolePermission struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	CourseID     string       `json:"courseId" db:"course_id"`
	RoleName     string       `json:"roleName" db:"role_name"`
	ChatflowID   string       `json:"chatflowId" db:"chatflow_id"`
	Capabilities Capabilities `json:"capabilities" db:"capabilities"`
	AutoGrant    bool         `json:"autoGrant" db:"auto_grant"`
	Priority     int          `json:"priority" db:"priority"`
	IsActive     bool         `json:"isActive" db:"is_active"`
	CreatedBy    *string      `json:"createdBy,omitempty" db:"created_by"`
	UpdatedBy    *string      `json:"updatedBy,omitempty" db:"updated_by"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt" db:"updated_at"`
}

// CoarsePermission lists the roles that may see a chatflow in a course,
// independent of any single user. Unique on (course_id, chatflow_id).
type CoarsePermission struct {
	ID           uuid.UUID `json:"id" db:"id"`
	CourseID     string    `json:"courseId" db:"course_id"`
	ChatflowID   string    `json:"chatflowId" db:"chatflow_id"`
	AllowedRoles []string  `json:"allowedRoles" db:"allowed_roles"`
	IsActive     bool      `json:"isActive" db:"is_active"`
	CreatedBy    *string   `json:"createdBy,omitempty" db:"created_by"`
	UpdatedBy    *string   `json:"updatedBy,omitempty" db:"updated_by"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// FinePermission is an explicit per-user grant.
// Unique on (course_id, user_id, chatflow_id).
type FinePermission struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	CourseID     string       `json:"courseId" db:"course_id"`
	UserID       string       `json:"userId" db:"user_id"`
	ChatflowID   string       `json:"chatflowId" db:"chatflow_id"`
	Capabilities Capabilities `json:"capabilities" db:"capabilities"`
	IsActive     bool         `json:"isActive" db:"is_active"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt" db:"updated_at"`
}

// Allows reports whether the grant is active and includes action.
func (p *FinePermission) Allows(action Capability) bool {
	return p != nil && p.IsActive && p.Capabilities.Has(action)
}

// =====================================================
// Catalog Entities (read-only)
// =====================================================

// ChatflowCatalogEntry is a chatflow known to the instance.
type ChatflowCatalogEntry struct {
	ID       string  `json:"id" db:"id"`
	Name     string  `json:"name" db:"name"`
	IsActive bool    `json:"isActive" db:"is_active"`
	Deployed bool    `json:"deployed" db:"deployed"`
	Category *string `json:"category,omitempty" db:"category"`
}

// CourseCatalogEntry is a course known to the instance.
type CourseCatalogEntry struct {
	ID    string `json:"id" db:"id"`
	Title string `json:"title" db:"title"`
}

// PermissionOverview is a coarse permission enriched with catalog data for
// the admin listing. Catalog fields are nil when the entity is gone.
type PermissionOverview struct {
	CoarsePermission
	ChatflowName     *string `json:"chatflowName,omitempty"`
	ChatflowCategory *string `json:"chatflowCategory,omitempty"`
	ChatflowDeployed *bool   `json:"chatflowDeployed,omitempty"`
	ChatflowActive   *bool   `json:"chatflowActive,omitempty"`
	CourseTitle      *string `json:"courseTitle,omitempty"`
}

// CallerIdentity is a verified user and its role set in the active course.
type CallerIdentity struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
}

// =====================================================
// Request DTOs
// =====================================================

// CreateCoarsePermissionRequest DTO for create-or-replace of a coarse permission.
type CreateCoarsePermissionRequest struct {
	ChatflowID   string   `json:"chatflowId" validate:"required,max=255"`
	CourseID     string   `json:"courseId" validate:"required,max=255"`
	AllowedRoles []string `json:"allowedRoles" validate:"required,min=1,max=50,dive,required,max=512"`
	IsActive     *bool    `json:"isActive,omitempty"`
}

// UpdateCoarsePermissionRequest DTO for a partial update by id.
type UpdateCoarsePermissionRequest struct {
	ID           string    `json:"id" validate:"required,max=64"`
	AllowedRoles *[]string `json:"allowedRoles,omitempty" validate:"omitempty,min=1,max=50,dive,required,max=512"`
	IsActive     *bool     `json:"isActive,omitempty"`
}

// ListPermissionsParams filters the coarse permission listing.
type ListPermissionsParams struct {
	CourseID   *string
	ChatflowID *string
	ActiveOnly bool
}

// Role permission actions accepted by POST /role-permissions.
const (
	RoleActionUpdatePermission = "update_permission"
	RoleActionApplyToAllUsers  = "apply_to_all_users"
)

// RolePermissionRequest DTO for role-level grant, revoke and fan-out.
type RolePermissionRequest struct {
	Action         string `json:"action" validate:"required,oneof=update_permission apply_to_all_users"`
	CourseID       string `json:"courseId" validate:"required,max=255"`
	RoleName       string `json:"roleName" validate:"required,max=512"`
	ChatflowID     string `json:"chatflowId" validate:"required,max=255"`
	PermissionType string `json:"permissionType" validate:"required,oneof=view chat edit admin"`
	HasPermission  *bool  `json:"hasPermission" validate:"required"`
	AutoGrant      *bool  `json:"autoGrant,omitempty"`
	Priority       *int   `json:"priority,omitempty" validate:"omitempty,min=0,max=1000"`
}

// Validate trims and validates the create request.
func (r *CreateCoarsePermissionRequest) Validate() error {
	r.ChatflowID = strings.TrimSpace(r.ChatflowID)
	r.CourseID = strings.TrimSpace(r.CourseID)
	r.AllowedRoles = trimAll(r.AllowedRoles)
	return validator.New().Struct(r)
}

// Validate trims and validates the update request.
func (r *UpdateCoarsePermissionRequest) Validate() error {
	r.ID = strings.TrimSpace(r.ID)
	if r.AllowedRoles != nil {
		trimmed := trimAll(*r.AllowedRoles)
		r.AllowedRoles = &trimmed
	}
	return validator.New().Struct(r)
}

// Validate trims and validates the role permission request.
func (r *RolePermissionRequest) Validate() error {
	r.Action = strings.TrimSpace(r.Action)
	r.CourseID = strings.TrimSpace(r.CourseID)
	r.RoleName = strings.TrimSpace(r.RoleName)
	r.ChatflowID = strings.TrimSpace(r.ChatflowID)
	r.PermissionType = strings.ToLower(strings.TrimSpace(r.PermissionType))
	return validator.New().Struct(r)
}

// UniqueRoles trims, drops empties and deduplicates role identifiers
// preserving first-seen order.
func UniqueRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func trimAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
