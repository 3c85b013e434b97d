package repo

import (
	"context"
	"errors"
	"fmt"

	"chatflow-access-api/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RolePermissionRepo stores per (course, role, chatflow) grants.
type RolePermissionRepo struct {
	db DBTX
}

// NewRolePermissionRepo creates a new RolePermissionRepo
func NewRolePermissionRepo(db DBTX) *RolePermissionRepo {
	return &RolePermissionRepo{db: db}
}

// RoleCapabilityChange adds or removes one capability on a role grant.
// AutoGrant and Priority are left untouched when nil.
type RoleCapabilityChange struct {
	CourseID   string
	RoleName   string
	ChatflowID string
	Capability domain.Capability
	Grant      bool
	AutoGrant  *bool
	Priority   *int
	ActorID    string
}

const rolePermissionColumns = `
	id, course_id, role_name, chatflow_id, capabilities, auto_grant,
	priority, is_active, created_by, updated_by, created_at, updated_at
`

func scanRolePermission(row rowScanner) (*domain.RolePermission, error) {
	var p domain.RolePermission
	var caps []string

	err := row.Scan(
		&p.ID, &p.CourseID, &p.RoleName, &p.ChatflowID, &caps, &p.AutoGrant,
		&p.Priority, &p.IsActive, &p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Capabilities = domain.CapabilitiesFromStrings(caps)
	return &p, nil
}

func collectRolePermissions(rows pgx.Rows) ([]domain.RolePermission, error) {
	defer rows.Close()

	result := make([]domain.RolePermission, 0)
	for rows.Next() {
		p, err := scanRolePermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role permission: %w", err)
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role permissions: %w", err)
	}
	return result, nil
}

// Get loads the grant for one (course, role, chatflow) key.
func (r *RolePermissionRepo) Get(ctx context.Context, courseID, roleName, chatflowID string) (*domain.RolePermission, error) {
	query := `SELECT ` + rolePermissionColumns + ` FROM role_permissions
		WHERE course_id = $1 AND role_name = $2 AND chatflow_id = $3`

	p, err := scanRolePermission(r.db.QueryRow(ctx, query, courseID, roleName, chatflowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query role permission: %w", err)
	}
	return p, nil
}

// ApplyCapabilityChange adds or removes a capability in a single conditional
// write keyed on (course, role, chatflow). A missing grant is created.
func (r *RolePermissionRepo) ApplyCapabilityChange(ctx context.Context, ch RoleCapabilityChange) (*domain.RolePermission, error) {
	initial := []string{}
	if ch.Grant {
		initial = []string{string(ch.Capability)}
	}

	autoGrant := false
	if ch.AutoGrant != nil {
		autoGrant = *ch.AutoGrant
	}
	priority := 0
	if ch.Priority != nil {
		priority = *ch.Priority
	}

	query := `
		INSERT INTO role_permissions (
			id, course_id, role_name, chatflow_id, capabilities, auto_grant,
			priority, is_active, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8, $8)
		ON CONFLICT (course_id, role_name, chatflow_id) DO UPDATE SET
			capabilities = CASE WHEN $9::boolean
				THEN ARRAY(SELECT DISTINCT c FROM unnest(role_permissions.capabilities || EXCLUDED.capabilities) AS c ORDER BY c)
				ELSE array_remove(role_permissions.capabilities, $10::text)
			END,
			auto_grant = CASE WHEN $11::boolean THEN EXCLUDED.auto_grant ELSE role_permissions.auto_grant END,
			priority = CASE WHEN $12::boolean THEN EXCLUDED.priority ELSE role_permissions.priority END,
			is_active = true,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING ` + rolePermissionColumns

	p, err := scanRolePermission(r.db.QueryRow(ctx, query,
		uuid.New(), ch.CourseID, ch.RoleName, ch.ChatflowID, initial, autoGrant,
		priority, ch.ActorID,
		ch.Grant, string(ch.Capability), ch.AutoGrant != nil, ch.Priority != nil,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert role permission: %w", err)
	}
	return p, nil
}

// ListActiveForRoles returns active grants of the course whose role_name is
// one of roleKeys. autoGrantOnly restricts to auto-grant records.
func (r *RolePermissionRepo) ListActiveForRoles(ctx context.Context, courseID string, roleKeys []string, autoGrantOnly bool) ([]domain.RolePermission, error) {
	if len(roleKeys) == 0 {
		return []domain.RolePermission{}, nil
	}

	query := `SELECT ` + rolePermissionColumns + ` FROM role_permissions
		WHERE course_id = $1
		  AND role_name = ANY($2)
		  AND is_active = true
		  AND ($3 = false OR auto_grant = true)
		ORDER BY priority DESC, chatflow_id`

	rows, err := r.db.Query(ctx, query, courseID, roleKeys, autoGrantOnly)
	if err != nil {
		return nil, fmt.Errorf("query role permissions: %w", err)
	}
	return collectRolePermissions(rows)
}

// ListByCourse returns every grant, optionally filtered by course.
func (r *RolePermissionRepo) ListByCourse(ctx context.Context, courseID *string) ([]domain.RolePermission, error) {
	query := `SELECT ` + rolePermissionColumns + ` FROM role_permissions
		WHERE ($1::text IS NULL OR course_id = $1)
		ORDER BY course_id, role_name, priority DESC, chatflow_id`

	rows, err := r.db.Query(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("query role permissions: %w", err)
	}
	return collectRolePermissions(rows)
}
