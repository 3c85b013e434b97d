package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatflow-access-api/internal/domain"

	"github.com/jackc/pgx/v5"
)

// AdminPermissionRepo stores the instance-level admin record of each user.
type AdminPermissionRepo struct {
	db DBTX
}

// NewAdminPermissionRepo creates a new AdminPermissionRepo
func NewAdminPermissionRepo(db DBTX) *AdminPermissionRepo {
	return &AdminPermissionRepo{db: db}
}

// AdminPermissionPatch carries a partial merge. nil fields keep their value.
type AdminPermissionPatch struct {
	Role                *domain.AdminRole
	Capabilities        *[]domain.AdminCapability
	RestrictedToCourses *[]string
	ExpiresAt           *time.Time
	ClearExpiry         bool
	IsActive            *bool
}

const adminPermissionColumns = `
	id, user_id, role, capabilities, restricted_to_courses,
	granted_by, granted_at, expires_at, is_active, last_modified, modified_by
`

func scanAdminPermission(row rowScanner) (*domain.AdminPermission, error) {
	var p domain.AdminPermission
	var role string
	var caps, courses []string

	err := row.Scan(
		&p.ID, &p.UserID, &role, &caps, &courses,
		&p.GrantedBy, &p.GrantedAt, &p.ExpiresAt, &p.IsActive, &p.LastModified, &p.ModifiedBy,
	)
	if err != nil {
		return nil, err
	}

	p.Role = domain.AdminRole(role)
	p.Capabilities = domain.AdminCapabilitiesFromStrings(caps)
	p.RestrictedToCourses = nonNil(courses)
	return &p, nil
}

// GetByUserID loads the admin record of a user regardless of validity.
// Callers decide validity with AdminPermission.IsValid.
func (r *AdminPermissionRepo) GetByUserID(ctx context.Context, userID string) (*domain.AdminPermission, error) {
	query := `SELECT ` + adminPermissionColumns + ` FROM admin_permissions WHERE user_id = $1`

	p, err := scanAdminPermission(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query admin permission: %w", err)
	}
	return p, nil
}

// List returns admin records ordered by grant time.
func (r *AdminPermissionRepo) List(ctx context.Context, activeOnly bool) ([]domain.AdminPermission, error) {
	query := `SELECT ` + adminPermissionColumns + ` FROM admin_permissions
		WHERE ($1 = false OR is_active = true)
		ORDER BY granted_at DESC`

	rows, err := r.db.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("query admin permissions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.AdminPermission, 0)
	for rows.Next() {
		p, err := scanAdminPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan admin permission: %w", err)
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin permissions: %w", err)
	}
	return result, nil
}

// Create grants admin access. An inactive record of the same user is
// reactivated in place; an active one yields ErrConflict.
func (r *AdminPermissionRepo) Create(ctx context.Context, p *domain.AdminPermission) error {
	query := `
		INSERT INTO admin_permissions (
			id, user_id, role, capabilities, restricted_to_courses,
			granted_by, granted_at, expires_at, is_active, last_modified, modified_by
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7, true, NOW(), $6)
		ON CONFLICT (user_id) DO UPDATE SET
			role = EXCLUDED.role,
			capabilities = EXCLUDED.capabilities,
			restricted_to_courses = EXCLUDED.restricted_to_courses,
			granted_by = EXCLUDED.granted_by,
			granted_at = NOW(),
			expires_at = EXCLUDED.expires_at,
			is_active = true,
			last_modified = NOW(),
			modified_by = EXCLUDED.modified_by
		WHERE admin_permissions.is_active = false
		RETURNING ` + adminPermissionColumns

	saved, err := scanAdminPermission(r.db.QueryRow(ctx, query,
		p.ID, p.UserID, string(p.Role),
		domain.AdminCapabilityStrings(p.Capabilities), nonNil(p.RestrictedToCourses),
		p.GrantedBy, p.ExpiresAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert admin permission: %w", err)
	}

	*p = *saved
	return nil
}

// Update merges the patch into the user's record.
func (r *AdminPermissionRepo) Update(ctx context.Context, userID string, patch AdminPermissionPatch, modifiedBy string) (*domain.AdminPermission, error) {
	var role *string
	if patch.Role != nil {
		s := string(*patch.Role)
		role = &s
	}
	var caps []string
	if patch.Capabilities != nil {
		caps = domain.AdminCapabilityStrings(*patch.Capabilities)
	}
	var courses []string
	if patch.RestrictedToCourses != nil {
		courses = nonNil(*patch.RestrictedToCourses)
	}

	query := `
		UPDATE admin_permissions SET
			role = COALESCE($2, role),
			capabilities = COALESCE($3, capabilities),
			restricted_to_courses = COALESCE($4, restricted_to_courses),
			expires_at = CASE WHEN $5 THEN NULL ELSE COALESCE($6, expires_at) END,
			is_active = COALESCE($7, is_active),
			last_modified = NOW(),
			modified_by = $8
		WHERE user_id = $1
		RETURNING ` + adminPermissionColumns

	p, err := scanAdminPermission(r.db.QueryRow(ctx, query,
		userID, role, caps, courses, patch.ClearExpiry, patch.ExpiresAt, patch.IsActive, modifiedBy,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update admin permission: %w", err)
	}
	return p, nil
}

// Deactivate soft-deactivates the user's record.
func (r *AdminPermissionRepo) Deactivate(ctx context.Context, userID, modifiedBy string) error {
	query := `
		UPDATE admin_permissions
		SET is_active = false, last_modified = NOW(), modified_by = $2
		WHERE user_id = $1
	`

	tag, err := r.db.Exec(ctx, query, userID, modifiedBy)
	if err != nil {
		return fmt.Errorf("deactivate admin permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateExpired flips is_active off on records past their expiry.
func (r *AdminPermissionRepo) DeactivateExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE admin_permissions
		SET is_active = false, last_modified = NOW(), modified_by = 'system:expiry'
		WHERE is_active = true AND expires_at IS NOT NULL AND expires_at <= NOW()
	`

	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired admin permissions: %w", err)
	}
	return tag.RowsAffected(), nil
}
