package repo

import (
	"context"
	"errors"
	"fmt"

	"chatflow-access-api/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// =====================================================
// Coarse permissions: (course, chatflow) -> allowed roles
// =====================================================

// CoarsePermissionRepo stores course-wide chatflow visibility.
type CoarsePermissionRepo struct {
	db DBTX
}

// NewCoarsePermissionRepo creates a new CoarsePermissionRepo
func NewCoarsePermissionRepo(db DBTX) *CoarsePermissionRepo {
	return &CoarsePermissionRepo{db: db}
}

// WithTx returns a copy bound to tx.
func (r *CoarsePermissionRepo) WithTx(tx DBTX) *CoarsePermissionRepo {
	return &CoarsePermissionRepo{db: tx}
}

const coarsePermissionColumns = `
	id, course_id, chatflow_id, allowed_roles, is_active,
	created_by, updated_by, created_at, updated_at
`

func scanCoarsePermission(row rowScanner) (*domain.CoarsePermission, error) {
	var p domain.CoarsePermission
	err := row.Scan(
		&p.ID, &p.CourseID, &p.ChatflowID, &p.AllowedRoles, &p.IsActive,
		&p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.AllowedRoles = nonNil(p.AllowedRoles)
	return &p, nil
}

// UpsertReplace writes p keyed on (course_id, chatflow_id). An existing row
// has allowed_roles and is_active replaced, never merged. Reports whether a
// new row was inserted.
func (r *CoarsePermissionRepo) UpsertReplace(ctx context.Context, p *domain.CoarsePermission) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	query := `
		INSERT INTO chatflow_permissions (
			id, course_id, chatflow_id, allowed_roles, is_active, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (course_id, chatflow_id) DO UPDATE SET
			allowed_roles = EXCLUDED.allowed_roles,
			is_active = EXCLUDED.is_active,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING ` + coarsePermissionColumns + `, (xmax = 0) AS inserted`

	var inserted bool
	err := r.db.QueryRow(ctx, query,
		p.ID, p.CourseID, p.ChatflowID, nonNil(p.AllowedRoles), p.IsActive, p.CreatedBy,
	).Scan(
		&p.ID, &p.CourseID, &p.ChatflowID, &p.AllowedRoles, &p.IsActive,
		&p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt, &inserted,
	)
	if err != nil {
		return false, fmt.Errorf("upsert chatflow permission: %w", err)
	}
	return inserted, nil
}

// GetByID loads one coarse permission.
func (r *CoarsePermissionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.CoarsePermission, error) {
	query := `SELECT ` + coarsePermissionColumns + ` FROM chatflow_permissions WHERE id = $1`

	p, err := scanCoarsePermission(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query chatflow permission: %w", err)
	}
	return p, nil
}

// Update applies a partial update. nil fields keep their value.
func (r *CoarsePermissionRepo) Update(ctx context.Context, id uuid.UUID, allowedRoles *[]string, isActive *bool, updatedBy string) (*domain.CoarsePermission, error) {
	var roles []string
	if allowedRoles != nil {
		roles = nonNil(*allowedRoles)
	}

	query := `
		UPDATE chatflow_permissions SET
			allowed_roles = COALESCE($2, allowed_roles),
			is_active = COALESCE($3, is_active),
			updated_by = $4,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + coarsePermissionColumns

	p, err := scanCoarsePermission(r.db.QueryRow(ctx, query, id, roles, isActive, updatedBy))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update chatflow permission: %w", err)
	}
	return p, nil
}

// SoftDelete marks the permission inactive.
func (r *CoarsePermissionRepo) SoftDelete(ctx context.Context, id uuid.UUID, updatedBy string) error {
	query := `
		UPDATE chatflow_permissions
		SET is_active = false, updated_by = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, updatedBy)
	if err != nil {
		return fmt.Errorf("soft delete chatflow permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns coarse permissions matching the filters.
func (r *CoarsePermissionRepo) List(ctx context.Context, params domain.ListPermissionsParams) ([]domain.CoarsePermission, error) {
	query := `SELECT ` + coarsePermissionColumns + ` FROM chatflow_permissions
		WHERE ($1::text IS NULL OR course_id = $1)
		  AND ($2::text IS NULL OR chatflow_id = $2)
		  AND ($3 = false OR is_active = true)
		ORDER BY course_id, chatflow_id`

	rows, err := r.db.Query(ctx, query, params.CourseID, params.ChatflowID, params.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("query chatflow permissions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.CoarsePermission, 0)
	for rows.Next() {
		p, err := scanCoarsePermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chatflow permission: %w", err)
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chatflow permissions: %w", err)
	}
	return result, nil
}

// ListOverview returns coarse permissions joined with both catalogs.
func (r *CoarsePermissionRepo) ListOverview(ctx context.Context, params domain.ListPermissionsParams) ([]domain.PermissionOverview, error) {
	query := `
		SELECT
			p.id, p.course_id, p.chatflow_id, p.allowed_roles, p.is_active,
			p.created_by, p.updated_by, p.created_at, p.updated_at,
			f.name, f.category, f.deployed, f.is_active, c.title
		FROM chatflow_permissions p
		LEFT JOIN chatflows f ON f.id = p.chatflow_id
		LEFT JOIN courses c ON c.id = p.course_id
		WHERE ($1::text IS NULL OR p.course_id = $1)
		  AND ($2::text IS NULL OR p.chatflow_id = $2)
		  AND ($3 = false OR p.is_active = true)
		ORDER BY c.title NULLS LAST, f.name NULLS LAST, p.chatflow_id
	`

	rows, err := r.db.Query(ctx, query, params.CourseID, params.ChatflowID, params.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("query permission overview: %w", err)
	}
	defer rows.Close()

	result := make([]domain.PermissionOverview, 0)
	for rows.Next() {
		var o domain.PermissionOverview
		err := rows.Scan(
			&o.ID, &o.CourseID, &o.ChatflowID, &o.AllowedRoles, &o.IsActive,
			&o.CreatedBy, &o.UpdatedBy, &o.CreatedAt, &o.UpdatedAt,
			&o.ChatflowName, &o.ChatflowCategory, &o.ChatflowDeployed, &o.ChatflowActive, &o.CourseTitle,
		)
		if err != nil {
			return nil, fmt.Errorf("scan permission overview: %w", err)
		}
		o.AllowedRoles = nonNil(o.AllowedRoles)
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission overview: %w", err)
	}
	return result, nil
}

// =====================================================
// Fine-grained permissions: (course, user, chatflow) -> capabilities
// =====================================================

// FinePermissionRepo stores explicit per-user grants.
type FinePermissionRepo struct {
	db DBTX
}

// NewFinePermissionRepo creates a new FinePermissionRepo
func NewFinePermissionRepo(db DBTX) *FinePermissionRepo {
	return &FinePermissionRepo{db: db}
}

const finePermissionColumns = `
	id, course_id, user_id, chatflow_id, capabilities, is_active, created_at, updated_at
`

func scanFinePermission(row rowScanner) (*domain.FinePermission, error) {
	var p domain.FinePermission
	var caps []string
	err := row.Scan(&p.ID, &p.CourseID, &p.UserID, &p.ChatflowID, &caps, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Capabilities = domain.CapabilitiesFromStrings(caps)
	return &p, nil
}

// Get loads the grant for one (course, user, chatflow) key.
func (r *FinePermissionRepo) Get(ctx context.Context, courseID, userID, chatflowID string) (*domain.FinePermission, error) {
	query := `SELECT ` + finePermissionColumns + ` FROM user_chatflow_permissions
		WHERE course_id = $1 AND user_id = $2 AND chatflow_id = $3`

	p, err := scanFinePermission(r.db.QueryRow(ctx, query, courseID, userID, chatflowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user chatflow permission: %w", err)
	}
	return p, nil
}

// ListChatflowIDsForUser returns chatflows on which the user holds an active
// grant including action.
func (r *FinePermissionRepo) ListChatflowIDsForUser(ctx context.Context, courseID, userID string, action domain.Capability) ([]string, error) {
	query := `
		SELECT chatflow_id FROM user_chatflow_permissions
		WHERE course_id = $1 AND user_id = $2 AND is_active = true AND $3 = ANY(capabilities)
		ORDER BY chatflow_id
	`

	rows, err := r.db.Query(ctx, query, courseID, userID, string(action))
	if err != nil {
		return nil, fmt.Errorf("query user chatflow permissions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chatflow id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user chatflow permissions: %w", err)
	}
	return ids, nil
}

// InsertIfAbsent creates the grant unless the key already exists in any
// state. Reports whether a row was written.
func (r *FinePermissionRepo) InsertIfAbsent(ctx context.Context, courseID, userID, chatflowID string, caps domain.Capabilities) (bool, error) {
	query := `
		INSERT INTO user_chatflow_permissions (id, course_id, user_id, chatflow_id, capabilities, is_active)
		VALUES ($1, $2, $3, $4, $5, true)
		ON CONFLICT (course_id, user_id, chatflow_id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, uuid.New(), courseID, userID, chatflowID, caps.Normalize().Strings())
	if err != nil {
		return false, fmt.Errorf("insert user chatflow permission: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MergeUnion adds caps to the user's grant and reactivates it, creating the
// grant when absent. Capabilities already held are never removed.
func (r *FinePermissionRepo) MergeUnion(ctx context.Context, courseID, userID, chatflowID string, caps domain.Capabilities) (bool, error) {
	query := `
		INSERT INTO user_chatflow_permissions (id, course_id, user_id, chatflow_id, capabilities, is_active)
		VALUES ($1, $2, $3, $4, $5, true)
		ON CONFLICT (course_id, user_id, chatflow_id) DO UPDATE SET
			capabilities = ARRAY(
				SELECT DISTINCT c
				FROM unnest(user_chatflow_permissions.capabilities || EXCLUDED.capabilities) AS c
				ORDER BY c
			),
			is_active = true,
			updated_at = NOW()
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	err := r.db.QueryRow(ctx, query, uuid.New(), courseID, userID, chatflowID, caps.Normalize().Strings()).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("merge user chatflow permission: %w", err)
	}
	return inserted, nil
}
