package repo

import (
	"context"
	"errors"
	"fmt"

	"chatflow-access-api/internal/domain"

	"github.com/jackc/pgx/v5"
)

// CatalogRepo reads the chatflow and course catalogs. Both are maintained by
// an external sync job and are never written here.
type CatalogRepo struct {
	db DBTX
}

// NewCatalogRepo creates a new CatalogRepo
func NewCatalogRepo(db DBTX) *CatalogRepo {
	return &CatalogRepo{db: db}
}

// ActiveChatflowIDs returns the subset of ids that exist and are active.
func (r *CatalogRepo) ActiveChatflowIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	query := `SELECT id FROM chatflows WHERE id = ANY($1) AND is_active = true`
	return r.collectIDs(ctx, query, ids, "chatflows")
}

// ExistingCourseIDs returns the subset of ids present in the course catalog.
func (r *CatalogRepo) ExistingCourseIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	query := `SELECT id FROM courses WHERE id = ANY($1)`
	return r.collectIDs(ctx, query, ids, "courses")
}

func (r *CatalogRepo) collectIDs(ctx context.Context, query string, ids []string, table string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", table, err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return found, nil
}

// GetChatflow loads one catalog entry.
func (r *CatalogRepo) GetChatflow(ctx context.Context, id string) (*domain.ChatflowCatalogEntry, error) {
	query := `SELECT id, name, is_active, deployed, category FROM chatflows WHERE id = $1`

	var c domain.ChatflowCatalogEntry
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.IsActive, &c.Deployed, &c.Category)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query chatflow: %w", err)
	}
	return &c, nil
}

// GetCourse loads one course entry.
func (r *CatalogRepo) GetCourse(ctx context.Context, id string) (*domain.CourseCatalogEntry, error) {
	query := `SELECT id, title FROM courses WHERE id = $1`

	var c domain.CourseCatalogEntry
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query course: %w", err)
	}
	return &c, nil
}
