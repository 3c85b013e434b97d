package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatflow-access-api/internal/domain"

	"github.com/jackc/pgx/v5"
)

// IdentityRepo reads the user directory and course memberships written by
// the session provider.
type IdentityRepo struct {
	db DBTX
}

// NewIdentityRepo creates a new IdentityRepo
func NewIdentityRepo(db DBTX) *IdentityRepo {
	return &IdentityRepo{db: db}
}

const userColumns = `id, subject, issuer, email, is_active, created_at`

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Subject, &u.Issuer, &u.Email, &u.IsActive, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID resolves a current-shape principal.
func (r *IdentityRepo) GetUserByID(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

// GetUserBySubject resolves a legacy (subject, issuer) principal.
func (r *IdentityRepo) GetUserBySubject(ctx context.Context, subject, issuer string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE subject = $1 AND issuer = $2`

	u, err := scanUser(r.db.QueryRow(ctx, query, subject, issuer))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by subject: %w", err)
	}
	return u, nil
}

// GetMembership returns the role set of a user in a course.
func (r *IdentityRepo) GetMembership(ctx context.Context, courseID, userID string) (*domain.CourseMembership, error) {
	query := `SELECT course_id, user_id, roles FROM course_memberships WHERE course_id = $1 AND user_id = $2`

	var m domain.CourseMembership
	err := r.db.QueryRow(ctx, query, courseID, userID).Scan(&m.CourseID, &m.UserID, &m.Roles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query course membership: %w", err)
	}
	m.Roles = nonNil(m.Roles)
	return &m, nil
}

// roleLocalNameSQL is domain.RoleLocalName over column r.role: the part
// after the last '#' when there is one, else after the last '/'.
const roleLocalNameSQL = `CASE WHEN strpos(btrim(r.role), '#') > 0
	THEN regexp_replace(btrim(r.role), '^.*#', '')
	ELSE regexp_replace(btrim(r.role), '^.*/', '')
END`

// ListCourseMembersWithRole returns the ids of active users holding roleName
// in the course. Stored roles match as domain.RoleNameMatches does: on the
// full identifier or the local name, ignoring case.
func (r *IdentityRepo) ListCourseMembersWithRole(ctx context.Context, courseID, roleName string) ([]string, error) {
	query := `
		SELECT m.user_id
		FROM course_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.course_id = $1
		  AND u.is_active = true
		  AND EXISTS (
			SELECT 1 FROM unnest(m.roles) AS r(role)
			WHERE lower(btrim(r.role)) = lower($2::text)
			   OR ($3::text <> '' AND lower(` + roleLocalNameSQL + `) = lower($3::text))
		  )
		ORDER BY m.user_id
	`

	rows, err := r.db.Query(ctx, query, courseID, strings.TrimSpace(roleName), domain.RoleLocalName(roleName))
	if err != nil {
		return nil, fmt.Errorf("query course members: %w", err)
	}
	defer rows.Close()

	userIDs := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan course member: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate course members: %w", err)
	}
	return userIDs, nil
}
