package provisioning

import (
	"context"
	"fmt"
	"strings"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/repo"
)

// CatalogReader reports which referenced catalog entries exist.
type CatalogReader interface {
	ActiveChatflowIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	ExistingCourseIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
}

// ReferentialError rejects a batch naming chatflows or courses that are
// missing or inactive.
type ReferentialError struct {
	InvalidChatflowIDs []string `json:"invalidChatflowIds,omitempty"`
	InvalidCourseIDs   []string `json:"invalidCourseIds,omitempty"`
}

func (e *ReferentialError) Error() string {
	var parts []string
	if len(e.InvalidChatflowIDs) > 0 {
		parts = append(parts, "unknown or inactive chatflows: "+strings.Join(e.InvalidChatflowIDs, ", "))
	}
	if len(e.InvalidCourseIDs) > 0 {
		parts = append(parts, "unknown courses: "+strings.Join(e.InvalidCourseIDs, ", "))
	}
	return strings.Join(parts, "; ")
}

// CheckReferences verifies every distinct chatflow and course id of the
// batch against the catalogs. Every invalid id is named.
func CheckReferences(ctx context.Context, catalogs CatalogReader, batch ValidatedBatch) error {
	chatflowIDs := batch.ChatflowIDs()
	courseIDs := batch.CourseIDs()

	chatflows, err := catalogs.ActiveChatflowIDs(ctx, chatflowIDs)
	if err != nil {
		return fmt.Errorf("check chatflow catalog: %w", err)
	}
	courses, err := catalogs.ExistingCourseIDs(ctx, courseIDs)
	if err != nil {
		return fmt.Errorf("check course catalog: %w", err)
	}

	refErr := &ReferentialError{
		InvalidChatflowIDs: missing(chatflowIDs, chatflows),
		InvalidCourseIDs:   missing(courseIDs, courses),
	}
	if len(refErr.InvalidChatflowIDs) > 0 || len(refErr.InvalidCourseIDs) > 0 {
		return refErr
	}
	return nil
}

func missing(ids []string, found map[string]struct{}) []string {
	var out []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// CoarseWriter upserts coarse permissions by (course, chatflow).
type CoarseWriter interface {
	UpsertReplace(ctx context.Context, p *domain.CoarsePermission) (bool, error)
}

// Summary reports the outcome of a commit pass. Every row is written, so
// Skipped counts only rows a commit pass chose not to write; the passes in
// this package never skip one.
type Summary struct {
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Skipped int        `json:"skipped"`
	Errors  []RowError `json:"errors"`
}

// Rows returns the number of rows accounted for.
func (s Summary) Rows() int {
	return s.Created + s.Updated + s.Skipped + len(s.Errors)
}

func toPermission(r ValidatedRow, actorID string) *domain.CoarsePermission {
	return &domain.CoarsePermission{
		CourseID:     r.CourseID,
		ChatflowID:   r.ChatflowID,
		AllowedRoles: r.AllowedRoles,
		IsActive:     r.IsActive,
		CreatedBy:    &actorID,
		UpdatedBy:    &actorID,
	}
}

// Commit writes each row in file order as an atomic replace-upsert. A
// failing row is recorded and the remaining rows are still written. A row
// repeating an earlier (course, chatflow) key replaces it and counts as
// updated, so the last occurrence wins.
func Commit(ctx context.Context, store CoarseWriter, batch ValidatedBatch, actorID string) Summary {
	summary := Summary{Errors: []RowError{}}

	for _, row := range batch.Rows {
		inserted, err := store.UpsertReplace(ctx, toPermission(row, actorID))
		if err != nil {
			summary.Errors = append(summary.Errors, RowError{Row: row.Row, Message: "store write failed"})
			continue
		}
		if inserted {
			summary.Created++
		} else {
			summary.Updated++
		}
	}

	return summary
}

// TxRunner runs a function inside one transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx repo.DBTX) error) error
}

// CommitAll writes every row in one transaction. Any failing row rolls back
// the whole batch and is returned as a *CommitError.
func CommitAll(ctx context.Context, tx TxRunner, storeFor func(repo.DBTX) CoarseWriter, batch ValidatedBatch, actorID string) (Summary, error) {
	var summary Summary

	err := tx.RunInTx(ctx, func(db repo.DBTX) error {
		summary = Summary{Errors: []RowError{}}
		store := storeFor(db)

		for _, row := range batch.Rows {
			inserted, err := store.UpsertReplace(ctx, toPermission(row, actorID))
			if err != nil {
				return &CommitError{Row: row.Row, Err: err}
			}
			if inserted {
				summary.Created++
			} else {
				summary.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// CommitError is the row that aborted an atomic commit.
type CommitError struct {
	Row int
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}
