package repo

import (
	"context"
	"encoding/json"
	"fmt"
)

// AuditEntry describes one administrative write.
type AuditEntry struct {
	CourseID     *string
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   *string
	Metadata     map[string]any
	IPAddress    string
	UserAgent    string
}

// AuditRepo handles audit log storage
type AuditRepo struct {
	db DBTX
}

// NewAuditRepo creates a new AuditRepo
func NewAuditRepo(db DBTX) *AuditRepo {
	return &AuditRepo{db: db}
}

// LogAction logs an action to the audit log
func (r *AuditRepo) LogAction(ctx context.Context, entry AuditEntry) error {
	var metadataJSON []byte
	var err error

	if entry.Metadata != nil {
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_log (
			course_id, actor_id, action, resource_type, resource_id,
			metadata, ip_address, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.Exec(ctx, query,
		entry.CourseID, entry.ActorID, entry.Action, entry.ResourceType, entry.ResourceID,
		metadataJSON, entry.IPAddress, entry.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("failed to log action: %w", err)
	}

	return nil
}
