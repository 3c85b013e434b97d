package service

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"chatflow-access-api/internal/archive"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/provisioning"

	"go.uber.org/zap"
)

// BatchRunner runs the provisioning pipeline over one upload.
type BatchRunner interface {
	Run(ctx context.Context, r io.Reader, actorID string, opts ...provisioning.RunOption) (*provisioning.Result, error)
}

// BatchUploadResult is a committed upload.
type BatchUploadResult struct {
	*provisioning.Result
	ArchiveKey string `json:"archiveKey,omitempty"`
}

// BatchUploadService archives an uploaded CSV and provisions it.
type BatchUploadService struct {
	pipeline          BatchRunner
	archive           archive.Store
	auditRepo         AuditLogger
	log               *logger.Logger
	enforceRestricted bool
}

func NewBatchUploadService(pipeline BatchRunner, store archive.Store, auditRepo AuditLogger, log *logger.Logger, enforceRestricted bool) *BatchUploadService {
	if store == nil {
		store = archive.Noop{}
	}
	return &BatchUploadService{
		pipeline:          pipeline,
		archive:           store,
		auditRepo:         auditRepo,
		log:               log,
		enforceRestricted: enforceRestricted,
	}
}

// Upload provisions body. While restrictions are enforced a course-restricted
// admin may only upload rows for their own courses; a batch naming any other
// course is rejected whole with a *provisioning.CourseScopeError. Archive
// failures are logged and do not block the upload. Pipeline rejections are
// returned unchanged.
func (s *BatchUploadService) Upload(ctx context.Context, actor Actor, filename string, body []byte) (*BatchUploadResult, error) {
	var opts []provisioning.RunOption
	if isRestricted(s.enforceRestricted, actor) {
		opts = append(opts, provisioning.WithCourseScope(actor.Permission.CanAccessCourse))
	}

	key, err := s.archive.Save(ctx, actor.UserID, filename, body)
	if err != nil {
		s.log.Warn(ctx, "failed to archive upload",
			logger.Module("batch_upload"),
			logger.Action("archive"),
			zap.String("filename", filename),
			zap.Error(err),
		)
		key = ""
	}

	result, err := s.pipeline.Run(ctx, bytes.NewReader(body), actor.UserID, opts...)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"filename":   filename,
		"mode":       string(result.Mode),
		"total_rows": result.TotalRows,
		"created":    result.Created,
		"updated":    result.Updated,
		"skipped":    result.Skipped,
		"failed":     len(result.Errors),
	}
	if key != "" {
		metadata["archive_key"] = key
	}
	audit(ctx, s.auditRepo, s.log, actor, nil, "permission.batch_upload", "chatflow_permission", nil, metadata)

	return &BatchUploadResult{Result: result, ArchiveKey: key}, nil
}

// Import provisions a file read from disk on behalf of actorID.
func (s *BatchUploadService) Import(ctx context.Context, actorID, filename string, r io.Reader) (*BatchUploadResult, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}
	return s.Upload(ctx, Actor{UserID: actorID, UserAgent: "cli"}, filename, body)
}
