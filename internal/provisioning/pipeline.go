package provisioning

import (
	"context"
	"errors"
	"fmt"
	"io"

	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/repo"
	"chatflow-access-api/internal/telemetry"

	"go.uber.org/zap"
)

// CommitMode selects how the commit pass treats row failures.
type CommitMode string

const (
	// CommitBestEffort writes rows independently and reports failures per row.
	CommitBestEffort CommitMode = "best_effort"
	// CommitAtomic writes all rows in one transaction.
	CommitAtomic CommitMode = "atomic"
)

// IsValid checks if the mode is one of the defined constants
func (m CommitMode) IsValid() bool {
	return m == CommitBestEffort || m == CommitAtomic
}

// Stage names the pipeline step that rejected a batch.
type Stage string

const (
	StageParse     Stage = "parse"
	StageValidate  Stage = "validate"
	StageScope     Stage = "scope"
	StageReference Stage = "reference"
	StageCommit    Stage = "commit"
)

// Result is a completed pipeline run.
type Result struct {
	Summary
	Mode      CommitMode `json:"mode"`
	TotalRows int        `json:"totalRows"`
}

// Pipeline runs parse, validate, reference check and commit in order.
// Nothing is written unless every row validates and every reference exists.
type Pipeline struct {
	catalogs CatalogReader
	store    CoarseWriter
	tx       TxRunner
	storeFor func(repo.DBTX) CoarseWriter
	mode     CommitMode
	log      *logger.Logger
	metrics  *telemetry.AccessMetrics
}

// PipelineDeps are the collaborators of a Pipeline. Tx and StoreFor are
// only needed in CommitAtomic mode.
type PipelineDeps struct {
	Catalogs CatalogReader
	Store    CoarseWriter
	Tx       TxRunner
	StoreFor func(repo.DBTX) CoarseWriter
	Mode     CommitMode
	Logger   *logger.Logger
	Metrics  *telemetry.AccessMetrics
}

// NewPipeline creates a Pipeline. An invalid mode, or atomic mode without a
// transaction runner, falls back to CommitBestEffort.
func NewPipeline(deps PipelineDeps) *Pipeline {
	mode := deps.Mode
	if !mode.IsValid() || (mode == CommitAtomic && (deps.Tx == nil || deps.StoreFor == nil)) {
		mode = CommitBestEffort
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NewNopAccessMetrics()
	}
	return &Pipeline{
		catalogs: deps.Catalogs,
		store:    deps.Store,
		tx:       deps.Tx,
		storeFor: deps.StoreFor,
		mode:     mode,
		log:      log,
		metrics:  metrics,
	}
}

// Mode reports the effective commit mode.
func (p *Pipeline) Mode() CommitMode {
	return p.mode
}

// Run provisions the upload read from r on behalf of actorID. Rejections
// are returned as *ParseError, *ValidationError, *CourseScopeError or
// *ReferentialError; a failed atomic commit as *CommitError. Once the commit
// pass starts it runs to completion even if ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, r io.Reader, actorID string, opts ...RunOption) (*Result, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	rows, err := ParseCSV(r)
	if err != nil {
		return nil, p.reject(ctx, StageParse, err)
	}

	batch, err := Validate(rows)
	if err != nil {
		return nil, p.reject(ctx, StageValidate, err)
	}

	if err := CheckCourseScope(batch, o.courseAllowed); err != nil {
		return nil, p.reject(ctx, StageScope, err)
	}

	if err := CheckReferences(ctx, p.catalogs, batch); err != nil {
		return nil, p.reject(ctx, StageReference, err)
	}

	commitCtx := context.WithoutCancel(ctx)
	result := &Result{Mode: p.mode, TotalRows: len(rows)}

	switch p.mode {
	case CommitAtomic:
		summary, err := CommitAll(commitCtx, p.tx, p.storeFor, batch, actorID)
		if err != nil {
			return nil, p.reject(ctx, StageCommit, err)
		}
		result.Summary = summary
	default:
		result.Summary = Commit(commitCtx, p.store, batch, actorID)
	}

	p.metrics.BatchRows.WithLabelValues("created").Add(float64(result.Created))
	p.metrics.BatchRows.WithLabelValues("updated").Add(float64(result.Updated))
	p.metrics.BatchRows.WithLabelValues("skipped").Add(float64(result.Skipped))
	p.metrics.BatchRows.WithLabelValues("failed").Add(float64(len(result.Errors)))

	fields := []zap.Field{
		logger.Module("provisioning"),
		logger.Action("commit"),
		zap.String("mode", string(p.mode)),
		zap.Int("rows", result.TotalRows),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Errors)),
	}
	if len(result.Errors) > 0 {
		p.log.Warn(ctx, "batch committed with row failures", fields...)
	} else {
		p.log.Info(ctx, "batch committed", fields...)
	}

	return result, nil
}

func (p *Pipeline) reject(ctx context.Context, stage Stage, err error) error {
	p.metrics.BatchRejected.WithLabelValues(string(stage)).Inc()

	fields := []zap.Field{
		logger.Module("provisioning"),
		logger.Action("reject"),
		zap.String("stage", string(stage)),
	}

	var valErr *ValidationError
	var refErr *ReferentialError
	var scopeErr *CourseScopeError
	switch {
	case errors.As(err, &valErr):
		fields = append(fields, zap.Int("row_errors", len(valErr.Errors)))
	case errors.As(err, &refErr):
		fields = append(fields,
			zap.Strings("invalid_chatflow_ids", refErr.InvalidChatflowIDs),
			zap.Strings("invalid_course_ids", refErr.InvalidCourseIDs),
		)
	case errors.As(err, &scopeErr):
		fields = append(fields, zap.Strings("forbidden_course_ids", scopeErr.CourseIDs))
	default:
		fields = append(fields, zap.Error(err))
	}

	p.log.Warn(ctx, "batch rejected", fields...)

	if stage == StageReference && refErr == nil {
		return fmt.Errorf("reference check: %w", err)
	}
	return err
}
