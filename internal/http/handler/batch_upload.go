package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"chatflow-access-api/internal/http/httperr"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/service"

	"go.uber.org/zap"
)

// uploadField is the multipart form field carrying the CSV file.
const uploadField = "file"

// BatchUploader is the batch upload service.
type BatchUploader interface {
	Upload(ctx context.Context, actor service.Actor, filename string, body []byte) (*service.BatchUploadResult, error)
}

type BatchUploadHandler struct {
	service  BatchUploader
	maxBytes int64
}

func NewBatchUploadHandler(service BatchUploader, maxBytes int64) *BatchUploadHandler {
	return &BatchUploadHandler{service: service, maxBytes: maxBytes}
}

// Upload handles POST /v1/permissions/batch-upload
// The file is read fully before any row is parsed; larger files get a 413.
func (h *BatchUploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	actor, ok := actorFromRequest(r)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeAuthenticationRequired, "authentication required")
		return
	}

	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+64<<10)

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httperr.WriteError(w, ctx, http.StatusRequestEntityTooLarge, httperr.ErrCodePayloadTooLarge, "upload exceeds the size limit")
			return
		}
		log.Warn(ctx, "missing upload file", zap.Error(err))
		httperr.BadRequest400WithFields(w, ctx, httperr.ErrCodeValidationError, "a CSV file is required",
			map[string]string{uploadField: "required"})
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		log.Warn(ctx, "failed to read upload", zap.Error(err))
		httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, "upload could not be read")
		return
	}
	if int64(len(body)) > h.maxBytes {
		httperr.WriteError(w, ctx, http.StatusRequestEntityTooLarge, httperr.ErrCodePayloadTooLarge, "upload exceeds the size limit")
		return
	}

	log.Info(ctx, "batch upload received",
		logger.Module("batch_upload"),
		logger.Action("receive"),
		zap.String("filename", header.Filename),
		zap.Int("bytes", len(body)),
	)

	result, err := h.service.Upload(ctx, actor, header.Filename, body)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}
