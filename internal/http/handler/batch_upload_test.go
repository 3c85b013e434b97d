package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/provisioning"
	"chatflow-access-api/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUploader struct {
	filename string
	body     string
	result   *service.BatchUploadResult
	err      error
}

func (s *stubUploader) Upload(_ context.Context, _ service.Actor, filename string, body []byte) (*service.BatchUploadResult, error) {
	s.filename = filename
	s.body = string(body)
	return s.result, s.err
}

func multipartUpload(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func uploadRequest(t *testing.T, field, content string) *http.Request {
	body, contentType := multipartUpload(t, field, "perms.csv", content)
	req := newRequest(http.MethodPost, "/v1/permissions/batch-upload", body, adminContext("admin-1", domain.AdminRoleSuper))
	req.Header.Set("Content-Type", contentType)
	return req
}

const validUpload = "chatflow_id,course_id,allowed_roles\ncf-1,c-1,Learner\n"

func TestBatchUploadHandler_Success(t *testing.T) {
	stub := &stubUploader{result: &service.BatchUploadResult{
		Result: &provisioning.Result{
			Summary:   provisioning.Summary{Created: 1, Errors: []provisioning.RowError{}},
			Mode:      provisioning.CommitBestEffort,
			TotalRows: 1,
		},
	}}
	rec := httptest.NewRecorder()

	NewBatchUploadHandler(stub, 1<<20).Upload(rec, uploadRequest(t, "file", validUpload))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "perms.csv", stub.filename)
	assert.Equal(t, validUpload, stub.body)

	var data map[string]any
	decodeData(t, rec, &data)
	assert.Equal(t, float64(1), data["created"])
	assert.Equal(t, float64(0), data["updated"])
	assert.Equal(t, float64(0), data["skipped"])
	assert.Equal(t, []any{}, data["errors"])
	assert.Equal(t, "best_effort", data["mode"])
}

func TestBatchUploadHandler_Rejections(t *testing.T) {
	t.Run("row errors are enumerated", func(t *testing.T) {
		stub := &stubUploader{err: &provisioning.ValidationError{Errors: []provisioning.RowError{
			{Row: 2, Field: "course_id", Message: "required"},
			{Row: 4, Field: "allowed_roles", Value: "Wizard", Message: "unknown role"},
		}}}
		rec := httptest.NewRecorder()

		NewBatchUploadHandler(stub, 1<<20).Upload(rec, uploadRequest(t, "file", validUpload))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var body struct {
			Error struct {
				Code    string `json:"code"`
				Details struct {
					Errors []provisioning.RowError `json:"errors"`
				} `json:"details"`
			} `json:"error"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
		require.Len(t, body.Error.Details.Errors, 2)
		assert.Equal(t, 4, body.Error.Details.Errors[1].Row)
		assert.Equal(t, "Wizard", body.Error.Details.Errors[1].Value)
	})

	t.Run("courses outside the restriction are forbidden", func(t *testing.T) {
		stub := &stubUploader{err: &provisioning.CourseScopeError{CourseIDs: []string{"c-8", "c-9"}}}
		rec := httptest.NewRecorder()

		NewBatchUploadHandler(stub, 1<<20).Upload(rec, uploadRequest(t, "file", validUpload))

		require.Equal(t, http.StatusForbidden, rec.Code)
		var body struct {
			Error struct {
				Code    string                        `json:"code"`
				Details provisioning.CourseScopeError `json:"details"`
			} `json:"error"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "ACCESS_DENIED", body.Error.Code)
		assert.Equal(t, []string{"c-8", "c-9"}, body.Error.Details.CourseIDs)
	})

	t.Run("referential error names every id", func(t *testing.T) {
		stub := &stubUploader{err: &provisioning.ReferentialError{InvalidChatflowIDs: []string{"cf-missing"}}}
		rec := httptest.NewRecorder()

		NewBatchUploadHandler(stub, 1<<20).Upload(rec, uploadRequest(t, "file", validUpload))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var body struct {
			Error struct {
				Code    string                        `json:"code"`
				Details provisioning.ReferentialError `json:"details"`
			} `json:"error"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "REFERENTIAL_ERROR", body.Error.Code)
		assert.Equal(t, []string{"cf-missing"}, body.Error.Details.InvalidChatflowIDs)
	})

	t.Run("parse error", func(t *testing.T) {
		stub := &stubUploader{err: &provisioning.ParseError{Err: provisioning.ErrEmptyFile}}
		rec := httptest.NewRecorder()

		NewBatchUploadHandler(stub, 1<<20).Upload(rec, uploadRequest(t, "file", ""))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("atomic commit failure", func(t *testing.T) {
		stub := &stubUploader{err: &provisioning.CommitError{Row: 3, Err: context.DeadlineExceeded}}
		rec := httptest.NewRecorder()

		NewBatchUploadHandler(stub, 1<<20).Upload(rec, uploadRequest(t, "file", validUpload))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "STORE_ERROR", decodeError(t, rec).Error.Code)
	})

	t.Run("missing file field", func(t *testing.T) {
		stub := &stubUploader{}
		rec := httptest.NewRecorder()

		NewBatchUploadHandler(stub, 1<<20).Upload(rec, uploadRequest(t, "upload", validUpload))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "required", decodeError(t, rec).Error.Fields["file"])
		assert.Empty(t, stub.filename)
	})

	t.Run("file over the limit", func(t *testing.T) {
		stub := &stubUploader{}
		rec := httptest.NewRecorder()

		NewBatchUploadHandler(stub, 16).Upload(rec, uploadRequest(t, "file", strings.Repeat("x", 64)))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, rec).Error.Code)
		assert.Empty(t, stub.filename)
	})
}
