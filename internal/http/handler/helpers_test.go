package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatflow-access-api/internal/auth"
	"chatflow-access-api/internal/auth/authtest"
	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/http/httperr"

	"github.com/stretchr/testify/require"
)

func adminContext(userID string, role domain.AdminRole) *auth.AuthContext {
	return authtest.Admin(userID, role)
}

// newRequest builds a request carrying authCtx. A nil authCtx yields an
// unauthenticated request.
func newRequest(method, target string, body io.Reader, authCtx *auth.AuthContext) *http.Request {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "handler-test")
	return authtest.As(req, authCtx)
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httperr.ErrorResponse {
	t.Helper()
	var body httperr.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotNil(t, body.Error)
	return body
}

// decodeData decodes a success envelope's data into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}
