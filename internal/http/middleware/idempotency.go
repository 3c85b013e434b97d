package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"chatflow-access-api/internal/auth"
	"chatflow-access-api/internal/http/httperr"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/repo"

	"go.uber.org/zap"
)

const (
	IdempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayHeader = "X-Idempotency-Replay"
	maxIdempotencyKeyLength = 255
	maxRecordedPayloadBytes = 1 << 20
)

// IdempotencyStore persists replayable responses per actor.
type IdempotencyStore interface {
	CheckKey(ctx context.Context, actorID, keyHash string) (*repo.CachedResponse, error)
	StoreResult(ctx context.Context, req repo.StoredRequest) error
}

// Idempotency replays the stored 2xx response of a POST carrying an
// Idempotency-Key already used by the same admin. It must run after the
// auth gate. Only JSON request payloads are recorded.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := logger.FromContext(ctx)

			key := r.Header.Get(IdempotencyKeyHeader)
			authCtx, ok := auth.GetAuthContext(ctx)
			if r.Method != http.MethodPost || key == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			if len(key) > maxIdempotencyKeyLength {
				httperr.BadRequest400WithFields(w, ctx, httperr.ErrCodeValidationError, "idempotency key must be 255 characters or less",
					map[string]string{IdempotencyKeyHeader: "max"})
				return
			}

			keyHash := repo.HashKey(key)
			cached, err := store.CheckKey(ctx, authCtx.UserID, keyHash)
			if err != nil {
				httperr.StoreError500(w, ctx, err)
				return
			}

			if cached != nil {
				log.Info(ctx, "replaying idempotent response",
					logger.Module("idempotency"),
					logger.Action("replay"),
					zap.String("key_hash", keyHash),
					zap.Int("status", cached.Status),
				)
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(idempotencyReplayHeader, "true")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				return
			}

			var payload []byte
			if isJSON(r) && r.Body != nil {
				payload, err = io.ReadAll(io.LimitReader(r.Body, maxRecordedPayloadBytes+1))
				if err != nil {
					httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, "failed to read request body")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(payload))
				if len(payload) > maxRecordedPayloadBytes {
					payload = nil
				}
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode < 200 || rec.statusCode >= 300 {
				return
			}

			headers := make(map[string]string, 2)
			for _, h := range []string{"Content-Type", "Location"} {
				if v := rec.Header().Get(h); v != "" {
					headers[h] = v
				}
			}

			err = store.StoreResult(ctx, repo.StoredRequest{
				ActorID:     authCtx.UserID,
				KeyHash:     keyHash,
				OriginalKey: key,
				Method:      r.Method,
				Path:        r.URL.Path,
				Payload:     json.RawMessage(payload),
				Status:      rec.statusCode,
				Body:        json.RawMessage(rec.body.Bytes()),
				Headers:     headers,
			})
			if err != nil {
				log.Error(ctx, "failed to store idempotency result",
					logger.Module("idempotency"),
					logger.Action("store"),
					zap.String("key_hash", keyHash),
					zap.Error(err),
				)
			}
		})
	}
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// responseRecorder tees the response so it can be stored.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.written {
		rr.statusCode = code
		rr.written = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.written {
		rr.WriteHeader(http.StatusOK)
	}
	rr.body.Write(b)
	return rr.ResponseWriter.Write(b)
}
