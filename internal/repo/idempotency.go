package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo handles idempotency key storage and retrieval
type IdempotencyRepo struct {
	db  DBTX
	ttl time.Duration
}

// NewIdempotencyRepo creates a new IdempotencyRepo. Keys live for ttl.
func NewIdempotencyRepo(db DBTX, ttl time.Duration) *IdempotencyRepo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyRepo{db: db, ttl: ttl}
}

// CachedResponse represents a cached response from an idempotent request
type CachedResponse struct {
	Status  int
	Body    json.RawMessage
	Headers map[string]string
}

// StoredRequest is the request/response pair recorded under a key.
type StoredRequest struct {
	ActorID     string
	KeyHash     string
	OriginalKey string
	Method      string
	Path        string
	Payload     json.RawMessage
	Status      int
	Body        json.RawMessage
	Headers     map[string]string
}

// HashKey generates SHA256 hash of idempotency key
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// CheckKey returns the cached response for the actor's key, or nil if none.
func (r *IdempotencyRepo) CheckKey(ctx context.Context, actorID, keyHash string) (*CachedResponse, error) {
	query := `
		SELECT response_status, response_body, response_headers
		FROM idempotency_keys
		WHERE actor_id = $1 AND key_hash = $2 AND expires_at > NOW()
	`

	var status int
	var body json.RawMessage
	var headersJSON []byte

	err := r.db.QueryRow(ctx, query, actorID, keyHash).Scan(&status, &body, &headersJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	var headers map[string]string
	if headersJSON != nil {
		if err := json.Unmarshal(headersJSON, &headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}

	return &CachedResponse{
		Status:  status,
		Body:    body,
		Headers: headers,
	}, nil
}

// StoreResult stores the result of an idempotent request. A concurrent
// writer holding the same key wins.
func (r *IdempotencyRepo) StoreResult(ctx context.Context, req StoredRequest) error {
	headersJSON, err := json.Marshal(req.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	var payload any
	if len(req.Payload) > 0 && json.Valid(req.Payload) {
		payload = req.Payload
	}

	query := `
		INSERT INTO idempotency_keys (
			key_hash, actor_id, original_key, request_method, request_path,
			request_payload, response_status, response_body, response_headers, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (actor_id, key_hash) DO NOTHING
	`

	_, err = r.db.Exec(ctx, query,
		req.KeyHash, req.ActorID, req.OriginalKey, req.Method, req.Path,
		payload, req.Status, req.Body, headersJSON, time.Now().Add(r.ttl),
	)
	if err != nil {
		return fmt.Errorf("failed to store idempotency result: %w", err)
	}

	return nil
}

// CleanupExpired removes expired idempotency keys
func (r *IdempotencyRepo) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM idempotency_keys WHERE expires_at <= NOW()`

	result, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired keys: %w", err)
	}

	return result.RowsAffected(), nil
}
