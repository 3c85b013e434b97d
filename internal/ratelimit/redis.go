package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RedisRateLimiter implements a sliding-window limit on a Redis sorted set
// per subject. Every attempt, allowed or not, occupies a slot in the window.
type RedisRateLimiter struct {
	client              redis.Cmdable
	window              time.Duration
	rateLimitRejections metric.Int64Counter
	now                 func() time.Time
}

// NewRedisRateLimiter creates a limiter over window. rejections may be nil.
func NewRedisRateLimiter(client redis.Cmdable, window time.Duration, rejections metric.Int64Counter) *RedisRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisRateLimiter{
		client:              client,
		window:              window,
		rateLimitRejections: rejections,
		now:                 time.Now,
	}
}

// AdminKey is the sorted-set key holding an admin's request timestamps.
func AdminKey(userID string) string {
	return "ratelimit:admin:" + userID
}

// Allow records an attempt for key and reports whether it fits under limit.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string, limit int) (Decision, error) {
	now := rl.now()
	windowStart := now.Add(-rl.window)

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString(),
	})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, 2*rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	count := countCmd.Val()
	d := Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: max(limit-int(count), 0),
		ResetAt:   now.Add(rl.window),
	}

	if !d.Allowed && rl.rateLimitRejections != nil {
		rl.rateLimitRejections.Add(ctx, 1)
	}

	return d, nil
}
