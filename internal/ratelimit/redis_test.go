package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRateLimiter(client, time.Minute, nil), mr
}

func TestAllow_RejectsAfterLimit(t *testing.T) {
	rl, _ := newLimiter(t)
	ctx := context.Background()
	key := AdminKey("admin-1")

	for i := 0; i < 3; i++ {
		d, err := rl.Allow(ctx, key, 3)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := rl.Allow(ctx, key, 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	rl, mr := newLimiter(t)
	ctx := context.Background()

	_, err := rl.Allow(ctx, AdminKey("admin-1"), 1)
	require.NoError(t, err)
	d, err := rl.Allow(ctx, AdminKey("admin-2"), 1)
	require.NoError(t, err)

	assert.True(t, d.Allowed)
	assert.True(t, mr.Exists("ratelimit:admin:admin-1"))
	assert.True(t, mr.Exists("ratelimit:admin:admin-2"))
	assert.Equal(t, 2*time.Minute, mr.TTL("ratelimit:admin:admin-1"))
}

func TestAllow_WindowSlides(t *testing.T) {
	rl, _ := newLimiter(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return start }

	_, err := rl.Allow(ctx, "k", 1)
	require.NoError(t, err)
	d, err := rl.Allow(ctx, "k", 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	rl.now = func() time.Time { return start.Add(61 * time.Second) }
	d, err = rl.Allow(ctx, "k", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAllow_RedisDown(t *testing.T) {
	rl, mr := newLimiter(t)
	mr.Close()

	_, err := rl.Allow(context.Background(), "k", 1)
	assert.Error(t, err)
}
