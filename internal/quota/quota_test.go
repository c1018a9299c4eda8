package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryLimiterEnforcesWindowQuota(t *testing.T) {
	l := NewMemoryLimiter(Config{Limit: 5, Window: time.Hour})
	base := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d, err := l.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 4-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 45*time.Minute, d.RetryAfter)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(Config{Limit: 1, Window: time.Hour})
	ctx := context.Background()

	d, err := l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = l.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterWindowResets(t *testing.T) {
	l := NewMemoryLimiter(Config{Limit: 1, Window: time.Hour})
	base := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	ctx := context.Background()
	d, err := l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// Next window: the stale counter is replaced.
	l.now = func() time.Time { return base.Add(time.Hour) }
	d, err = l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func newRedisLimiter(t *testing.T, cfg Config) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLimiter(client, cfg, zap.NewNop())
	t.Cleanup(func() { l.Close() })
	return l, mr
}

func TestRedisLimiterEnforcesWindowQuota(t *testing.T) {
	l, _ := newRedisLimiter(t, Config{Limit: 3, Window: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Hour)
}

func TestRedisLimiterCounterExpiresWithWindow(t *testing.T) {
	l, mr := newRedisLimiter(t, Config{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	d, err := l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// Jump past the window plus the skew margin; miniredis expires the key.
	mr.FastForward(2 * time.Minute)

	d, err = l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiterSurfacesBackendError(t *testing.T) {
	l, mr := newRedisLimiter(t, Config{Limit: 1, Window: time.Minute})
	mr.Close()

	_, err := l.Allow(context.Background(), "user-1")
	assert.Error(t, err)
}
