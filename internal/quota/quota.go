// Package quota enforces the per-caller pipeline start quota: a fixed
// number of requests per fixed time window. Redis-backed in production so
// the quota holds across replicas; an in-process fallback covers
// development and tests.
// This package is internal and should not be imported by external projects.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of one quota check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool
	// Remaining is the number of requests left in the current window.
	Remaining int
	// RetryAfter is how long until the window resets; meaningful only
	// when Allowed is false.
	RetryAfter time.Duration
}

// Limiter checks a caller key against the fixed-window quota.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Close() error
}

// Config holds quota settings.
type Config struct {
	// Limit is the number of requests allowed per window.
	Limit int
	// Window is the fixed window length.
	Window time.Duration
}

// -----------------------------------------------------------------------------
// Redis-backed limiter
// -----------------------------------------------------------------------------

// RedisLimiter implements Limiter on a shared redis instance. Windows are
// aligned to wall-clock boundaries (fixed window, not sliding): the counter
// key embeds the window start and expires with the window.
type RedisLimiter struct {
	client *redis.Client
	config Config
	logger *zap.Logger
}

// NewRedisLimiter creates a redis-backed limiter.
func NewRedisLimiter(client *redis.Client, config Config, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "quota")),
	}
}

// Allow increments the caller's counter for the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := time.Now()
	windowStart := now.Truncate(l.config.Window)
	redisKey := fmt.Sprintf("quota:%s:%d", key, windowStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// Expiry slightly past the window end so a clock-skewed replica never
	// resurrects a counter that should still be live.
	pipe.Expire(ctx, redisKey, l.config.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("quota check: %w", err)
	}

	count := int(incr.Val())
	if count > l.config.Limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: windowStart.Add(l.config.Window).Sub(now),
		}, nil
	}

	return Decision{Allowed: true, Remaining: l.config.Limit - count}, nil
}

// Close closes the redis client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// -----------------------------------------------------------------------------
// In-process fallback
// -----------------------------------------------------------------------------

// MemoryLimiter implements Limiter with a per-key counter map. Quota state
// is local to the process; suitable for single-replica deployments and
// tests.
type MemoryLimiter struct {
	config  Config
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(config Config) *MemoryLimiter {
	return &MemoryLimiter{
		config:  config,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow increments the caller's counter for the current window.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	windowStart := now.Truncate(l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || w.start.Before(windowStart) {
		w = &window{start: windowStart}
		l.windows[key] = w
	}

	// Opportunistic prune keeps the map from growing with one entry per
	// caller forever.
	if len(l.windows) > 4096 {
		for k, v := range l.windows {
			if v.start.Before(windowStart) {
				delete(l.windows, k)
			}
		}
	}

	w.count++
	if w.count > l.config.Limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: windowStart.Add(l.config.Window).Sub(now),
		}, nil
	}

	return Decision{Allowed: true, Remaining: l.config.Limit - w.count}, nil
}

// Close is a no-op.
func (l *MemoryLimiter) Close() error { return nil }
