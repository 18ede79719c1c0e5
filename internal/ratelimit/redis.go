package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/unwatchhq/unwatch/internal/logger"
)

// RedisRateLimiter is a fixed-window counter shared by every instance
// pointing at the same Redis. Each key may spend limit requests per window.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisRateLimiter returns a limiter allowing limit requests per window.
// prefix namespaces the counters so several limiters can share a database.
func NewRedisRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
	}
}

// Allow is AllowN(ctx, key, 1).
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) bool {
	return l.AllowN(ctx, key, 1)
}

// AllowN adds n to key's counter for the current window. Redis errors fail
// open: the request is allowed and the error logged.
func (l *RedisRateLimiter) AllowN(ctx context.Context, key string, n int) bool {
	count, err := l.incr(ctx, key, n, time.Now())
	if err != nil {
		logger.Ctx(ctx).Warn("Rate limit check failed, allowing request", "error", err, "key", key)
		return true
	}
	return count <= int64(l.limit)
}

func (l *RedisRateLimiter) windowKey(key string, now time.Time) string {
	slot := now.UnixNano() / int64(l.window)
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
}

func (l *RedisRateLimiter) incr(ctx context.Context, key string, n int, now time.Time) (int64, error) {
	k := l.windowKey(key, now)
	pipe := l.client.TxPipeline()
	incr := pipe.IncrBy(ctx, k, int64(n))
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	return incr.Val(), nil
}
