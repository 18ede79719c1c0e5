// Package ratelimit throttles requests per key (client address or user).
// The in-memory limiter serves a single instance; RedisRateLimiter shares
// budgets across instances.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter reports whether a request for key may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
	AllowN(ctx context.Context, key string, n int) bool
}

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// InMemoryRateLimiter keeps one token bucket per key. Buckets idle longer
// than maxAge are evicted by a background sweep.
type InMemoryRateLimiter struct {
	rate  rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket

	sweepInterval time.Duration
	maxAge        time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewInMemoryRateLimiter allows rps requests per second per key with bursts
// of up to burst. Call Stop to end the sweep goroutine.
func NewInMemoryRateLimiter(rps float64, burst int) *InMemoryRateLimiter {
	l := &InMemoryRateLimiter{
		rate:          rate.Limit(rps),
		burst:         burst,
		buckets:       make(map[string]*bucket),
		sweepInterval: 5 * time.Minute,
		maxAge:        10 * time.Minute,
		stop:          make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow is AllowN(ctx, key, 1).
func (l *InMemoryRateLimiter) Allow(ctx context.Context, key string) bool {
	return l.AllowN(ctx, key, 1)
}

// AllowN consumes n tokens from key's bucket if available.
func (l *InMemoryRateLimiter) AllowN(_ context.Context, key string, n int) bool {
	now := time.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastAccess = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, n)
}

func (l *InMemoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			l.sweep(now)
		case <-l.stop:
			return
		}
	}
}

// sweep evicts buckets idle since before now-maxAge and returns how many.
func (l *InMemoryRateLimiter) sweep(now time.Time) int {
	cutoff := now.Add(-l.maxAge)
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for key, b := range l.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(l.buckets, key)
			evicted++
		}
	}
	return evicted
}

// Stop ends the sweep goroutine. Safe to call more than once.
func (l *InMemoryRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Stats describes the limiter for debug output.
func (l *InMemoryRateLimiter) Stats() map[string]interface{} {
	l.mu.Lock()
	active := len(l.buckets)
	l.mu.Unlock()
	return map[string]interface{}{
		"type":            "in-memory",
		"active_limiters": active,
		"rate_per_second": float64(l.rate),
		"burst":           l.burst,
	}
}
