// Package ratelimit throttles visit request submissions per client IP using
// fixed windows, in memory or shared through Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is used when a limiter is created with a non-positive window.
const DefaultWindow = time.Hour

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets, rounded up to a second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return wait.Round(time.Second) + time.Second
}

// Limiter counts hits per key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) Decision
}

// InMemoryLimiter is a process-local fixed window limiter.
type InMemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	items  map[string]entry
}

type entry struct {
	count   int
	resetAt time.Time
}

// NewInMemory creates an in-memory limiter.
func NewInMemory(window time.Duration) *InMemoryLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &InMemoryLimiter{
		window: window,
		now:    time.Now,
		items:  make(map[string]entry),
	}
}

func (l *InMemoryLimiter) Allow(_ context.Context, key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := l.now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanup(now)
	curr, ok := l.items[key]
	if !ok || !now.Before(curr.resetAt) {
		curr = entry{resetAt: now.Add(l.window)}
	}
	curr.count++
	l.items[key] = curr
	return decision(curr.count, limit, curr.resetAt)
}

func (l *InMemoryLimiter) cleanup(now time.Time) {
	for k, v := range l.items {
		if !now.Before(v.resetAt) {
			delete(l.items, k)
		}
	}
}

func decision(count, limit int, resetAt time.Time) Decision {
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
}
