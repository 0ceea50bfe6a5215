package dispatch

import (
	"context"
	"sync"
	"time"
)

// LocalRateLimiter enforces the sends-per-minute ceiling in process memory.
// It is the fallback when Redis is not configured: same sliding-window
// semantics as the Redis limiter, scoped to one process, so with multiple
// replicas each enforces the ceiling over its own share of the traffic.
type LocalRateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewLocalRateLimiter creates an in-process rate limiter.
func NewLocalRateLimiter() *LocalRateLimiter {
	return &LocalRateLimiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Acquire implements SlotLimiter. When denied it returns the duration until
// the oldest in-window submission ages out.
func (l *LocalRateLimiter) Acquire(_ context.Context, key string, perMinute int, _ string) (bool, time.Duration, error) {
	if perMinute <= 0 {
		return true, 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-time.Minute)
	window := l.windows[key]
	for len(window) > 0 && window[0].Before(cutoff) {
		window = window[1:]
	}

	if len(window) >= perMinute {
		l.windows[key] = window
		return false, window[0].Add(time.Minute).Sub(now), nil
	}
	l.windows[key] = append(window, now)
	return true, 0, nil
}
