package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client)
}

func TestRateLimiter_EnforcesWindowCeiling(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	const limit = 5
	for i := 0; i < limit; i++ {
		allowed, _, err := limiter.Acquire(ctx, "batch-1", limit, fmt.Sprintf("job-%d", i))
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("submission %d denied below the ceiling", i)
		}
	}

	allowed, wait, err := limiter.Acquire(ctx, "batch-1", limit, "job-over")
	if err != nil {
		t.Fatalf("Acquire over limit: %v", err)
	}
	if allowed {
		t.Fatal("submission admitted past the ceiling")
	}
	if wait <= 0 || wait > time.Minute {
		t.Errorf("wait = %v, want a positive duration within the window", wait)
	}

	usage, err := limiter.CurrentUsage(ctx, "batch-1")
	if err != nil {
		t.Fatalf("CurrentUsage: %v", err)
	}
	if usage != limit {
		t.Errorf("CurrentUsage = %d, want %d", usage, limit)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	if allowed, _, _ := limiter.Acquire(ctx, "batch-a", 1, "j1"); !allowed {
		t.Fatal("first submission on batch-a denied")
	}
	if allowed, _, _ := limiter.Acquire(ctx, "batch-a", 1, "j2"); allowed {
		t.Fatal("batch-a over-admitted")
	}
	if allowed, _, _ := limiter.Acquire(ctx, "batch-b", 1, "j3"); !allowed {
		t.Fatal("batch-b throttled by batch-a traffic")
	}
}

func TestLocalRateLimiter_EnforcesWindowCeiling(t *testing.T) {
	limiter := NewLocalRateLimiter()
	current := time.Now()
	limiter.now = func() time.Time { return current }
	ctx := context.Background()

	const limit = 3
	for i := 0; i < limit; i++ {
		allowed, _, err := limiter.Acquire(ctx, "batch-1", limit, fmt.Sprintf("job-%d", i))
		if err != nil || !allowed {
			t.Fatalf("Acquire %d = (%v, %v), want admitted", i, allowed, err)
		}
	}

	allowed, wait, err := limiter.Acquire(ctx, "batch-1", limit, "job-over")
	if err != nil {
		t.Fatalf("Acquire over limit: %v", err)
	}
	if allowed {
		t.Fatal("submission admitted past the ceiling")
	}
	if wait <= 0 || wait > time.Minute {
		t.Errorf("wait = %v, want a positive duration within the window", wait)
	}

	// Once the oldest submission ages out of the window a slot opens.
	current = current.Add(61 * time.Second)
	if allowed, _, _ := limiter.Acquire(ctx, "batch-1", limit, "job-later"); !allowed {
		t.Error("submission denied after the window passed")
	}
}

func TestLocalRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewLocalRateLimiter()
	ctx := context.Background()

	if allowed, _, _ := limiter.Acquire(ctx, "batch-a", 1, "j1"); !allowed {
		t.Fatal("first submission on batch-a denied")
	}
	if allowed, _, _ := limiter.Acquire(ctx, "batch-a", 1, "j2"); allowed {
		t.Fatal("batch-a over-admitted")
	}
	if allowed, _, _ := limiter.Acquire(ctx, "batch-b", 1, "j3"); !allowed {
		t.Fatal("batch-b throttled by batch-a traffic")
	}
}

func TestRateLimiter_ZeroRateDisablesLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		allowed, _, err := limiter.Acquire(ctx, "unlimited", 0, fmt.Sprintf("j%d", i))
		if err != nil || !allowed {
			t.Fatalf("unlimited Acquire %d = (%v, %v)", i, allowed, err)
		}
	}
}
