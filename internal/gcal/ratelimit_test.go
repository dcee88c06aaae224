package gcal

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterSpacing(t *testing.T) {
	limiter := NewRateLimiter(DefaultCallInterval)
	ctx := context.Background()

	const calls = 4
	start := time.Now()
	for i := 0; i < calls; i++ {
		if err := limiter.Throttle(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	elapsed := time.Since(start)

	// The first call passes immediately; each later one waits a full interval.
	minimum := time.Duration(calls-1) * DefaultCallInterval
	if elapsed < minimum-5*time.Millisecond {
		t.Errorf("expected at least %v for %d calls, took %v", minimum, calls, elapsed)
	}
}

func TestRateLimiterHonorsContext(t *testing.T) {
	limiter := NewRateLimiter(time.Hour)
	if err := limiter.Throttle(context.Background()); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.Throttle(ctx); err == nil {
		t.Error("expected error when the wait exceeds the context deadline")
	}
}

func TestNewRateLimiterDefaultsInterval(t *testing.T) {
	limiter := NewRateLimiter(0)
	if got := limiter.limiter.Limit(); got <= 0 || got > 7 {
		t.Errorf("expected default limit of about 6.7/s, got %v", got)
	}
}

func TestLimiterPool(t *testing.T) {
	pool := NewLimiterPool(DefaultCallInterval)

	a1 := pool.Get("user-a")
	a2 := pool.Get("user-a")
	b := pool.Get("user-b")

	if a1 != a2 {
		t.Error("expected the same limiter for the same user")
	}
	if a1 == b {
		t.Error("expected different limiters for different users")
	}
}
