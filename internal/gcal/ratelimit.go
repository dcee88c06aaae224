package gcal

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCallInterval keeps a user's call rate near 6-7 requests per second,
// under the API's per-user ceiling of 10.
const DefaultCallInterval = 150 * time.Millisecond

// RateLimiter spaces consecutive calls at least interval apart.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing one call per interval.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		interval = DefaultCallInterval
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Throttle blocks until the next call may proceed.
func (r *RateLimiter) Throttle(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// LimiterPool hands out one RateLimiter per user so that every run for the
// same user shares the same spacing.
type LimiterPool struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*RateLimiter
}

// NewLimiterPool creates an empty pool.
func NewLimiterPool(interval time.Duration) *LimiterPool {
	return &LimiterPool{
		interval: interval,
		limiters: make(map[string]*RateLimiter),
	}
}

// Get returns the limiter for userID, creating it on first use.
func (p *LimiterPool) Get(userID string) *RateLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[userID]
	if !ok {
		l = NewRateLimiter(p.interval)
		p.limiters[userID] = l
	}
	return l
}
