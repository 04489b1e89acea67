package reliability

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket holding up to burst tokens, refilled one
// token per interval. It guards gRPC and order HTTP ingress.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	burst    int
	onWait   func(time.Duration)
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error

	tokens int
	last   time.Time
}

// NewRateLimiter returns a full bucket. A non-positive interval or burst
// disables limiting. onWait, when set, sees every wait before it happens.
func NewRateLimiter(interval time.Duration, burst int, onWait func(time.Duration)) *RateLimiter {
	r := &RateLimiter{
		interval: interval,
		burst:    burst,
		onWait:   onWait,
		now:      time.Now,
		sleep:    SleepWithContext,
		tokens:   burst,
	}
	r.last = r.now()
	return r
}

// Wait takes a token, blocking until one is available or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.interval <= 0 || r.burst <= 0 {
		return ctx.Err()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := r.take()
		if wait <= 0 {
			return nil
		}
		if r.onWait != nil {
			r.onWait(wait)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// take consumes a token and returns 0, or returns how long until the next
// token arrives.
func (r *RateLimiter) take() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if elapsed := now.Sub(r.last); elapsed >= r.interval {
		n := int(elapsed / r.interval)
		r.tokens = min(r.tokens+n, r.burst)
		r.last = r.last.Add(time.Duration(n) * r.interval)
	}
	if r.tokens > 0 {
		r.tokens--
		return 0
	}
	return max(r.interval-now.Sub(r.last), time.Nanosecond)
}
