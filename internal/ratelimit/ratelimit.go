package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
}

// SimpleRateLimiter spaces actions by a random delay in [min, max) measured
// from the previous action. The first call does not wait.
type SimpleRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastAction)
	delay := r.calculateDelay()

	if elapsed < delay {
		if err := sleep(ctx, delay-elapsed); err != nil {
			return err
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *SimpleRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.minDelay = min
	r.maxDelay = max
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	delta := r.maxDelay - r.minDelay
	if !r.jitter || delta <= 0 {
		return r.minDelay
	}

	jitter := time.Duration(rand.Int63n(int64(delta)))
	return r.minDelay + jitter
}

// FixedDelay waits the same duration on every call, including the first.
type FixedDelay struct {
	Delay time.Duration
}

func NewFixedDelay(d time.Duration) *FixedDelay {
	return &FixedDelay{Delay: d}
}

func (f *FixedDelay) Wait(ctx context.Context) error {
	return sleep(ctx, f.Delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
