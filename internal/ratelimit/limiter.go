// Package ratelimit throttles iteration admission and maps run progress to
// (threads, speed) pairs.
package ratelimit

import (
	"context"
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter admits iterations at a target speed in iterations per second.
// A speed of 0 disables throttling.
type RateLimiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex
}

func NewRateLimiter(speed float64) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(speed), burstFor(speed)),
	}
}

// burstFor lets up to one second worth of iterations through at once.
func burstFor(speed float64) int {
	if speed <= 0 {
		return 0
	}
	return int(math.Max(1, math.Ceil(speed)))
}

func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.RLock()
	limiter := r.limiter
	limit := limiter.Limit()
	r.mu.RUnlock()

	// If rate limit is 0, don't wait (no rate limiting)
	if limit == 0 {
		return nil
	}
	return limiter.Wait(ctx)
}

func (r *RateLimiter) SetRate(speed float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if float64(r.limiter.Limit()) == speed {
		return
	}
	r.limiter.SetLimit(rate.Limit(speed))
	r.limiter.SetBurst(burstFor(speed))
}

// Rate returns the current speed.
func (r *RateLimiter) Rate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return float64(r.limiter.Limit())
}
