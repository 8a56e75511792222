package marketplace

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter spaces out marketplace attempts
type RateLimiter struct{ l *rate.Limiter }

// NewRateLimiter allows rpm requests per minute with the given burst; rpm <= 0 disables limiting
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if rpm <= 0 {
		return &RateLimiter{l: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{l: rate.NewLimiter(rate.Limit(rpm)/60, burst)}
}

// Wait blocks until an attempt is allowed or ctx is done
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.l.Wait(ctx)
}
