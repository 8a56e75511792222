package marketplace

import (
	"context"
	"math/rand/v2"
	"time"
)

// Retryable reports whether a status code is a transient fault worth retrying
func Retryable(status int) bool {
	return status == 429 || (status >= 500 && status <= 599)
}

// Backoff computes exponential retry delays with multiplicative jitter
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Rand returns a value in [0, 1); defaults to math/rand/v2
	Rand func() float64
}

// Ceiling returns min(Base * 2^attempt, Max) before jitter
func (b Backoff) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return min(d, b.Max)
}

// Delay returns Ceiling(attempt) scaled by a random factor in [0.5, 1.0)
func (b Backoff) Delay(attempt int) time.Duration {
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	factor := 0.5 + r()*0.5
	return time.Duration(float64(b.Ceiling(attempt)) * factor)
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
