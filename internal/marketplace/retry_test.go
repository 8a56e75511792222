package marketplace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	for _, status := range []int{429, 500, 502, 503, 599} {
		assert.True(t, Retryable(status), "status %d", status)
	}
	for _, status := range []int{200, 400, 401, 403, 404, 409, 422, 600} {
		assert.False(t, Retryable(status), "status %d", status)
	}
}

func TestBackoff_Ceiling(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 60 * time.Second}

	assert.Equal(t, 1*time.Second, b.Ceiling(0))
	assert.Equal(t, 2*time.Second, b.Ceiling(1))
	assert.Equal(t, 4*time.Second, b.Ceiling(2))
	assert.Equal(t, 32*time.Second, b.Ceiling(5))
	assert.Equal(t, 60*time.Second, b.Ceiling(6))
	assert.Equal(t, 60*time.Second, b.Ceiling(30))
}

func TestBackoff_DelayWithinJitterBounds(t *testing.T) {
	for attempt := 0; attempt < 8; attempt++ {
		ceiling := Backoff{Base: time.Second, Max: 60 * time.Second}.Ceiling(attempt)

		low := Backoff{Base: time.Second, Max: 60 * time.Second, Rand: func() float64 { return 0 }}
		assert.Equal(t, ceiling/2, low.Delay(attempt))

		high := Backoff{Base: time.Second, Max: 60 * time.Second, Rand: func() float64 { return 0.999999 }}
		assert.Less(t, high.Delay(attempt), ceiling)
		assert.GreaterOrEqual(t, high.Delay(attempt), ceiling/2)

		random := Backoff{Base: time.Second, Max: 60 * time.Second}
		for i := 0; i < 50; i++ {
			d := random.Delay(attempt)
			assert.GreaterOrEqual(t, d, ceiling/2)
			assert.Less(t, d, ceiling)
		}
	}
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
