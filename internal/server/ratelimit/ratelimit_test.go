package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(cfg *Config, now *time.Time) *Limiter {
	cfg.CleanupInterval = 0
	l := NewLimiter(cfg)
	l.now = func() time.Time { return *now }
	return l
}

func TestAllow_EndpointBurstThenThrottle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLimiter(DefaultConfig(), &now)

	ok, info := l.Allow("10.0.0.1", "/research", "POST")
	assert.True(t, ok)
	assert.Equal(t, 10, info.Limit)
	assert.Equal(t, 1, info.Remaining)

	ok, _ = l.Allow("10.0.0.1", "/research", "POST")
	assert.True(t, ok)

	ok, info = l.Allow("10.0.0.1", "/research", "POST")
	assert.False(t, ok)
	assert.Equal(t, 0, info.Remaining)
	assert.InDelta(t, float64(6*time.Minute), float64(info.RetryAfter), float64(time.Second))

	// other clients have their own bucket
	ok, _ = l.Allow("10.0.0.2", "/research", "POST")
	assert.True(t, ok)

	// refill after one token interval
	now = now.Add(6 * time.Minute)
	ok, _ = l.Allow("10.0.0.1", "/research", "POST")
	assert.True(t, ok)
}

func TestAllow_PrefixEndpointSharesBucket(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.EndpointConfigs = []EndpointConfig{{Path: "/entities/", Method: "POST", Limit: 1, Window: time.Hour, Burst: 1}}
	l := newTestLimiter(cfg, &now)

	ok, _ := l.Allow("c", "/entities/a/publish", "POST")
	assert.True(t, ok)
	ok, _ = l.Allow("c", "/entities/b/approve", "POST")
	assert.False(t, ok)

	ok, _ = l.Allow("c", "/entities/b", "GET")
	assert.True(t, ok)
}

func TestAllow_HealthAndDisabled(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()
	cfg.DefaultLimit = 1
	l := newTestLimiter(cfg, &now)
	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("c", "/health", "GET")
		require.True(t, ok)
	}

	l = newTestLimiter(&Config{Enabled: false}, &now)
	ok, info := l.Allow("c", "/research", "POST")
	assert.True(t, ok)
	assert.Equal(t, 0, info.Limit)
}

func TestRemoveIdle(t *testing.T) {
	now := time.Now()
	l := newTestLimiter(DefaultConfig(), &now)
	l.Allow("c", "/runs", "GET")
	require.Len(t, l.buckets, 1)

	now = now.Add(2 * time.Hour)
	l.removeIdle()
	assert.Empty(t, l.buckets)
	l.Stop()
	l.Stop()
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs()

	assert.Equal(t, "/research", MatchEndpoint("/research", "POST", configs).Path)
	assert.Equal(t, "/entities/", MatchEndpoint("/entities/x/publish", "POST", configs).Path)
	assert.Nil(t, MatchEndpoint("/runs", "GET", configs))
	assert.Equal(t, 0, MatchEndpoint("/health", "GET", configs).Limit)
}
