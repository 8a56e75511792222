package marketplace

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client talks to the marketplace API
type Client struct {
	cfg     Config
	http    *http.Client
	backoff Backoff
	limiter *RateLimiter
	breaker CircuitBreaker
	creds   *CredentialManager
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSleep replaces the backoff sleep, mainly for tests
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithJitter replaces the jitter source; r must return values in [0, 1)
func WithJitter(r func() float64) Option {
	return func(c *Client) { c.backoff.Rand = r }
}

// WithClock replaces the clock used for credential expiry checks
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.creds.now = now }
}

// New creates a client. store may be nil when only public endpoints or a static token are used.
func New(cfg Config, store CredentialStore, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		backoff: Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay},
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		breaker: NewCircuitBreaker(cfg),
		logger:  logger.Named("marketplace"),
		sleep:   sleepContext,
	}
	c.creds = NewCredentialManager(store, cfg.StaticToken, c.refreshToken, logger)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShopID returns the configured shop
func (c *Client) ShopID() int64 {
	return c.cfg.ShopID
}

// Credentials exposes the credential manager
func (c *Client) Credentials() *CredentialManager {
	return c.creds
}
