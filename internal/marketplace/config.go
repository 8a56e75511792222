// Package marketplace is the resilient client for the external marketplace REST API.
// Every call goes through one retry loop with exponential backoff and jitter, and
// credentialed calls resolve a fresh OAuth token before each attempt.
package marketplace

import "time"

// Default retry policy values
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 60 * time.Second
	DefaultTimeout     = 30 * time.Second
)

// Config holds marketplace client settings
type Config struct {
	BaseURL     string
	AuthURL     string
	TokenURL    string
	APIKey      string
	ShopID      int64
	RedirectURI string
	StaticToken string

	Timeout time.Duration

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	RateLimit int // requests per minute, 0 disables
	RateBurst int

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerMinRequests      int
	BreakerRecoveryTime     time.Duration
	BreakerSamplingWindow   time.Duration
}

// DefaultConfig returns a config with the standard retry policy and no endpoint
func DefaultConfig() Config {
	return Config{
		BaseURL:                 "https://openapi.etsy.com/v3/application",
		AuthURL:                 "https://www.etsy.com/oauth/connect",
		TokenURL:                "https://api.etsy.com/v3/public/oauth/token",
		Timeout:                 DefaultTimeout,
		MaxAttempts:             DefaultMaxAttempts,
		BaseDelay:               DefaultBaseDelay,
		MaxDelay:                DefaultMaxDelay,
		RateLimit:               600,
		RateBurst:               5,
		BreakerFailureThreshold: 10,
		BreakerMinRequests:      20,
		BreakerRecoveryTime:     60 * time.Second,
		BreakerSamplingWindow:   60 * time.Second,
	}
}
