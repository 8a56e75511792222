// Package config provides configuration loading and validation for the agent.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/storefront-agent/internal/marketplace"
)

// Config is the agent configuration. It can be loaded from a JSON file; environment
// variables override file values.
type Config struct {
	DatabaseURL string `json:"database_url,omitempty" validate:"omitempty,uri"`
	Port        int    `json:"port,omitempty" validate:"min=1,max=65535"`
	Verbose     bool   `json:"verbose,omitempty"`

	GeminiAPIKey   string `json:"gemini_api_key,omitempty"`
	SearchAPIKey   string `json:"search_api_key,omitempty"`
	SearchEngineID string `json:"search_engine_id,omitempty" validate:"required_with=SearchAPIKey"`

	BlobDir     string `json:"blob_dir,omitempty" validate:"required"`
	BlobBaseURL string `json:"blob_base_url,omitempty" validate:"required,url"`

	// ReconcileInterval is a Go duration string; "0" or empty disables scheduled reconciliation
	ReconcileInterval string `json:"reconcile_interval,omitempty" validate:"omitempty,duration"`

	// Disclosure is appended to every published listing description
	Disclosure string `json:"disclosure,omitempty"`

	JWTSecret          string `json:"jwt_secret,omitempty"`
	JWTExpirationHours int    `json:"jwt_expiration_hours,omitempty" validate:"min=1"`

	Marketplace MarketplaceConfig `json:"marketplace"`
}

// MarketplaceConfig holds the marketplace API settings
type MarketplaceConfig struct {
	BaseURL        string `json:"base_url,omitempty" validate:"omitempty,url"`
	TokenURL       string `json:"token_url,omitempty" validate:"omitempty,url"`
	AuthURL        string `json:"auth_url,omitempty" validate:"omitempty,url"`
	APIKey         string `json:"api_key,omitempty"`
	ShopID         int64  `json:"shop_id,omitempty" validate:"min=0"`
	RedirectURI    string `json:"redirect_uri,omitempty" validate:"omitempty,url"`
	StaticToken    string `json:"static_token,omitempty"`
	RateLimit      int    `json:"rate_limit,omitempty" validate:"min=0"`
	BreakerEnabled bool   `json:"breaker_enabled,omitempty"`
}

// Default returns the built-in defaults
func Default() Config {
	mc := marketplace.DefaultConfig()
	return Config{
		Port:               8080,
		BlobDir:            "data/files",
		BlobBaseURL:        "http://localhost:8080/files",
		ReconcileInterval:  "15m",
		JWTExpirationHours: 24,
		Marketplace: MarketplaceConfig{
			BaseURL:   mc.BaseURL,
			TokenURL:  mc.TokenURL,
			AuthURL:   mc.AuthURL,
			RateLimit: mc.RateLimit,
		},
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Load builds the effective configuration: defaults, then the optional file, then the
// environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg.MergeWithDefaults(cfg)
	}
	cfg = LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
// Bools cannot distinguish unset from false and are not merged.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	mergeString(&result.DatabaseURL, defaults.DatabaseURL)
	mergeString(&result.GeminiAPIKey, defaults.GeminiAPIKey)
	mergeString(&result.SearchAPIKey, defaults.SearchAPIKey)
	mergeString(&result.SearchEngineID, defaults.SearchEngineID)
	mergeString(&result.BlobDir, defaults.BlobDir)
	mergeString(&result.BlobBaseURL, defaults.BlobBaseURL)
	mergeString(&result.ReconcileInterval, defaults.ReconcileInterval)
	mergeString(&result.Disclosure, defaults.Disclosure)
	mergeString(&result.JWTSecret, defaults.JWTSecret)
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.JWTExpirationHours == 0 {
		result.JWTExpirationHours = defaults.JWTExpirationHours
	}

	m := &result.Marketplace
	mergeString(&m.BaseURL, defaults.Marketplace.BaseURL)
	mergeString(&m.TokenURL, defaults.Marketplace.TokenURL)
	mergeString(&m.AuthURL, defaults.Marketplace.AuthURL)
	mergeString(&m.APIKey, defaults.Marketplace.APIKey)
	mergeString(&m.RedirectURI, defaults.Marketplace.RedirectURI)
	mergeString(&m.StaticToken, defaults.Marketplace.StaticToken)
	if m.ShopID == 0 {
		m.ShopID = defaults.Marketplace.ShopID
	}
	if m.RateLimit == 0 {
		m.RateLimit = defaults.Marketplace.RateLimit
	}

	return result
}

func mergeString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// LoadFromEnv overlays environment variables on base
func LoadFromEnv(base Config) Config {
	c := base
	c.DatabaseURL = getString("DATABASE_URL", c.DatabaseURL)
	c.Port = getInt("PORT", c.Port)
	c.Verbose = getBool("VERBOSE", c.Verbose)
	c.GeminiAPIKey = getString("GEMINI_API_KEY", c.GeminiAPIKey)
	c.SearchAPIKey = getString("GOOGLE_SEARCH_API_KEY", c.SearchAPIKey)
	c.SearchEngineID = getString("GOOGLE_SEARCH_CX", c.SearchEngineID)
	c.BlobDir = getString("BLOB_DIR", c.BlobDir)
	c.BlobBaseURL = getString("BLOB_BASE_URL", c.BlobBaseURL)
	c.ReconcileInterval = getString("RECONCILE_INTERVAL", c.ReconcileInterval)
	c.Disclosure = getString("LISTING_DISCLOSURE", c.Disclosure)
	c.JWTSecret = getString("JWT_SECRET", c.JWTSecret)
	c.JWTExpirationHours = getInt("JWT_EXPIRATION_HOURS", c.JWTExpirationHours)

	m := &c.Marketplace
	m.BaseURL = getString("MARKETPLACE_BASE_URL", m.BaseURL)
	m.TokenURL = getString("MARKETPLACE_TOKEN_URL", m.TokenURL)
	m.AuthURL = getString("MARKETPLACE_AUTH_URL", m.AuthURL)
	m.APIKey = getString("MARKETPLACE_API_KEY", m.APIKey)
	m.ShopID = int64(getInt("MARKETPLACE_SHOP_ID", int(m.ShopID)))
	m.RedirectURI = getString("MARKETPLACE_REDIRECT_URI", m.RedirectURI)
	m.StaticToken = getString("MARKETPLACE_STATIC_TOKEN", m.StaticToken)
	m.RateLimit = getInt("MARKETPLACE_RATE_LIMIT", m.RateLimit)
	m.BreakerEnabled = getBool("MARKETPLACE_BREAKER_ENABLED", m.BreakerEnabled)
	return c
}

func getString(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d >= 0
	})
	return v
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

// ReconcileEvery returns the scheduled reconciliation interval, 0 when disabled
func (c *Config) ReconcileEvery() time.Duration {
	d, err := time.ParseDuration(c.ReconcileInterval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// MarketplaceClientConfig converts to the marketplace client settings
func (c *Config) MarketplaceClientConfig() marketplace.Config {
	mc := marketplace.DefaultConfig()
	m := c.Marketplace
	if m.BaseURL != "" {
		mc.BaseURL = m.BaseURL
	}
	if m.TokenURL != "" {
		mc.TokenURL = m.TokenURL
	}
	if m.AuthURL != "" {
		mc.AuthURL = m.AuthURL
	}
	mc.APIKey = m.APIKey
	mc.ShopID = m.ShopID
	mc.RedirectURI = m.RedirectURI
	mc.StaticToken = m.StaticToken
	mc.RateLimit = m.RateLimit
	mc.BreakerEnabled = m.BreakerEnabled
	return mc
}
