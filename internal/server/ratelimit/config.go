// Package ratelimit throttles API clients per endpoint with token buckets.
package ratelimit

import (
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Exact path, or a prefix when it ends with "/"
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	EndpointConfigs []EndpointConfig
}

// DefaultConfig limits the phase triggers, which start LLM and marketplace work, much more
// tightly than reads.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    600,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the per-endpoint limits
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		{Path: "/research", Method: "POST", Limit: 10, Window: time.Hour, Burst: 2},
		{Path: "/generations", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},
		{Path: "/entities/", Method: "POST", Limit: 60, Window: time.Hour, Burst: 10},
		{Path: "/reconcile", Method: "POST", Limit: 12, Window: time.Hour, Burst: 2},
	}
}

// MatchEndpoint returns the config for a request, nil for the default, or an unlimited config
// for the health check.
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	if path == "/health" && method == "GET" {
		return &EndpointConfig{}
	}

	for i := range configs {
		config := &configs[i]
		if config.Path == path && config.Method == method {
			return config
		}
	}

	for i := range configs {
		config := &configs[i]
		if config.Method == method && strings.HasSuffix(config.Path, "/") && strings.HasPrefix(path, config.Path) {
			return config
		}
	}

	return nil
}
