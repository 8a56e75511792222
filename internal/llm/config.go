// Package llm provides centralized LLM configuration and client abstractions used by the
// opportunity analyzer, the product generator and the quality judge.
package llm

import "os"

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for simple tasks: scoring, classification
	TierLite ModelTier = "lite"
	// TierStandard is for structured output: opportunity analysis
	TierStandard ModelTier = "standard"
	// TierAdvanced is for long-form product generation
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
)

// Config holds the model configuration for the application
type Config struct {
	Provider     Provider
	Models       map[ModelTier]string
	Temperatures map[ModelTier]float32
}

// DefaultConfig returns the default configuration (currently Gemini)
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Temperatures: map[ModelTier]float32{
			TierLite:     0.1,
			TierStandard: 0.3,
			TierAdvanced: 0.7,
		},
	}
}

// LoadFromEnv overlays GEMINI_MODEL_LITE, GEMINI_MODEL_STANDARD and GEMINI_MODEL_ADVANCED on
// the default configuration
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	for tier, key := range map[ModelTier]string{
		TierLite:     "GEMINI_MODEL_LITE",
		TierStandard: "GEMINI_MODEL_STANDARD",
		TierAdvanced: "GEMINI_MODEL_ADVANCED",
	} {
		if v := os.Getenv(key); v != "" {
			cfg = cfg.WithModel(tier, v)
		}
	}
	return cfg
}

// TemperatureFor returns the sampling temperature for a tier, 0.1 if unset
func (c *Config) TemperatureFor(tier ModelTier) float32 {
	if t, ok := c.Temperatures[tier]; ok {
		return t
	}
	return 0.1
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// Fallback chain: try standard, then lite
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return "" // No model configured
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := &Config{
		Provider:     c.Provider,
		Models:       make(map[ModelTier]string),
		Temperatures: make(map[ModelTier]float32),
	}
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	for k, v := range c.Temperatures {
		newConfig.Temperatures[k] = v
	}
	newConfig.Models[tier] = model
	return newConfig
}
