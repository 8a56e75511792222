package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/jonathan/storefront-agent/internal/metrics"
)

// Request is one model call made by an analysis, generation or quality collaborator
type Request struct {
	// Task labels the call in errors and metrics ("analysis", "outline", "section", "judge")
	Task   string
	Prompt string
	Tier   ModelTier
	// JSON asks the provider for an application/json response
	JSON bool
}

// Client is an abstraction over LLM providers
type Client interface {
	// Generate runs one prompt and returns the raw response text
	Generate(ctx context.Context, req Request) (string, error)
	// GetModel returns the provider model name configured for a tier
	GetModel(tier ModelTier) string
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a new LLM client based on configuration
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderGemini, "":
		return NewGeminiClient(ctx, config, apiKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", config.Provider)
	}
}

// correction is appended to the prompt when a structured reply could not be parsed
const correction = "\n\nYour previous reply was not a single valid JSON document. " +
	"Reply again with only the JSON, no prose and no code fences.\n"

// GenerateInto runs a JSON request and decodes the cleaned reply into out. A reply that does
// not parse is asked for once more with a correction; provider errors are returned as is.
func GenerateInto(ctx context.Context, c Client, req Request, out any) error {
	req.JSON = true
	text, err := c.Generate(ctx, req)
	if err != nil {
		return err
	}
	decodeErr := DecodeJSON(text, out)
	if decodeErr == nil {
		return nil
	}

	metrics.LLMRetries.WithLabelValues(req.Task).Inc()
	retry := req
	retry.Prompt = req.Prompt + correction
	text, err = c.Generate(ctx, retry)
	if err != nil {
		return err
	}
	if err := DecodeJSON(text, out); err != nil {
		return fmt.Errorf("%s: %w", req.Task, err)
	}
	return nil
}

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
	}, nil
}

// Generate runs req on the model configured for its tier
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	modelName := c.config.GetModel(req.Tier)
	if modelName == "" {
		return "", fmt.Errorf("no model configured for tier %s", req.Tier)
	}

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(c.config.TemperatureFor(req.Tier))
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("%s generation failed: %w", req.Task, err)
	}
	if resp.UsageMetadata != nil {
		metrics.ObserveLLMTokens(req.Task, string(req.Tier),
			resp.UsageMetadata.PromptTokenCount, resp.UsageMetadata.CandidatesTokenCount)
	}

	return extractTextFromResponse(resp)
}

// GetModel returns the model name for a tier
func (c *GeminiClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse joins the text parts of the first candidate
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response (finish reason %s)", candidate.FinishReason)
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}
