// Package llmtest provides an llm.Client test double.
package llmtest

import (
	"context"
	"sync"

	"github.com/jonathan/storefront-agent/internal/llm"
)

// MockClient implements llm.Client. When GenerateFunc is nil, responses are served in order
// from Responses and the last one repeats.
type MockClient struct {
	GenerateFunc func(ctx context.Context, req llm.Request) (string, error)
	Responses    []string

	mu    sync.Mutex
	calls []llm.Request
}

// Generate records req and returns the configured response
func (m *MockClient) Generate(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	n := len(m.calls) - 1
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	if len(m.Responses) == 0 {
		return "{}", nil
	}
	if n >= len(m.Responses) {
		n = len(m.Responses) - 1
	}
	return m.Responses[n], nil
}

// GetModel returns a fixed model name
func (m *MockClient) GetModel(llm.ModelTier) string {
	return "mock-model"
}

// Close is a no-op
func (m *MockClient) Close() error {
	return nil
}

// Calls returns the recorded requests
func (m *MockClient) Calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.calls...)
}
