package ai

import (
	"context"
	"sync"

	"newsletter-briefing/internal/service"
)

// MockAIClient is a mock implementation of AIClient for testing
type MockAIClient struct {
	GenerateFunc func(ctx context.Context, req service.GenerateRequest) (string, error)

	mu    sync.Mutex
	calls []service.GenerateRequest
}

func NewMockAIClient() *MockAIClient {
	return &MockAIClient{}
}

func (m *MockAIClient) Generate(ctx context.Context, req service.GenerateRequest) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}

	// Default mock behavior: echo the prompt
	return req.Prompt, nil
}

// Calls returns a copy of every request seen so far.
func (m *MockAIClient) Calls() []service.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]service.GenerateRequest(nil), m.calls...)
}
