package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient provides a controllable Client implementation for tests and
// offline runs. Responses and errors are consumed in order.
type MockClient struct {
	mu            sync.Mutex
	responses     []CompletionResponse
	responseIndex int
	errs          []error
	errIndex      int
	requests      []CompletionRequest
}

// NewMockClient creates a mock with predefined responses and optional errors.
// A nil entry in errs means "no error for that call".
func NewMockClient(responses []CompletionResponse, errs []error) *MockClient {
	return &MockClient{responses: responses, errs: errs}
}

// Complete returns the next scripted response or error.
func (m *MockClient) Complete(_ context.Context, in CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, in)

	if m.errIndex < len(m.errs) {
		err := m.errs[m.errIndex]
		m.errIndex++
		if err != nil {
			return CompletionResponse{}, err
		}
	}

	if m.responseIndex >= len(m.responses) {
		return CompletionResponse{}, fmt.Errorf("mock client: no more responses")
	}
	resp := m.responses[m.responseIndex]
	m.responseIndex++
	return resp, nil
}

// ModelName returns a fixed identifier.
func (m *MockClient) ModelName() string {
	return "mock-model"
}

// Requests returns a copy of every request the mock has seen, for assertions
// on prompts and declared action sets.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many Complete calls the mock has served.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
