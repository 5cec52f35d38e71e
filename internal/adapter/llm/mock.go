package llm

import (
	"context"
	"strings"
	"sync"
)

// MockGenerator answers from a callback, defaulting to echoing the user text.
type MockGenerator struct {
	mu    sync.Mutex
	fn    func(system []string, user string) (string, error)
	calls []MockCall
}

// MockCall records one Generate invocation.
type MockCall struct {
	System []string
	User   string
}

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Respond replaces the answer function. It may be called concurrently.
func (m *MockGenerator) Respond(fn func(system []string, user string) (string, error)) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

func (m *MockGenerator) Generate(ctx context.Context, system []string, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{System: append([]string(nil), system...), User: user})
	fn := m.fn
	m.mu.Unlock()

	if fn == nil {
		return "mock: " + strings.TrimSpace(user), nil
	}
	return fn(system, user)
}

// Calls returns a copy of the recorded invocations.
func (m *MockGenerator) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

func (m *MockGenerator) ModelName() string {
	return "mock"
}
