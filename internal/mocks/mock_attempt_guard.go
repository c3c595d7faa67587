package mocks

import (
	"context"
	"sync"

	"github.com/you/accountportal/domain"
)

// MockAttemptGuard implements domain.AttemptGuard interface for testing
type MockAttemptGuard struct {
	AcquireFunc func(ctx context.Context, scope, identifier string) (func(), error)

	mu   sync.Mutex
	held map[string]bool
}

// NewMockAttemptGuard creates a new MockAttemptGuard backed by an in-memory lock table
func NewMockAttemptGuard() *MockAttemptGuard {
	return &MockAttemptGuard{held: make(map[string]bool)}
}

// Acquire takes the slot for scope and identifier
func (m *MockAttemptGuard) Acquire(ctx context.Context, scope, identifier string) (func(), error) {
	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx, scope, identifier)
	}
	key := scope + "|" + identifier
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrAuthenticationInFlight
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		delete(m.held, key)
		m.mu.Unlock()
	}, nil
}

// Compile-time interface compliance verification
var _ domain.AttemptGuard = (*MockAttemptGuard)(nil)
