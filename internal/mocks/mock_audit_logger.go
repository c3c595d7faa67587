package mocks

import (
	"context"
	"sync"

	"github.com/you/accountportal/domain"
)

// MockAuditLogger implements domain.AuditLogger interface for testing
type MockAuditLogger struct {
	LogEventFunc func(ctx context.Context, event *domain.AuditEvent) error

	mu     sync.Mutex
	events []*domain.AuditEvent
}

// NewMockAuditLogger creates a new MockAuditLogger with default behaviors
func NewMockAuditLogger() *MockAuditLogger {
	return &MockAuditLogger{}
}

// LogEvent records the event
func (m *MockAuditLogger) LogEvent(ctx context.Context, event *domain.AuditEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()

	if m.LogEventFunc != nil {
		return m.LogEventFunc(ctx, event)
	}
	return nil
}

// Events returns the recorded events of the given type, or all events when none is given
func (m *MockAuditLogger) Events(types ...domain.AuditEventType) []*domain.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AuditEvent
	for _, e := range m.events {
		if len(types) == 0 {
			out = append(out, e)
			continue
		}
		for _, t := range types {
			if e.EventType == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// MockEventPublisher implements domain.EventPublisher interface for testing
type MockEventPublisher struct {
	PublishFunc func(ctx context.Context, event domain.AccountEvent) error

	mu        sync.Mutex
	published []domain.AccountEvent
}

// NewMockEventPublisher creates a new MockEventPublisher with default behaviors
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

// Publish records the event
func (m *MockEventPublisher) Publish(ctx context.Context, event domain.AccountEvent) error {
	m.mu.Lock()
	m.published = append(m.published, event)
	m.mu.Unlock()

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, event)
	}
	return nil
}

// Published returns every event passed to Publish
func (m *MockEventPublisher) Published() []domain.AccountEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AccountEvent, len(m.published))
	copy(out, m.published)
	return out
}

// Compile-time interface compliance verification
var (
	_ domain.AuditLogger    = (*MockAuditLogger)(nil)
	_ domain.EventPublisher = (*MockEventPublisher)(nil)
)
