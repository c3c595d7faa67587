package mocks

import (
	"context"
	"time"

	"github.com/you/accountportal/domain"
)

// MockRiskEvaluator implements domain.RiskEvaluator interface for testing
type MockRiskEvaluator struct {
	AssessFunc func(ctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error)
}

// NewMockRiskEvaluator creates a new MockRiskEvaluator with default behaviors
func NewMockRiskEvaluator() *MockRiskEvaluator {
	return &MockRiskEvaluator{}
}

// Assess scores a login attempt
func (m *MockRiskEvaluator) Assess(ctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error) {
	if m.AssessFunc != nil {
		return m.AssessFunc(ctx, identifier, at)
	}
	// Default behavior: nothing suspicious
	return domain.RiskAssessment{Suspicious: false, Reason: "normal activity", Score: 0.1}, nil
}

// Compile-time interface compliance verification
var _ domain.RiskEvaluator = (*MockRiskEvaluator)(nil)
