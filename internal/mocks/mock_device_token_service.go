package mocks

import (
	"errors"
	"strings"

	"github.com/you/accountportal/domain"
)

// MockDeviceTokenService implements domain.DeviceTokenService interface for testing
type MockDeviceTokenService struct {
	IssueFunc    func(deviceID string) (string, error)
	ValidateFunc func(token string) (string, error)
}

// NewMockDeviceTokenService creates a new MockDeviceTokenService with default behaviors
func NewMockDeviceTokenService() *MockDeviceTokenService {
	return &MockDeviceTokenService{}
}

// Issue returns "device:<id>" by default
func (m *MockDeviceTokenService) Issue(deviceID string) (string, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(deviceID)
	}
	return "device:" + deviceID, nil
}

// Validate accepts tokens produced by the default Issue
func (m *MockDeviceTokenService) Validate(token string) (string, error) {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(token)
	}
	if id, ok := strings.CutPrefix(token, "device:"); ok && id != "" {
		return id, nil
	}
	return "", errors.New("invalid device token")
}

// Compile-time interface compliance verification
var _ domain.DeviceTokenService = (*MockDeviceTokenService)(nil)
