package domain

import (
	"context"
	"time"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Identification and authentication events
	IdentificationEvent   AuditEventType = "IDENTIFICATION_STARTED"
	UserLoginEvent        AuditEventType = "USER_LOGIN"
	UserLoginFailureEvent AuditEventType = "USER_LOGIN_FAILED"
	AccountCreatedEvent   AuditEventType = "ACCOUNT_CREATED"
	UserLogoutEvent       AuditEventType = "USER_LOGOUT"
	RiskFlaggedEvent      AuditEventType = "LOGIN_RISK_FLAGGED"

	// Session events
	SessionRefreshedEvent AuditEventType = "SESSION_REFRESHED"
	SessionDiscardedEvent AuditEventType = "SESSION_DISCARDED"

	// Profile events
	ProfileSelectedEvent AuditEventType = "PROFILE_SELECTED"
	ProfileAddedEvent    AuditEventType = "PROFILE_ADDED"
	ProfileUpdatedEvent  AuditEventType = "PROFILE_UPDATED"
)

// AuditEvent represents a business event that occurred in the system
type AuditEvent struct {
	EventType  AuditEventType         `json:"event_type"`
	Identifier string                 `json:"identifier,omitempty"`
	ProfileID  string                 `json:"profile_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	DeviceID   string                 `json:"device_id,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	ErrorMsg   string                 `json:"error_msg,omitempty"`
	Success    bool                   `json:"success"`
}

// AuditLogger records audit events. Failures never fail the operation that produced the event.
type AuditLogger interface {
	LogEvent(ctx context.Context, event *AuditEvent) error
}

// ClientContext represents client information extracted from the HTTP request
type ClientContext struct {
	DeviceID  string
	IPAddress string
	UserAgent string
}

type clientContextKey struct{}

// WithClientContext attaches client information to ctx
func WithClientContext(ctx context.Context, cc *ClientContext) context.Context {
	return context.WithValue(ctx, clientContextKey{}, cc)
}

// ClientContextFrom extracts client information from ctx, or nil
func ClientContextFrom(ctx context.Context) *ClientContext {
	cc, _ := ctx.Value(clientContextKey{}).(*ClientContext)
	return cc
}

// NewAuditEvent creates a new audit event with common fields populated
func NewAuditEvent(eventType AuditEventType, identifier string) *AuditEvent {
	return &AuditEvent{
		EventType:  eventType,
		Identifier: identifier,
		Timestamp:  time.Now().UTC(),
		Metadata:   make(map[string]interface{}),
		Success:    true,
	}
}

// WithError sets error information on the audit event
func (e *AuditEvent) WithError(err error) *AuditEvent {
	e.Success = false
	if err != nil {
		e.ErrorMsg = err.Error()
	}
	return e
}

// WithProfile sets the profile field
func (e *AuditEvent) WithProfile(profileID string) *AuditEvent {
	e.ProfileID = profileID
	return e
}

// WithClientContext sets client context information
func (e *AuditEvent) WithClientContext(ctx *ClientContext) *AuditEvent {
	if ctx != nil {
		e.DeviceID = ctx.DeviceID
		e.IPAddress = ctx.IPAddress
		e.UserAgent = ctx.UserAgent
	}
	return e
}

// WithMetadata adds metadata to the event
func (e *AuditEvent) WithMetadata(key string, value interface{}) *AuditEvent {
	e.Metadata[key] = value
	return e
}

// AccountEventType names an integration event published for downstream consumers
type AccountEventType string

const (
	EventAccountCreated AccountEventType = "account.created"
	EventAccountLogin   AccountEventType = "account.login"
	EventProfileAdded   AccountEventType = "profile.added"
	EventProfileUpdated AccountEventType = "profile.updated"
)

// AccountEvent is the payload published on the account events topic
type AccountEvent struct {
	Type        AccountEventType `json:"type"`
	Identifier  string           `json:"identifier"`
	ProfileID   string           `json:"profile_id,omitempty"`
	RiskFlagged bool             `json:"risk_flagged,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// EventPublisher delivers account events. Delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event AccountEvent) error
}
