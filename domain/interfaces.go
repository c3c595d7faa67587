package domain

import (
	"context"
	"time"
)

// AccountStore is the remote document store keyed by mobile number.
// Get returns ErrNotFound when the account is absent; Put is a full-document upsert.
type AccountStore interface {
	Get(ctx context.Context, identifier string) (*Account, error)
	Put(ctx context.Context, account *Account) error
}

// RiskEvaluator scores a login attempt. Its verdict is advisory.
type RiskEvaluator interface {
	Assess(ctx context.Context, identifier string, at time.Time) (RiskAssessment, error)
}

// CacheKey names one entry of a device's session cache
type CacheKey string

const (
	KeySnapshot CacheKey = "snapshot"
	KeyPending  CacheKey = "pending"
	KeySelected CacheKey = "selected"
)

// SessionKeys lists every entry owned by the lifecycle; they are invalidated together
var SessionKeys = []CacheKey{KeySnapshot, KeyPending, KeySelected}

// CacheEntry is a value that can validate its own structure after being read back
type CacheEntry interface {
	Validate() error
}

// CacheChange describes a write made by another context sharing the same device scope
type CacheChange struct {
	Key     CacheKey  `json:"key"`
	Removed bool      `json:"removed"`
	Origin  string    `json:"origin,omitempty"`
	At      time.Time `json:"at"`
}

// SessionCache is the durable key/value store of one device scope.
// Get never fails: malformed or unreadable entries are reported as absent.
type SessionCache interface {
	Get(ctx context.Context, key CacheKey, dst CacheEntry) bool
	// Lookup is Get that also reports whether a malformed entry was found and removed.
	Lookup(ctx context.Context, key CacheKey, dst CacheEntry) (found, discarded bool)
	Set(ctx context.Context, key CacheKey, value CacheEntry) error
	Remove(ctx context.Context, keys ...CacheKey) error
	// OnExternalChange registers fn for changes made by other contexts. No keys means every key.
	OnExternalChange(ctx context.Context, fn func(CacheChange), keys ...CacheKey) (cancel func(), err error)
}

// SessionCacheProvider hands out device-scoped caches. listenerID identifies the calling context.
type SessionCacheProvider interface {
	ForDevice(deviceID, listenerID string) SessionCache
}

// AttemptGuard admits at most one authentication attempt per device scope and identifier.
// Acquire returns ErrAuthenticationInFlight while another attempt holds the slot.
type AttemptGuard interface {
	Acquire(ctx context.Context, scope, identifier string) (release func(), err error)
}

// AccountLifecycle is the session state machine
type AccountLifecycle interface {
	ResumeSession(ctx context.Context) (*SessionView, error)
	BeginIdentification(ctx context.Context, identifier string) (*IdentificationResult, error)
	PendingIdentifier(ctx context.Context) (string, bool)
	Authenticate(ctx context.Context, identifier, secret string) (*AuthResult, error)
	CreateAccount(ctx context.Context, identifier, secret, initialProfileName, avatarRef string) (*AuthResult, error)
	SelectProfile(ctx context.Context, profileID string) (*SessionView, error)
	Logout(ctx context.Context) error
}

// ProfileManager mutates the profiles of an account and keeps the session cache in step
type ProfileManager interface {
	AddProfile(ctx context.Context, identifier, name, avatarRef string) ([]Profile, error)
	EditProfile(ctx context.Context, identifier, profileID, name, avatarRef string) ([]Profile, error)
}

// PasswordService defines password operations
type PasswordService interface {
	Hash(password string) (string, error)
	Verify(hashedPassword, password string) bool
}

// DeviceTokenService issues and validates the signed token that names a device scope
type DeviceTokenService interface {
	Issue(deviceID string) (string, error)
	Validate(token string) (string, error)
}

// NotificationService defines notification operations
type NotificationService interface {
	SendSMS(to, message string) error
}

// NavigationPolicy decides which routes a lifecycle state may visit
type NavigationPolicy interface {
	Allow(state SessionState, route, method string) (bool, error)
	AddRule(state SessionState, route, method string) error
	RemoveRule(state SessionState, route, method string) error
	Rules() ([][]string, error)
}

// CasbinEnforcer interface defines the methods we need from Casbin enforcer
type CasbinEnforcer interface {
	AddPolicy(params ...interface{}) (bool, error)
	RemovePolicy(params ...interface{}) (bool, error)
	Enforce(rvals ...interface{}) (bool, error)
	GetPolicy() ([][]string, error)
}
