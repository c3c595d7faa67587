package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/you/accountportal/domain"
)

// MockAccountStore implements domain.AccountStore interface for testing.
// Without overrides it behaves like an in-memory store with revision bumps.
type MockAccountStore struct {
	GetFunc func(ctx context.Context, identifier string) (*domain.Account, error)
	PutFunc func(ctx context.Context, account *domain.Account) error

	mu       sync.Mutex
	accounts map[string]*domain.Account
	puts     int
}

// NewMockAccountStore creates a new MockAccountStore with default behaviors
func NewMockAccountStore() *MockAccountStore {
	return &MockAccountStore{accounts: make(map[string]*domain.Account)}
}

// Get returns a copy of the stored account
func (m *MockAccountStore) Get(ctx context.Context, identifier string) (*domain.Account, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, identifier)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Default behavior: in-memory lookup
	account, ok := m.accounts[identifier]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneAccount(account), nil
}

// Put upserts a copy of the account and bumps its revision
func (m *MockAccountStore) Put(ctx context.Context, account *domain.Account) error {
	m.mu.Lock()
	m.puts++
	m.mu.Unlock()

	if m.PutFunc != nil {
		return m.PutFunc(ctx, account)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Default behavior: in-memory upsert
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	account.Revision = 0
	if existing, ok := m.accounts[account.Identifier]; ok {
		account.CreatedAt = existing.CreatedAt
		account.Revision = existing.Revision
	}
	account.Revision++
	account.UpdatedAt = time.Now().UTC()
	m.accounts[account.Identifier] = cloneAccount(account)
	return nil
}

// Seed stores an account without counting it as a Put (test helper)
func (m *MockAccountStore) Seed(account *domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.Identifier] = cloneAccount(account)
}

// Stored returns the raw stored account, or nil (test helper)
func (m *MockAccountStore) Stored(identifier string) *domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.accounts[identifier]; ok {
		return cloneAccount(account)
	}
	return nil
}

// Puts reports how many times Put was called (test helper)
func (m *MockAccountStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func cloneAccount(a *domain.Account) *domain.Account {
	c := *a
	c.Profiles = make([]domain.Profile, len(a.Profiles))
	copy(c.Profiles, a.Profiles)
	return &c
}

// Compile-time interface compliance verification
var _ domain.AccountStore = (*MockAccountStore)(nil)
