package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/you/accountportal/domain"
)

// MockSessionCache implements domain.SessionCache interface for testing.
// Values are stored as JSON so reads go through the same decode and validate path as Redis.
// SetFunc and RemoveFunc run first; a non-nil error aborts the write.
type MockSessionCache struct {
	SetFunc    func(ctx context.Context, key domain.CacheKey, value domain.CacheEntry) error
	RemoveFunc func(ctx context.Context, keys ...domain.CacheKey) error

	mu        sync.Mutex
	entries   map[domain.CacheKey][]byte
	listeners map[int]func(domain.CacheChange)
	nextID    int
	writes    int
}

// NewMockSessionCache creates a new MockSessionCache with default behaviors
func NewMockSessionCache() *MockSessionCache {
	return &MockSessionCache{
		entries:   make(map[domain.CacheKey][]byte),
		listeners: make(map[int]func(domain.CacheChange)),
	}
}

// Get decodes and validates an entry; malformed entries are dropped
func (m *MockSessionCache) Get(ctx context.Context, key domain.CacheKey, dst domain.CacheEntry) bool {
	found, _ := m.Lookup(ctx, key, dst)
	return found
}

// Lookup is Get that also reports a dropped entry
func (m *MockSessionCache) Lookup(ctx context.Context, key domain.CacheKey, dst domain.CacheEntry) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[key]
	if !ok {
		return false, false
	}
	if err := json.Unmarshal(data, dst); err != nil || dst.Validate() != nil {
		delete(m.entries, key)
		return false, true
	}
	return true, false
}

// Set validates and stores an entry
func (m *MockSessionCache) Set(ctx context.Context, key domain.CacheKey, value domain.CacheEntry) error {
	if m.SetFunc != nil {
		if err := m.SetFunc(ctx, key, value); err != nil {
			return err
		}
	}
	if err := value.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = data
	m.writes++
	m.mu.Unlock()
	return nil
}

// Remove deletes entries
func (m *MockSessionCache) Remove(ctx context.Context, keys ...domain.CacheKey) error {
	if m.RemoveFunc != nil {
		if err := m.RemoveFunc(ctx, keys...); err != nil {
			return err
		}
	}
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.writes++
	m.mu.Unlock()
	return nil
}

// OnExternalChange registers fn; use Emit to simulate another context writing
func (m *MockSessionCache) OnExternalChange(ctx context.Context, fn func(domain.CacheChange), keys ...domain.CacheKey) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}, nil
}

// Emit delivers a change to every registered listener (test helper)
func (m *MockSessionCache) Emit(key domain.CacheKey, removed bool) {
	m.mu.Lock()
	fns := make([]func(domain.CacheChange), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(domain.CacheChange{Key: key, Removed: removed, Origin: "other", At: time.Now().UTC()})
	}
}

// Listeners reports how many change listeners are registered (test helper)
func (m *MockSessionCache) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// PutRaw stores bytes without validation (test helper for corrupt entries)
func (m *MockSessionCache) PutRaw(key domain.CacheKey, raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = []byte(raw)
}

// Raw returns the stored bytes for key (test helper)
func (m *MockSessionCache) Raw(key domain.CacheKey) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[key]
	return string(data), ok
}

// Writes reports how many Set and Remove calls changed the cache (test helper)
func (m *MockSessionCache) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// MockSessionCacheProvider hands out one MockSessionCache per device
type MockSessionCacheProvider struct {
	mu     sync.Mutex
	caches map[string]*MockSessionCache
}

// NewMockSessionCacheProvider creates a new provider
func NewMockSessionCacheProvider() *MockSessionCacheProvider {
	return &MockSessionCacheProvider{caches: make(map[string]*MockSessionCache)}
}

// ForDevice returns the device's cache, creating it on first use
func (p *MockSessionCacheProvider) ForDevice(deviceID, listenerID string) domain.SessionCache {
	return p.Device(deviceID)
}

// Device is ForDevice with the concrete type (test helper)
func (p *MockSessionCacheProvider) Device(deviceID string) *MockSessionCache {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.caches[deviceID]
	if !ok {
		c = NewMockSessionCache()
		p.caches[deviceID] = c
	}
	return c
}

// Compile-time interface compliance verification
var (
	_ domain.SessionCache         = (*MockSessionCache)(nil)
	_ domain.SessionCacheProvider = (*MockSessionCacheProvider)(nil)
)
