package services

import (
	"context"
	"testing"
	"time"

	"github.com/you/accountportal/domain"
	"github.com/you/accountportal/internal/mocks"
	"go.uber.org/zap"
)

const (
	testIdentifier = "9876543210"
	testSecret     = "secret123"
	testScope      = "dev-1"
)

// testPortal bundles a Portal with the mocks behind it
type testPortal struct {
	portal    *Portal
	store     *mocks.MockAccountStore
	risk      *mocks.MockRiskEvaluator
	passwords *mocks.MockPasswordService
	notifier  *mocks.MockNotificationService
	audit     *mocks.MockAuditLogger
	publisher *mocks.MockEventPublisher
	guard     *mocks.MockAttemptGuard
	cache     *mocks.MockSessionCache
}

// createPortalForTest creates a Portal with mock dependencies for testing
func createPortalForTest(t *testing.T) *testPortal {
	t.Helper()

	tp := &testPortal{
		store:     mocks.NewMockAccountStore(),
		risk:      mocks.NewMockRiskEvaluator(),
		passwords: mocks.NewMockPasswordService(),
		notifier:  mocks.NewMockNotificationService(),
		audit:     mocks.NewMockAuditLogger(),
		publisher: mocks.NewMockEventPublisher(),
		guard:     mocks.NewMockAttemptGuard(),
		cache:     mocks.NewMockSessionCache(),
	}
	tp.portal = NewPortal(PortalDeps{
		Store:     tp.store,
		Risk:      tp.risk,
		Passwords: tp.passwords,
		Notifier:  tp.notifier,
		Audit:     tp.audit,
		Publisher: tp.publisher,
		Guard:     tp.guard,
		Logger:    zap.NewNop(),
	}, PortalConfig{
		RiskTimeout:       200 * time.Millisecond,
		RiskThreshold:     0.7,
		ReconcileOnResume: true,
	})
	return tp
}

func (tp *testPortal) lifecycle() domain.AccountLifecycle {
	return tp.portal.Lifecycle(tp.cache, testScope)
}

func (tp *testPortal) profiles() domain.ProfileManager {
	return tp.portal.Profiles(tp.cache)
}

// createTestAccount creates a stored account whose secret matches testSecret under the mock hasher
func createTestAccount(t *testing.T) *domain.Account {
	t.Helper()

	return &domain.Account{
		Identifier:       testIdentifier,
		CredentialSecret: "hashed_" + testSecret,
		Profiles: []domain.Profile{
			{ID: "p-1", DisplayName: "Alice", AvatarRef: "avatar1"},
			{ID: "p-2", DisplayName: "Bob", AvatarRef: "avatar2"},
		},
		CreatedAt: time.Now().Add(-24 * time.Hour).UTC(),
		UpdatedAt: time.Now().Add(-1 * time.Hour).UTC(),
		Revision:  1,
	}
}

// seedSession stores account and caches its snapshot, as a completed login would
func seedSession(t *testing.T, tp *testPortal, account *domain.Account) {
	t.Helper()

	tp.store.Seed(account)
	if err := tp.cache.Set(context.Background(), domain.KeySnapshot, account.Snapshot()); err != nil {
		t.Fatalf("failed to cache snapshot: %v", err)
	}
}

// cachedSnapshot reads the cached snapshot, failing the test when it is absent
func cachedSnapshot(t *testing.T, tp *testPortal) *domain.SessionSnapshot {
	t.Helper()

	var snapshot domain.SessionSnapshot
	if !tp.cache.Get(context.Background(), domain.KeySnapshot, &snapshot) {
		t.Fatal("expected a cached snapshot")
	}
	return &snapshot
}

// assertAuthResult validates the structure and content of an AuthResult
func assertAuthResult(t *testing.T, result *domain.AuthResult, expected *domain.Account) {
	t.Helper()

	if result == nil {
		t.Fatal("AuthResult is nil")
	}
	if result.Account == nil {
		t.Fatal("AuthResult.Account is nil")
	}
	if result.Account.Identifier != expected.Identifier {
		t.Errorf("expected identifier %s, got %s", expected.Identifier, result.Account.Identifier)
	}
	if len(result.Account.Profiles) != len(expected.Profiles) {
		t.Fatalf("expected %d profiles, got %d", len(expected.Profiles), len(result.Account.Profiles))
	}
	for i, p := range expected.Profiles {
		if result.Account.Profiles[i] != p {
			t.Errorf("profile %d: expected %+v, got %+v", i, p, result.Account.Profiles[i])
		}
	}
}

// createTestContext creates a context for testing with timeout
func createTestContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
