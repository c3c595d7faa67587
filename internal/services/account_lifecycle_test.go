package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/you/accountportal/domain"
	"github.com/you/accountportal/internal/mocks"
)

func TestAccountLifecycleImpl_ResumeSession(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(t *testing.T, tp *testPortal)
		expectedState domain.SessionState
		validate      func(t *testing.T, tp *testPortal, view *domain.SessionView)
	}{
		{
			name:          "empty cache is anonymous",
			setup:         func(t *testing.T, tp *testPortal) {},
			expectedState: domain.StateAnonymous,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if view.Snapshot != nil {
					t.Error("anonymous view must not carry a snapshot")
				}
			},
		},
		{
			name: "pending identification",
			setup: func(t *testing.T, tp *testPortal) {
				tp.cache.Set(context.Background(), domain.KeyPending, &domain.PendingIdentification{Identifier: testIdentifier, Exists: true})
			},
			expectedState: domain.StatePendingCredential,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if view.PendingIdentifier != testIdentifier {
					t.Errorf("expected pending identifier %s, got %q", testIdentifier, view.PendingIdentifier)
				}
			},
		},
		{
			name: "valid snapshot",
			setup: func(t *testing.T, tp *testPortal) {
				seedSession(t, tp, createTestAccount(t))
			},
			expectedState: domain.StateAuthenticated,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if view.Snapshot == nil || view.Snapshot.Identifier != testIdentifier {
					t.Fatalf("unexpected snapshot: %+v", view.Snapshot)
				}
				if len(view.Snapshot.Profiles) != 2 {
					t.Errorf("expected 2 profiles, got %d", len(view.Snapshot.Profiles))
				}
				if view.Snapshot.SelectedProfileID != "" || view.SelectedProfile != nil {
					t.Error("no profile should be selected")
				}
			},
		},
		{
			name: "snapshot with selection",
			setup: func(t *testing.T, tp *testPortal) {
				account := createTestAccount(t)
				seedSession(t, tp, account)
				tp.cache.Set(context.Background(), domain.KeySelected, &domain.ProfileSelection{Profile: account.Profiles[1]})
			},
			expectedState: domain.StateProfileSelected,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if view.SelectedProfile == nil || view.SelectedProfile.ID != "p-2" {
					t.Fatalf("expected p-2 to be selected, got %+v", view.SelectedProfile)
				}
				if view.Snapshot.SelectedProfileID != "p-2" {
					t.Errorf("expected snapshot to name p-2, got %q", view.Snapshot.SelectedProfileID)
				}
			},
		},
		{
			name: "malformed snapshot is discarded",
			setup: func(t *testing.T, tp *testPortal) {
				tp.cache.PutRaw(domain.KeySnapshot, `{"identifier":"98765"`)
			},
			expectedState: domain.StateAnonymous,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if _, ok := tp.cache.Raw(domain.KeySnapshot); ok {
					t.Error("malformed snapshot should be removed")
				}
			},
		},
		{
			name: "malformed snapshot beside a pending identification",
			setup: func(t *testing.T, tp *testPortal) {
				tp.cache.PutRaw(domain.KeySnapshot, `{"identifier":"98765"`)
				tp.cache.Set(context.Background(), domain.KeyPending, &domain.PendingIdentification{
					Identifier: testIdentifier,
					StartedAt:  time.Now().UTC(),
				})
			},
			expectedState: domain.StateAnonymous,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if view.PendingIdentifier != "" {
					t.Errorf("expected no pending identifier, got %q", view.PendingIdentifier)
				}
				if _, ok := tp.cache.Raw(domain.KeyPending); ok {
					t.Error("pending identification should be dropped with the session")
				}
			},
		},
		{
			name: "snapshot without profiles is discarded",
			setup: func(t *testing.T, tp *testPortal) {
				tp.cache.PutRaw(domain.KeySnapshot, `{"identifier":"9876543210","profiles":[]}`)
			},
			expectedState: domain.StateAnonymous,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if view.Snapshot != nil {
					t.Error("an invalid snapshot must never be treated as a session")
				}
			},
		},
		{
			name: "selection of an unknown profile is dropped",
			setup: func(t *testing.T, tp *testPortal) {
				seedSession(t, tp, createTestAccount(t))
				tp.cache.Set(context.Background(), domain.KeySelected, &domain.ProfileSelection{
					Profile: domain.Profile{ID: "p-9", DisplayName: "Ghost", AvatarRef: "avatar3"},
				})
			},
			expectedState: domain.StateAuthenticated,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if _, ok := tp.cache.Raw(domain.KeySelected); ok {
					t.Error("stale selection should be removed")
				}
			},
		},
		{
			name: "selection without a session is dropped",
			setup: func(t *testing.T, tp *testPortal) {
				tp.cache.Set(context.Background(), domain.KeySelected, &domain.ProfileSelection{
					Profile: domain.Profile{ID: "p-1", DisplayName: "Alice", AvatarRef: "avatar1"},
				})
			},
			expectedState: domain.StateAnonymous,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if _, ok := tp.cache.Raw(domain.KeySelected); ok {
					t.Error("orphaned selection should be removed")
				}
			},
		},
		{
			name: "selection with stale profile data is refreshed",
			setup: func(t *testing.T, tp *testPortal) {
				seedSession(t, tp, createTestAccount(t))
				tp.cache.Set(context.Background(), domain.KeySelected, &domain.ProfileSelection{
					Profile: domain.Profile{ID: "p-1", DisplayName: "Old Name", AvatarRef: "avatar5"},
				})
			},
			expectedState: domain.StateProfileSelected,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if view.SelectedProfile.DisplayName != "Alice" || view.SelectedProfile.AvatarRef != "avatar1" {
					t.Errorf("expected fresh profile data, got %+v", view.SelectedProfile)
				}
				var selection domain.ProfileSelection
				tp.cache.Get(context.Background(), domain.KeySelected, &selection)
				if selection.Profile.DisplayName != "Alice" {
					t.Errorf("expected cached selection to be refreshed, got %+v", selection.Profile)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := createPortalForTest(t)
			tt.setup(t, tp)

			view, err := tp.lifecycle().ResumeSession(createTestContext(t))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if view.State != tt.expectedState {
				t.Fatalf("expected state %s, got %s", tt.expectedState, view.State)
			}
			if tt.validate != nil {
				tt.validate(t, tp, view)
			}
		})
	}
}

func TestAccountLifecycleImpl_ResumeSession_Idempotent(t *testing.T) {
	tp := createPortalForTest(t)
	ctx := createTestContext(t)
	account := createTestAccount(t)
	seedSession(t, tp, account)
	tp.cache.Set(ctx, domain.KeySelected, &domain.ProfileSelection{Profile: account.Profiles[0]})

	lifecycle := tp.lifecycle()
	first, err := lifecycle.ResumeSession(ctx)
	if err != nil {
		t.Fatalf("first resume failed: %v", err)
	}
	writes := tp.cache.Writes()

	second, err := lifecycle.ResumeSession(ctx)
	if err != nil {
		t.Fatalf("second resume failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("resume is not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if tp.cache.Writes() != writes {
		t.Errorf("second resume should not write to the cache")
	}
}

func TestAccountLifecycleImpl_ResumeSession_Reconciles(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(t *testing.T, tp *testPortal)
		expectedState domain.SessionState
		validate      func(t *testing.T, tp *testPortal, view *domain.SessionView)
	}{
		{
			name: "newer stored revision refreshes the snapshot and selection",
			setup: func(t *testing.T, tp *testPortal) {
				account := createTestAccount(t)
				seedSession(t, tp, account)
				tp.cache.Set(context.Background(), domain.KeySelected, &domain.ProfileSelection{Profile: account.Profiles[0]})

				stored := createTestAccount(t)
				stored.Profiles[0].DisplayName = "Alicia"
				stored.Revision = 2
				tp.store.Seed(stored)
			},
			expectedState: domain.StateProfileSelected,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if view.Snapshot.Revision != 2 || view.Snapshot.Profiles[0].DisplayName != "Alicia" {
					t.Errorf("expected refreshed snapshot, got %+v", view.Snapshot)
				}
				if view.SelectedProfile.DisplayName != "Alicia" {
					t.Errorf("expected refreshed selection, got %+v", view.SelectedProfile)
				}
				if cached := cachedSnapshot(t, tp); cached.Revision != 2 {
					t.Errorf("expected cached revision 2, got %d", cached.Revision)
				}
				if len(tp.audit.Events(domain.SessionRefreshedEvent)) != 1 {
					t.Error("expected a session refreshed audit event")
				}
			},
		},
		{
			name: "selected profile missing from the stored record",
			setup: func(t *testing.T, tp *testPortal) {
				account := createTestAccount(t)
				seedSession(t, tp, account)
				tp.cache.Set(context.Background(), domain.KeySelected, &domain.ProfileSelection{Profile: account.Profiles[0]})

				stored := createTestAccount(t)
				stored.Profiles = stored.Profiles[1:]
				stored.Revision = 2
				tp.store.Seed(stored)
			},
			expectedState: domain.StateAuthenticated,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if len(view.Snapshot.Profiles) != 1 {
					t.Errorf("expected 1 profile, got %d", len(view.Snapshot.Profiles))
				}
				if _, ok := tp.cache.Raw(domain.KeySelected); ok {
					t.Error("selection of a removed profile should be dropped")
				}
			},
		},
		{
			name: "account no longer exists",
			setup: func(t *testing.T, tp *testPortal) {
				seedSession(t, tp, createTestAccount(t))
				tp.store.GetFunc = func(ctx context.Context, identifier string) (*domain.Account, error) {
					return nil, domain.ErrNotFound
				}
			},
			expectedState: domain.StateAnonymous,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if _, ok := tp.cache.Raw(domain.KeySnapshot); ok {
					t.Error("session of a missing account should be discarded")
				}
				if len(tp.audit.Events(domain.SessionDiscardedEvent)) != 1 {
					t.Error("expected a session discarded audit event")
				}
			},
		},
		{
			name: "store unavailable serves the cached snapshot",
			setup: func(t *testing.T, tp *testPortal) {
				seedSession(t, tp, createTestAccount(t))
				tp.store.GetFunc = func(ctx context.Context, identifier string) (*domain.Account, error) {
					return nil, domain.StoreUnavailable(errors.New("connection refused"))
				}
			},
			expectedState: domain.StateAuthenticated,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if view.Snapshot.Revision != 1 {
					t.Errorf("expected cached revision 1, got %d", view.Snapshot.Revision)
				}
			},
		},
		{
			name: "reconciliation disabled",
			setup: func(t *testing.T, tp *testPortal) {
				tp.portal.cfg.ReconcileOnResume = false
				seedSession(t, tp, createTestAccount(t))

				stored := createTestAccount(t)
				stored.Revision = 7
				tp.store.Seed(stored)
			},
			expectedState: domain.StateAuthenticated,
			validate: func(t *testing.T, tp *testPortal, view *domain.SessionView) {
				if view.Snapshot.Revision != 1 {
					t.Errorf("expected cached revision 1, got %d", view.Snapshot.Revision)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := createPortalForTest(t)
			tt.setup(t, tp)

			view, err := tp.lifecycle().ResumeSession(createTestContext(t))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if view.State != tt.expectedState {
				t.Fatalf("expected state %s, got %s", tt.expectedState, view.State)
			}
			tt.validate(t, tp, view)
		})
	}
}

func TestAccountLifecycleImpl_ResumeSession_AfterLostWrite(t *testing.T) {
	tp := createPortalForTest(t)
	ctx := createTestContext(t)
	seedSession(t, tp, createTestAccount(t))

	// Another device read the account before this one added a profile
	stale, err := tp.store.Get(ctx, testIdentifier)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if _, err := tp.profiles().AddProfile(ctx, testIdentifier, "FromA", "avatar3"); err != nil {
		t.Fatalf("add profile failed: %v", err)
	}

	stale.Profiles = append(stale.Profiles, domain.Profile{ID: "p-b", DisplayName: "FromB", AvatarRef: "avatar4"})
	if err := tp.store.Put(ctx, stale); err != nil {
		t.Fatalf("stale write failed: %v", err)
	}

	view, err := tp.lifecycle().ResumeSession(ctx)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	stored := tp.store.Stored(testIdentifier)
	if view.Snapshot.Revision != stored.Revision {
		t.Errorf("expected revision %d, got %d", stored.Revision, view.Snapshot.Revision)
	}
	if len(view.Snapshot.Profiles) != 3 || view.Snapshot.Profiles[2].DisplayName != "FromB" {
		t.Errorf("expected the stored profiles, got %+v", view.Snapshot.Profiles)
	}
	if _, ok := view.Snapshot.Profile("p-b"); !ok {
		t.Error("expected the other device's profile to be served")
	}
}

func TestAccountLifecycleImpl_LogoutThenResume(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, tp *testPortal)
	}{
		{name: "from anonymous", setup: func(t *testing.T, tp *testPortal) {}},
		{
			name: "from pending credential",
			setup: func(t *testing.T, tp *testPortal) {
				tp.store.Seed(createTestAccount(t))
				if _, err := tp.lifecycle().BeginIdentification(context.Background(), testIdentifier); err != nil {
					t.Fatalf("identification failed: %v", err)
				}
			},
		},
		{
			name: "from authenticated",
			setup: func(t *testing.T, tp *testPortal) {
				seedSession(t, tp, createTestAccount(t))
			},
		},
		{
			name: "from profile selected",
			setup: func(t *testing.T, tp *testPortal) {
				seedSession(t, tp, createTestAccount(t))
				if _, err := tp.lifecycle().SelectProfile(context.Background(), "p-1"); err != nil {
					t.Fatalf("select failed: %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := createPortalForTest(t)
			ctx := createTestContext(t)
			tt.setup(t, tp)
			lifecycle := tp.lifecycle()

			for i := 0; i < 2; i++ {
				if err := lifecycle.Logout(ctx); err != nil {
					t.Fatalf("logout #%d failed: %v", i+1, err)
				}
			}

			view, err := lifecycle.ResumeSession(ctx)
			if err != nil {
				t.Fatalf("resume failed: %v", err)
			}
			if view.State != domain.StateAnonymous || view.Snapshot != nil {
				t.Errorf("expected anonymous without snapshot, got %+v", view)
			}
			for _, key := range domain.SessionKeys {
				if _, ok := tp.cache.Raw(key); ok {
					t.Errorf("expected %s to be cleared", key)
				}
			}
		})
	}
}

func TestAccountLifecycleImpl_BeginIdentification(t *testing.T) {
	tests := []struct {
		name          string
		identifier    string
		setup         func(t *testing.T, tp *testPortal)
		expectedError error
		expectedNext  domain.NextStep
	}{
		{
			name:       "registered number continues to password",
			identifier: testIdentifier,
			setup: func(t *testing.T, tp *testPortal) {
				tp.store.Seed(createTestAccount(t))
			},
			expectedNext: domain.NextStepPassword,
		},
		{
			name:         "unknown number continues to signup",
			identifier:   "9999999999",
			setup:        func(t *testing.T, tp *testPortal) {},
			expectedNext: domain.NextStepSignup,
		},
		{
			name:          "malformed number",
			identifier:    "12345",
			setup:         func(t *testing.T, tp *testPortal) {},
			expectedError: domain.ErrInvalidIdentifier,
		},
		{
			name:       "store unavailable",
			identifier: testIdentifier,
			setup: func(t *testing.T, tp *testPortal) {
				tp.store.GetFunc = func(ctx context.Context, identifier string) (*domain.Account, error) {
					return nil, errors.New("connection refused")
				}
			},
			expectedError: domain.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := createPortalForTest(t)
			ctx := createTestContext(t)
			tt.setup(t, tp)
			lifecycle := tp.lifecycle()

			result, err := lifecycle.BeginIdentification(ctx, tt.identifier)

			if tt.expectedError != nil {
				if !errors.Is(err, tt.expectedError) {
					t.Fatalf("expected error %v, got %v", tt.expectedError, err)
				}
				if _, ok := tp.cache.Raw(domain.KeyPending); ok {
					t.Error("a failed identification must not touch the cache")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Next != tt.expectedNext {
				t.Errorf("expected next step %s, got %s", tt.expectedNext, result.Next)
			}
			if result.Exists != (tt.expectedNext == domain.NextStepPassword) {
				t.Errorf("unexpected exists flag %v", result.Exists)
			}

			pending, ok := lifecycle.PendingIdentifier(ctx)
			if !ok || pending != tt.identifier {
				t.Errorf("expected pending identifier %s, got %q", tt.identifier, pending)
			}

			view, _ := lifecycle.ResumeSession(ctx)
			if view.State != domain.StatePendingCredential {
				t.Errorf("expected pending credential state, got %s", view.State)
			}
		})
	}
}

func TestAccountLifecycleImpl_Authenticate(t *testing.T) {
	tests := []struct {
		name           string
		identifier     string
		secret         string
		setup          func(t *testing.T, tp *testPortal)
		expectedError  error
		expectedReason string
	}{
		{
			name:       "successful login",
			identifier: testIdentifier,
			secret:     testSecret,
			setup: func(t *testing.T, tp *testPortal) {
				tp.store.Seed(createTestAccount(t))
			},
		},
		{
			name:           "account not found",
			identifier:     "1111111111",
			secret:         testSecret,
			setup:          func(t *testing.T, tp *testPortal) {},
			expectedError:  domain.ErrNotFound,
			expectedReason: "not_found",
		},
		{
			name:       "wrong secret",
			identifier: testIdentifier,
			secret:     "wrong-secret",
			setup: func(t *testing.T, tp *testPortal) {
				tp.store.Seed(createTestAccount(t))
			},
			expectedError:  domain.ErrInvalidCredential,
			expectedReason: "invalid_credential",
		},
		{
			name:          "malformed identifier",
			identifier:    "98765-4321",
			secret:        testSecret,
			setup:         func(t *testing.T, tp *testPortal) {},
			expectedError: domain.ErrInvalidIdentifier,
		},
		{
			name:          "short secret",
			identifier:    testIdentifier,
			secret:        "12345",
			setup:         func(t *testing.T, tp *testPortal) {},
			expectedError: domain.ErrInvalidSecret,
		},
		{
			name:       "store unavailable",
			identifier: testIdentifier,
			secret:     testSecret,
			setup: func(t *testing.T, tp *testPortal) {
				tp.store.GetFunc = func(ctx context.Context, identifier string) (*domain.Account, error) {
					return nil, errors.New("i/o timeout")
				}
			},
			expectedError: domain.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := createPortalForTest(t)
			ctx := createTestContext(t)
			tt.setup(t, tp)
			lifecycle := tp.lifecycle()

			result, err := lifecycle.Authenticate(ctx, tt.identifier, tt.secret)

			if tt.expectedError != nil {
				if !errors.Is(err, tt.expectedError) {
					t.Fatalf("expected error %v, got %v", tt.expectedError, err)
				}
				if result != nil {
					t.Error("expected nil result on error")
				}
				if _, ok := tp.cache.Raw(domain.KeySnapshot); ok {
					t.Error("a failed login must not establish a session")
				}
				if tt.expectedReason != "" {
					failures := tp.audit.Events(domain.UserLoginFailureEvent)
					if len(failures) != 1 || failures[0].Metadata["reason"] != tt.expectedReason {
						t.Errorf("expected one failure audited with reason %s, got %+v", tt.expectedReason, failures)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			assertAuthResult(t, result, createTestAccount(t))
			if result.RiskFlagged {
				t.Error("default evaluator should not flag the login")
			}
			if result.Reason != "normal activity" {
				t.Errorf("expected evaluator reason, got %q", result.Reason)
			}

			raw, _ := tp.cache.Raw(domain.KeySnapshot)
			if strings.Contains(raw, "hashed_") {
				t.Error("credential secret must never reach the cache")
			}
			if len(tp.audit.Events(domain.UserLoginEvent)) != 1 {
				t.Error("expected a login audit event")
			}
			published := tp.publisher.Published()
			if len(published) != 1 || published[0].Type != domain.EventAccountLogin {
				t.Errorf("expected one login event, got %+v", published)
			}

			view, _ := lifecycle.ResumeSession(ctx)
			if view.State != domain.StateAuthenticated {
				t.Errorf("expected authenticated state, got %s", view.State)
			}
		})
	}
}

func TestAccountLifecycleImpl_Authenticate_FailuresAreIndistinguishable(t *testing.T) {
	tp := createPortalForTest(t)
	ctx := createTestContext(t)
	tp.store.Seed(createTestAccount(t))
	lifecycle := tp.lifecycle()

	_, notFound := lifecycle.Authenticate(ctx, "1111111111", testSecret)
	_, mismatch := lifecycle.Authenticate(ctx, testIdentifier, "wrong-secret")

	if !errors.Is(notFound, domain.ErrNotFound) || !errors.Is(mismatch, domain.ErrInvalidCredential) {
		t.Fatalf("unexpected errors: %v / %v", notFound, mismatch)
	}
	if domain.PublicMessage(notFound) != domain.PublicMessage(mismatch) {
		t.Errorf("public messages differ: %q vs %q", domain.PublicMessage(notFound), domain.PublicMessage(mismatch))
	}
}

func TestAccountLifecycleImpl_Authenticate_ClearsTransitionalEntries(t *testing.T) {
	tp := createPortalForTest(t)
	ctx := createTestContext(t)
	tp.store.Seed(createTestAccount(t))
	lifecycle := tp.lifecycle()

	if _, err := lifecycle.BeginIdentification(ctx, testIdentifier); err != nil {
		t.Fatalf("identification failed: %v", err)
	}
	tp.cache.Set(ctx, domain.KeySelected, &domain.ProfileSelection{
		Profile: domain.Profile{ID: "p-1", DisplayName: "Alice", AvatarRef: "avatar1"},
	})

	if _, err := lifecycle.Authenticate(ctx, testIdentifier, testSecret); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	if _, ok := lifecycle.PendingIdentifier(ctx); ok {
		t.Error("pending identifier should be cleared")
	}
	if _, ok := tp.cache.Raw(domain.KeySelected); ok {
		t.Error("a previous selection should not survive a new login")
	}
}

func TestAccountLifecycleImpl_Authenticate_RiskUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		assess func(ctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error)
	}{
		{
			name: "evaluator error",
			assess: func(ctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error) {
				return domain.RiskAssessment{}, errors.New("connection reset")
			},
		},
		{
			name: "evaluator timeout",
			assess: func(ctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error) {
				<-ctx.Done()
				return domain.RiskAssessment{}, ctx.Err()
			},
		},
		{
			name: "evaluator ignores its deadline",
			assess: func(ctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error) {
				time.Sleep(time.Second)
				return domain.RiskAssessment{Suspicious: true, Score: 1}, nil
			},
		},
		{
			name: "evaluator panics",
			assess: func(ctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error) {
				panic("scoring model not loaded")
			},
		},
		{
			name: "score out of range",
			assess: func(ctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error) {
				return domain.RiskAssessment{Suspicious: true, Reason: "bad", Score: 1.5}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := createPortalForTest(t)
			ctx := createTestContext(t)
			tp.store.Seed(createTestAccount(t))
			tp.risk.AssessFunc = tt.assess
			lifecycle := tp.lifecycle()

			result, err := lifecycle.Authenticate(ctx, testIdentifier, testSecret)
			if err != nil {
				t.Fatalf("evaluator failure must not fail authentication: %v", err)
			}
			if result.RiskFlagged {
				t.Error("expected riskFlagged false")
			}
			if result.Reason != domain.RiskUnavailableReason {
				t.Errorf("expected reason %q, got %q", domain.RiskUnavailableReason, result.Reason)
			}
			if result.RiskScore != 0 {
				t.Errorf("expected score 0, got %v", result.RiskScore)
			}

			view, _ := lifecycle.ResumeSession(ctx)
			if view.State != domain.StateAuthenticated {
				t.Errorf("expected authenticated state, got %s", view.State)
			}
		})
	}
}

func TestAccountLifecycleImpl_Authenticate_RiskFlagged(t *testing.T) {
	tests := []struct {
		name            string
		assessment      domain.RiskAssessment
		expectedFlagged bool
	}{
		{
			name:            "suspicious above threshold",
			assessment:      domain.RiskAssessment{Suspicious: true, Reason: "impossible travel", Score: 0.9},
			expectedFlagged: true,
		},
		{
			name:            "suspicious at threshold",
			assessment:      domain.RiskAssessment{Suspicious: true, Reason: "new device", Score: 0.7},
			expectedFlagged: true,
		},
		{
			name:       "suspicious below threshold",
			assessment: domain.RiskAssessment{Suspicious: true, Reason: "new device", Score: 0.5},
		},
		{
			name:       "high score without suspicion",
			assessment: domain.RiskAssessment{Suspicious: false, Reason: "busy hour", Score: 0.95},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := createPortalForTest(t)
			ctx := createTestContext(t)
			tp.store.Seed(createTestAccount(t))
			tp.risk.AssessFunc = func(ctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error) {
				return tt.assessment, nil
			}

			result, err := tp.lifecycle().Authenticate(ctx, testIdentifier, testSecret)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			assert.Equal(t, tt.expectedFlagged, result.RiskFlagged)
			assert.Equal(t, tt.assessment.Reason, result.Reason)
			assert.Equal(t, tt.assessment.Score, result.RiskScore)
			assert.NotNil(t, cachedSnapshot(t, tp), "a flagged login still establishes the session")

			if tt.expectedFlagged {
				assert.Len(t, tp.audit.Events(domain.RiskFlaggedEvent), 1)
				assert.Eventually(t, func() bool {
					sent := tp.notifier.Sent()
					return len(sent) == 1 && sent[0].To == testIdentifier
				}, time.Second, 10*time.Millisecond, "expected a risk alert SMS")
			} else {
				assert.Empty(t, tp.audit.Events(domain.RiskFlaggedEvent))
				assert.Empty(t, tp.notifier.Sent())
			}
		})
	}
}

func TestAccountLifecycleImpl_Authenticate_AlertFailureIsIgnored(t *testing.T) {
	tp := createPortalForTest(t)
	ctx := createTestContext(t)
	tp.store.Seed(createTestAccount(t))
	tp.risk.AssessFunc = func(ctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error) {
		return domain.RiskAssessment{Suspicious: true, Reason: "impossible travel", Score: 0.99}, nil
	}
	tp.notifier.SendSMSFunc = func(to, message string) error {
		return errors.New("twilio unreachable")
	}

	result, err := tp.lifecycle().Authenticate(ctx, testIdentifier, testSecret)
	if err != nil {
		t.Fatalf("alert failure must not fail authentication: %v", err)
	}
	if !result.RiskFlagged {
		t.Error("expected the login to be flagged")
	}
}

func TestAccountLifecycleImpl_Authenticate_InFlight(t *testing.T) {
	tp := createPortalForTest(t)
	ctx := createTestContext(t)
	account := createTestAccount(t)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	tp.store.GetFunc = func(ctx context.Context, identifier string) (*domain.Account, error) {
		once.Do(func() { close(entered) })
		<-proceed
		copied := *account
		return &copied, nil
	}
	lifecycle := tp.lifecycle()

	done := make(chan error, 1)
	go func() {
		_, err := lifecycle.Authenticate(ctx, testIdentifier, testSecret)
		done <- err
	}()
	<-entered

	if _, err := lifecycle.Authenticate(ctx, testIdentifier, testSecret); !errors.Is(err, domain.ErrAuthenticationInFlight) {
		t.Errorf("expected ErrAuthenticationInFlight, got %v", err)
	}

	close(proceed)
	if err := <-done; err != nil {
		t.Fatalf("first attempt failed: %v", err)
	}

	if _, err := lifecycle.Authenticate(ctx, testIdentifier, testSecret); err != nil {
		t.Errorf("attempt after completion should succeed: %v", err)
	}
}

func TestAccountLifecycleImpl_Authenticate_CancelledLeavesCacheUntouched(t *testing.T) {
	tp := createPortalForTest(t)
	tp.store.Seed(createTestAccount(t))
	lifecycle := tp.lifecycle()

	if _, err := lifecycle.BeginIdentification(context.Background(), testIdentifier); err != nil {
		t.Fatalf("identification failed: %v", err)
	}
	writes := tp.cache.Writes()

	ctx, cancel := context.WithCancel(context.Background())
	tp.risk.AssessFunc = func(rctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error) {
		// The user navigates away while the evaluator is working
		cancel()
		<-rctx.Done()
		return domain.RiskAssessment{}, rctx.Err()
	}

	_, err := lifecycle.Authenticate(ctx, testIdentifier, testSecret)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tp.cache.Writes() != writes {
		t.Error("a cancelled login must not write to the cache")
	}
	if pending, ok := lifecycle.PendingIdentifier(context.Background()); !ok || pending != testIdentifier {
		t.Error("pending identification should survive a cancelled login")
	}

	tp.risk.AssessFunc = nil
	if _, err := lifecycle.Authenticate(context.Background(), testIdentifier, testSecret); err != nil {
		t.Errorf("guard should be released after cancellation: %v", err)
	}
}

func TestAccountLifecycleImpl_CreateAccount_RoundTrip(t *testing.T) {
	tp := createPortalForTest(t)
	ctx := createTestContext(t)
	lifecycle := tp.lifecycle()

	if _, err := lifecycle.BeginIdentification(ctx, "9999999999"); err != nil {
		t.Fatalf("identification failed: %v", err)
	}

	created, err := lifecycle.CreateAccount(ctx, "9999999999", "secret1", "Alice", "avatar1")
	if err != nil {
		t.Fatalf("create account failed: %v", err)
	}
	if len(created.Account.Profiles) != 1 {
		t.Fatalf("expected exactly one profile, got %d", len(created.Account.Profiles))
	}
	profile := created.Account.Profiles[0]
	if profile.ID == "" || profile.ID == domain.RestrictedProfileID {
		t.Errorf("unexpected generated profile id %q", profile.ID)
	}
	if _, ok := lifecycle.PendingIdentifier(ctx); ok {
		t.Error("pending identifier should be cleared after signup")
	}

	stored := tp.store.Stored("9999999999")
	if stored == nil || stored.CredentialSecret != "hashed_secret1" {
		t.Fatalf("expected hashed secret in store, got %+v", stored)
	}

	if err := lifecycle.Logout(ctx); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	result, err := lifecycle.Authenticate(ctx, "9999999999", "secret1")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if result.Account.Profiles[0].DisplayName != "Alice" {
		t.Errorf("expected profile Alice, got %s", result.Account.Profiles[0].DisplayName)
	}

	if len(tp.audit.Events(domain.AccountCreatedEvent)) != 1 {
		t.Error("expected an account created audit event")
	}
	published := tp.publisher.Published()
	if len(published) != 2 || published[0].Type != domain.EventAccountCreated || published[0].ProfileID != profile.ID {
		t.Errorf("unexpected published events: %+v", published)
	}
}

func TestAccountLifecycleImpl_CreateAccount(t *testing.T) {
	tests := []struct {
		name          string
		secret        string
		profileName   string
		avatarRef     string
		setup         func(t *testing.T, tp *testPortal)
		expectedError error
		validate      func(t *testing.T, tp *testPortal, result *domain.AuthResult)
	}{
		{
			name:        "name is trimmed and avatar URL resolves to its id",
			secret:      "secret1",
			profileName: "  Alice  ",
			avatarRef:   domain.Avatars()[2].URL,
			setup:       func(t *testing.T, tp *testPortal) {},
			validate: func(t *testing.T, tp *testPortal, result *domain.AuthResult) {
				p := result.Account.Profiles[0]
				if p.DisplayName != "Alice" || p.AvatarRef != "avatar3" {
					t.Errorf("unexpected profile %+v", p)
				}
			},
		},
		{
			name:        "already registered",
			secret:      "secret1",
			profileName: "Alice",
			avatarRef:   "avatar1",
			setup: func(t *testing.T, tp *testPortal) {
				account := createTestAccount(t)
				account.Identifier = "9999999999"
				tp.store.Seed(account)
			},
			expectedError: domain.ErrAlreadyRegistered,
		},
		{
			name:          "avatar outside the catalog",
			secret:        "secret1",
			profileName:   "Alice",
			avatarRef:     "https://example.com/me.png",
			setup:         func(t *testing.T, tp *testPortal) {},
			expectedError: domain.ErrInvalidAvatar,
		},
		{
			name:          "blank profile name",
			secret:        "secret1",
			profileName:   "   ",
			avatarRef:     "avatar1",
			setup:         func(t *testing.T, tp *testPortal) {},
			expectedError: domain.ErrInvalidProfileName,
		},
		{
			name:          "profile name too long",
			secret:        "secret1",
			profileName:   strings.Repeat("a", domain.MaxDisplayNameLength+1),
			avatarRef:     "avatar1",
			setup:         func(t *testing.T, tp *testPortal) {},
			expectedError: domain.ErrInvalidProfileName,
		},
		{
			name:          "short secret",
			secret:        "abc",
			profileName:   "Alice",
			avatarRef:     "avatar1",
			setup:         func(t *testing.T, tp *testPortal) {},
			expectedError: domain.ErrInvalidSecret,
		},
		{
			name:        "store write fails",
			secret:      "secret1",
			profileName: "Alice",
			avatarRef:   "avatar1",
			setup: func(t *testing.T, tp *testPortal) {
				tp.store.PutFunc = func(ctx context.Context, account *domain.Account) error {
					return errors.New("write timeout")
				}
			},
			expectedError: domain.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := createPortalForTest(t)
			ctx := createTestContext(t)
			tt.setup(t, tp)

			result, err := tp.lifecycle().CreateAccount(ctx, "9999999999", tt.secret, tt.profileName, tt.avatarRef)

			if tt.expectedError != nil {
				if !errors.Is(err, tt.expectedError) {
					t.Fatalf("expected error %v, got %v", tt.expectedError, err)
				}
				if _, ok := tp.cache.Raw(domain.KeySnapshot); ok {
					t.Error("a failed signup must not establish a session")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.validate(t, tp, result)
		})
	}
}

func TestAccountLifecycleImpl_CreateAccount_HashFailure(t *testing.T) {
	tp := createPortalForTest(t)
	tp.passwords.HashFunc = func(password string) (string, error) {
		return "", errors.New("bcrypt: cost out of range")
	}

	_, err := tp.lifecycle().CreateAccount(createTestContext(t), "9999999999", "secret1", "Alice", "avatar1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if tp.store.Puts() != 0 {
		t.Error("nothing should be stored when hashing fails")
	}
}

func TestAccountLifecycleImpl_SelectProfile(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		tp := createPortalForTest(t)

		_, err := tp.lifecycle().SelectProfile(createTestContext(t), "p-1")
		if !errors.Is(err, domain.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("unknown profile leaves the selection unchanged", func(t *testing.T) {
		tp := createPortalForTest(t)
		ctx := createTestContext(t)
		seedSession(t, tp, createTestAccount(t))
		lifecycle := tp.lifecycle()

		if _, err := lifecycle.SelectProfile(ctx, "p-1"); err != nil {
			t.Fatalf("select failed: %v", err)
		}
		before, _ := tp.cache.Raw(domain.KeySelected)

		if _, err := lifecycle.SelectProfile(ctx, "p-9"); !errors.Is(err, domain.ErrUnknownProfile) {
			t.Fatalf("expected ErrUnknownProfile, got %v", err)
		}

		after, _ := tp.cache.Raw(domain.KeySelected)
		if before != after {
			t.Errorf("selection changed:\nbefore: %s\nafter:  %s", before, after)
		}
	})

	t.Run("selects a profile", func(t *testing.T) {
		tp := createPortalForTest(t)
		ctx := createTestContext(t)
		seedSession(t, tp, createTestAccount(t))
		lifecycle := tp.lifecycle()

		view, err := lifecycle.SelectProfile(ctx, "p-2")
		if err != nil {
			t.Fatalf("select failed: %v", err)
		}
		if view.State != domain.StateProfileSelected || view.SelectedProfile.DisplayName != "Bob" {
			t.Errorf("unexpected view %+v", view)
		}
		if view.Snapshot.SelectedProfileID != "p-2" {
			t.Errorf("expected snapshot to name p-2, got %q", view.Snapshot.SelectedProfileID)
		}

		resumed, _ := lifecycle.ResumeSession(ctx)
		if resumed.State != domain.StateProfileSelected || resumed.SelectedProfile.ID != "p-2" {
			t.Errorf("selection did not survive resume: %+v", resumed)
		}
		if events := tp.audit.Events(domain.ProfileSelectedEvent); len(events) != 1 || events[0].ProfileID != "p-2" {
			t.Errorf("expected one profile selected event, got %+v", events)
		}
	})
}

func TestPortal_OptionalDependencies(t *testing.T) {
	store := mocks.NewMockAccountStore()
	store.Seed(createTestAccount(t))
	portal := NewPortal(PortalDeps{Store: store, Passwords: mocks.NewMockPasswordService()}, PortalConfig{})

	result, err := portal.Lifecycle(mocks.NewMockSessionCache(), testScope).Authenticate(createTestContext(t), testIdentifier, testSecret)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if result.RiskFlagged || result.Reason != domain.RiskUnavailableReason {
		t.Errorf("without an evaluator the verdict should be unavailable, got %+v", result)
	}
}

func TestLocalGuard(t *testing.T) {
	guard := newLocalGuard()
	ctx := context.Background()

	release, err := guard.Acquire(ctx, "dev-1", testIdentifier)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := guard.Acquire(ctx, "dev-1", testIdentifier); !errors.Is(err, domain.ErrAuthenticationInFlight) {
		t.Errorf("expected ErrAuthenticationInFlight, got %v", err)
	}
	other, err := guard.Acquire(ctx, "dev-2", testIdentifier)
	if err != nil {
		t.Errorf("another scope must not be blocked: %v", err)
	} else {
		other()
	}

	release()
	release()

	again, err := guard.Acquire(ctx, "dev-1", testIdentifier)
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	again()
}
