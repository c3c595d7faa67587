package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/you/accountportal/domain"
	"github.com/you/accountportal/internal/observability"
	"go.uber.org/zap"
)

// PortalDeps are the collaborators shared by every device's lifecycle.
// Risk, Notifier, Audit, Publisher, Guard and Logger are optional.
type PortalDeps struct {
	Store     domain.AccountStore
	Risk      domain.RiskEvaluator
	Passwords domain.PasswordService
	Notifier  domain.NotificationService
	Audit     domain.AuditLogger
	Publisher domain.EventPublisher
	Guard     domain.AttemptGuard
	Logger    *zap.Logger
}

// PortalConfig tunes authentication and resume behavior
type PortalConfig struct {
	RiskTimeout       time.Duration
	RiskThreshold     float64
	ReconcileOnResume bool
}

// Portal binds the shared collaborators to per-device session caches
type Portal struct {
	store     domain.AccountStore
	risk      domain.RiskEvaluator
	passwords domain.PasswordService
	notifier  domain.NotificationService
	audit     domain.AuditLogger
	publisher domain.EventPublisher
	guard     domain.AttemptGuard
	logger    *zap.Logger
	cfg       PortalConfig
}

// NewPortal creates a new portal
func NewPortal(deps PortalDeps, cfg PortalConfig) *Portal {
	if cfg.RiskTimeout <= 0 {
		cfg.RiskTimeout = 2 * time.Second
	}
	if cfg.RiskThreshold <= 0 {
		cfg.RiskThreshold = 0.7
	}
	guard := deps.Guard
	if guard == nil {
		guard = newLocalGuard()
	}
	return &Portal{
		store:     deps.Store,
		risk:      deps.Risk,
		passwords: deps.Passwords,
		notifier:  deps.Notifier,
		audit:     deps.Audit,
		publisher: deps.Publisher,
		guard:     guard,
		logger:    deps.Logger,
		cfg:       cfg,
	}
}

// Lifecycle returns the state machine of one device. scope keys the in-flight guard.
func (p *Portal) Lifecycle(cache domain.SessionCache, scope string) domain.AccountLifecycle {
	return &AccountLifecycleImpl{portal: p, cache: cache, scope: scope}
}

// Profiles returns the profile manager that keeps cache in step with the store
func (p *Portal) Profiles(cache domain.SessionCache) domain.ProfileManager {
	return &ProfileManagerImpl{portal: p, cache: cache}
}

func (p *Portal) log(ctx context.Context) *zap.Logger {
	if p.logger != nil {
		return p.logger
	}
	return observability.GetLogger(ctx)
}

// record writes an audit event; failures are logged and swallowed
func (p *Portal) record(ctx context.Context, event *domain.AuditEvent) {
	if p.audit == nil {
		return
	}
	event.WithClientContext(domain.ClientContextFrom(ctx))
	if err := p.audit.LogEvent(ctx, event); err != nil {
		p.log(ctx).Warn("failed to record audit event",
			zap.String("event_type", string(event.EventType)), zap.Error(err))
	}
}

// publish delivers an account event; failures are logged and swallowed
func (p *Portal) publish(ctx context.Context, event domain.AccountEvent) {
	if p.publisher == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.log(ctx).Warn("failed to publish account event",
			zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// loadAccount maps store failures onto the error kinds the lifecycle reports
func (p *Portal) loadAccount(ctx context.Context, identifier string) (*domain.Account, error) {
	account, err := p.store.Get(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, domain.StoreUnavailable(err)
	}
	return account, nil
}

// newProfileID generates a profile id that can never collide with the restricted one
func newProfileID() string {
	for {
		id := uuid.NewString()
		if id != domain.RestrictedProfileID {
			return id
		}
	}
}

// localGuard is the in-process AttemptGuard used when no shared guard is configured
type localGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLocalGuard() *localGuard {
	return &localGuard{held: make(map[string]struct{})}
}

func (g *localGuard) Acquire(ctx context.Context, scope, identifier string) (func(), error) {
	key := fmt.Sprintf("%s:%s", scope, identifier)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return nil, domain.ErrAuthenticationInFlight
	}
	g.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

var _ domain.AttemptGuard = (*localGuard)(nil)
