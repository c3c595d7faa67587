package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/you/accountportal/domain"
	"github.com/you/accountportal/internal/observability"
	"go.uber.org/zap"
)

const riskAlertMessage = "We noticed an unusual sign-in to your account. If this wasn't you, please change your password."

// AccountLifecycleImpl implements domain.AccountLifecycle for one device scope
type AccountLifecycleImpl struct {
	portal *Portal
	cache  domain.SessionCache
	scope  string
}

// ResumeSession implements domain.AccountLifecycle
func (l *AccountLifecycleImpl) ResumeSession(ctx context.Context) (*domain.SessionView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snapshot domain.SessionSnapshot
	found, discarded := l.cache.Lookup(ctx, domain.KeySnapshot, &snapshot)
	if !found {
		// A selection without a session belongs to nobody
		l.dropSelection(ctx)

		// An unreadable session ends in anonymous, whatever else is cached
		if discarded {
			observability.DiscardedEntriesTotal.Inc()
			if err := l.cache.Remove(ctx, domain.KeyPending); err != nil {
				l.portal.log(ctx).Warn("failed to drop pending identification", zap.Error(err))
			}
			return l.transition("resume", &domain.SessionView{State: domain.StateAnonymous}), nil
		}

		var pending domain.PendingIdentification
		if l.cache.Get(ctx, domain.KeyPending, &pending) {
			return l.transition("resume", &domain.SessionView{
				State:             domain.StatePendingCredential,
				PendingIdentifier: pending.Identifier,
			}), nil
		}
		return l.transition("resume", &domain.SessionView{State: domain.StateAnonymous}), nil
	}

	current := &snapshot
	if l.portal.cfg.ReconcileOnResume {
		fresh, ok := l.reconcile(ctx, current)
		if !ok {
			return l.transition("resume", &domain.SessionView{State: domain.StateAnonymous}), nil
		}
		current = fresh
	}

	view := &domain.SessionView{State: domain.StateAuthenticated, Snapshot: current}

	var selection domain.ProfileSelection
	if l.cache.Get(ctx, domain.KeySelected, &selection) {
		profile, ok := current.Profile(selection.Profile.ID)
		if !ok {
			l.dropSelection(ctx)
			return l.transition("resume", view), nil
		}
		if profile != selection.Profile {
			selection.Profile = profile
			if err := l.cache.Set(ctx, domain.KeySelected, &selection); err != nil {
				l.portal.log(ctx).Warn("failed to refresh cached selection", zap.Error(err))
			}
		}
		current.SelectedProfileID = profile.ID
		view.State = domain.StateProfileSelected
		view.SelectedProfile = &profile
	}

	return l.transition("resume", view), nil
}

// reconcile compares the cached snapshot with the store. It reports false when the
// account is gone and the session was discarded.
func (l *AccountLifecycleImpl) reconcile(ctx context.Context, cached *domain.SessionSnapshot) (*domain.SessionSnapshot, bool) {
	logger := l.portal.log(ctx)

	account, err := l.portal.store.Get(ctx, cached.Identifier)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("cached account no longer exists, discarding session")
		if err := l.cache.Remove(ctx, domain.SessionKeys...); err != nil {
			logger.Warn("failed to discard session", zap.Error(err))
		}
		observability.DiscardedEntriesTotal.Inc()
		l.portal.record(ctx, domain.NewAuditEvent(domain.SessionDiscardedEvent, cached.Identifier).
			WithMetadata("reason", "account_missing"))
		return nil, false
	case err != nil:
		logger.Warn("account store unreachable, serving cached snapshot", zap.Error(err))
		return cached, true
	}

	if account.Revision == cached.Revision {
		return cached, true
	}

	fresh := account.Snapshot()
	if err := fresh.Validate(); err != nil {
		logger.Warn("stored account fails validation, keeping cached snapshot", zap.Error(err))
		return cached, true
	}
	if err := l.cache.Set(ctx, domain.KeySnapshot, fresh); err != nil {
		logger.Warn("failed to refresh cached snapshot", zap.Error(err))
	}
	l.portal.record(ctx, domain.NewAuditEvent(domain.SessionRefreshedEvent, cached.Identifier).
		WithMetadata("from_revision", cached.Revision).
		WithMetadata("to_revision", fresh.Revision))
	return fresh, true
}

func (l *AccountLifecycleImpl) dropSelection(ctx context.Context) {
	var selection domain.ProfileSelection
	if !l.cache.Get(ctx, domain.KeySelected, &selection) {
		return
	}
	if err := l.cache.Remove(ctx, domain.KeySelected); err != nil {
		l.portal.log(ctx).Warn("failed to drop stale selection", zap.Error(err))
	}
}

// BeginIdentification implements domain.AccountLifecycle
func (l *AccountLifecycleImpl) BeginIdentification(ctx context.Context, identifier string) (*domain.IdentificationResult, error) {
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return nil, err
	}

	exists := true
	if _, err := l.portal.loadAccount(ctx, identifier); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		exists = false
	}

	pending := &domain.PendingIdentification{
		Identifier: identifier,
		Exists:     exists,
		StartedAt:  time.Now().UTC(),
	}
	if err := l.cache.Set(ctx, domain.KeyPending, pending); err != nil {
		return nil, err
	}

	l.portal.record(ctx, domain.NewAuditEvent(domain.IdentificationEvent, identifier).
		WithMetadata("exists", exists))
	l.transition("identify", &domain.SessionView{State: domain.StatePendingCredential})

	next := domain.NextStepPassword
	if !exists {
		next = domain.NextStepSignup
	}
	return &domain.IdentificationResult{Identifier: identifier, Exists: exists, Next: next}, nil
}

// PendingIdentifier implements domain.AccountLifecycle
func (l *AccountLifecycleImpl) PendingIdentifier(ctx context.Context) (string, bool) {
	var pending domain.PendingIdentification
	if !l.cache.Get(ctx, domain.KeyPending, &pending) {
		return "", false
	}
	return pending.Identifier, true
}

// Authenticate implements domain.AccountLifecycle
func (l *AccountLifecycleImpl) Authenticate(ctx context.Context, identifier, secret string) (*domain.AuthResult, error) {
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	if err := domain.ValidateSecret(secret); err != nil {
		return nil, err
	}

	release, err := l.portal.guard.Acquire(ctx, l.scope, identifier)
	if err != nil {
		return nil, err
	}
	defer release()

	account, err := l.portal.loadAccount(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			l.loginFailed(ctx, identifier, "not_found", err)
		} else {
			observability.LoginOutcomesTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	if !l.portal.passwords.Verify(account.CredentialSecret, secret) {
		l.loginFailed(ctx, identifier, "invalid_credential", domain.ErrInvalidCredential)
		return nil, domain.ErrInvalidCredential
	}

	result, err := l.establish(ctx, account, "login")
	if err != nil {
		observability.LoginOutcomesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	observability.LoginOutcomesTotal.WithLabelValues("success").Inc()
	l.portal.record(ctx, domain.NewAuditEvent(domain.UserLoginEvent, identifier).
		WithMetadata("risk_flagged", result.RiskFlagged))
	l.portal.publish(ctx, domain.AccountEvent{
		Type:        domain.EventAccountLogin,
		Identifier:  identifier,
		RiskFlagged: result.RiskFlagged,
	})
	return result, nil
}

func (l *AccountLifecycleImpl) loginFailed(ctx context.Context, identifier, reason string, err error) {
	l.portal.log(ctx).Info("login failed", zap.String("reason", reason))
	observability.LoginOutcomesTotal.WithLabelValues(reason).Inc()
	l.portal.record(ctx, domain.NewAuditEvent(domain.UserLoginFailureEvent, identifier).
		WithError(err).
		WithMetadata("reason", reason))
}

// CreateAccount implements domain.AccountLifecycle
func (l *AccountLifecycleImpl) CreateAccount(ctx context.Context, identifier, secret, initialProfileName, avatarRef string) (*domain.AuthResult, error) {
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	if err := domain.ValidateSecret(secret); err != nil {
		return nil, err
	}
	name, err := domain.NormalizeDisplayName(initialProfileName)
	if err != nil {
		return nil, err
	}
	avatar, err := domain.ResolveAvatar(avatarRef)
	if err != nil {
		return nil, err
	}

	release, err := l.portal.guard.Acquire(ctx, l.scope, identifier)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := l.portal.loadAccount(ctx, identifier); err == nil {
		return nil, domain.ErrAlreadyRegistered
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	hash, err := l.portal.passwords.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret: %w", err)
	}

	profile := domain.Profile{ID: newProfileID(), DisplayName: name, AvatarRef: avatar.ID}
	account := &domain.Account{
		Identifier:       identifier,
		CredentialSecret: hash,
		Profiles:         []domain.Profile{profile},
	}
	if err := l.portal.store.Put(ctx, account); err != nil {
		return nil, storeError(err)
	}

	result, err := l.establish(ctx, account, "signup")
	if err != nil {
		return nil, err
	}

	l.portal.record(ctx, domain.NewAuditEvent(domain.AccountCreatedEvent, identifier).WithProfile(profile.ID))
	l.portal.publish(ctx, domain.AccountEvent{
		Type:        domain.EventAccountCreated,
		Identifier:  identifier,
		ProfileID:   profile.ID,
		RiskFlagged: result.RiskFlagged,
	})
	return result, nil
}

// establish runs the advisory risk check and then writes the session. The cache is
// only touched once every remote step has resolved.
func (l *AccountLifecycleImpl) establish(ctx context.Context, account *domain.Account, operation string) (*domain.AuthResult, error) {
	assessment, assessed := l.portal.assess(ctx, account.Identifier)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot := account.Snapshot()
	if err := l.cache.Set(ctx, domain.KeySnapshot, snapshot); err != nil {
		return nil, err
	}
	if err := l.cache.Remove(ctx, domain.KeyPending, domain.KeySelected); err != nil {
		l.portal.log(ctx).Warn("failed to clear transitional session entries", zap.Error(err))
	}

	flagged := assessed && assessment.Suspicious && assessment.Score >= l.portal.cfg.RiskThreshold
	switch {
	case !assessed:
		observability.RiskVerdictsTotal.WithLabelValues("unavailable").Inc()
	case flagged:
		observability.RiskVerdictsTotal.WithLabelValues("flagged").Inc()
	default:
		observability.RiskVerdictsTotal.WithLabelValues("clean").Inc()
	}

	if flagged {
		l.portal.record(ctx, domain.NewAuditEvent(domain.RiskFlaggedEvent, account.Identifier).
			WithMetadata("reason", assessment.Reason).
			WithMetadata("score", assessment.Score))
		l.portal.alert(ctx, account.Identifier)
	}

	l.transition(operation, &domain.SessionView{State: domain.StateAuthenticated})
	return &domain.AuthResult{
		Account:     snapshot,
		RiskFlagged: flagged,
		Reason:      assessment.Reason,
		RiskScore:   assessment.Score,
	}, nil
}

// SelectProfile implements domain.AccountLifecycle
func (l *AccountLifecycleImpl) SelectProfile(ctx context.Context, profileID string) (*domain.SessionView, error) {
	var snapshot domain.SessionSnapshot
	if !l.cache.Get(ctx, domain.KeySnapshot, &snapshot) {
		return nil, domain.ErrNotAuthenticated
	}

	profile, ok := snapshot.Profile(profileID)
	if !ok {
		return nil, domain.ErrUnknownProfile
	}

	selection := &domain.ProfileSelection{Profile: profile, SelectedAt: time.Now().UTC()}
	if err := l.cache.Set(ctx, domain.KeySelected, selection); err != nil {
		return nil, err
	}

	l.portal.record(ctx, domain.NewAuditEvent(domain.ProfileSelectedEvent, snapshot.Identifier).WithProfile(profile.ID))

	snapshot.SelectedProfileID = profile.ID
	return l.transition("select_profile", &domain.SessionView{
		State:           domain.StateProfileSelected,
		Snapshot:        &snapshot,
		SelectedProfile: &profile,
	}), nil
}

// Logout implements domain.AccountLifecycle
func (l *AccountLifecycleImpl) Logout(ctx context.Context) error {
	var snapshot domain.SessionSnapshot
	signedIn := l.cache.Get(ctx, domain.KeySnapshot, &snapshot)

	if err := l.cache.Remove(ctx, domain.SessionKeys...); err != nil {
		return err
	}

	if signedIn {
		l.portal.record(ctx, domain.NewAuditEvent(domain.UserLogoutEvent, snapshot.Identifier))
	}
	l.transition("logout", &domain.SessionView{State: domain.StateAnonymous})
	return nil
}

func (l *AccountLifecycleImpl) transition(operation string, view *domain.SessionView) *domain.SessionView {
	observability.SessionTransitionsTotal.WithLabelValues(operation, string(view.State)).Inc()
	return view
}

// assess asks the evaluator for a verdict within the configured timeout. It reports
// false when no usable verdict arrived; the returned assessment is then the
// unavailable one.
func (p *Portal) assess(ctx context.Context, identifier string) (domain.RiskAssessment, bool) {
	if p.risk == nil {
		return domain.UnavailableAssessment(), false
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.RiskTimeout)
	defer cancel()

	type verdict struct {
		assessment domain.RiskAssessment
		err        error
	}
	ch := make(chan verdict, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- verdict{err: fmt.Errorf("%w: evaluator panicked: %v", domain.ErrEvaluatorUnavailable, r)}
			}
		}()
		a, err := p.risk.Assess(ctx, identifier, time.Now().UTC())
		if err == nil {
			err = a.Validate()
		}
		ch <- verdict{assessment: a, err: err}
	}()

	select {
	case v := <-ch:
		if v.err != nil {
			p.log(ctx).Warn("risk evaluation failed, continuing without verdict", zap.Error(v.err))
			return domain.UnavailableAssessment(), false
		}
		return v.assessment, true
	case <-ctx.Done():
		p.log(ctx).Warn("risk evaluation timed out, continuing without verdict", zap.Error(ctx.Err()))
		return domain.UnavailableAssessment(), false
	}
}

// alert texts the account holder about a flagged sign-in without holding up the caller
func (p *Portal) alert(ctx context.Context, identifier string) {
	if p.notifier == nil {
		return
	}
	logger := p.log(ctx)
	go func() {
		if err := p.notifier.SendSMS(identifier, riskAlertMessage); err != nil {
			logger.Warn("failed to send risk alert", zap.Error(err))
		}
	}()
}

// storeError keeps known store error kinds and wraps anything else as unavailable
func storeError(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrConflict) {
		return err
	}
	return domain.StoreUnavailable(err)
}
