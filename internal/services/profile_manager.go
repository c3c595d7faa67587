package services

import (
	"context"

	"github.com/you/accountportal/domain"
	"github.com/you/accountportal/internal/observability"
	"go.uber.org/zap"
)

// ProfileManagerImpl implements domain.ProfileManager. The store record is always
// written before the session cache is refreshed.
type ProfileManagerImpl struct {
	portal *Portal
	cache  domain.SessionCache
}

// AddProfile implements domain.ProfileManager
func (m *ProfileManagerImpl) AddProfile(ctx context.Context, identifier, name, avatarRef string) ([]domain.Profile, error) {
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return nil, m.fail("add", err)
	}
	displayName, err := domain.NormalizeDisplayName(name)
	if err != nil {
		return nil, m.fail("add", err)
	}
	avatar, err := domain.ResolveAvatar(avatarRef)
	if err != nil {
		return nil, m.fail("add", err)
	}

	// The limit is checked against the stored record, never the cached one
	account, err := m.portal.loadAccount(ctx, identifier)
	if err != nil {
		return nil, m.fail("add", err)
	}
	if len(account.Profiles) >= domain.MaxProfiles {
		return nil, m.fail("add", domain.ErrLimitReached)
	}

	profile := domain.Profile{ID: newProfileID(), DisplayName: displayName, AvatarRef: avatar.ID}
	account.Profiles = append(account.Profiles, profile)
	if err := m.portal.store.Put(ctx, account); err != nil {
		return nil, m.fail("add", storeError(err))
	}

	m.refresh(ctx, account, "")

	m.portal.record(ctx, domain.NewAuditEvent(domain.ProfileAddedEvent, identifier).WithProfile(profile.ID))
	m.portal.publish(ctx, domain.AccountEvent{
		Type:       domain.EventProfileAdded,
		Identifier: identifier,
		ProfileID:  profile.ID,
	})
	observability.ProfileMutationsTotal.WithLabelValues("add", "success").Inc()

	return copyProfiles(account.Profiles), nil
}

// EditProfile implements domain.ProfileManager
func (m *ProfileManagerImpl) EditProfile(ctx context.Context, identifier, profileID, name, avatarRef string) ([]domain.Profile, error) {
	if profileID == domain.RestrictedProfileID {
		return nil, m.fail("edit", domain.ErrProtectedProfile)
	}
	if err := domain.ValidateIdentifier(identifier); err != nil {
		return nil, m.fail("edit", err)
	}
	displayName, err := domain.NormalizeDisplayName(name)
	if err != nil {
		return nil, m.fail("edit", err)
	}
	avatar, err := domain.ResolveAvatar(avatarRef)
	if err != nil {
		return nil, m.fail("edit", err)
	}

	account, err := m.portal.loadAccount(ctx, identifier)
	if err != nil {
		return nil, m.fail("edit", err)
	}
	idx := account.FindProfile(profileID)
	if idx < 0 {
		return nil, m.fail("edit", domain.ErrUnknownProfile)
	}

	current := account.Profiles[idx]
	if current.DisplayName == displayName && sameAvatar(current.AvatarRef, avatar) {
		observability.ProfileMutationsTotal.WithLabelValues("edit", "unchanged").Inc()
		return copyProfiles(account.Profiles), nil
	}

	account.Profiles[idx] = domain.Profile{ID: profileID, DisplayName: displayName, AvatarRef: avatar.ID}
	if err := m.portal.store.Put(ctx, account); err != nil {
		return nil, m.fail("edit", storeError(err))
	}

	m.refresh(ctx, account, profileID)

	m.portal.record(ctx, domain.NewAuditEvent(domain.ProfileUpdatedEvent, identifier).WithProfile(profileID))
	m.portal.publish(ctx, domain.AccountEvent{
		Type:       domain.EventProfileUpdated,
		Identifier: identifier,
		ProfileID:  profileID,
	})
	observability.ProfileMutationsTotal.WithLabelValues("edit", "success").Inc()

	return copyProfiles(account.Profiles), nil
}

// refresh rewrites the cached snapshot when it belongs to account, and the cached
// selection when it points at editedID. Cache failures are logged; resume reconciles later.
func (m *ProfileManagerImpl) refresh(ctx context.Context, account *domain.Account, editedID string) {
	logger := m.portal.log(ctx)

	var cached domain.SessionSnapshot
	if !m.cache.Get(ctx, domain.KeySnapshot, &cached) || cached.Identifier != account.Identifier {
		return
	}
	if err := m.cache.Set(ctx, domain.KeySnapshot, account.Snapshot()); err != nil {
		logger.Warn("failed to refresh cached snapshot", zap.Error(err))
		return
	}

	if editedID == "" {
		return
	}
	var selection domain.ProfileSelection
	if !m.cache.Get(ctx, domain.KeySelected, &selection) || selection.Profile.ID != editedID {
		return
	}
	selection.Profile = account.Profiles[account.FindProfile(editedID)]
	if err := m.cache.Set(ctx, domain.KeySelected, &selection); err != nil {
		logger.Warn("failed to refresh cached selection", zap.Error(err))
	}
}

func (m *ProfileManagerImpl) fail(operation string, err error) error {
	observability.ProfileMutationsTotal.WithLabelValues(operation, "rejected").Inc()
	return err
}

// sameAvatar reports whether a stored reference (catalog id or URL) names avatar
func sameAvatar(stored string, avatar domain.AvatarOption) bool {
	resolved, err := domain.ResolveAvatar(stored)
	if err != nil {
		return stored == avatar.ID
	}
	return resolved.ID == avatar.ID
}

func copyProfiles(profiles []domain.Profile) []domain.Profile {
	out := make([]domain.Profile, len(profiles))
	copy(out, profiles)
	return out
}
