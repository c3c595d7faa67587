package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/you/accountportal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountStoreImpl implements domain.AccountStore using GORM
type AccountStoreImpl struct {
	db *gorm.DB
}

// AccountRecord is the database model for an Account. Profiles are kept as one JSON document.
type AccountRecord struct {
	Identifier   string           `gorm:"primaryKey;size:10"`
	PasswordHash string           `gorm:"column:password;not null"`
	Profiles     []domain.Profile `gorm:"serializer:json;type:text;not null"`
	Revision     int64            `gorm:"not null;default:0"`
	CreatedAt    time.Time        `gorm:"index"`
	UpdatedAt    time.Time
}

// TableName returns the table name for GORM
func (AccountRecord) TableName() string {
	return "accounts"
}

// NewAccountStore creates a new account store
func NewAccountStore(db *gorm.DB) domain.AccountStore {
	return &AccountStoreImpl{db: db}
}

// Get implements domain.AccountStore
func (r *AccountStoreImpl) Get(ctx context.Context, identifier string) (*domain.Account, error) {
	var record AccountRecord
	err := r.db.WithContext(ctx).Where("identifier = ?", identifier).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.StoreUnavailable(fmt.Errorf("failed to load account: %w", err))
	}
	return r.dbToDomain(&record), nil
}

// Put implements domain.AccountStore. It is a full-document upsert keyed by identifier;
// the last writer wins and the database bumps the revision, so two writers working
// from the same read never end up with the same revision.
func (r *AccountStoreImpl) Put(ctx context.Context, account *domain.Account) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	record := r.domainToDB(account)
	record.Revision = 1
	record.UpdatedAt = now

	updates := append(
		clause.AssignmentColumns([]string{"password", "profiles", "updated_at"}),
		clause.Assignment{Column: clause.Column{Name: "revision"}, Value: gorm.Expr("accounts.revision + 1")},
	)

	var revision int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identifier"}},
			DoUpdates: updates,
		}).Create(record).Error; err != nil {
			return err
		}
		return tx.Model(&AccountRecord{}).
			Select("revision").
			Where("identifier = ?", record.Identifier).
			Scan(&revision).Error
	})
	if err != nil {
		return domain.StoreUnavailable(fmt.Errorf("failed to save account: %w", err))
	}

	account.Revision = revision
	account.UpdatedAt = now
	return nil
}

// domainToDB converts a domain account to its database record
func (r *AccountStoreImpl) domainToDB(account *domain.Account) *AccountRecord {
	profiles := make([]domain.Profile, len(account.Profiles))
	copy(profiles, account.Profiles)
	return &AccountRecord{
		Identifier:   account.Identifier,
		PasswordHash: account.CredentialSecret,
		Profiles:     profiles,
		Revision:     account.Revision,
		CreatedAt:    account.CreatedAt,
		UpdatedAt:    account.UpdatedAt,
	}
}

// dbToDomain converts a database record to a domain account
func (r *AccountStoreImpl) dbToDomain(record *AccountRecord) *domain.Account {
	return &domain.Account{
		Identifier:       record.Identifier,
		CredentialSecret: record.PasswordHash,
		Profiles:         record.Profiles,
		CreatedAt:        record.CreatedAt,
		UpdatedAt:        record.UpdatedAt,
		Revision:         record.Revision,
	}
}
