package repository

import (
	"context"
	"errors"

	"adledger/internal/model"
	"adledger/internal/store"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ============================================================================
// Ledger account anchor
// ============================================================================
//
// ledger_account holds no balance, only a version. Rows are created lazily
// on the first write of a user (INSERT ... ON CONFLICT DO NOTHING, so two
// first writes do not fail each other) and bumped by every ledger write.
//
// ============================================================================

// AccountRepository manages the per-user ledger anchor rows.
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.LedgerAccount, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.LedgerAccount
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetOrCreate(ctx context.Context, userID int64) (*model.LedgerAccount, error) {
	account, err := r.GetByUserID(ctx, nil, userID)
	if err == nil {
		return account, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model.LedgerAccount{UserID: userID}).Error
	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, nil, userID)
}

// BumpVersion advances the anchor only if nobody else did since version was read.
func (r *AccountRepository) BumpVersion(ctx context.Context, tx *gorm.DB, userID int64, version int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.LedgerAccount{}).
		Where("user_id = ? AND version = ?", userID, version).
		UpdateColumn("version", gorm.Expr("version + 1"))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return store.ErrConcurrentModification
	}

	return nil
}
