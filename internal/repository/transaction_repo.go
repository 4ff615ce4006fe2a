package repository

import (
	"context"
	"errors"
	"time"

	"adledger/internal/model"
	"adledger/internal/store"

	"gorm.io/gorm"
)

// ============================================================================
// Ledger rows
// ============================================================================
//
// [Append only] a row is never updated or deleted. Corrections are new rows
// (unreserve, refund, penalty), so the history stays auditable and the
// balance is always a fold over it.
//
// [Idempotency] reference_id has a UNIQUE index. A duplicate insert comes
// back from the driver as a duplicate-key error, which gorm translates to
// gorm.ErrDuplicatedKey (TranslateError) and this repository maps to
// store.ErrDuplicateReference.
//
// ============================================================================

// TransactionRepository reads and appends ledger rows. It has no update or
// delete method on purpose.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, txns ...*model.LedgerTransaction) error {
	if len(txns) == 0 {
		return nil
	}
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(txns).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrDuplicateReference
	}
	return err
}

func (r *TransactionRepository) ListCompletedByUserID(ctx context.Context, tx *gorm.DB, userID int64) ([]*model.LedgerTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var txns []*model.LedgerTransaction
	err := tx.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.StatusCompleted).
		Order("created_at ASC, id ASC").
		Find(&txns).Error
	return txns, err
}

func (r *TransactionRepository) ListByCampaignID(ctx context.Context, tx *gorm.DB, campaignID int64) ([]*model.LedgerTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var txns []*model.LedgerTransaction
	err := tx.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC, id ASC").
		Find(&txns).Error
	return txns, err
}

func (r *TransactionRepository) GetByReferenceID(ctx context.Context, tx *gorm.DB, referenceID string) (*model.LedgerTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.LedgerTransaction
	err := tx.WithContext(ctx).Where("reference_id = ?", referenceID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerTransaction, int64, error) {
	var transactions []*model.LedgerTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerTransaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

type openHoldRow struct {
	UserID     int64
	CampaignID int64
	Net        int64
	FirstAt    time.Time
}

// ListOrphanedHolds aggregates reserve/unreserve rows per campaign and keeps
// the ones with a positive net whose campaign row is gone. The anti-join
// keeps live campaigns out of the batch.
func (r *TransactionRepository) ListOrphanedHolds(ctx context.Context, olderThan time.Time, limit int) ([]store.OpenHold, error) {
	var rows []openHoldRow
	err := r.db.WithContext(ctx).
		Model(&model.LedgerTransaction{}).
		Select("user_id, campaign_id, "+
			"SUM(CASE WHEN kind = ? THEN amount ELSE -amount END) AS net, "+
			"MIN(created_at) AS first_at", model.KindReserve).
		Where("campaign_id IS NOT NULL AND status = ? AND kind IN ?",
			model.StatusCompleted, []string{model.KindReserve, model.KindUnreserve}).
		Where("NOT EXISTS (SELECT 1 FROM campaign WHERE campaign.id = ledger_transaction.campaign_id)").
		Group("user_id, campaign_id").
		Having("SUM(CASE WHEN kind = ? THEN amount ELSE -amount END) > 0 AND MIN(created_at) < ?",
			model.KindReserve, olderThan).
		Order("first_at ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	holds := make([]store.OpenHold, 0, len(rows))
	for _, row := range rows {
		holds = append(holds, store.OpenHold(row))
	}
	return holds, nil
}
