package repository

import (
	"context"
	"errors"

	"adledger/internal/model"
	"adledger/internal/store"

	"gorm.io/gorm"
)

// ============================================================================
// Campaigns
// ============================================================================
//
// Every mutation runs in one transaction with its outbox row, so a
// campaign.* event exists if and only if the change committed.
//
// [Status guards] UpdateStatus and Delete put the expected status in the
// WHERE clause. A concurrent approval makes them match zero rows, and a
// follow-up COUNT tells "gone" (store.ErrNotFound) from "moved on"
// (store.ErrStatusConflict).
//
// ============================================================================

// CampaignRepository persists campaigns together with their outbox messages.
type CampaignRepository struct {
	db         *gorm.DB
	outboxRepo *OutboxRepository
}

var _ store.CampaignStore = (*CampaignRepository)(nil)

func NewCampaignRepository(db *gorm.DB) *CampaignRepository {
	return &CampaignRepository{
		db:         db,
		outboxRepo: NewOutboxRepository(db),
	}
}

func (r *CampaignRepository) Create(ctx context.Context, campaign *model.Campaign, msg *model.OutboxMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Targets are inserted by gorm's association save.
		if err := tx.Create(campaign).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return store.ErrDuplicateReference
			}
			return err
		}
		return r.outboxRepo.Create(ctx, tx, msg)
	})
}

func (r *CampaignRepository) Get(ctx context.Context, id int64) (*model.Campaign, error) {
	var campaign model.Campaign
	err := r.db.WithContext(ctx).Preload("Targets").Where("id = ?", id).First(&campaign).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &campaign, nil
}

func (r *CampaignRepository) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*model.Campaign, int64, error) {
	var campaigns []*model.Campaign
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Campaign{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Preload("Targets").
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&campaigns).Error

	return campaigns, total, err
}

// UpdateStatus moves a campaign from one status to another. The WHERE on the
// current status turns a lost race into ErrStatusConflict.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id int64, from, to, reason string, msg *model.OutboxMessage) error {
	if !model.CanTransitionTo(from, to) {
		return store.ErrStatusConflict
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Campaign{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]interface{}{
				"status":           to,
				"rejection_reason": reason,
			})

		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.Campaign{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return store.ErrNotFound
			}
			return store.ErrStatusConflict
		}

		return r.outboxRepo.Create(ctx, tx, msg)
	})
}

// Delete removes the campaign and its dependent rows. The status guard in
// the WHERE clause is what keeps a concurrently approved campaign alive.
// Ledger rows that point at the campaign are kept: the ledger is append-only.
func (r *CampaignRepository) Delete(ctx context.Context, id int64, allowedFrom []string, msg *model.OutboxMessage) error {
	if len(allowedFrom) == 0 {
		return store.ErrStatusConflict
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND status IN ?", id, allowedFrom).Delete(&model.Campaign{})
		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.Campaign{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return store.ErrNotFound
			}
			return store.ErrStatusConflict
		}

		if err := tx.Where("campaign_id = ?", id).Delete(&model.CampaignTarget{}).Error; err != nil {
			return err
		}

		return r.outboxRepo.Create(ctx, tx, msg)
	})
}
