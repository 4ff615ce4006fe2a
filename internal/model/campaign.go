package model

import (
	"time"
)

const (
	CampaignStatusPendingApproval = "PENDING_APPROVAL"
	CampaignStatusReviewing       = "REVIEWING"
	CampaignStatusApproved        = "APPROVED"
	CampaignStatusRejected        = "REJECTED"
)

// ValidStatusTransitions lists every allowed campaign status change.
// APPROVED has no entry: approved campaigns are immutable here.
var ValidStatusTransitions = map[string][]string{
	CampaignStatusPendingApproval: {CampaignStatusReviewing, CampaignStatusApproved, CampaignStatusRejected},
	CampaignStatusReviewing:       {CampaignStatusApproved, CampaignStatusRejected},
	CampaignStatusRejected:        {CampaignStatusPendingApproval},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsDeletable reports whether a campaign in this status may be deleted by its owner.
// DeletableStatuses are the statuses a campaign may be deleted from.
var DeletableStatuses = []string{
	CampaignStatusPendingApproval,
	CampaignStatusReviewing,
	CampaignStatusRejected,
}

func IsDeletable(status string) bool {
	for _, s := range DeletableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Campaign is owned by a user and referenced by the ledger through
// LedgerTransaction.CampaignID.
type Campaign struct {
	ID                 int64            `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID             int64            `gorm:"index;not null" json:"user_id"`
	Name               string           `gorm:"type:varchar(128);not null" json:"name"`
	Message            string           `gorm:"type:text" json:"message"`
	Status             string           `gorm:"type:varchar(20);index;not null" json:"status"`
	Budget             int64            `gorm:"not null" json:"budget"`
	EstimatedTotalCost int64            `gorm:"not null" json:"estimated_total_cost"`
	RejectionReason    string           `gorm:"type:varchar(256)" json:"rejection_reason,omitempty"`
	Targets            []CampaignTarget `gorm:"foreignKey:CampaignID" json:"targets,omitempty"`
	CreatedAt          time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Campaign) TableName() string {
	return "campaign"
}

// CampaignTarget is an audience segment of a campaign. Deleted with it.
type CampaignTarget struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	CampaignID int64  `gorm:"index;not null" json:"campaign_id"`
	Segment    string `gorm:"type:varchar(64);not null" json:"segment"`
}

func (CampaignTarget) TableName() string {
	return "campaign_target"
}
