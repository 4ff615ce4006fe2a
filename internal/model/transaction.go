package model

import (
	"time"

	"gorm.io/datatypes"
)

// ============================================================================
// Ledger event kinds
// ============================================================================

const (
	KindCharge    = "charge"    // funds added (top-up settlement or reward grant)
	KindUsage     = "usage"     // funds consumed
	KindReserve   = "reserve"   // hold placed against a campaign
	KindUnreserve = "unreserve" // hold removed
	KindRefund    = "refund"    // credit restored
	KindPenalty   = "penalty"   // credit removed
)

const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

const (
	FundPoint  = "point"
	FundCredit = "credit"
)

// Purpose records why a row was written. It is a typed column so that
// lookups never depend on parsing reference ids or metadata.
const (
	PurposeTopUp                = "topup"
	PurposeReward               = "reward"
	PurposeAdjustment           = "adjustment"
	PurposeCampaignHold         = "campaign_hold"
	PurposeCampaignRelease      = "campaign_release"
	PurposeCampaignCompensation = "campaign_compensation"
	PurposeOrphanRelease        = "orphan_release"
)

var validKinds = map[string]bool{
	KindCharge: true, KindUsage: true, KindReserve: true,
	KindUnreserve: true, KindRefund: true, KindPenalty: true,
}

func IsValidKind(kind string) bool {
	return validKinds[kind]
}

func IsValidStatus(status string) bool {
	return status == StatusCompleted || status == StatusPending || status == StatusFailed
}

func IsValidFundType(fundType string) bool {
	return fundType == FundPoint || fundType == FundCredit
}

// LedgerTransaction is one immutable ledger event.
//
// Rows are only ever inserted. A mistake is corrected by appending a
// compensating row, never by UPDATE or DELETE.
type LedgerTransaction struct {
	ID          int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64             `gorm:"index:idx_ledger_user_created,priority:1;not null" json:"user_id"`
	Kind        string            `gorm:"type:varchar(16);not null" json:"kind"`
	Amount      int64             `gorm:"not null" json:"amount"`
	Status      string            `gorm:"type:varchar(16);not null" json:"status"`
	FundType    string            `gorm:"type:varchar(16);not null" json:"fund_type"`
	Purpose     string            `gorm:"type:varchar(32);not null" json:"purpose"`
	CampaignID  *int64            `gorm:"index" json:"campaign_id,omitempty"`
	ReferenceID string            `gorm:"type:varchar(128);uniqueIndex;not null" json:"reference_id"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"autoCreateTime;index:idx_ledger_user_created,priority:2" json:"created_at"`
}

func (LedgerTransaction) TableName() string {
	return "ledger_transaction"
}

func (t *LedgerTransaction) IsCompleted() bool {
	return t.Status == StatusCompleted
}

// BelongsTo reports whether the row is linked to the given campaign.
func (t *LedgerTransaction) BelongsTo(campaignID int64) bool {
	return t.CampaignID != nil && *t.CampaignID == campaignID
}
