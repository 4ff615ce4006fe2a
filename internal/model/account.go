package model

import (
	"time"
)

// LedgerAccount is the per-user serialization anchor.
//
// It deliberately holds no balance: balances are always folded from
// ledger_transaction. Every ledger write transaction bumps Version, so two
// writers that read the same version cannot both commit.
type LedgerAccount struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LedgerAccount) TableName() string {
	return "ledger_account"
}
