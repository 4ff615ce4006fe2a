package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// Event types carried in outbox payloads.
const (
	EventCampaignCreated   = "campaign.created"
	EventCampaignDeleted   = "campaign.deleted"
	EventCampaignStatus    = "campaign.status_changed"
	EventLedgerReserved    = "ledger.reserved"
	EventLedgerReleased    = "ledger.released"
	EventLedgerIncident    = "ledger.incident"
	EventLedgerTransaction = "ledger.transaction"
)

// OutboxMessage is a domain event committed together with the state change
// that produced it. MessageKey is the campaign or user id, so events of one
// aggregate land on one partition in order.
type OutboxMessage struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Event      string     `gorm:"type:varchar(64);index;not null" json:"event"`
	MessageKey string     `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string     `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string     `gorm:"type:text;not null" json:"payload"`
	Status     string     `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int        `gorm:"not null;default:0" json:"retry_count"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
