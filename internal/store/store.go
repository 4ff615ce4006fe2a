// Package store declares the persistence contracts of the ledger.
//
// The ledger is the only shared resource between concurrent requests: every
// read-balance-then-write sequence must run inside WithinUserLedger, which
// serializes writers of the same user.
package store

import (
	"context"
	"errors"
	"time"

	"adledger/internal/model"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrDuplicateReference     = errors.New("duplicate reference id")
	ErrConcurrentModification = errors.New("concurrent ledger modification, please retry")
	ErrStatusConflict         = errors.New("campaign status changed concurrently")
)

// LedgerTx is the view of the ledger inside one serialized transaction.
type LedgerTx interface {
	CompletedTransactions(ctx context.Context, userID int64) ([]*model.LedgerTransaction, error)
	CampaignTransactions(ctx context.Context, campaignID int64) ([]*model.LedgerTransaction, error)
	TransactionByReference(ctx context.Context, referenceID string) (*model.LedgerTransaction, error)
	// Append inserts rows and fills their ids. A reference id that already
	// exists fails the whole call with ErrDuplicateReference.
	Append(ctx context.Context, txns ...*model.LedgerTransaction) error
	// Enqueue stages an outbox message that commits with the appended rows.
	Enqueue(ctx context.Context, msg *model.OutboxMessage) error
}

// OpenHold is a campaign id that still has funds held.
type OpenHold struct {
	UserID     int64
	CampaignID int64
	Net        int64
	FirstAt    time.Time
}

type LedgerStore interface {
	// WithinUserLedger runs fn in one storage transaction. Two calls for the
	// same user never both commit on top of the same history: the loser gets
	// ErrConcurrentModification and nothing it appended is kept.
	WithinUserLedger(ctx context.Context, userID int64, fn func(tx LedgerTx) error) error

	CompletedTransactions(ctx context.Context, userID int64) ([]*model.LedgerTransaction, error)
	CampaignTransactions(ctx context.Context, campaignID int64) ([]*model.LedgerTransaction, error)
	TransactionByReference(ctx context.Context, referenceID string) (*model.LedgerTransaction, error)
	ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerTransaction, int64, error)
	// OrphanedReservations lists campaigns with a positive net hold whose
	// first reserve row is older than olderThan and whose campaign row does
	// not exist. Live campaigns are filtered out by the store, so a batch
	// never fills up with holds that are not orphaned.
	OrphanedReservations(ctx context.Context, olderThan time.Time, limit int) ([]OpenHold, error)
}

// CampaignStore persists campaigns. Each mutating call writes the campaign
// change and its outbox message (if any) atomically.
type CampaignStore interface {
	Create(ctx context.Context, campaign *model.Campaign, msg *model.OutboxMessage) error
	Get(ctx context.Context, id int64) (*model.Campaign, error)
	ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*model.Campaign, int64, error)
	UpdateStatus(ctx context.Context, id int64, from, to, reason string, msg *model.OutboxMessage) error
	// Delete removes the campaign only while its status is one of
	// allowedFrom; a campaign that moved on in the meantime yields
	// ErrStatusConflict and is left untouched.
	Delete(ctx context.Context, id int64, allowedFrom []string, msg *model.OutboxMessage) error
}

type OutboxStore interface {
	Enqueue(ctx context.Context, msg *model.OutboxMessage) error
	Pending(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	IncrementRetry(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
}
