package repository

import (
	"context"
	"time"

	"adledger/internal/model"
	"adledger/internal/store"

	"gorm.io/gorm"
)

// ============================================================================
// SQL ledger store
// ============================================================================
//
// Per-user serialization uses the ledger_account anchor as an optimistic
// lock:
//
//   1. read ledger_account.version before the transaction
//   2. BEGIN, run the caller (reads + inserts)
//   3. UPDATE ledger_account SET version = version + 1
//      WHERE user_id = ? AND version = ?
//   4. zero rows affected -> ROLLBACK, store.ErrConcurrentModification
//
// Of two transactions that read the same version only one can commit and
// none of the loser's rows survive. The Redis user lock normally keeps this
// from ever firing; the anchor is what holds if the lock expired mid-write.
//
// ============================================================================

// LedgerStore is the SQL implementation of store.LedgerStore.
type LedgerStore struct {
	db              *gorm.DB
	accountRepo     *AccountRepository
	transactionRepo *TransactionRepository
	outboxRepo      *OutboxRepository
}

var _ store.LedgerStore = (*LedgerStore)(nil)

func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{
		db:              db,
		accountRepo:     NewAccountRepository(db),
		transactionRepo: NewTransactionRepository(db),
		outboxRepo:      NewOutboxRepository(db),
	}
}

func (s *LedgerStore) WithinUserLedger(ctx context.Context, userID int64, fn func(tx store.LedgerTx) error) error {
	account, err := s.accountRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(&ledgerTx{tx: tx, repo: s.transactionRepo, outbox: s.outboxRepo}); err != nil {
			return err
		}
		return s.accountRepo.BumpVersion(ctx, tx, userID, account.Version)
	})
}

func (s *LedgerStore) CompletedTransactions(ctx context.Context, userID int64) ([]*model.LedgerTransaction, error) {
	return s.transactionRepo.ListCompletedByUserID(ctx, nil, userID)
}

func (s *LedgerStore) CampaignTransactions(ctx context.Context, campaignID int64) ([]*model.LedgerTransaction, error) {
	return s.transactionRepo.ListByCampaignID(ctx, nil, campaignID)
}

func (s *LedgerStore) TransactionByReference(ctx context.Context, referenceID string) (*model.LedgerTransaction, error) {
	return s.transactionRepo.GetByReferenceID(ctx, nil, referenceID)
}

func (s *LedgerStore) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerTransaction, int64, error) {
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *LedgerStore) OrphanedReservations(ctx context.Context, olderThan time.Time, limit int) ([]store.OpenHold, error) {
	return s.transactionRepo.ListOrphanedHolds(ctx, olderThan, limit)
}

type ledgerTx struct {
	tx     *gorm.DB
	repo   *TransactionRepository
	outbox *OutboxRepository
}

func (t *ledgerTx) CompletedTransactions(ctx context.Context, userID int64) ([]*model.LedgerTransaction, error) {
	return t.repo.ListCompletedByUserID(ctx, t.tx, userID)
}

func (t *ledgerTx) CampaignTransactions(ctx context.Context, campaignID int64) ([]*model.LedgerTransaction, error) {
	return t.repo.ListByCampaignID(ctx, t.tx, campaignID)
}

func (t *ledgerTx) TransactionByReference(ctx context.Context, referenceID string) (*model.LedgerTransaction, error) {
	return t.repo.GetByReferenceID(ctx, t.tx, referenceID)
}

func (t *ledgerTx) Append(ctx context.Context, txns ...*model.LedgerTransaction) error {
	return t.repo.Create(ctx, t.tx, txns...)
}

func (t *ledgerTx) Enqueue(ctx context.Context, msg *model.OutboxMessage) error {
	return t.outbox.Create(ctx, t.tx, msg)
}
