// Package memstore is an in-process implementation of the store contracts.
//
// It keeps the same guarantees as the SQL repositories (append-only ledger,
// unique reference ids, per-user serialization, atomic campaign+outbox
// writes) and backs the tests and the "memory" database driver.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"adledger/internal/model"
	"adledger/internal/store"
)

type Store struct {
	mu        sync.RWMutex
	userLocks sync.Map

	txns       []*model.LedgerTransaction
	byRef      map[string]*model.LedgerTransaction
	nextTxnID  int64
	campaigns  map[int64]*model.Campaign
	outbox     []*model.OutboxMessage
	nextMsgID  int64
	nextTarget int64
}

var (
	_ store.LedgerStore   = (*Store)(nil)
	_ store.CampaignStore = (*Store)(nil)
	_ store.OutboxStore   = (*Store)(nil)
)

func New() *Store {
	return &Store{
		byRef:     make(map[string]*model.LedgerTransaction),
		campaigns: make(map[int64]*model.Campaign),
	}
}

func (s *Store) userLock(userID int64) *sync.Mutex {
	mu, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ============================================================================
// Ledger
// ============================================================================

func (s *Store) WithinUserLedger(ctx context.Context, userID int64, fn func(tx store.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	tx := &ledgerTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx.staged, tx.messages)
}

func (s *Store) commit(staged []*model.LedgerTransaction, messages []*model.OutboxMessage) error {
	if len(staged) == 0 && len(messages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(staged))
	for _, t := range staged {
		if _, exists := s.byRef[t.ReferenceID]; exists || seen[t.ReferenceID] {
			return store.ErrDuplicateReference
		}
		seen[t.ReferenceID] = true
	}

	now := time.Now()
	for _, t := range staged {
		s.nextTxnID++
		t.ID = s.nextTxnID
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		row := copyTxn(t)
		s.txns = append(s.txns, row)
		s.byRef[row.ReferenceID] = row
	}
	for _, msg := range messages {
		s.enqueueLocked(msg)
	}
	return nil
}

type ledgerTx struct {
	store    *Store
	staged   []*model.LedgerTransaction
	messages []*model.OutboxMessage
}

func (tx *ledgerTx) Enqueue(ctx context.Context, msg *model.OutboxMessage) error {
	if msg != nil {
		tx.messages = append(tx.messages, msg)
	}
	return nil
}

func (tx *ledgerTx) CompletedTransactions(ctx context.Context, userID int64) ([]*model.LedgerTransaction, error) {
	rows, err := tx.store.CompletedTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, t := range tx.staged {
		if t.UserID == userID && t.IsCompleted() {
			rows = append(rows, copyTxn(t))
		}
	}
	return rows, nil
}

func (tx *ledgerTx) CampaignTransactions(ctx context.Context, campaignID int64) ([]*model.LedgerTransaction, error) {
	rows, err := tx.store.CampaignTransactions(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	for _, t := range tx.staged {
		if t.BelongsTo(campaignID) {
			rows = append(rows, copyTxn(t))
		}
	}
	return rows, nil
}

func (tx *ledgerTx) TransactionByReference(ctx context.Context, referenceID string) (*model.LedgerTransaction, error) {
	for _, t := range tx.staged {
		if t.ReferenceID == referenceID {
			return copyTxn(t), nil
		}
	}
	return tx.store.TransactionByReference(ctx, referenceID)
}

func (tx *ledgerTx) Append(ctx context.Context, txns ...*model.LedgerTransaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	for _, t := range txns {
		if _, exists := tx.store.byRef[t.ReferenceID]; exists {
			return store.ErrDuplicateReference
		}
		for _, staged := range tx.staged {
			if staged.ReferenceID == t.ReferenceID {
				return store.ErrDuplicateReference
			}
		}
	}
	tx.staged = append(tx.staged, txns...)
	return nil
}

func (s *Store) CompletedTransactions(ctx context.Context, userID int64) ([]*model.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*model.LedgerTransaction
	for _, t := range s.txns {
		if t.UserID == userID && t.IsCompleted() {
			rows = append(rows, copyTxn(t))
		}
	}
	return rows, nil
}

func (s *Store) CampaignTransactions(ctx context.Context, campaignID int64) ([]*model.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*model.LedgerTransaction
	for _, t := range s.txns {
		if t.BelongsTo(campaignID) {
			rows = append(rows, copyTxn(t))
		}
	}
	return rows, nil
}

func (s *Store) TransactionByReference(ctx context.Context, referenceID string) (*model.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byRef[referenceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTxn(t), nil
}

func (s *Store) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerTransaction, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*model.LedgerTransaction
	for i := len(s.txns) - 1; i >= 0; i-- {
		if s.txns[i].UserID == userID {
			rows = append(rows, copyTxn(s.txns[i]))
		}
	}
	return paginate(rows, page, pageSize), int64(len(rows)), nil
}

func (s *Store) OrphanedReservations(ctx context.Context, olderThan time.Time, limit int) ([]store.OpenHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	holds := make(map[int64]*store.OpenHold)
	var order []int64
	for _, t := range s.txns {
		if t.CampaignID == nil || !t.IsCompleted() {
			continue
		}
		if _, live := s.campaigns[*t.CampaignID]; live {
			continue
		}
		var delta int64
		switch t.Kind {
		case model.KindReserve:
			delta = t.Amount
		case model.KindUnreserve:
			delta = -t.Amount
		default:
			continue
		}
		h, ok := holds[*t.CampaignID]
		if !ok {
			h = &store.OpenHold{UserID: t.UserID, CampaignID: *t.CampaignID, FirstAt: t.CreatedAt}
			holds[*t.CampaignID] = h
			order = append(order, *t.CampaignID)
		}
		h.Net += delta
	}

	var result []store.OpenHold
	for _, id := range order {
		h := holds[id]
		if h.Net > 0 && h.FirstAt.Before(olderThan) {
			result = append(result, *h)
		}
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ============================================================================
// Campaigns
// ============================================================================

func (s *Store) Create(ctx context.Context, campaign *model.Campaign, msg *model.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.campaigns[campaign.ID]; exists {
		return store.ErrDuplicateReference
	}

	now := time.Now()
	campaign.CreatedAt = now
	campaign.UpdatedAt = now
	for i := range campaign.Targets {
		s.nextTarget++
		campaign.Targets[i].ID = s.nextTarget
		campaign.Targets[i].CampaignID = campaign.ID
	}
	s.campaigns[campaign.ID] = copyCampaign(campaign)
	s.enqueueLocked(msg)
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyCampaign(c), nil
}

func (s *Store) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*model.Campaign, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*model.Campaign
	for _, c := range s.campaigns {
		if c.UserID == userID {
			rows = append(rows, copyCampaign(c))
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	return paginate(rows, page, pageSize), int64(len(rows)), nil
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, from, to, reason string, msg *model.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return store.ErrNotFound
	}
	if c.Status != from || !model.CanTransitionTo(from, to) {
		return store.ErrStatusConflict
	}

	c.Status = to
	c.RejectionReason = reason
	c.UpdatedAt = time.Now()
	s.enqueueLocked(msg)
	return nil
}

func (s *Store) Delete(ctx context.Context, id int64, allowedFrom []string, msg *model.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return store.ErrNotFound
	}
	allowed := false
	for _, status := range allowedFrom {
		if c.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return store.ErrStatusConflict
	}
	delete(s.campaigns, id)
	s.enqueueLocked(msg)
	return nil
}

// ============================================================================
// Outbox
// ============================================================================

func (s *Store) Enqueue(ctx context.Context, msg *model.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.enqueueLocked(msg)
	return nil
}

func (s *Store) enqueueLocked(msg *model.OutboxMessage) {
	if msg == nil {
		return
	}
	s.nextMsgID++
	msg.ID = s.nextMsgID
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	row := *msg
	s.outbox = append(s.outbox, &row)
}

func (s *Store) Pending(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*model.OutboxMessage
	for _, m := range s.outbox {
		if m.Status != model.OutboxStatusPending {
			continue
		}
		row := *m
		rows = append(rows, &row)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func (s *Store) MarkSent(ctx context.Context, id int64) error {
	return s.updateMessage(id, func(m *model.OutboxMessage) {
		now := time.Now()
		m.Status = model.OutboxStatusSent
		m.SentAt = &now
	})
}

func (s *Store) IncrementRetry(ctx context.Context, id int64) error {
	return s.updateMessage(id, func(m *model.OutboxMessage) {
		m.RetryCount++
	})
}

func (s *Store) MarkFailed(ctx context.Context, id int64) error {
	return s.updateMessage(id, func(m *model.OutboxMessage) {
		m.Status = model.OutboxStatusFailed
	})
}

func (s *Store) updateMessage(id int64, fn func(m *model.OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.outbox {
		if m.ID == id {
			fn(m)
			m.UpdatedAt = time.Now()
			return nil
		}
	}
	return store.ErrNotFound
}

// Messages returns every outbox message regardless of status.
func (s *Store) Messages() []*model.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*model.OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		row := *m
		rows = append(rows, &row)
	}
	return rows
}

// TransactionCount returns the number of ledger rows across all users.
func (s *Store) TransactionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txns)
}

func copyTxn(t *model.LedgerTransaction) *model.LedgerTransaction {
	row := *t
	if t.CampaignID != nil {
		id := *t.CampaignID
		row.CampaignID = &id
	}
	return &row
}

func copyCampaign(c *model.Campaign) *model.Campaign {
	row := *c
	if c.Targets != nil {
		row.Targets = append([]model.CampaignTarget(nil), c.Targets...)
	}
	return &row
}

func paginate[T any](rows []T, page, pageSize int) []T {
	if page < 1 || pageSize < 1 {
		return rows
	}
	start := (page - 1) * pageSize
	if start >= len(rows) {
		return nil
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}
