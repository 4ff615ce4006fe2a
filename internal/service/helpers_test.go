package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"adledger/internal/infrastructure/lock"
	"adledger/internal/model"
	"adledger/internal/store"
	"adledger/internal/store/memstore"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var errDatabaseDown = errors.New("database down")

type testEnv struct {
	store        *memstore.Store
	ledger       *flakyLedger
	campaignsDB  *flakyCampaigns
	reservations *ReservationService
	campaigns    *CampaignService
	accounts     *AccountService
	incidents    *IncidentReporter
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithLocker(t, lock.NewLocalLocker())
}

func newTestEnvWithLocker(t *testing.T, locker UserLocker) *testEnv {
	t.Helper()

	s := memstore.New()
	logger := zerolog.Nop()
	opts := Options{StoreTimeout: time.Second, MaxTargetCount: 3}

	env := &testEnv{
		store:       s,
		ledger:      &flakyLedger{LedgerStore: s},
		campaignsDB: &flakyCampaigns{CampaignStore: s},
	}
	env.incidents = NewIncidentReporter(s, "ledger_incidents", time.Second, logger)
	env.reservations = NewReservationService(env.ledger, locker, opts, logger)
	env.campaigns = NewCampaignService(env.campaignsDB, env.reservations, env.incidents, opts, logger)
	env.accounts = NewAccountService(env.ledger, locker, opts, logger)

	var seq int64 = 1000
	env.campaigns.nextID = func() int64 { return atomic.AddInt64(&seq, 1) }
	return env
}

// fund tops the user up through RecordCharge.
func (e *testEnv) fund(t *testing.T, userID, points, credit int64) {
	t.Helper()
	ctx := context.Background()
	if points > 0 {
		_, err := e.accounts.RecordCharge(ctx, ChargeRequest{UserID: userID, Amount: points, ReferenceID: refFor(userID, "pt"), IsReward: true})
		require.NoError(t, err)
	}
	if credit > 0 {
		_, err := e.accounts.RecordCharge(ctx, ChargeRequest{UserID: userID, Amount: credit, ReferenceID: refFor(userID, "cr")})
		require.NoError(t, err)
	}
}

var refSeq int64

func refFor(userID int64, prefix string) string {
	n := atomic.AddInt64(&refSeq, 1)
	return fmt.Sprintf("%s-%d-%d", prefix, userID, n)
}

func (e *testEnv) balance(t *testing.T, userID int64) *BalanceView {
	t.Helper()
	b, err := e.accounts.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (e *testEnv) messagesOf(event string) []*model.OutboxMessage {
	var out []*model.OutboxMessage
	for _, m := range e.store.Messages() {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

// flakyLedger injects failures into WithinUserLedger.
type flakyLedger struct {
	store.LedgerStore

	mu sync.Mutex
	// conflicts makes the next n calls fail with ErrConcurrentModification.
	conflicts int
	// failAfterCommit makes the next call commit and then report an error.
	failAfterCommit error
	// failWith makes every call fail with this error without writing.
	failWith error
}

func (f *flakyLedger) WithinUserLedger(ctx context.Context, userID int64, fn func(tx store.LedgerTx) error) error {
	f.mu.Lock()
	conflict := f.conflicts > 0
	if conflict {
		f.conflicts--
	}
	afterCommit := f.failAfterCommit
	f.failAfterCommit = nil
	failWith := f.failWith
	f.mu.Unlock()

	if failWith != nil {
		return failWith
	}
	if conflict {
		return store.ErrConcurrentModification
	}
	if err := f.LedgerStore.WithinUserLedger(ctx, userID, fn); err != nil {
		return err
	}
	return afterCommit
}

func (f *flakyLedger) breakStore(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

// flakyCampaigns injects failures into campaign creation.
type flakyCampaigns struct {
	store.CampaignStore

	createErr error
	// persist writes the campaign before returning createErr.
	persist bool
	// onCreateFail runs after a failed create, e.g. to break the ledger.
	onCreateFail func()
	// getErr makes Get fail without reading.
	getErr error
	// beforeDelete runs right before the store deletes, after the service
	// has already checked the status.
	beforeDelete func()
}

func (f *flakyCampaigns) Get(ctx context.Context, id int64) (*model.Campaign, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.CampaignStore.Get(ctx, id)
}

func (f *flakyCampaigns) Delete(ctx context.Context, id int64, allowedFrom []string, msg *model.OutboxMessage) error {
	if f.beforeDelete != nil {
		f.beforeDelete()
	}
	return f.CampaignStore.Delete(ctx, id, allowedFrom, msg)
}

func (f *flakyCampaigns) Create(ctx context.Context, c *model.Campaign, msg *model.OutboxMessage) error {
	if f.createErr == nil {
		return f.CampaignStore.Create(ctx, c, msg)
	}
	if f.persist {
		if err := f.CampaignStore.Create(ctx, c, msg); err != nil {
			return err
		}
	}
	if f.onCreateFail != nil {
		f.onCreateFail()
	}
	return f.createErr
}
