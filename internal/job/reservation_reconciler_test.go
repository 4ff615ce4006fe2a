package job

import (
	"context"
	"testing"
	"time"

	"adledger/internal/infrastructure/lock"
	"adledger/internal/model"
	"adledger/internal/service"
	"adledger/internal/store/memstore"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservationReconciler_ReleasesOrphans(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	locker := lock.NewLocalLocker()
	accounts := service.NewAccountService(s, locker, service.Options{}, zerolog.Nop())
	reservations := service.NewReservationService(s, locker, service.Options{}, zerolog.Nop())

	_, err := accounts.RecordCharge(ctx, service.ChargeRequest{UserID: 1, Amount: 1000, ReferenceID: "pay_1"})
	require.NoError(t, err)

	// 10 has a campaign row, 11 lost it.
	_, err = reservations.Reserve(ctx, 1, 10, "kept", 300)
	require.NoError(t, err)
	_, err = reservations.Reserve(ctx, 1, 11, "orphan", 200)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, &model.Campaign{ID: 10, UserID: 1, Name: "kept", Status: model.CampaignStatusPendingApproval}, nil))

	job := NewReservationReconciler(s, s, reservations, ReconcilerConfig{Grace: time.Minute}, zerolog.Nop())

	assert.Zero(t, job.Reconcile(ctx), "holds younger than the grace period are left alone")

	job.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 1, job.Reconcile(ctx))

	kept, err := reservations.HoldOf(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(300), kept.Credit)

	orphan, err := reservations.HoldOf(ctx, 1, 11)
	require.NoError(t, err)
	assert.False(t, orphan.IsOpen())

	rows, err := s.CampaignTransactions(ctx, 11)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.PurposeOrphanRelease, rows[1].Purpose)

	assert.Zero(t, job.Reconcile(ctx), "second pass finds nothing")
}

func TestReservationReconciler_LiveHoldsDoNotStarveOrphans(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	locker := lock.NewLocalLocker()
	accounts := service.NewAccountService(s, locker, service.Options{}, zerolog.Nop())
	reservations := service.NewReservationService(s, locker, service.Options{}, zerolog.Nop())

	_, err := accounts.RecordCharge(ctx, service.ChargeRequest{UserID: 1, Amount: 1000, ReferenceID: "pay_1"})
	require.NoError(t, err)

	// Three live campaigns reserved before the orphan, more than one batch.
	for id := int64(1); id <= 3; id++ {
		_, err = reservations.Reserve(ctx, 1, id, "live", 100)
		require.NoError(t, err)
		require.NoError(t, s.Create(ctx, &model.Campaign{ID: id, UserID: 1, Name: "live", Status: model.CampaignStatusApproved}, nil))
	}
	_, err = reservations.Reserve(ctx, 1, 4, "orphan", 100)
	require.NoError(t, err)

	job := NewReservationReconciler(s, s, reservations, ReconcilerConfig{Grace: time.Minute, BatchSize: 2}, zerolog.Nop())
	job.now = func() time.Time { return time.Now().Add(time.Hour) }

	assert.Equal(t, 1, job.Reconcile(ctx))

	orphan, err := reservations.HoldOf(ctx, 1, 4)
	require.NoError(t, err)
	assert.False(t, orphan.IsOpen())

	for id := int64(1); id <= 3; id++ {
		live, err := reservations.HoldOf(ctx, 1, id)
		require.NoError(t, err)
		assert.Equal(t, int64(100), live.Credit)
	}
}
