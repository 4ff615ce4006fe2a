package job

import (
	"context"
	"errors"
	"time"

	"adledger/internal/model"
	"adledger/internal/service"
	"adledger/internal/store"

	"github.com/rs/zerolog"
)

// Releaser is the part of the reservation service the reconciler needs.
type Releaser interface {
	Release(ctx context.Context, userID, campaignID int64, purpose string) (*service.ReleaseReceipt, error)
}

// ReservationReconciler releases holds whose campaign was never written,
// e.g. the process died between Reserve and the campaign insert, or the
// compensating release failed.
type ReservationReconciler struct {
	ledger    store.LedgerStore
	campaigns store.CampaignStore
	releaser  Releaser
	logger    zerolog.Logger
	stopCh    chan struct{}
	interval  time.Duration
	grace     time.Duration
	batchSize int
	now       func() time.Time
}

type ReconcilerConfig struct {
	Interval  time.Duration
	Grace     time.Duration
	BatchSize int
}

func NewReservationReconciler(ledgerStore store.LedgerStore, campaigns store.CampaignStore, releaser Releaser, cfg ReconcilerConfig, logger zerolog.Logger) *ReservationReconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &ReservationReconciler{
		ledger:    ledgerStore,
		campaigns: campaigns,
		releaser:  releaser,
		logger:    logger.With().Str("job", "reservation_reconciler").Logger(),
		stopCh:    make(chan struct{}),
		interval:  cfg.Interval,
		grace:     cfg.Grace,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

func (j *ReservationReconciler) Start(ctx context.Context) {
	j.logger.Info().Dur("interval", j.interval).Dur("grace", j.grace).Msg("reservation reconciler started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("context done, reservation reconciler exiting")
			return
		case <-j.stopCh:
			j.logger.Info().Msg("reservation reconciler stopped")
			return
		case <-ticker.C:
			j.Reconcile(ctx)
		}
	}
}

func (j *ReservationReconciler) Stop() {
	close(j.stopCh)
}

// Reconcile runs one pass and returns the number of holds released.
func (j *ReservationReconciler) Reconcile(ctx context.Context) int {
	holds, err := j.ledger.OrphanedReservations(ctx, j.now().Add(-j.grace), j.batchSize)
	if err != nil {
		j.logger.Error().Err(err).Msg("load orphaned reservations")
		return 0
	}
	if len(holds) == 0 {
		return 0
	}

	released := 0
	for _, hold := range holds {
		if j.reconcileHold(ctx, hold) {
			released++
		}
	}
	if released > 0 {
		j.logger.Info().Int("checked", len(holds)).Int("released", released).Msg("orphaned reservations released")
	}
	return released
}

// reconcileHold re-reads the campaign before releasing: it may have been
// written after the orphan query ran.
func (j *ReservationReconciler) reconcileHold(ctx context.Context, hold store.OpenHold) bool {
	_, err := j.campaigns.Get(ctx, hold.CampaignID)
	if err == nil {
		return false
	}
	if !errors.Is(err, store.ErrNotFound) {
		j.logger.Error().Err(err).Int64("campaign_id", hold.CampaignID).Msg("load campaign")
		return false
	}

	receipt, err := j.releaser.Release(ctx, hold.UserID, hold.CampaignID, model.PurposeOrphanRelease)
	if err != nil {
		j.logger.Error().Err(err).
			Int64("user_id", hold.UserID).
			Int64("campaign_id", hold.CampaignID).
			Int64("held", hold.Net).
			Msg("release orphaned reservation")
		return false
	}

	j.logger.Warn().
		Int64("user_id", hold.UserID).
		Int64("campaign_id", hold.CampaignID).
		Int64("points", receipt.PointsReleased).
		Int64("credit", receipt.CreditReleased).
		Time("held_since", hold.FirstAt).
		Msg("orphaned reservation released")
	return !receipt.NothingHeld
}
