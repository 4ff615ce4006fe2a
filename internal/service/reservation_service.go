package service

import (
	"context"
	"fmt"

	"adledger/internal/ledger"
	"adledger/internal/model"
	"adledger/internal/store"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

// ReservationService earmarks and releases funds for campaigns.
//
// Every operation holds the user's lock and runs its read-then-append inside
// one WithinUserLedger call, so two submissions of the same user can never
// both see the same spendable balance.
type ReservationService struct {
	ledger store.LedgerStore
	locker UserLocker
	opts   Options
	logger zerolog.Logger
}

func NewReservationService(ledgerStore store.LedgerStore, locker UserLocker, opts Options, logger zerolog.Logger) *ReservationService {
	return &ReservationService{
		ledger: ledgerStore,
		locker: locker,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "reservation").Logger(),
	}
}

type ReservationReceipt struct {
	CampaignID     int64   `json:"campaign_id"`
	UserID         int64   `json:"user_id"`
	Amount         int64   `json:"amount"`
	PointsUsed     int64   `json:"points_used"`
	CreditUsed     int64   `json:"credit_used"`
	TransactionIDs []int64 `json:"transaction_ids"`

	// Replayed is set when the hold already existed, e.g. a retried request.
	Replayed bool `json:"replayed"`
}

// Reserve holds amount for campaignID, points first and credit for the rest.
// On insufficient funds nothing is written and the error carries the
// shortfall.
func (s *ReservationService) Reserve(ctx context.Context, userID, campaignID int64, campaignName string, amount int64) (*ReservationReceipt, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	unlock, err := s.locker.LockUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer unlock()

	var receipt *ReservationReceipt
	err = withRetry(s.logger, userID, func() error {
		var err error
		receipt, err = s.reserveOnce(ctx, userID, campaignID, campaignName, amount)
		return err
	})
	if err == nil {
		s.logger.Info().
			Int64("user_id", userID).
			Int64("campaign_id", campaignID).
			Int64("amount", amount).
			Int64("points", receipt.PointsUsed).
			Int64("credit", receipt.CreditUsed).
			Bool("replayed", receipt.Replayed).
			Msg("funds reserved")
		return receipt, nil
	}
	if isDomainError(err) {
		return nil, err
	}

	// Unknown outcome: the write may have committed before the error.
	existing, verr := s.verifyReservation(ctx, userID, campaignID, amount)
	if verr == nil && existing != nil {
		s.logger.Warn().Err(err).Int64("campaign_id", campaignID).Msg("reservation found after store error")
		return existing, nil
	}
	return nil, fmt.Errorf("reserve funds: %w", err)
}

func (s *ReservationService) reserveOnce(ctx context.Context, userID, campaignID int64, campaignName string, amount int64) (*ReservationReceipt, error) {
	var receipt *ReservationReceipt
	var rows []*model.LedgerTransaction

	err := s.ledger.WithinUserLedger(ctx, userID, func(tx store.LedgerTx) error {
		campaignRows, err := tx.CampaignTransactions(ctx, campaignID)
		if err != nil {
			return err
		}
		if existing, err := replayReceipt(userID, campaignID, amount, campaignRows); existing != nil || err != nil {
			receipt = existing
			return err
		}

		history, err := tx.CompletedTransactions(ctx, userID)
		if err != nil {
			return err
		}
		points, credit := ledger.Project(history).Spendable()

		alloc, err := ledger.Split(amount, points, credit)
		if err != nil {
			return err
		}

		rows = reserveRows(userID, campaignID, campaignName, alloc)
		if err := tx.Append(ctx, rows...); err != nil {
			return err
		}

		return tx.Enqueue(ctx, newEvent(s.opts.Topics.LedgerEvents, campaignID, model.EventLedgerReserved, map[string]interface{}{
			"user_id":     userID,
			"campaign_id": campaignID,
			"amount":      amount,
			"points":      alloc.Points,
			"credit":      alloc.Credit,
		}))
	})
	if err != nil {
		return nil, err
	}
	if receipt != nil {
		return receipt, nil
	}

	receipt = &ReservationReceipt{CampaignID: campaignID, UserID: userID, Amount: amount}
	for _, row := range rows {
		receipt.TransactionIDs = append(receipt.TransactionIDs, row.ID)
		if row.FundType == model.FundPoint {
			receipt.PointsUsed += row.Amount
		} else {
			receipt.CreditUsed += row.Amount
		}
	}
	return receipt, nil
}

// replayReceipt decides what an existing history for the campaign means.
// (nil, nil) means there is none and a fresh reservation may be written.
func replayReceipt(userID, campaignID, amount int64, rows []*model.LedgerTransaction) (*ReservationReceipt, error) {
	hold := ledger.NetHold(campaignID, rows)
	if !hold.Reserved {
		return nil, nil
	}
	for _, row := range rows {
		if row.UserID != userID {
			return nil, ledger.ErrAlreadyReserved
		}
	}
	if hold.Released || !hold.IsOpen() || hold.Total() != amount {
		return nil, ledger.ErrAlreadyReserved
	}

	receipt := &ReservationReceipt{
		CampaignID: campaignID,
		UserID:     userID,
		Amount:     amount,
		PointsUsed: hold.Points,
		CreditUsed: hold.Credit,
		Replayed:   true,
	}
	for _, row := range rows {
		if row.Kind == model.KindReserve {
			receipt.TransactionIDs = append(receipt.TransactionIDs, row.ID)
		}
	}
	return receipt, nil
}

func reserveRows(userID, campaignID int64, campaignName string, alloc ledger.Allocation) []*model.LedgerTransaction {
	var rows []*model.LedgerTransaction
	add := func(fundType string, amount int64) {
		if amount <= 0 {
			return
		}
		id := campaignID
		rows = append(rows, &model.LedgerTransaction{
			UserID:      userID,
			Kind:        model.KindReserve,
			Amount:      amount,
			Status:      model.StatusCompleted,
			FundType:    fundType,
			Purpose:     model.PurposeCampaignHold,
			CampaignID:  &id,
			ReferenceID: ledger.CampaignReference(ledger.OpReserve, campaignID, fundType),
			Metadata: datatypes.JSONMap{
				"campaign_name": campaignName,
				"reason":        "campaign submission",
			},
		})
	}
	add(model.FundPoint, alloc.Points)
	add(model.FundCredit, alloc.Credit)
	return rows
}

func (s *ReservationService) verifyReservation(ctx context.Context, userID, campaignID, amount int64) (*ReservationReceipt, error) {
	readCtx, cancel := detached(ctx, s.opts.StoreTimeout)
	defer cancel()

	rows, err := s.ledger.CampaignTransactions(readCtx, campaignID)
	if err != nil {
		return nil, err
	}
	return replayReceipt(userID, campaignID, amount, rows)
}

type ReleaseReceipt struct {
	CampaignID     int64   `json:"campaign_id"`
	UserID         int64   `json:"user_id"`
	PointsReleased int64   `json:"points_released"`
	CreditReleased int64   `json:"credit_released"`
	TransactionIDs []int64 `json:"transaction_ids"`

	// NothingHeld is set when the campaign had no open hold.
	NothingHeld bool `json:"nothing_held"`
}

func (r *ReleaseReceipt) Total() int64 {
	return r.PointsReleased + r.CreditReleased
}

func isReleasePurpose(purpose string) bool {
	switch purpose {
	case model.PurposeCampaignRelease, model.PurposeCampaignCompensation, model.PurposeOrphanRelease:
		return true
	}
	return false
}

// Release returns the whole net hold of campaignID, per fund type, exactly
// as it was taken. A campaign without a hold is a no-op.
func (s *ReservationService) Release(ctx context.Context, userID, campaignID int64, purpose string) (*ReleaseReceipt, error) {
	if purpose == "" {
		purpose = model.PurposeCampaignRelease
	}
	if !isReleasePurpose(purpose) {
		return nil, fmt.Errorf("%w: release purpose %q", ErrInvalidRequest, purpose)
	}

	unlock, err := s.locker.LockUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer unlock()

	var receipt *ReleaseReceipt
	err = withRetry(s.logger, userID, func() error {
		var err error
		receipt, err = s.releaseOnce(ctx, userID, campaignID, purpose)
		return err
	})
	if err == nil {
		if !receipt.NothingHeld {
			s.logger.Info().
				Int64("user_id", userID).
				Int64("campaign_id", campaignID).
				Int64("points", receipt.PointsReleased).
				Int64("credit", receipt.CreditReleased).
				Str("purpose", purpose).
				Msg("funds released")
		}
		return receipt, nil
	}
	if isDomainError(err) {
		return nil, err
	}

	existing, verr := s.verifyRelease(ctx, userID, campaignID)
	if verr == nil && existing != nil {
		s.logger.Warn().Err(err).Int64("campaign_id", campaignID).Msg("release found after store error")
		return existing, nil
	}
	return nil, fmt.Errorf("release funds: %w", err)
}

func (s *ReservationService) releaseOnce(ctx context.Context, userID, campaignID int64, purpose string) (*ReleaseReceipt, error) {
	receipt := &ReleaseReceipt{CampaignID: campaignID, UserID: userID}
	var rows []*model.LedgerTransaction

	err := s.ledger.WithinUserLedger(ctx, userID, func(tx store.LedgerTx) error {
		campaignRows, err := tx.CampaignTransactions(ctx, campaignID)
		if err != nil {
			return err
		}

		hold := ledger.NetHold(campaignID, ownedBy(userID, campaignRows))
		if hold.Points < 0 || hold.Credit < 0 {
			return &ledger.InconsistentLedgerStateError{
				UserID:     userID,
				CampaignID: campaignID,
				Detail:     fmt.Sprintf("negative net hold: points=%d credit=%d", hold.Points, hold.Credit),
			}
		}
		if !hold.IsOpen() {
			return nil
		}

		rows = releaseRows(userID, campaignID, purpose, hold)
		if err := tx.Append(ctx, rows...); err != nil {
			return err
		}

		return tx.Enqueue(ctx, newEvent(s.opts.Topics.LedgerEvents, campaignID, model.EventLedgerReleased, map[string]interface{}{
			"user_id":     userID,
			"campaign_id": campaignID,
			"points":      hold.Points,
			"credit":      hold.Credit,
			"purpose":     purpose,
		}))
	})
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		receipt.NothingHeld = true
		return receipt, nil
	}
	for _, row := range rows {
		receipt.TransactionIDs = append(receipt.TransactionIDs, row.ID)
		if row.FundType == model.FundPoint {
			receipt.PointsReleased += row.Amount
		} else {
			receipt.CreditReleased += row.Amount
		}
	}
	return receipt, nil
}

func releaseRows(userID, campaignID int64, purpose string, hold ledger.Hold) []*model.LedgerTransaction {
	var rows []*model.LedgerTransaction
	add := func(fundType string, amount int64) {
		if amount <= 0 {
			return
		}
		id := campaignID
		rows = append(rows, &model.LedgerTransaction{
			UserID:      userID,
			Kind:        model.KindUnreserve,
			Amount:      amount,
			Status:      model.StatusCompleted,
			FundType:    fundType,
			Purpose:     purpose,
			CampaignID:  &id,
			ReferenceID: ledger.CampaignReference(ledger.OpUnreserve, campaignID, fundType),
		})
	}
	add(model.FundPoint, hold.Points)
	add(model.FundCredit, hold.Credit)
	return rows
}

// verifyRelease rebuilds the receipt of a release that committed despite
// an error. It returns nil when the hold is still open.
func (s *ReservationService) verifyRelease(ctx context.Context, userID, campaignID int64) (*ReleaseReceipt, error) {
	readCtx, cancel := detached(ctx, s.opts.StoreTimeout)
	defer cancel()

	rows, err := s.ledger.CampaignTransactions(readCtx, campaignID)
	if err != nil {
		return nil, err
	}
	rows = ownedBy(userID, rows)
	hold := ledger.NetHold(campaignID, rows)
	if hold.IsOpen() || !hold.Released {
		return nil, nil
	}

	receipt := &ReleaseReceipt{CampaignID: campaignID, UserID: userID}
	for _, row := range rows {
		if row.Kind != model.KindUnreserve {
			continue
		}
		receipt.TransactionIDs = append(receipt.TransactionIDs, row.ID)
		if row.FundType == model.FundPoint {
			receipt.PointsReleased += row.Amount
		} else {
			receipt.CreditReleased += row.Amount
		}
	}
	return receipt, nil
}

// HoldOf returns the current net hold of a campaign.
func (s *ReservationService) HoldOf(ctx context.Context, userID, campaignID int64) (ledger.Hold, error) {
	rows, err := s.ledger.CampaignTransactions(ctx, campaignID)
	if err != nil {
		return ledger.Hold{}, err
	}
	return ledger.NetHold(campaignID, ownedBy(userID, rows)), nil
}

func ownedBy(userID int64, rows []*model.LedgerTransaction) []*model.LedgerTransaction {
	owned := rows[:0:0]
	for _, row := range rows {
		if row.UserID == userID {
			owned = append(owned, row)
		}
	}
	return owned
}
