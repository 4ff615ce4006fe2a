package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"adledger/internal/ledger"
	"adledger/internal/model"
	"adledger/internal/store"
	"adledger/pkg/idgen"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

var ErrReferenceConflict = errors.New("reference id already used for a different transaction")

// AccountService exposes balances and the non-campaign ledger writes:
// gateway top-ups and operator adjustments.
type AccountService struct {
	ledger store.LedgerStore
	locker UserLocker
	opts   Options
	logger zerolog.Logger
}

func NewAccountService(ledgerStore store.LedgerStore, locker UserLocker, opts Options, logger zerolog.Logger) *AccountService {
	return &AccountService{
		ledger: ledgerStore,
		locker: locker,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "account").Logger(),
	}
}

type BalanceView struct {
	AvailablePoints int64 `json:"available_points"`
	AvailableCredit int64 `json:"available_credit"`
	HeldPoints      int64 `json:"held_points"`
	HeldCredit      int64 `json:"held_credit"`
	SpendablePoints int64 `json:"spendable_points"`
	SpendableCredit int64 `json:"spendable_credit"`
}

func (s *AccountService) GetBalance(ctx context.Context, userID int64) (*BalanceView, error) {
	history, err := s.ledger.CompletedTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	b := ledger.Project(history)
	points, credit := b.Spendable()
	return &BalanceView{
		AvailablePoints: b.AvailablePoints,
		AvailableCredit: b.AvailableCredit,
		HeldPoints:      b.HeldPoints,
		HeldCredit:      b.HeldCredit,
		SpendablePoints: points,
		SpendableCredit: credit,
	}, nil
}

func (s *AccountService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.ledger.ListTransactions(ctx, userID, page, pageSize)
}

// ChargeRequest is a settled payment reported by the gateway.
type ChargeRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	ReferenceID string `json:"reference_id" binding:"required,max=128"`
	IsReward    bool   `json:"is_reward"`
	Note        string `json:"note"`
}

type RecordResult struct {
	Transaction *model.LedgerTransaction `json:"transaction"`
	Replayed    bool                     `json:"replayed"`
}

// RecordCharge appends a top-up. Redelivered webhooks carry the same
// reference id and return the original row.
func (s *AccountService) RecordCharge(ctx context.Context, req ChargeRequest) (*RecordResult, error) {
	if req.Amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if strings.TrimSpace(req.ReferenceID) == "" {
		return nil, fmt.Errorf("%w: reference_id is required", ErrInvalidRequest)
	}

	fundType, purpose := model.FundCredit, model.PurposeTopUp
	if req.IsReward {
		fundType, purpose = model.FundPoint, model.PurposeReward
	}

	row := &model.LedgerTransaction{
		UserID:      req.UserID,
		Kind:        model.KindCharge,
		Amount:      req.Amount,
		Status:      model.StatusCompleted,
		FundType:    fundType,
		Purpose:     purpose,
		ReferenceID: req.ReferenceID,
		Metadata:    datatypes.JSONMap{"source": "payment_gateway"},
	}
	if req.Note != "" {
		row.Metadata["note"] = req.Note
	}
	return s.record(ctx, row, false)
}

// AdjustmentRequest is an operator correction.
type AdjustmentRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Kind        string `json:"kind" binding:"required"`
	FundType    string `json:"fund_type"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	ReferenceID string `json:"reference_id" binding:"max=128"`
	Reason      string `json:"reason" binding:"required"`
	Operator    int64  `json:"-"`
}

// RecordAdjustment appends a refund, penalty, usage or manual charge.
// Refunds and penalties always move credit. Debits cannot exceed what is
// spendable.
func (s *AccountService) RecordAdjustment(ctx context.Context, req AdjustmentRequest) (*RecordResult, error) {
	if req.Amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidRequest)
	}

	switch req.Kind {
	case model.KindRefund, model.KindPenalty:
		req.FundType = model.FundCredit
	case model.KindCharge, model.KindUsage:
		if !model.IsValidFundType(req.FundType) {
			return nil, fmt.Errorf("%w: fund_type must be point or credit", ErrInvalidRequest)
		}
	default:
		return nil, fmt.Errorf("%w: kind %q cannot be adjusted manually", ErrInvalidRequest, req.Kind)
	}

	if req.ReferenceID == "" {
		req.ReferenceID = idgen.GenerateReferenceID("ADJ")
	}

	row := &model.LedgerTransaction{
		UserID:      req.UserID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		Status:      model.StatusCompleted,
		FundType:    req.FundType,
		Purpose:     model.PurposeAdjustment,
		ReferenceID: req.ReferenceID,
		Metadata: datatypes.JSONMap{
			"reason":   req.Reason,
			"operator": req.Operator,
		},
	}
	debit := req.Kind == model.KindUsage || req.Kind == model.KindPenalty
	return s.record(ctx, row, debit)
}

func (s *AccountService) record(ctx context.Context, row *model.LedgerTransaction, debit bool) (*RecordResult, error) {
	unlock, err := s.locker.LockUser(ctx, row.UserID)
	if err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer unlock()

	var replay *model.LedgerTransaction
	err = withRetry(s.logger, row.UserID, func() error {
		replay = nil
		return s.ledger.WithinUserLedger(ctx, row.UserID, func(tx store.LedgerTx) error {
			existing, err := tx.TransactionByReference(ctx, row.ReferenceID)
			switch {
			case err == nil:
				if !sameTransaction(existing, row) {
					return ErrReferenceConflict
				}
				replay = existing
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}

			if debit {
				history, err := tx.CompletedTransactions(ctx, row.UserID)
				if err != nil {
					return err
				}
				if err := checkSpendable(row, ledger.Project(history)); err != nil {
					return err
				}
			}

			if err := tx.Append(ctx, row); err != nil {
				return err
			}
			return tx.Enqueue(ctx, newEvent(s.opts.Topics.LedgerEvents, row.UserID, model.EventLedgerTransaction, map[string]interface{}{
				"user_id":      row.UserID,
				"kind":         row.Kind,
				"fund_type":    row.FundType,
				"amount":       row.Amount,
				"purpose":      row.Purpose,
				"reference_id": row.ReferenceID,
			}))
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateReference) {
			return nil, ErrReferenceConflict
		}
		return nil, err
	}

	if replay != nil {
		return &RecordResult{Transaction: replay, Replayed: true}, nil
	}

	s.logger.Info().
		Int64("user_id", row.UserID).
		Str("kind", row.Kind).
		Str("fund_type", row.FundType).
		Int64("amount", row.Amount).
		Str("reference_id", row.ReferenceID).
		Msg("ledger transaction recorded")
	return &RecordResult{Transaction: row}, nil
}

func sameTransaction(a, b *model.LedgerTransaction) bool {
	return a.UserID == b.UserID && a.Kind == b.Kind && a.FundType == b.FundType && a.Amount == b.Amount
}

func checkSpendable(row *model.LedgerTransaction, b ledger.Balance) error {
	points, credit := b.Spendable()
	available := credit
	if row.FundType == model.FundPoint {
		available = points
	}
	if row.Amount <= available {
		return nil
	}

	e := &ledger.InsufficientFundsError{
		Required:  row.Amount,
		Shortfall: row.Amount - available,
	}
	if row.FundType == model.FundPoint {
		e.AvailablePoints = available
	} else {
		e.AvailableCredit = available
	}
	return e
}
