package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrAlreadyReserved    = errors.New("campaign already has a reservation")
	ErrInconsistentLedger = errors.New("inconsistent ledger state")
	ErrPartialWrite       = errors.New("partial write failure")
)

// InsufficientFundsError is returned when points+credit cannot cover an amount.
// The user can always recover from it by topping up.
type InsufficientFundsError struct {
	Required        int64 `json:"required"`
	AvailablePoints int64 `json:"available_points"`
	AvailableCredit int64 `json:"available_credit"`
	Shortfall       int64 `json:"shortfall"`
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required=%d points=%d credit=%d shortfall=%d",
		e.Required, e.AvailablePoints, e.AvailableCredit, e.Shortfall)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// TopUpRequired tells the UI to prompt for a credit purchase.
func (e *InsufficientFundsError) TopUpRequired() bool {
	return e.Shortfall > 0
}

// InconsistentLedgerStateError marks a data-integrity bug, e.g. a campaign
// that should hold funds but has no reserve rows, or a negative net hold.
type InconsistentLedgerStateError struct {
	UserID     int64
	CampaignID int64
	Detail     string
}

func (e *InconsistentLedgerStateError) Error() string {
	return fmt.Sprintf("inconsistent ledger state: user=%d campaign=%d: %s", e.UserID, e.CampaignID, e.Detail)
}

func (e *InconsistentLedgerStateError) Is(target error) bool {
	return target == ErrInconsistentLedger
}

// PartialWriteFailureError is returned when a campaign write failed after its
// reservation was committed. CompensationErr is nil when the hold was
// released again; otherwise the ledger has drifted and the event was
// escalated for manual reconciliation.
type PartialWriteFailureError struct {
	UserID          int64
	CampaignID      int64
	Amount          int64
	PointsHeld      int64
	CreditHeld      int64
	Cause           error
	CompensationErr error
}

func (e *PartialWriteFailureError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("partial write failure: user=%d campaign=%d amount=%d: %v (compensation failed: %v)",
			e.UserID, e.CampaignID, e.Amount, e.Cause, e.CompensationErr)
	}
	return fmt.Sprintf("partial write failure: user=%d campaign=%d amount=%d: %v (reservation released)",
		e.UserID, e.CampaignID, e.Amount, e.Cause)
}

func (e *PartialWriteFailureError) Unwrap() []error {
	errs := []error{ErrPartialWrite}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	if e.CompensationErr != nil {
		errs = append(errs, e.CompensationErr)
	}
	return errs
}

// Compensated reports whether the hold was successfully released.
func (e *PartialWriteFailureError) Compensated() bool {
	return e.CompensationErr == nil
}
