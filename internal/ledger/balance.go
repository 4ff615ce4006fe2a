package ledger

import (
	"adledger/internal/model"
)

// Balance is the projection of a user's completed history.
//
// Available* is what the user owns. Held* is what is currently earmarked
// for pending campaigns (Σreserve − Σunreserve). Holds never change the
// available amounts; they only shrink what can still be reserved.
type Balance struct {
	AvailablePoints int64 `json:"available_points"`
	AvailableCredit int64 `json:"available_credit"`
	HeldPoints      int64 `json:"held_points"`
	HeldCredit      int64 `json:"held_credit"`
}

// Spendable returns the amounts that are neither consumed nor held.
func (b Balance) Spendable() (points, credit int64) {
	return clamp(b.AvailablePoints - b.HeldPoints), clamp(b.AvailableCredit - b.HeldCredit)
}

// Project folds the history into a Balance. Only completed rows count.
// The input order does not matter for the result.
func Project(txns []*model.LedgerTransaction) Balance {
	var b Balance

	for _, t := range txns {
		if t == nil || !t.IsCompleted() {
			continue
		}

		switch t.Kind {
		case model.KindCharge:
			if t.FundType == model.FundPoint {
				b.AvailablePoints += t.Amount
			} else {
				b.AvailableCredit += t.Amount
			}
		case model.KindUsage:
			if t.FundType == model.FundPoint {
				b.AvailablePoints -= t.Amount
			} else {
				b.AvailableCredit -= t.Amount
			}
		case model.KindRefund:
			b.AvailableCredit += t.Amount
		case model.KindPenalty:
			b.AvailableCredit -= t.Amount
		case model.KindReserve:
			if t.FundType == model.FundPoint {
				b.HeldPoints += t.Amount
			} else {
				b.HeldCredit += t.Amount
			}
		case model.KindUnreserve:
			if t.FundType == model.FundPoint {
				b.HeldPoints -= t.Amount
			} else {
				b.HeldCredit -= t.Amount
			}
		}
	}

	// A racing writer can leave the raw fold negative; never show that.
	b.AvailablePoints = clamp(b.AvailablePoints)
	b.AvailableCredit = clamp(b.AvailableCredit)
	b.HeldPoints = clamp(b.HeldPoints)
	b.HeldCredit = clamp(b.HeldCredit)

	return b
}

// Hold is the net reservation of a single campaign, per fund type.
type Hold struct {
	Points int64 `json:"points"`
	Credit int64 `json:"credit"`

	// Reserved is true when at least one completed reserve row exists.
	Reserved bool `json:"reserved"`
	// Released is true when at least one completed unreserve row exists.
	Released bool `json:"released"`
}

func (h Hold) Total() int64 {
	return h.Points + h.Credit
}

// IsOpen reports whether anything is still held.
func (h Hold) IsOpen() bool {
	return h.Points > 0 || h.Credit > 0
}

// NetHold sums the completed reserve/unreserve rows of one campaign.
// Unlike Project it does not clamp: a negative value is a ledger bug the
// caller must see.
func NetHold(campaignID int64, txns []*model.LedgerTransaction) Hold {
	var h Hold

	for _, t := range txns {
		if t == nil || !t.IsCompleted() || !t.BelongsTo(campaignID) {
			continue
		}

		var delta int64
		switch t.Kind {
		case model.KindReserve:
			delta = t.Amount
			h.Reserved = true
		case model.KindUnreserve:
			delta = -t.Amount
			h.Released = true
		default:
			continue
		}

		if t.FundType == model.FundPoint {
			h.Points += delta
		} else {
			h.Credit += delta
		}
	}

	return h
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
