package ledger

import (
	"testing"

	"adledger/internal/model"

	"github.com/stretchr/testify/assert"
)

func txn(kind, fund string, amount int64) *model.LedgerTransaction {
	return &model.LedgerTransaction{
		Kind:     kind,
		FundType: fund,
		Amount:   amount,
		Status:   model.StatusCompleted,
	}
}

func campaignTxn(kind, fund string, amount, campaignID int64) *model.LedgerTransaction {
	t := txn(kind, fund, amount)
	t.CampaignID = &campaignID
	return t
}

func TestProject_Rules(t *testing.T) {
	history := []*model.LedgerTransaction{
		txn(model.KindCharge, model.FundCredit, 10000),
		txn(model.KindCharge, model.FundPoint, 3000),
		txn(model.KindUsage, model.FundPoint, 500),
		txn(model.KindUsage, model.FundCredit, 1000),
		txn(model.KindRefund, model.FundCredit, 200),
		txn(model.KindPenalty, model.FundCredit, 100),
	}

	b := Project(history)

	assert.Equal(t, int64(2500), b.AvailablePoints)
	assert.Equal(t, int64(9100), b.AvailableCredit)
	assert.Zero(t, b.HeldPoints)
	assert.Zero(t, b.HeldCredit)
}

func TestProject_OnlyCompletedCounts(t *testing.T) {
	pending := txn(model.KindCharge, model.FundCredit, 5000)
	pending.Status = model.StatusPending
	failed := txn(model.KindCharge, model.FundCredit, 7000)
	failed.Status = model.StatusFailed

	b := Project([]*model.LedgerTransaction{
		txn(model.KindCharge, model.FundCredit, 1000),
		pending,
		failed,
		nil,
	})

	assert.Equal(t, int64(1000), b.AvailableCredit)
}

func TestProject_ReservationsDoNotTouchAvailable(t *testing.T) {
	b := Project([]*model.LedgerTransaction{
		txn(model.KindCharge, model.FundCredit, 10000),
		txn(model.KindCharge, model.FundPoint, 3000),
		campaignTxn(model.KindReserve, model.FundPoint, 3000, 42),
		campaignTxn(model.KindReserve, model.FundCredit, 2000, 42),
	})

	assert.Equal(t, int64(3000), b.AvailablePoints)
	assert.Equal(t, int64(10000), b.AvailableCredit)
	assert.Equal(t, int64(3000), b.HeldPoints)
	assert.Equal(t, int64(2000), b.HeldCredit)

	points, credit := b.Spendable()
	assert.Zero(t, points)
	assert.Equal(t, int64(8000), credit)
}

func TestProject_ClampsAtZero(t *testing.T) {
	b := Project([]*model.LedgerTransaction{
		txn(model.KindCharge, model.FundCredit, 100),
		txn(model.KindPenalty, model.FundCredit, 300),
		txn(model.KindUsage, model.FundPoint, 50),
	})

	assert.Zero(t, b.AvailableCredit)
	assert.Zero(t, b.AvailablePoints)
}

func TestProject_UsageWithUnknownFundDebitsCredit(t *testing.T) {
	b := Project([]*model.LedgerTransaction{
		txn(model.KindCharge, model.FundCredit, 100),
		txn(model.KindUsage, "", 40),
	})

	assert.Equal(t, int64(60), b.AvailableCredit)
}

func TestNetHold(t *testing.T) {
	history := []*model.LedgerTransaction{
		campaignTxn(model.KindReserve, model.FundPoint, 3000, 42),
		campaignTxn(model.KindReserve, model.FundCredit, 2000, 42),
		campaignTxn(model.KindReserve, model.FundCredit, 999, 7),
	}

	h := NetHold(42, history)
	assert.Equal(t, int64(3000), h.Points)
	assert.Equal(t, int64(2000), h.Credit)
	assert.Equal(t, int64(5000), h.Total())
	assert.True(t, h.IsOpen())
	assert.True(t, h.Reserved)
	assert.False(t, h.Released)

	history = append(history,
		campaignTxn(model.KindUnreserve, model.FundPoint, 3000, 42),
		campaignTxn(model.KindUnreserve, model.FundCredit, 2000, 42),
	)

	h = NetHold(42, history)
	assert.Zero(t, h.Total())
	assert.False(t, h.IsOpen())
	assert.True(t, h.Released)

	assert.Equal(t, int64(999), NetHold(7, history).Credit)
	assert.False(t, NetHold(1, history).Reserved)
}

func TestNetHold_DoesNotClamp(t *testing.T) {
	h := NetHold(5, []*model.LedgerTransaction{
		campaignTxn(model.KindUnreserve, model.FundCredit, 10, 5),
	})

	assert.Equal(t, int64(-10), h.Credit)
}
