package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCampaignReference(t *testing.T) {
	assert.Equal(t, "reserve:42:point", CampaignReference(OpReserve, 42, "point"))
	assert.Equal(t, "unreserve:42:credit", CampaignReference(OpUnreserve, 42, "credit"))
}

func TestPartialWriteFailureError_Unwrap(t *testing.T) {
	cause := errors.New("insert campaign: boom")
	compErr := errors.New("release: timeout")

	err := &PartialWriteFailureError{UserID: 1, CampaignID: 2, Amount: 300, Cause: cause}
	assert.ErrorIs(t, err, ErrPartialWrite)
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.Compensated())
	assert.Contains(t, err.Error(), "reservation released")

	err.CompensationErr = compErr
	assert.ErrorIs(t, err, compErr)
	assert.False(t, err.Compensated())
	assert.Contains(t, err.Error(), "compensation failed")
}

func TestInconsistentLedgerStateError_Is(t *testing.T) {
	var err error = &InconsistentLedgerStateError{UserID: 1, CampaignID: 9, Detail: "no reserve rows"}
	assert.ErrorIs(t, err, ErrInconsistentLedger)
	assert.Contains(t, err.Error(), "campaign=9")
}
