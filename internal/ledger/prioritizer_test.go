package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_PointsFirst(t *testing.T) {
	alloc, err := Split(5000, 3000, 10000)
	require.NoError(t, err)

	assert.Equal(t, int64(3000), alloc.Points)
	assert.Equal(t, int64(2000), alloc.Credit)
	assert.Equal(t, int64(5000), alloc.Required)
}

func TestSplit_PointsCoverEverything(t *testing.T) {
	alloc, err := Split(1000, 5000, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), alloc.Points)
	assert.Zero(t, alloc.Credit)
}

func TestSplit_CreditOnly(t *testing.T) {
	alloc, err := Split(700, 0, 700)
	require.NoError(t, err)

	assert.Zero(t, alloc.Points)
	assert.Equal(t, int64(700), alloc.Credit)
}

func TestSplit_InsufficiencyBoundary(t *testing.T) {
	_, err := Split(1501, 1000, 500)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientFunds))

	var insufficient *InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(1), insufficient.Shortfall)
	assert.Equal(t, int64(1000), insufficient.AvailablePoints)
	assert.Equal(t, int64(500), insufficient.AvailableCredit)
	assert.True(t, insufficient.TopUpRequired())

	alloc, err := Split(1500, 1000, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), alloc.Points)
	assert.Equal(t, int64(500), alloc.Credit)
}

func TestSplit_InvalidAmount(t *testing.T) {
	_, err := Split(0, 100, 100)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Split(-5, 100, 100)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSplit_NegativeInputsTreatedAsZero(t *testing.T) {
	_, err := Split(10, -100, 5)

	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(5), insufficient.Shortfall)
}
