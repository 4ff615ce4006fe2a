package repository

import (
	"context"
	"regexp"
	"testing"

	"adledger/internal/model"
	"adledger/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deleteGuarded = "DELETE FROM `campaign` WHERE id = ? AND status IN (?,?,?)"

func TestCampaignDelete_StatusGuard(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	// approved after the caller read it: the guarded delete matches nothing
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(deleteGuarded)).
		WithArgs(9, model.CampaignStatusPendingApproval, model.CampaignStatusReviewing, model.CampaignStatusRejected).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `campaign` WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))
	mock.ExpectRollback()

	err := NewCampaignRepository(db).Delete(ctx, 9, model.DeletableStatuses, nil)
	assert.ErrorIs(t, err, store.ErrStatusConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignDelete_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(deleteGuarded)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `campaign` WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))
	mock.ExpectRollback()

	err := NewCampaignRepository(db).Delete(ctx, 9, model.DeletableStatuses, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignDelete_RemovesTargetsAndWritesOutbox(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(deleteGuarded)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `campaign_target` WHERE campaign_id = ?")).
		WithArgs(9).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox_message`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	msg := &model.OutboxMessage{Event: model.EventCampaignDeleted, Topic: "campaign_events", MessageKey: "9", Payload: "{}"}
	require.NoError(t, NewCampaignRepository(db).Delete(ctx, 9, model.DeletableStatuses, msg))
	assert.Equal(t, model.OutboxStatusPending, msg.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignDelete_NoAllowedStatus(t *testing.T) {
	db, mock := newMockDB(t)

	err := NewCampaignRepository(db).Delete(context.Background(), 9, nil, nil)
	assert.ErrorIs(t, err, store.ErrStatusConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
