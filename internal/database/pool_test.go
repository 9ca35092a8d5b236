package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return New(sqlx.NewDb(mockDB, "postgres")), mock
}

func insertBooking(calls *int) func(tx *sqlx.Tx) error {
	return func(tx *sqlx.Tx) error {
		*calls++
		_, err := tx.ExecContext(context.Background(), `INSERT INTO bookings (id) VALUES ($1)`, "b-1")
		return err
	}
}

func TestInTx_CommitFailureIsNotRetried(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("read tcp: connection reset by peer"))

	calls := 0
	err := db.InTx(context.Background(), insertBooking(&calls))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommitUnknown)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_RetriesConnectionErrorBeforeCommit(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bookings`).WillReturnError(errors.New("write: broken pipe"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	err := db.InTx(context.Background(), insertBooking(&calls))

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_DomainErrorIsNotRetried(t *testing.T) {
	db, mock := newMockDB(t)
	conflict := errors.New("schedule conflict")

	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := db.InTx(context.Background(), func(tx *sqlx.Tx) error {
		calls++
		return conflict
	})

	assert.ErrorIs(t, err, conflict)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}
