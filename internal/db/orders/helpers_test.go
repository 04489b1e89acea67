package ordersdb

import (
	"database/sql"
	"testing"

	"ordersaga/internal/event"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})
	return db, mock
}

func completedEnvelope(t *testing.T, txID, orderID string) event.Envelope {
	t.Helper()
	env, err := event.New(event.TopicOrder, event.TransactionCompleted{OrderOutcome: event.OrderOutcome{
		TransactionID: txID,
		OrderID:       orderID,
		Amount:        100,
	}})
	require.NoError(t, err)
	return env
}
