package paymentsdb

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

func mustCommand(t *testing.T, txID, orderID string, amount float64) event.Envelope {
	t.Helper()
	env, err := event.New(event.TopicPayment, event.ExecutePayment{Data: event.PaymentCommand{
		TransactionID: txID,
		OrderID:       orderID,
		Amount:        amount,
	}})
	require.NoError(t, err)
	return env
}
