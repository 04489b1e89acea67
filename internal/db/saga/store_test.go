package sagadb

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"ordersaga/internal/saga"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
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

func TestStore_InitSchema(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS saga_transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS saga_claims").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	_, err := NewStoreWithSchema(context.Background(), db)
	require.NoError(t, err)
}

func TestStore_InitSchemaError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS saga_transactions").
		WillReturnError(errors.New("permission denied"))
	mock.ExpectClose()

	_, err := NewStoreWithSchema(context.Background(), db)
	assert.Error(t, err)
}

func TestStore_PutUpserts(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO saga_transactions").
		WithArgs("T1", "O1", 25.5, "PAYMENT_PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	err := NewStore(db).Put(context.Background(), saga.Transaction{
		TransactionID: "T1",
		OrderID:       "O1",
		Amount:        25.5,
		Status:        saga.StatusPaymentPending,
	})
	require.NoError(t, err)
}

func TestStore_PutRequiresTransactionID(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectClose()

	err := NewStore(db).Put(context.Background(), saga.Transaction{OrderID: "O1"})
	assert.ErrorIs(t, err, saga.ErrMissingTransactionID)
}

func TestStore_Get(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT transaction_id, order_id, amount, status").
		WithArgs("T1").
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "order_id", "amount", "status"}).
			AddRow("T1", "O1", 10.0, "PAYMENT_PENDING"))
	mock.ExpectQuery("SELECT transaction_id, order_id, amount, status").
		WithArgs("T2").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	store := NewStore(db)
	tx, ok, err := store.Get(context.Background(), "T1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saga.Transaction{TransactionID: "T1", OrderID: "O1", Amount: 10, Status: saga.StatusPaymentPending}, tx)

	_, ok, err = store.Get(context.Background(), "T2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Delete(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("DELETE FROM saga_transactions").
		WithArgs("T1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	require.NoError(t, NewStore(db).Delete(context.Background(), "T1"))
}

func TestStore_ClaimOnce(t *testing.T) {
	db, mock := newMockDB(t)

	key := saga.PaymentCommandKey("T1")
	mock.ExpectExec(`ON CONFLICT \(claim_key\) DO NOTHING`).
		WithArgs(key).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`ON CONFLICT \(claim_key\) DO NOTHING`).
		WithArgs(key).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM saga_claims").
		WithArgs(key).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewStore(db)
	first, err := store.Claim(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.Claim(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, second, "second claim should lose")

	require.NoError(t, store.Release(context.Background(), key))
}

func TestStore_ClaimWithTTLTakesOverExpiredClaim(t *testing.T) {
	db, mock := newMockDB(t)

	key := saga.PaymentCommandKey("T1")
	mock.ExpectExec(`ON CONFLICT \(claim_key\) DO UPDATE`).
		WithArgs(key, float64(3600)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`ON CONFLICT \(claim_key\) DO UPDATE`).
		WithArgs(key, float64(3600)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewStore(db).WithClaimTTL(time.Hour)
	first, err := store.Claim(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, first, "expired claim should be taken over")

	second, err := store.Claim(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, second, "live claim should hold")
}

func TestStore_ClaimError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO saga_claims").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectClose()

	claimed, err := NewStore(db).Claim(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, claimed)
}

func TestStore_PruneClaims(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("DELETE FROM saga_claims").
		WithArgs(float64(86400)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectClose()

	n, err := NewStore(db).WithClaimTTL(24 * time.Hour).PruneClaims(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestStore_PruneClaimsWithoutTTLIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectClose()

	n, err := NewStore(db).PruneClaims(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
