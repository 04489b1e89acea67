package saga

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard_ClaimOnce(t *testing.T) {
	ctx := context.Background()
	guard := NewMemoryGuard(0)

	ok, err := guard.Claim(ctx, PaymentCommandKey("T1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Claim(ctx, PaymentCommandKey("T1"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, guard.Release(ctx, PaymentCommandKey("T1")))
	ok, err = guard.Claim(ctx, PaymentCommandKey("T1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryGuard_Expires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	guard := NewMemoryGuard(time.Minute)
	guard.now = func() time.Time { return now }

	ok, err := guard.Claim(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(30 * time.Second)
	ok, err = guard.Claim(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, err = guard.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryGuard_ExpiresManyKeysInClaimOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	guard := NewMemoryGuard(time.Hour)
	guard.now = func() time.Time { return now }

	const n = 5000
	for i := 0; i < n; i++ {
		ok, err := guard.Claim(ctx, PaymentCommandKey(fmt.Sprintf("T%d", i)))
		require.NoError(t, err)
		require.True(t, ok)
		now = now.Add(time.Second)
	}
	assert.Equal(t, n, guard.Len())

	// Claims T0..T1400 are now at least an hour old.
	ok, err := guard.Claim(ctx, PaymentCommandKey("T0"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Claim(ctx, PaymentCommandKey(fmt.Sprintf("T%d", n-1)))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = guard.Claim(ctx, PaymentCommandKey("T1401"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, n-1401+1, guard.Len())
	assert.Len(t, guard.order, guard.Len())
}

func TestMemoryGuard_ReleasedThenReclaimedKeySurvivesStaleEntry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	guard := NewMemoryGuard(time.Minute)
	guard.now = func() time.Time { return now }

	ok, err := guard.Claim(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, guard.Release(ctx, "k"))

	now = now.Add(30 * time.Second)
	ok, err = guard.Claim(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	// The first claim's entry expires here; the second claim must hold.
	now = now.Add(40 * time.Second)
	ok, err = guard.Claim(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(30 * time.Second)
	ok, err = guard.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPaymentCommandKey(t *testing.T) {
	assert.Equal(t, "T1:EXECUTE_PAYMENT", PaymentCommandKey("T1"))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryStore()
	assert.ErrorIs(t, store.Put(ctx, Transaction{TransactionID: "T1"}), context.Canceled)
	_, _, err := store.Get(ctx, "T1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Put(context.Background(), Transaction{}), ErrMissingTransactionID)
}
