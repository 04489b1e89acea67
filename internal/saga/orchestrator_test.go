package saga

import (
	"context"
	"errors"
	"testing"

	"ordersaga/internal/event"
	"ordersaga/internal/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderCreated(t *testing.T, txID, orderID string, amount float64) event.Envelope {
	t.Helper()
	env, err := event.New(event.TopicOrderCreation, event.OrderCreated{Data: event.OrderSnapshot{
		ID:            orderID,
		TransactionID: txID,
		Amount:        amount,
		ItemCount:     2,
	}})
	require.NoError(t, err)
	return env
}

func paymentCompleted(t *testing.T, txID, orderID string, amount float64) event.Envelope {
	t.Helper()
	env, err := event.New(event.TopicOrchestrator, event.PaymentCompleted{PaymentResult: event.PaymentResult{
		TransactionID: txID,
		OrderID:       orderID,
		Amount:        amount,
		Status:        event.PaymentStatusSuccess,
	}})
	require.NoError(t, err)
	return env
}

func paymentFailed(t *testing.T, txID, orderID, reason string) event.Envelope {
	t.Helper()
	env, err := event.New(event.TopicOrchestrator, event.PaymentFailed{PaymentResult: event.PaymentResult{
		TransactionID: txID,
		OrderID:       orderID,
		Status:        event.PaymentStatusFailed,
		Reason:        reason,
	}})
	require.NoError(t, err)
	return env
}

func TestOrchestrator_OrderCreatedEmitsPaymentCommand(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orch := NewOrchestrator(store)

	out, err := orch.Handle(ctx, orderCreated(t, "T1", "O1", 100))
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, event.TypeExecutePayment, out[0].Type)
	assert.Equal(t, event.TopicPayment, out[0].Topic)

	payload, err := event.Decode(out[0])
	require.NoError(t, err)
	cmd := payload.(event.ExecutePayment).Data
	assert.Equal(t, "T1", cmd.TransactionID)
	assert.Equal(t, "O1", cmd.OrderRef())
	assert.Equal(t, "O1", cmd.ID)
	assert.Equal(t, 100.0, cmd.Amount)
	assert.Equal(t, 2, cmd.ItemCount)

	tx, ok, err := store.Get(ctx, "T1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Transaction{TransactionID: "T1", OrderID: "O1", Amount: 100, Status: StatusPaymentPending}, tx)
}

func TestOrchestrator_PaymentCompletedFinishesTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orch := NewOrchestrator(store)

	_, err := orch.Handle(ctx, orderCreated(t, "T1", "O1", 100))
	require.NoError(t, err)

	completed := paymentCompleted(t, "T1", "O1", 100)
	out, err := orch.Handle(ctx, completed)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, event.TypeTransactionCompleted, out[0].Type)
	assert.Equal(t, event.TopicOrder, out[0].Topic)

	payload, err := event.Decode(out[0])
	require.NoError(t, err)
	outcome := payload.(event.TransactionCompleted).OrderOutcome
	assert.Equal(t, event.OrderOutcome{TransactionID: "T1", OrderID: "O1", Amount: 100}, outcome)
	assert.Equal(t, 0, store.Len())

	again, err := orch.Handle(ctx, completed)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestOrchestrator_PaymentFailedCarriesReason(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orch := NewOrchestrator(store)

	_, err := orch.Handle(ctx, orderCreated(t, "T1", "O1", 100))
	require.NoError(t, err)

	failed := paymentFailed(t, "T1", "O1", "Insufficient funds")
	out, err := orch.Handle(ctx, failed)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, event.TypeOrderPaymentFailed, out[0].Type)
	assert.Equal(t, event.TopicOrder, out[0].Topic)

	payload, err := event.Decode(out[0])
	require.NoError(t, err)
	outcome := payload.(event.OrderPaymentFailed).OrderOutcome
	assert.Equal(t, "T1", outcome.TransactionID)
	assert.Equal(t, "O1", outcome.OrderID)
	assert.Equal(t, "Insufficient funds", outcome.Reason)
	assert.Equal(t, 0, store.Len())

	again, err := orch.Handle(ctx, failed)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestOrchestrator_PaymentFailedDefaultsReason(t *testing.T) {
	ctx := context.Background()
	orch := NewOrchestrator(NewMemoryStore())

	_, err := orch.Handle(ctx, orderCreated(t, "T2", "O2", 5))
	require.NoError(t, err)

	out, err := orch.Handle(ctx, paymentFailed(t, "T2", "O2", ""))
	require.NoError(t, err)
	require.Len(t, out, 1)

	payload, err := event.Decode(out[0])
	require.NoError(t, err)
	assert.Equal(t, DefaultFailureReason, payload.(event.OrderPaymentFailed).Reason)
}

func TestOrchestrator_UnknownTransactionIsNoop(t *testing.T) {
	ctx := context.Background()
	orch := NewOrchestrator(NewMemoryStore())

	out, err := orch.Handle(ctx, paymentCompleted(t, "T-unknown", "", 0))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = orch.Handle(ctx, paymentFailed(t, "T-unknown", "", "declined"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestOrchestrator_InterleavedTransactions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orch := NewOrchestrator(store)

	for _, id := range []string{"A", "B", "C"} {
		_, err := orch.Handle(ctx, orderCreated(t, "T-"+id, "O-"+id, 10))
		require.NoError(t, err)
	}
	require.Equal(t, 3, store.Len())

	out, err := orch.Handle(ctx, paymentFailed(t, "T-B", "O-B", "declined"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	out, err = orch.Handle(ctx, paymentCompleted(t, "T-C", "O-C", 10))
	require.NoError(t, err)
	require.Len(t, out, 1)

	_, ok, err := store.Get(ctx, "T-A")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestOrchestrator_LegacyTopLevelTransactionID(t *testing.T) {
	ctx := context.Background()
	orch := NewOrchestrator(NewMemoryStore())

	_, err := orch.Handle(ctx, orderCreated(t, "T1", "O1", 1))
	require.NoError(t, err)

	env := paymentCompleted(t, "", "O1", 1)
	env.TransactionID = "T1"
	out, err := orch.Handle(ctx, env)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestOrchestrator_MissingTransactionID(t *testing.T) {
	orch := NewOrchestrator(NewMemoryStore())

	_, err := orch.Handle(context.Background(), orderCreated(t, "", "O1", 1))
	assert.ErrorIs(t, err, ErrMissingTransactionID)
}

func TestOrchestrator_IgnoresOtherTypes(t *testing.T) {
	ctx := context.Background()
	orch := NewOrchestrator(NewMemoryStore())

	for _, typ := range []event.Type{event.TypeOrderPrepared, event.TypeOutOfStockOrder, event.TypeOrderPaymentCompleted} {
		out, err := orch.Handle(ctx, event.Envelope{Topic: event.TopicOrchestrator, Type: typ, Payload: []byte(`{"transactionId":"T1"}`)})
		require.NoError(t, err, typ)
		assert.Empty(t, out, typ)
	}

	out, err := orch.Handle(ctx, event.Envelope{Topic: event.TopicOrchestrator, Type: "SOMETHING_NEW", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestOrchestrator_MalformedPayload(t *testing.T) {
	orch := NewOrchestrator(NewMemoryStore())

	_, err := orch.Handle(context.Background(), event.Envelope{Type: event.TypeOrderCreated, Payload: []byte(`{"data":"nope"}`)})
	assert.ErrorIs(t, err, event.ErrMalformed)
}

func TestOrchestrator_GuardDeduplicatesOrderCreated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orch := NewOrchestrator(store, WithGuard(NewMemoryGuard(0)))

	created := orderCreated(t, "T1", "O1", 100)
	first, err := orch.Handle(ctx, created)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := orch.Handle(ctx, created)
	require.NoError(t, err)
	assert.Empty(t, second)

	_, err = orch.Handle(ctx, paymentCompleted(t, "T1", "O1", 100))
	require.NoError(t, err)

	third, err := orch.Handle(ctx, created)
	require.NoError(t, err)
	assert.Empty(t, third)
	assert.Equal(t, 0, store.Len())
}

func TestOrchestrator_WithoutGuardDuplicatesCommand(t *testing.T) {
	ctx := context.Background()
	orch := NewOrchestrator(NewMemoryStore())

	created := orderCreated(t, "T1", "O1", 100)
	for i := 0; i < 2; i++ {
		out, err := orch.Handle(ctx, created)
		require.NoError(t, err)
		require.Len(t, out, 1)
	}
}

type failingStore struct {
	*MemoryStore
	putErr    error
	getErr    error
	deleteErr error
}

func (s failingStore) Put(ctx context.Context, tx Transaction) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.MemoryStore.Put(ctx, tx)
}

func (s failingStore) Get(ctx context.Context, id string) (Transaction, bool, error) {
	if s.getErr != nil {
		return Transaction{}, false, s.getErr
	}
	return s.MemoryStore.Get(ctx, id)
}

func (s failingStore) Delete(ctx context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.MemoryStore.Delete(ctx, id)
}

func TestOrchestrator_DeleteFailureStillEmitsOutcome(t *testing.T) {
	cases := []struct {
		name   string
		result func(t *testing.T) event.Envelope
		want   event.Type
	}{
		{
			name:   "completed",
			result: func(t *testing.T) event.Envelope { return paymentCompleted(t, "T1", "O1", 100) },
			want:   event.TypeTransactionCompleted,
		},
		{
			name:   "failed",
			result: func(t *testing.T) event.Envelope { return paymentFailed(t, "T1", "O1", "declined") },
			want:   event.TypeOrderPaymentFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			storeErr := errors.New("store unavailable")
			store := failingStore{MemoryStore: NewMemoryStore(), deleteErr: storeErr}
			orch := NewOrchestrator(store)

			_, err := orch.Handle(ctx, orderCreated(t, "T1", "O1", 100))
			require.NoError(t, err)

			out, err := orch.Handle(ctx, tc.result(t))
			require.ErrorIs(t, err, storeErr)
			require.Len(t, out, 1)
			assert.Equal(t, tc.want, out[0].Type)
			assert.Equal(t, event.TopicOrder, out[0].Topic)
		})
	}
}

func TestOrchestrator_StoreFailureReleasesGuard(t *testing.T) {
	ctx := context.Background()
	guard := NewMemoryGuard(0)
	storeErr := errors.New("redis down")
	orch := NewOrchestrator(failingStore{MemoryStore: NewMemoryStore(), putErr: storeErr}, WithGuard(guard))

	_, err := orch.Handle(ctx, orderCreated(t, "T1", "O1", 100))
	require.ErrorIs(t, err, storeErr)

	claimed, err := guard.Claim(ctx, PaymentCommandKey("T1"))
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestOrchestrator_LookupFailureSurfaces(t *testing.T) {
	storeErr := errors.New("redis down")
	orch := NewOrchestrator(failingStore{MemoryStore: NewMemoryStore(), getErr: storeErr})

	out, err := orch.Handle(context.Background(), paymentCompleted(t, "T1", "O1", 1))
	require.ErrorIs(t, err, storeErr)
	assert.Empty(t, out)
}

func TestHandles_CoversOrchestratorRoutes(t *testing.T) {
	inert := map[event.Type]bool{
		event.TypeOrderPrepared:   true,
		event.TypeOutOfStockOrder: true,
	}
	table := router.DefaultTable()
	for _, typ := range event.Types() {
		for _, topic := range table[typ] {
			if topic != event.TopicOrchestrator && topic != event.TopicOrderCreation {
				continue
			}
			assert.True(t, Handles(typ) || inert[typ], "orchestrator does not classify %s", typ)
		}
	}
	assert.False(t, Handles(event.TypeExecutePayment))
}
