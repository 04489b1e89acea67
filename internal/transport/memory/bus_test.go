package memory

import (
	"context"
	"testing"
	"time"

	"ordersaga/internal/event"
	"ordersaga/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToEverySubscriptionOfTopic(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	a := bus.Subscribe(event.TopicOrder)
	b := bus.Subscribe(event.TopicOrder, event.TopicPayment)
	c := bus.Subscribe(event.TopicPayment)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, transport.Message{Topic: event.TopicOrder, Value: []byte("x")}))

	assert.Equal(t, 1, a.Pending())
	assert.Equal(t, 1, b.Pending())
	assert.Zero(t, c.Pending(), "payment-only subscriber should not receive order message")

	msg, err := a.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", string(msg.Value))
	assert.Equal(t, int64(1), msg.Offset)
}

func TestSubscription_FetchPreservesOrder(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe(event.TopicOrchestrator)
	ctx := context.Background()
	for _, v := range []string{"1", "2", "3"} {
		require.NoError(t, bus.Publish(ctx, transport.Message{Topic: event.TopicOrchestrator, Value: []byte(v)}))
	}
	for _, want := range []string{"1", "2", "3"} {
		msg, err := sub.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(msg.Value))
	}
}

func TestSubscription_FetchBlocksUntilPublish(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe(event.TopicPayment)

	got := make(chan transport.Message, 1)
	go func() {
		msg, err := sub.Fetch(context.Background())
		if err == nil {
			got <- msg
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), transport.Message{Topic: event.TopicPayment, Value: []byte("late")}))

	select {
	case msg := <-got:
		assert.Equal(t, "late", string(msg.Value))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fetch")
	}
}

func TestSubscription_CloseUnblocksFetch(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe(event.TopicOrder)

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Fetch(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sub.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("fetch did not unblock on close")
	}

	require.NoError(t, bus.Publish(context.Background(), transport.Message{Topic: event.TopicOrder}))
	assert.Zero(t, sub.Pending(), "closed subscription should not receive messages")
}

func TestSubscription_FetchHonoursContext(t *testing.T) {
	t.Parallel()

	sub := NewBus().Subscribe(event.TopicOrder)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sub.Fetch(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
