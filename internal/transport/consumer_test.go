package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ordersaga/internal/event"
	"ordersaga/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSubscriber struct {
	mu        sync.Mutex
	msgs      []Message
	committed []int64
	closed    bool
}

func (s *sliceSubscriber) Fetch(ctx context.Context) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return Message{}, ErrClosed
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return msg, nil
}

func (s *sliceSubscriber) Commit(_ context.Context, msg Message) error {
	s.mu.Lock()
	s.committed = append(s.committed, msg.Offset)
	s.mu.Unlock()
	return nil
}

func (s *sliceSubscriber) Close() error {
	s.closed = true
	return nil
}

type forwardFunc func(ctx context.Context, env event.Envelope) error

func (f forwardFunc) Forward(ctx context.Context, env event.Envelope) error { return f(ctx, env) }

func paymentCompleted(t *testing.T, txID string) event.Envelope {
	t.Helper()
	env, err := event.New(event.TopicOrchestrator, event.PaymentCompleted{PaymentResult: event.PaymentResult{
		TransactionID: txID,
		OrderID:       "O-" + txID,
		Amount:        10,
	}})
	require.NoError(t, err)
	return env
}

func message(t *testing.T, env event.Envelope, offset int64) Message {
	t.Helper()
	msg, err := NewMessage(context.Background(), env.Topic, env)
	require.NoError(t, err)
	msg.Offset = offset
	return msg
}

func TestNewMessage_KeysByCorrelationID(t *testing.T) {
	env := paymentCompleted(t, "T1")

	msg, err := NewMessage(context.Background(), event.TopicOrder, env)
	require.NoError(t, err)

	assert.Equal(t, event.TopicOrder, msg.Topic)
	assert.Equal(t, []byte("T1"), msg.Key)
	assert.Equal(t, string(event.TypePaymentCompleted), msg.Headers["event-type"])

	parsed, err := event.Parse(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, event.TopicOrder, parsed.Topic)
}

func TestConsumer_RunHandlesInOrderAndCommits(t *testing.T) {
	sub := &sliceSubscriber{msgs: []Message{
		message(t, paymentCompleted(t, "T1"), 1),
		message(t, paymentCompleted(t, "T2"), 2),
	}}

	var seen []string
	handler := func(_ context.Context, env event.Envelope) ([]event.Envelope, error) {
		p, err := event.Decode(env)
		require.NoError(t, err)
		seen = append(seen, event.CorrelationID(env, p))
		return nil, nil
	}

	c := NewConsumer("orchestrator", sub, handler, nil)
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []string{"T1", "T2"}, seen)
	assert.Equal(t, []int64{1, 2}, sub.committed)
}

func TestConsumer_MalformedMessageIsDroppedAndCommitted(t *testing.T) {
	metrics := observability.NewMetrics()
	sub := &sliceSubscriber{msgs: []Message{{Topic: event.TopicOrder, Value: []byte("{not json"), Offset: 7}}}

	called := false
	handler := func(context.Context, event.Envelope) ([]event.Envelope, error) {
		called = true
		return nil, nil
	}

	c := NewConsumer("orders", sub, handler, nil, WithMetrics(metrics))
	require.NoError(t, c.Run(context.Background()))

	assert.False(t, called)
	assert.Equal(t, []int64{7}, sub.committed)
	assert.Equal(t, int64(1), metrics.Snapshot().Operations["orders.malformed"].Errors)
}

func TestConsumer_ForwardsEveryOutgoingEnvelope(t *testing.T) {
	out := []event.Envelope{paymentCompleted(t, "A"), paymentCompleted(t, "B")}
	handler := func(context.Context, event.Envelope) ([]event.Envelope, error) {
		return out, nil
	}

	var forwarded []event.Envelope
	fwd := forwardFunc(func(_ context.Context, env event.Envelope) error {
		forwarded = append(forwarded, env)
		if len(forwarded) == 1 {
			return errors.New("broker down")
		}
		return nil
	})

	metrics := observability.NewMetrics()
	c := NewConsumer("payment", &sliceSubscriber{}, handler, fwd, WithMetrics(metrics))
	c.HandleMessage(context.Background(), message(t, paymentCompleted(t, "T1"), 1))

	require.Len(t, forwarded, 2)
	snap := metrics.Snapshot().Operations["payment."+string(event.TypePaymentCompleted)]
	assert.Equal(t, int64(1), snap.Count)
	assert.Equal(t, int64(1), snap.Errors)
}

func TestConsumer_HandlerErrorStillForwardsOutput(t *testing.T) {
	failure := paymentCompleted(t, "X")
	handler := func(context.Context, event.Envelope) ([]event.Envelope, error) {
		return []event.Envelope{failure}, errors.New("decode failed")
	}

	var forwarded int
	fwd := forwardFunc(func(context.Context, event.Envelope) error {
		forwarded++
		return nil
	})

	c := NewConsumer("payment", &sliceSubscriber{}, handler, fwd)
	c.HandleMessage(context.Background(), message(t, paymentCompleted(t, "T1"), 1))
	assert.Equal(t, 1, forwarded)
}

func TestConsumer_RunStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sub := &blockingSubscriber{}
	c := NewConsumer("fanout", sub, func(context.Context, event.Envelope) ([]event.Envelope, error) { return nil, nil }, nil)
	assert.NoError(t, c.Run(ctx))
}

type blockingSubscriber struct{}

func (blockingSubscriber) Fetch(ctx context.Context) (Message, error) {
	<-ctx.Done()
	return Message{}, ctx.Err()
}
func (blockingSubscriber) Commit(context.Context, Message) error { return nil }
func (blockingSubscriber) Close() error                          { return nil }
