// Package transport carries envelopes between services over a topic-based
// publish/subscribe broker and drives one role's consumption loop.
package transport

import (
	"context"
	"errors"

	"ordersaga/internal/event"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrClosed is returned by subscribers after Close.
var ErrClosed = errors.New("transport closed")

// Message is one record on a topic.
type Message struct {
	Topic     event.Topic
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
}

// Publisher sends a message to its topic.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber yields messages one at a time from its subscribed topics.
// Commit acknowledges a message after it was handled.
type Subscriber interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}

// NewMessage encodes env for topic, keyed by its correlation id, and injects
// the trace context carried by ctx into the headers.
func NewMessage(ctx context.Context, topic event.Topic, env event.Envelope) (Message, error) {
	env = env.WithTopic(topic)
	value, err := env.Marshal()
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		Topic:   topic,
		Value:   value,
		Headers: map[string]string{},
	}
	if p, err := event.Decode(env); err == nil {
		if id := event.CorrelationID(env, p); id != "" {
			msg.Key = []byte(id)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Headers))
	msg.Headers["event-type"] = string(env.Type)
	return msg, nil
}

// ExtractContext returns ctx enriched with the trace context found in msg headers.
func ExtractContext(ctx context.Context, msg Message) context.Context {
	if len(msg.Headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
}
