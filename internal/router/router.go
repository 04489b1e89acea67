// Package router fans envelopes out to the topics registered for their type.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ordersaga/internal/event"
	"ordersaga/internal/observability"
	"ordersaga/internal/transport"
)

// ErrUnroutable signals an event type with no routing entry.
var ErrUnroutable = errors.New("no route for event type")

// Router is stateless apart from its immutable table.
type Router struct {
	table     Table
	publisher transport.Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New constructs a Router. A nil table selects DefaultTable.
func New(table Table, publisher transport.Publisher, logger *slog.Logger, metrics *observability.Metrics) *Router {
	if table == nil {
		table = DefaultTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		table:     table,
		publisher: publisher,
		logger:    logger.With("component", "router"),
		metrics:   metrics,
	}
}

// Route returns the destination topics for typ.
func (r *Router) Route(typ event.Type) []event.Topic {
	return append([]event.Topic(nil), r.table[typ]...)
}

// Forward publishes one copy of env per destination topic. Every topic is
// attempted; failures are joined. Sends are independent, so a failure after
// the first topic leaves the event partially delivered.
func (r *Router) Forward(ctx context.Context, env event.Envelope) error {
	topics := r.table[env.Type]
	if len(topics) == 0 {
		r.logger.WarnContext(ctx, "dropping unroutable event", "type", env.Type, "id", env.ID)
		r.metrics.Start("router.unroutable").End(ErrUnroutable)
		return fmt.Errorf("%w: %s", ErrUnroutable, env.Type)
	}

	var errs []error
	for _, topic := range topics {
		span := r.metrics.Start("router." + string(topic))
		msg, err := transport.NewMessage(ctx, topic, env)
		if err == nil {
			err = r.publisher.Publish(ctx, msg)
		}
		span.End(err)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s to %s: %w", env.Type, topic, err))
			continue
		}
		r.logger.DebugContext(ctx, "routed event", "type", env.Type, "topic", topic)
	}
	return errors.Join(errs...)
}
