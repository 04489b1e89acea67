package transport

import (
	"context"
	"errors"
	"log/slog"

	"ordersaga/internal/event"
	"ordersaga/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler processes one inbound envelope and returns the envelopes to emit.
type Handler func(ctx context.Context, env event.Envelope) ([]event.Envelope, error)

// Forwarder delivers an outgoing envelope to its destination topics.
type Forwarder interface {
	Forward(ctx context.Context, env event.Envelope) error
}

// Consumer pulls messages from a Subscriber and hands them to a Handler,
// strictly one at a time.
type Consumer struct {
	name    string
	sub     Subscriber
	handler Handler
	forward Forwarder
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Option customizes a Consumer.
type Option func(*Consumer)

// WithLogger sets the consumer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records one span per handled message, named role.TYPE.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Consumer) { c.metrics = metrics }
}

// NewConsumer constructs a Consumer. forward may be nil for handlers that never emit.
func NewConsumer(name string, sub Subscriber, handler Handler, forward Forwarder, opts ...Option) *Consumer {
	c := &Consumer{
		name:    name,
		sub:     sub,
		handler: handler,
		forward: forward,
		logger:  slog.Default(),
		tracer:  otel.Tracer("ordersaga/transport"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("consumer", name)
	return c
}

// Run consumes until ctx is cancelled or the subscriber fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "consumer started")
	for {
		msg, err := c.sub.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				c.logger.InfoContext(ctx, "consumer stopped")
				return nil
			}
			return err
		}

		c.HandleMessage(ctx, msg)

		if err := c.sub.Commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.ErrorContext(ctx, "commit failed", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

// HandleMessage parses, handles and forwards a single message. Failures are
// logged and the message is dropped; nothing is reported to the producer.
func (c *Consumer) HandleMessage(ctx context.Context, msg Message) {
	ctx = ExtractContext(ctx, msg)

	env, err := event.Parse(msg.Value)
	if err != nil {
		c.logger.WarnContext(ctx, "dropping malformed message", "topic", msg.Topic, "raw", string(msg.Value), "error", err)
		c.metrics.Start(c.name + ".malformed").End(err)
		return
	}

	ctx, span := c.tracer.Start(ctx, c.name+" "+string(env.Type),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", string(msg.Topic)),
			attribute.String("saga.event_type", string(env.Type)),
		),
	)
	defer span.End()

	call := c.metrics.Start(c.name + "." + string(env.Type))
	out, err := c.handler(ctx, env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.ErrorContext(ctx, "handler failed", "type", env.Type, "topic", msg.Topic, "error", err)
	}

	var fwdErr error
	for _, next := range out {
		if c.forward == nil {
			fwdErr = errors.Join(fwdErr, errors.New("no forwarder configured"))
			break
		}
		if ferr := c.forward.Forward(ctx, next); ferr != nil {
			c.logger.ErrorContext(ctx, "forward failed", "type", next.Type, "error", ferr)
			fwdErr = errors.Join(fwdErr, ferr)
		}
	}
	if fwdErr != nil {
		span.RecordError(fwdErr)
	}
	call.End(errors.Join(err, fwdErr))
}
