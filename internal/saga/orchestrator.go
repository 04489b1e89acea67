package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ordersaga/internal/event"
)

// DefaultFailureReason is reported when a failed payment carries no reason.
const DefaultFailureReason = "Payment processing failed"

// Orchestrator drives PAYMENT_PENDING transactions to a terminal outcome.
// Handle is called for one message at a time.
type Orchestrator struct {
	store  Store
	guard  Guard
	logger *slog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithGuard deduplicates payment commands for redelivered ORDER_CREATED events.
func WithGuard(guard Guard) Option {
	return func(o *Orchestrator) { o.guard = guard }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator constructs an Orchestrator over store.
func NewOrchestrator(store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o
}

// Handles reports whether typ drives a state transition.
func Handles(typ event.Type) bool {
	switch typ {
	case event.TypeOrderCreated, event.TypePaymentCompleted, event.TypePaymentFailed:
		return true
	}
	return false
}

// Handle applies env to the transaction store and returns the events to emit.
func (o *Orchestrator) Handle(ctx context.Context, env event.Envelope) ([]event.Envelope, error) {
	payload, err := event.Decode(env)
	if err != nil {
		if errors.Is(err, event.ErrUnknownType) {
			o.logger.WarnContext(ctx, "ignoring unknown event type", "type", env.Type)
			return nil, nil
		}
		return nil, err
	}

	txID := event.CorrelationID(env, payload)
	switch p := payload.(type) {
	case event.OrderCreated:
		return o.startPayment(ctx, txID, p.Data)
	case event.PaymentCompleted:
		return o.complete(ctx, txID, p.PaymentResult)
	case event.PaymentFailed:
		return o.fail(ctx, txID, p.PaymentResult)
	default:
		o.logger.InfoContext(ctx, "ignoring event", "type", env.Type, "transaction_id", txID)
		return nil, nil
	}
}

func (o *Orchestrator) startPayment(ctx context.Context, txID string, order event.OrderSnapshot) ([]event.Envelope, error) {
	if txID == "" {
		return nil, fmt.Errorf("%s: %w", event.TypeOrderCreated, ErrMissingTransactionID)
	}

	if o.guard != nil {
		key := PaymentCommandKey(txID)
		claimed, err := o.guard.Claim(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", key, err)
		}
		if !claimed {
			o.logger.InfoContext(ctx, "duplicate order created, payment already requested", "transaction_id", txID)
			return nil, nil
		}
	}

	tx := Transaction{
		TransactionID: txID,
		OrderID:       order.ID,
		Amount:        order.Amount,
		Status:        StatusPaymentPending,
	}
	if err := o.store.Put(ctx, tx); err != nil {
		o.release(ctx, txID)
		return nil, fmt.Errorf("store transaction %s: %w", txID, err)
	}

	cmd, err := event.New(event.TopicPayment, event.ExecutePayment{Data: event.PaymentCommand{
		TransactionID: txID,
		OrderID:       order.ID,
		ID:            order.ID,
		Amount:        order.Amount,
		ItemCount:     order.ItemCount,
	}})
	if err != nil {
		o.release(ctx, txID)
		return nil, err
	}

	o.logger.InfoContext(ctx, "transaction started", "transaction_id", txID, "order_id", order.ID, "amount", order.Amount)
	return []event.Envelope{cmd}, nil
}

func (o *Orchestrator) complete(ctx context.Context, txID string, result event.PaymentResult) ([]event.Envelope, error) {
	tx, ok, err := o.lookup(ctx, txID, event.TypePaymentCompleted)
	if err != nil || !ok {
		return nil, err
	}

	tx.Status = StatusCompleted
	out, err := event.New(event.TopicOrder, event.TransactionCompleted{OrderOutcome: event.OrderOutcome{
		TransactionID: txID,
		OrderID:       firstNonEmpty(tx.OrderID, result.OrderID),
		Amount:        tx.Amount,
	}})
	if err != nil {
		return nil, err
	}
	if err := o.finish(ctx, txID); err != nil {
		return []event.Envelope{out}, err
	}

	o.logger.InfoContext(ctx, "transaction finished", "transaction_id", txID, "status", tx.Status)
	return []event.Envelope{out}, nil
}

func (o *Orchestrator) fail(ctx context.Context, txID string, result event.PaymentResult) ([]event.Envelope, error) {
	tx, ok, err := o.lookup(ctx, txID, event.TypePaymentFailed)
	if err != nil || !ok {
		return nil, err
	}

	tx.Status = StatusFailed
	reason := firstNonEmpty(result.Reason, DefaultFailureReason)
	out, err := event.New(event.TopicOrder, event.OrderPaymentFailed{OrderOutcome: event.OrderOutcome{
		TransactionID: txID,
		OrderID:       firstNonEmpty(tx.OrderID, result.OrderID),
		Reason:        reason,
	}})
	if err != nil {
		return nil, err
	}
	if err := o.finish(ctx, txID); err != nil {
		return []event.Envelope{out}, err
	}

	o.logger.InfoContext(ctx, "transaction finished", "transaction_id", txID, "status", tx.Status, "reason", reason)
	return []event.Envelope{out}, nil
}

// finish deletes a terminal transaction. Callers emit the outcome event even
// when it fails.
func (o *Orchestrator) finish(ctx context.Context, txID string) error {
	if err := o.store.Delete(ctx, txID); err != nil {
		return fmt.Errorf("delete transaction %s: %w", txID, err)
	}
	return nil
}

// lookup treats a missing transaction as a late or duplicate delivery.
func (o *Orchestrator) lookup(ctx context.Context, txID string, typ event.Type) (Transaction, bool, error) {
	if txID == "" {
		return Transaction{}, false, fmt.Errorf("%s: %w", typ, ErrMissingTransactionID)
	}
	tx, ok, err := o.store.Get(ctx, txID)
	if err != nil {
		return Transaction{}, false, fmt.Errorf("load transaction %s: %w", txID, err)
	}
	if !ok {
		o.logger.InfoContext(ctx, "no live transaction, skipping", "type", typ, "transaction_id", txID)
		return Transaction{}, false, nil
	}
	return tx, true, nil
}

func (o *Orchestrator) release(ctx context.Context, txID string) {
	if o.guard == nil {
		return
	}
	if err := o.guard.Release(ctx, PaymentCommandKey(txID)); err != nil {
		o.logger.WarnContext(ctx, "release dedup key failed", "transaction_id", txID, "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
