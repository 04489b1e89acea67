package orders

import (
	"context"
	"errors"
	"log/slog"

	"ordersaga/internal/event"
)

// DefaultFailureReason is stored when a failure outcome carries no reason.
const DefaultFailureReason = "Payment processing failed"

// Projector folds orchestrator outcomes into the order status. Missing
// orders and store failures are logged and dropped.
type Projector struct {
	store  Store
	logger *slog.Logger
}

// NewProjector constructs a Projector.
func NewProjector(store Store, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{store: store, logger: logger.With("component", "projector")}
}

// Projects reports whether typ changes order status.
func Projects(typ event.Type) bool {
	_, ok := updateFor(typ, "")
	return ok
}

// updateFor maps an outcome type to the status it assigns.
func updateFor(typ event.Type, reason string) (Update, bool) {
	if reason == "" {
		reason = DefaultFailureReason
	}
	switch typ {
	case event.TypeOrderPaymentCompleted:
		return Update{Status: StatusPaymentCompleted}, true
	case event.TypeOrderPaymentFailed:
		return Update{Status: StatusFailed, FailureReason: reason}, true
	case event.TypeTransactionCompleted:
		return Update{Status: StatusCompleted}, true
	case event.TypeTransactionFailed:
		return Update{Status: StatusFailed, FailureReason: reason}, true
	}
	return Update{}, false
}

// Handle applies one outcome event. It never emits.
func (p *Projector) Handle(ctx context.Context, env event.Envelope) ([]event.Envelope, error) {
	payload, err := event.Decode(env)
	if err != nil {
		if errors.Is(err, event.ErrUnknownType) {
			p.logger.WarnContext(ctx, "ignoring unknown event type", "type", env.Type)
			return nil, nil
		}
		return nil, err
	}

	var outcome event.OrderOutcome
	switch v := payload.(type) {
	case event.OrderPaymentCompleted:
		outcome = v.OrderOutcome
	case event.OrderPaymentFailed:
		outcome = v.OrderOutcome
	case event.TransactionCompleted:
		outcome = v.OrderOutcome
	case event.TransactionFailed:
		outcome = v.OrderOutcome
	default:
		p.logger.InfoContext(ctx, "ignoring event", "type", env.Type)
		return nil, nil
	}

	txID := event.CorrelationID(env, payload)
	if txID == "" {
		p.logger.WarnContext(ctx, "outcome without transaction id", "type", env.Type)
		return nil, nil
	}

	update, _ := updateFor(env.Type, outcome.Reason)
	order, err := p.store.UpdateByTransactionID(ctx, txID, update)
	switch {
	case errors.Is(err, ErrNotFound):
		p.logger.WarnContext(ctx, "no order for transaction", "type", env.Type, "transaction_id", txID)
	case err != nil:
		p.logger.ErrorContext(ctx, "update order status failed", "type", env.Type, "transaction_id", txID, "error", err)
	default:
		p.logger.InfoContext(ctx, "order status updated", "order_id", order.ID, "transaction_id", txID, "status", order.Status)
	}
	return nil, nil
}
