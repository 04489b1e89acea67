package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ordersaga/internal/event"
	"ordersaga/internal/observability"
)

// Fixed failure reasons reported to the orchestrator.
const (
	ReasonDeclined  = "Insufficient funds or payment processing error"
	ReasonException = "Payment processing exception"
)

// Executor turns EXECUTE_PAYMENT commands into exactly one
// PAYMENT_COMPLETED_STATE or PAYMENT_FAILED_STATE event.
type Executor struct {
	gateway Gateway
	ledger  Ledger
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLedger replays recorded outcomes for redelivered commands.
func WithLedger(ledger Ledger) Option {
	return func(e *Executor) { e.ledger = ledger }
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records one payment.charge span per gateway call.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = metrics }
}

// NewExecutor constructs an Executor around gateway.
func NewExecutor(gateway Gateway, opts ...Option) *Executor {
	e := &Executor{
		gateway: gateway,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "payment")
	return e
}

// Handle executes one payment command.
func (e *Executor) Handle(ctx context.Context, env event.Envelope) ([]event.Envelope, error) {
	if env.Type != event.TypeExecutePayment {
		e.logger.InfoContext(ctx, "ignoring event", "type", env.Type)
		return nil, nil
	}

	var cmd Command
	payload, err := event.Decode(env)
	if err != nil {
		// The orchestrator still needs exactly one outcome.
		e.logger.ErrorContext(ctx, "unreadable payment command", "error", err)
		cmd.TransactionID = env.TransactionID
		out, buildErr := e.emit(failed(cmd, ReasonException, e.now()))
		return out, errors.Join(err, buildErr)
	}
	data := payload.(event.ExecutePayment).Data
	cmd = Command{
		TransactionID: event.CorrelationID(env, payload),
		OrderID:       data.OrderRef(),
		Amount:        data.Amount,
	}

	return e.emit(e.settle(ctx, cmd))
}

// settle returns the recorded outcome for cmd or decides and records a new one.
func (e *Executor) settle(ctx context.Context, cmd Command) Outcome {
	if e.ledger != nil && cmd.TransactionID != "" {
		prior, ok, err := e.ledger.Lookup(ctx, cmd.TransactionID)
		switch {
		case err != nil:
			e.logger.WarnContext(ctx, "ledger lookup failed", "transaction_id", cmd.TransactionID, "error", err)
		case ok:
			e.logger.InfoContext(ctx, "replaying recorded payment outcome", "transaction_id", cmd.TransactionID, "status", prior.Status)
			return prior
		}
	}

	outcome := e.decide(ctx, cmd)

	if e.ledger != nil && cmd.TransactionID != "" {
		stored, err := e.ledger.Record(ctx, outcome)
		if err != nil {
			e.logger.WarnContext(ctx, "ledger record failed", "transaction_id", cmd.TransactionID, "error", err)
		} else {
			outcome = stored
		}
	}
	return outcome
}

// decide calls the gateway, converting errors and panics into a failed outcome.
func (e *Executor) decide(ctx context.Context, cmd Command) (outcome Outcome) {
	call := e.metrics.Start("payment.charge")
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "payment gateway panic", "transaction_id", cmd.TransactionID, "panic", fmt.Sprint(r))
			call.End(fmt.Errorf("panic: %v", r))
			outcome = failed(cmd, ReasonException, e.now())
		}
	}()

	err := e.gateway.Charge(ctx, cmd)
	switch {
	case err == nil:
		call.End(nil)
		e.logger.InfoContext(ctx, "payment approved", "transaction_id", cmd.TransactionID, "amount", cmd.Amount)
		return Outcome{
			TransactionID: cmd.TransactionID,
			OrderID:       cmd.OrderID,
			Amount:        cmd.Amount,
			Status:        event.PaymentStatusSuccess,
			DecidedAt:     e.now(),
		}
	case errors.Is(err, ErrDeclined):
		call.End(nil)
		e.logger.InfoContext(ctx, "payment declined", "transaction_id", cmd.TransactionID)
		return failed(cmd, ReasonDeclined, e.now())
	default:
		call.End(err)
		e.logger.ErrorContext(ctx, "payment processing error", "transaction_id", cmd.TransactionID, "error", err)
		return failed(cmd, ReasonException, e.now())
	}
}

func (e *Executor) emit(outcome Outcome) ([]event.Envelope, error) {
	result := event.PaymentResult{
		TransactionID: outcome.TransactionID,
		OrderID:       outcome.OrderID,
		Amount:        outcome.Amount,
		Status:        outcome.Status,
		Reason:        outcome.Reason,
	}
	var p event.Payload = event.PaymentFailed{PaymentResult: result}
	if outcome.Approved() {
		p = event.PaymentCompleted{PaymentResult: result}
	}
	env, err := event.New(event.TopicOrchestrator, p)
	if err != nil {
		return nil, err
	}
	return []event.Envelope{env}, nil
}

func failed(cmd Command, reason string, at time.Time) Outcome {
	return Outcome{
		TransactionID: cmd.TransactionID,
		OrderID:       cmd.OrderID,
		Amount:        cmd.Amount,
		Status:        event.PaymentStatusFailed,
		Reason:        reason,
		DecidedAt:     at,
	}
}
