package payment

import (
	"context"
	"sync"
	"time"

	"ordersaga/internal/event"
)

// Outcome is the decided result for one transaction.
type Outcome struct {
	TransactionID string
	OrderID       string
	Amount        float64
	Status        string
	Reason        string
	DecidedAt     time.Time
}

// Approved reports whether the charge succeeded.
func (o Outcome) Approved() bool {
	return o.Status == event.PaymentStatusSuccess
}

// Ledger remembers decided outcomes so a redelivered command replays the
// first decision. Record keeps the first outcome per transaction and returns
// whichever outcome is stored.
type Ledger interface {
	Lookup(ctx context.Context, transactionID string) (Outcome, bool, error)
	Record(ctx context.Context, outcome Outcome) (Outcome, error)
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
}

// NewMemoryLedger constructs an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{outcomes: make(map[string]Outcome)}
}

func (l *MemoryLedger) Lookup(ctx context.Context, transactionID string) (Outcome, bool, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	outcome, ok := l.outcomes[transactionID]
	return outcome, ok, nil
}

func (l *MemoryLedger) Record(ctx context.Context, outcome Outcome) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.outcomes[outcome.TransactionID]; ok {
		return existing, nil
	}
	l.outcomes[outcome.TransactionID] = outcome
	return outcome, nil
}
