package paymentsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ordersaga/internal/payment"
)

// Ledger records one payment outcome per transaction in Postgres.
type Ledger struct {
	db *sql.DB
}

// NewLedger constructs a Ledger backed by Postgres.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// NewLedgerWithSchema initializes the schema then returns the ledger.
func NewLedgerWithSchema(ctx context.Context, db *sql.DB) (*Ledger, error) {
	ledger := NewLedger(db)
	if err := ledger.InitSchema(ctx); err != nil {
		return nil, err
	}
	return ledger, nil
}

// InitSchema creates the payments table if it does not exist.
func (l *Ledger) InitSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payments (
			transaction_id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			decided_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Lookup returns the recorded outcome for transactionID.
func (l *Ledger) Lookup(ctx context.Context, transactionID string) (payment.Outcome, bool, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT transaction_id, order_id, amount, status, reason, decided_at
		FROM payments
		WHERE transaction_id = $1`,
		transactionID,
	)

	var out payment.Outcome
	if err := row.Scan(&out.TransactionID, &out.OrderID, &out.Amount, &out.Status, &out.Reason, &out.DecidedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payment.Outcome{}, false, nil
		}
		return payment.Outcome{}, false, err
	}
	return out, true, nil
}

// Record inserts outcome unless one already exists, then returns the stored row.
func (l *Ledger) Record(ctx context.Context, outcome payment.Outcome) (payment.Outcome, error) {
	if outcome.TransactionID == "" {
		return payment.Outcome{}, fmt.Errorf("transaction id required")
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO payments (transaction_id, order_id, amount, status, reason, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (transaction_id) DO NOTHING`,
		outcome.TransactionID, outcome.OrderID, outcome.Amount, outcome.Status, outcome.Reason, outcome.DecidedAt,
	)
	if err != nil {
		return payment.Outcome{}, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return payment.Outcome{}, err
	}
	if affected == 1 {
		return outcome, nil
	}

	stored, ok, err := l.Lookup(ctx, outcome.TransactionID)
	if err != nil {
		return payment.Outcome{}, err
	}
	if !ok {
		return payment.Outcome{}, fmt.Errorf("payment %s not found after conflict", outcome.TransactionID)
	}
	return stored, nil
}

// Ping checks connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

var _ payment.Ledger = (*Ledger)(nil)
