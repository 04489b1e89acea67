// Package sagadb keeps in-flight saga transactions and payment-command
// claims in Postgres.
package sagadb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ordersaga/internal/saga"
)

// Store is a saga.Store and saga.Guard backed by Postgres.
type Store struct {
	db       *sql.DB
	claimTTL time.Duration
}

// NewStore constructs a Store backed by Postgres.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithClaimTTL makes claims older than ttl count as unclaimed. Claims never
// expire when ttl <= 0.
func (s *Store) WithClaimTTL(ttl time.Duration) *Store {
	s.claimTTL = ttl
	return s
}

// NewStoreWithSchema initializes the schema then returns the store.
func NewStoreWithSchema(ctx context.Context, db *sql.DB) (*Store, error) {
	store := NewStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates saga tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS saga_transactions (
			transaction_id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS saga_claims (
			claim_key TEXT PRIMARY KEY,
			claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, transactionID string) (saga.Transaction, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, order_id, amount, status
		FROM saga_transactions
		WHERE transaction_id = $1`,
		transactionID,
	)

	var tx saga.Transaction
	var status string
	if err := row.Scan(&tx.TransactionID, &tx.OrderID, &tx.Amount, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return saga.Transaction{}, false, nil
		}
		return saga.Transaction{}, false, err
	}
	tx.Status = saga.Status(status)
	return tx, true, nil
}

// Put inserts or replaces the record for tx.TransactionID.
func (s *Store) Put(ctx context.Context, tx saga.Transaction) error {
	if tx.TransactionID == "" {
		return saga.ErrMissingTransactionID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saga_transactions (transaction_id, order_id, amount, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (transaction_id) DO UPDATE
		SET order_id = EXCLUDED.order_id,
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			updated_at = NOW()`,
		tx.TransactionID, tx.OrderID, tx.Amount, string(tx.Status),
	)
	return err
}

func (s *Store) Delete(ctx context.Context, transactionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM saga_transactions WHERE transaction_id = $1`, transactionID)
	return err
}

// Claim records key and reports whether this call was the first to do so.
// An expired claim is taken over in place.
func (s *Store) Claim(ctx context.Context, key string) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if s.claimTTL > 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO saga_claims (claim_key, claimed_at)
			VALUES ($1, NOW())
			ON CONFLICT (claim_key) DO UPDATE
			SET claimed_at = EXCLUDED.claimed_at
			WHERE saga_claims.claimed_at <= NOW() - make_interval(secs => $2)`,
			key, s.claimTTL.Seconds(),
		)
	} else {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO saga_claims (claim_key)
			VALUES ($1)
			ON CONFLICT (claim_key) DO NOTHING`,
			key,
		)
	}
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// PruneClaims deletes expired claims and returns how many were removed.
func (s *Store) PruneClaims(ctx context.Context) (int64, error) {
	if s.claimTTL <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM saga_claims
		WHERE claimed_at <= NOW() - make_interval(secs => $1)`,
		s.claimTTL.Seconds(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM saga_claims WHERE claim_key = $1`, key)
	return err
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var (
	_ saga.Store = (*Store)(nil)
	_ saga.Guard = (*Store)(nil)
)
