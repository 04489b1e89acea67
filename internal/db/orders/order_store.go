package ordersdb

import (
	"context"
	"database/sql"
	"errors"

	"ordersaga/internal/orders"
)

// OrderStore persists orders in Postgres.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore constructs an OrderStore backed by Postgres.
func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

// NewOrderStoreWithSchema initializes the schema then returns the store.
func NewOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*OrderStore, error) {
	store := NewOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the orders table if it does not exist.
func (s *OrderStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			transaction_id TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			item_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS orders_created_at_idx ON orders (created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const orderColumns = `order_id, transaction_id, name, amount, item_count, status, failure_reason, created_at, updated_at`

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, order orders.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.TransactionID, order.Name, order.Amount, order.ItemCount,
		string(order.Status), order.FailureReason, order.CreatedAt, order.UpdatedAt,
	)
	return err
}

// List returns every order, newest first.
func (s *OrderStore) List(ctx context.Context) ([]orders.Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, order_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one order by id.
func (s *OrderStore) Get(ctx context.Context, orderID string) (orders.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	return order, err
}

// UpdateByTransactionID assigns status (and a non-empty failure reason) in a
// single statement and returns the updated row.
func (s *OrderStore) UpdateByTransactionID(ctx context.Context, transactionID string, update orders.Update) (orders.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $2,
			failure_reason = CASE WHEN $3 = '' THEN failure_reason ELSE $3 END,
			updated_at = NOW()
		WHERE transaction_id = $1
		RETURNING `+orderColumns,
		transactionID, string(update.Status), update.FailureReason,
	)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	return order, err
}

// Ping checks connectivity.
func (s *OrderStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (orders.Order, error) {
	var order orders.Order
	var status string
	if err := row.Scan(
		&order.ID, &order.TransactionID, &order.Name, &order.Amount, &order.ItemCount,
		&status, &order.FailureReason, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return orders.Order{}, err
	}
	order.Status = orders.Status(status)
	return order, nil
}

var _ orders.Store = (*OrderStore)(nil)
