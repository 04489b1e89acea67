// Package saga holds the orchestrator state machine and its transaction store.
package saga

import (
	"context"
	"errors"
	"sync"
)

// Status captures the state of an in-flight transaction.
type Status string

const (
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
)

// Terminal reports whether s ends the saga.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction is the orchestrator's bookkeeping record for one saga.
type Transaction struct {
	TransactionID string  `json:"transactionId"`
	OrderID       string  `json:"orderId"`
	Amount        float64 `json:"amount"`
	Status        Status  `json:"status"`
}

// ErrMissingTransactionID is returned when an event carries no correlation id.
var ErrMissingTransactionID = errors.New("event has no transaction id")

// Store persists in-flight transactions keyed by transaction id. Get reports
// absence with ok=false rather than an error.
type Store interface {
	Get(ctx context.Context, transactionID string) (Transaction, bool, error)
	Put(ctx context.Context, tx Transaction) error
	Delete(ctx context.Context, transactionID string) error
}

// MemoryStore is the default in-process Store. Its contents are lost on restart.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]Transaction
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]Transaction)}
}

func (s *MemoryStore) Get(ctx context.Context, transactionID string) (Transaction, bool, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[transactionID]
	return tx, ok, nil
}

func (s *MemoryStore) Put(ctx context.Context, tx Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.TransactionID == "" {
		return ErrMissingTransactionID
	}
	s.mu.Lock()
	s.txs[tx.TransactionID] = tx
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, transactionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.txs, transactionID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of live transactions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}
