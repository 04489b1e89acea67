// Package orders owns the order record: creation, the HTTP API and the
// projector that folds saga outcomes back into order status.
package orders

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusPaymentCompleted Status = "PAYMENT_COMPLETED"
	StatusPaymentFailed    Status = "PAYMENT_FAILED"
	StatusCompleted        Status = "COMPLETED"
	StatusFailed           Status = "FAILED"
)

var (
	// ErrNotFound signals that no order matched.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidOrder signals a rejected creation request.
	ErrInvalidOrder = errors.New("invalid order")
)

// Order is the durable order record.
type Order struct {
	ID            string    `json:"orderId"`
	TransactionID string    `json:"transactionId"`
	Name          string    `json:"name"`
	Amount        float64   `json:"amount"`
	ItemCount     int       `json:"itemCount"`
	Status        Status    `json:"status"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Update is an absolute status assignment. An empty FailureReason keeps the
// stored reason.
type Update struct {
	Status        Status
	FailureReason string
}

// Store persists orders. Inbound saga updates are keyed by transaction id only.
type Store interface {
	Create(ctx context.Context, order Order) error
	List(ctx context.Context) ([]Order, error)
	Get(ctx context.Context, orderID string) (Order, error)
	UpdateByTransactionID(ctx context.Context, transactionID string, update Update) (Order, error)
	Ping(ctx context.Context) error
}

// MemoryStore keeps orders in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]Order
	byTx   map[string]string
	now    func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]Order),
		byTx:   make(map[string]string),
		now:    time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, order Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return errors.New("order already exists")
	}
	if _, ok := s.byTx[order.TransactionID]; ok {
		return errors.New("transaction id already used")
	}
	s.orders[order.ID] = order
	s.byTx[order.TransactionID] = order.ID
	return nil
}

// List returns orders newest first.
func (s *MemoryStore) List(ctx context.Context) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Order, 0, len(s.orders))
	for _, order := range s.orders {
		out = append(out, order)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, orderID string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return order, nil
}

func (s *MemoryStore) UpdateByTransactionID(ctx context.Context, transactionID string, update Update) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byTx[transactionID]
	if !ok {
		return Order{}, ErrNotFound
	}
	order := s.orders[id]
	order.Status = update.Status
	if update.FailureReason != "" {
		order.FailureReason = update.FailureReason
	}
	order.UpdatedAt = s.now().UTC()
	s.orders[id] = order
	return order, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
