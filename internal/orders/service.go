package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ordersaga/internal/event"
	"ordersaga/internal/transport"

	"github.com/google/uuid"
)

// Service creates orders and starts their sagas.
type Service struct {
	store     Store
	publisher transport.Publisher
	logger    *slog.Logger
	newOrder  func() string
	newTxID   func() (string, error)
	now       func() time.Time
}

// NewService constructs a Service. Order ids are random UUIDs; transaction
// ids are time-based (version 1) UUIDs.
func NewService(store Store, publisher transport.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger.With("component", "orders"),
		newOrder:  uuid.NewString,
		newTxID: func() (string, error) {
			id, err := uuid.NewUUID()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
		now: time.Now,
	}
}

// CreateOrder stores a PENDING order and publishes ORDER_CREATED to the
// creation topic. A failed publish is logged and the order stays PENDING.
func (s *Service) CreateOrder(ctx context.Context, name string, itemCount int, amount float64) (Order, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return Order{}, fmt.Errorf("%w: name is required", ErrInvalidOrder)
	case itemCount <= 0:
		return Order{}, fmt.Errorf("%w: itemCount must be > 0", ErrInvalidOrder)
	case amount <= 0:
		return Order{}, fmt.Errorf("%w: amount must be > 0", ErrInvalidOrder)
	}

	txID, err := s.newTxID()
	if err != nil {
		return Order{}, fmt.Errorf("transaction id: %w", err)
	}
	now := s.now().UTC()
	order := Order{
		ID:            s.newOrder(),
		TransactionID: txID,
		Name:          name,
		Amount:        amount,
		ItemCount:     itemCount,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, order); err != nil {
		return Order{}, fmt.Errorf("save order: %w", err)
	}

	if err := s.publish(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "publish order created failed", "order_id", order.ID, "transaction_id", txID, "error", err)
		return order, nil
	}
	s.logger.InfoContext(ctx, "order created", "order_id", order.ID, "transaction_id", txID, "amount", amount)
	return order, nil
}

func (s *Service) publish(ctx context.Context, order Order) error {
	env, err := event.New(event.TopicOrderCreation, event.OrderCreated{Data: event.OrderSnapshot{
		ID:            order.ID,
		TransactionID: order.TransactionID,
		Amount:        order.Amount,
		ItemCount:     order.ItemCount,
	}})
	if err != nil {
		return err
	}
	msg, err := transport.NewMessage(ctx, event.TopicOrderCreation, env)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, msg)
}

// List returns all orders, newest first.
func (s *Service) List(ctx context.Context) ([]Order, error) {
	return s.store.List(ctx)
}

// Get returns one order by id.
func (s *Service) Get(ctx context.Context, orderID string) (Order, error) {
	return s.store.Get(ctx, orderID)
}

// Ping checks the order store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
