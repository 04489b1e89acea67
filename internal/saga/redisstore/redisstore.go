// Package redisstore keeps saga transactions and dedup keys in Redis so they
// survive an orchestrator restart.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ordersaga/internal/saga"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces transaction hashes.
	DefaultKeyPrefix = "saga:tx:"
	// DefaultDedupPrefix namespaces claimed idempotency keys.
	DefaultDedupPrefix = "saga:dedup:"
)

// Store is a saga.Store backed by one Redis hash per transaction.
type Store struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

// NewStore constructs a Redis-backed transaction store. A ttl of zero keeps
// records until the saga finishes.
func NewStore(client redis.Cmdable, keyPrefix string, ttl time.Duration) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *Store) Get(ctx context.Context, transactionID string) (saga.Transaction, bool, error) {
	values, err := s.client.HGetAll(ctx, s.keyPrefix+transactionID).Result()
	if err != nil {
		return saga.Transaction{}, false, err
	}
	if len(values) == 0 {
		return saga.Transaction{}, false, nil
	}

	tx := saga.Transaction{
		TransactionID: values["transaction_id"],
		OrderID:       values["order_id"],
		Status:        saga.Status(values["status"]),
	}
	if tx.TransactionID == "" {
		tx.TransactionID = transactionID
	}
	if raw := values["amount"]; raw != "" {
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return saga.Transaction{}, false, fmt.Errorf("transaction %s amount: %w", transactionID, err)
		}
		tx.Amount = amount
	}
	return tx, true, nil
}

func (s *Store) Put(ctx context.Context, tx saga.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.TransactionID == "" {
		return saga.ErrMissingTransactionID
	}

	key := s.keyPrefix + tx.TransactionID
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"transaction_id": tx.TransactionID,
		"order_id":       tx.OrderID,
		"amount":         strconv.FormatFloat(tx.Amount, 'f', -1, 64),
		"status":         string(tx.Status),
		"updated_at":     time.Now().UTC().Format(time.RFC3339Nano),
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Delete(ctx context.Context, transactionID string) error {
	return s.client.Del(ctx, s.keyPrefix+transactionID).Err()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Guard is a saga.Guard using SET NX with an expiry.
type Guard struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewGuard constructs a Redis dedup guard. ttl <= 0 keeps keys forever.
func NewGuard(client redis.Cmdable, prefix string, ttl time.Duration) *Guard {
	if prefix == "" {
		prefix = DefaultDedupPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Guard{client: client, prefix: prefix, ttl: ttl}
}

func (g *Guard) Claim(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), g.ttl).Result()
}

func (g *Guard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, g.prefix+key).Err()
}

var (
	_ saga.Store = (*Store)(nil)
	_ saga.Guard = (*Guard)(nil)
)
