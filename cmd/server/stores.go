package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"ordersaga/cmd/server/config"
	ordersdb "ordersaga/internal/db/orders"
	paymentsdb "ordersaga/internal/db/payments"
	sagadb "ordersaga/internal/db/saga"
	"ordersaga/internal/orders"
	"ordersaga/internal/reliability"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var errDatabaseURLRequired = errors.New("DATABASE_URL is required")

var openDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

func buildRedisClient(ctx context.Context, retry reliability.RetryPolicy) (*redis.Client, error) {
	cfg, err := config.LoadRedis()
	if err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	err = retry.Do(ctx, func() error {
		pingCtx := ctx
		if cfg.HealthcheckTimeout > 0 {
			var cancel context.CancelFunc
			pingCtx, cancel = context.WithTimeout(ctx, cfg.HealthcheckTimeout)
			defer cancel()
		}
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// openPostgres opens DATABASE_URL through the pgx stdlib driver and waits for
// it to answer a ping.
func openPostgres(ctx context.Context, retry reliability.RetryPolicy) (*sql.DB, config.DatabaseConfig, error) {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return nil, cfg, err
	}
	if cfg.URL == "" {
		return nil, cfg, errDatabaseURLRequired
	}

	db, err := openDB("pgx", cfg.URL)
	if err != nil {
		return nil, cfg, err
	}
	err = retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.SetupTimeout)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, cfg, err
	}
	return db, cfg, nil
}

// buildOrderStore returns the Postgres order store when DATABASE_URL is set
// and the in-memory store otherwise.
func buildOrderStore(ctx context.Context, retry reliability.RetryPolicy, logger *slog.Logger) (orders.Store, func(), error) {
	db, cfg, err := openPostgres(ctx, retry)
	if errors.Is(err, errDatabaseURLRequired) {
		logger.Warn("DATABASE_URL not set, orders are kept in memory")
		return orders.NewMemoryStore(), func() {}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	setupCtx, cancel := context.WithTimeout(ctx, cfg.SetupTimeout)
	defer cancel()
	store, err := ordersdb.NewOrderStoreWithSchema(setupCtx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, closeDB(db, "orders", logger), nil
}

func buildPaymentLedger(ctx context.Context, retry reliability.RetryPolicy, logger *slog.Logger) (*paymentsdb.Ledger, func(), error) {
	db, cfg, err := openPostgres(ctx, retry)
	if err != nil {
		return nil, nil, err
	}

	setupCtx, cancel := context.WithTimeout(ctx, cfg.SetupTimeout)
	defer cancel()
	ledger, err := paymentsdb.NewLedgerWithSchema(setupCtx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return ledger, closeDB(db, "payments", logger), nil
}

func closeDB(db *sql.DB, name string, logger *slog.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			logger.Error("close database", "db", name, "error", err)
		}
	}
}

func startupRetry(cfg config.StartupConfig, logger *slog.Logger, step string) reliability.RetryPolicy {
	return reliability.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Warn("startup step failed, retrying", "step", step, "attempt", attempt, "delay", delay, "error", err)
		},
	}
}

func buildSagaStore(ctx context.Context, retry reliability.RetryPolicy, logger *slog.Logger) (*sagadb.Store, func(), error) {
	db, cfg, err := openPostgres(ctx, retry)
	if err != nil {
		return nil, nil, err
	}

	setupCtx, cancel := context.WithTimeout(ctx, cfg.SetupTimeout)
	defer cancel()
	store, err := sagadb.NewStoreWithSchema(setupCtx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, closeDB(db, "saga", logger), nil
}
