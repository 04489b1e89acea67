package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"ordersaga/cmd/server/config"
	sagadb "ordersaga/internal/db/saga"
	"ordersaga/internal/event"
	"ordersaga/internal/observability"
	"ordersaga/internal/orders"
	"ordersaga/internal/payment"
	"ordersaga/internal/realtime"
	"ordersaga/internal/reliability"
	"ordersaga/internal/saga"
	"ordersaga/internal/saga/redisstore"
	"ordersaga/internal/transport"
)

// roleSpec is the one place a role's subscriptions and startup policy live.
type roleSpec struct {
	topics []event.Topic
	// failOpen keeps the role's HTTP surface up while the consumer is
	// retried in the background.
	failOpen bool
	build    func(ctx context.Context, env *environment) (*service, error)
}

var roleTable = map[string]roleSpec{
	config.RoleOrchestrator: {
		topics: []event.Topic{event.TopicOrderCreation, event.TopicOrchestrator},
		build:  buildOrchestrator,
	},
	config.RolePayment: {
		topics: []event.Topic{event.TopicPayment},
		build:  buildPayment,
	},
	config.RoleOrders: {
		topics: []event.Topic{event.TopicOrder, event.TopicServiceReply},
		build:  buildOrders,
	},
	config.RoleFanout: {
		topics:   event.Topics(),
		failOpen: true,
		build:    buildFanout,
	},
}

// rolesFor expands RoleAll into every concrete role.
func rolesFor(role string) []string {
	if role == config.RoleAll {
		return []string{config.RoleOrchestrator, config.RolePayment, config.RoleOrders, config.RoleFanout}
	}
	return []string{role}
}

// environment carries what every role builder needs.
type environment struct {
	app       config.AppConfig
	startup   config.StartupConfig
	logger    *slog.Logger
	metrics   *observability.Metrics
	messaging *messaging
}

func (e *environment) retry(step string) reliability.RetryPolicy {
	return startupRetry(e.startup, e.logger, step)
}

// service is one built role: its message handler plus optional HTTP surface.
type service struct {
	role       string
	handler    transport.Handler
	server     *http.Server
	check      func(ctx context.Context) error
	background []func(ctx context.Context)
	cleanup    []func()
}

func (s *service) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

func buildOrchestrator(ctx context.Context, env *environment) (*service, error) {
	cfg, err := config.LoadSaga()
	if err != nil {
		return nil, err
	}
	svc := &service{role: config.RoleOrchestrator}
	logger := env.logger.With("role", svc.role)

	var (
		store saga.Store
		guard saga.Guard
	)
	switch cfg.Store {
	case "redis":
		client, err := buildRedisClient(ctx, env.retry("redis"))
		if err != nil {
			return nil, err
		}
		svc.cleanup = append(svc.cleanup, func() {
			if err := client.Close(); err != nil {
				logger.Error("close redis", "error", err)
			}
		})
		redisStore := redisstore.NewStore(client, "", cfg.TxTTL)
		store = redisStore
		svc.check = redisStore.Ping
		if cfg.Dedup {
			guard = redisstore.NewGuard(client, "", cfg.DedupTTL)
		}
	case "postgres":
		pgStore, cleanup, err := buildSagaStore(ctx, env.retry("saga-db"), logger)
		if err != nil {
			return nil, err
		}
		svc.cleanup = append(svc.cleanup, cleanup)
		store = pgStore
		svc.check = pgStore.Ping
		if cfg.Dedup {
			guard = pgStore.WithClaimTTL(cfg.DedupTTL)
			if cfg.DedupTTL > 0 {
				svc.background = append(svc.background, func(ctx context.Context) {
					pruneClaims(ctx, pgStore, min(cfg.DedupTTL, time.Hour), logger)
				})
			}
		}
	default:
		memStore := saga.NewMemoryStore()
		store = memStore
		env.metrics.RegisterGauge("saga.transactions", func() int64 { return int64(memStore.Len()) })
		if cfg.Dedup {
			memGuard := saga.NewMemoryGuard(cfg.DedupTTL)
			env.metrics.RegisterGauge("saga.dedup_keys", func() int64 { return int64(memGuard.Len()) })
			guard = memGuard
		}
	}

	opts := []saga.Option{saga.WithLogger(logger)}
	if guard != nil {
		opts = append(opts, saga.WithGuard(guard))
	}
	svc.handler = saga.NewOrchestrator(store, opts...).Handle
	logger.Info("orchestrator ready", "store", cfg.Store, "dedup", cfg.Dedup)
	return svc, nil
}

// pruneClaims deletes expired dedup claims every interval until ctx ends.
func pruneClaims(ctx context.Context, store *sagadb.Store, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PruneClaims(ctx)
			if err != nil {
				logger.WarnContext(ctx, "prune dedup claims", "error", err)
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "pruned dedup claims", "count", n)
			}
		}
	}
}

func buildPayment(ctx context.Context, env *environment) (*service, error) {
	cfg, err := config.LoadPayment()
	if err != nil {
		return nil, err
	}
	svc := &service{role: config.RolePayment}
	logger := env.logger.With("role", svc.role)

	breaker := reliability.NewCircuitBreaker(reliability.CircuitBreakerConfig{
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
		OnStateChange: func(from, to reliability.State) {
			logger.Warn("payment breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	env.metrics.RegisterGauge("payment.breaker_open", func() int64 {
		if breaker.Open() {
			return 1
		}
		return 0
	})
	gateway := payment.NewBreakerGateway(payment.NewRandomGateway(cfg.SuccessRate, nil), breaker)

	opts := []payment.Option{payment.WithLogger(logger), payment.WithMetrics(env.metrics)}
	if cfg.Ledger {
		ledger, cleanup, err := buildPaymentLedger(ctx, env.retry("payments-db"), logger)
		if err != nil {
			return nil, err
		}
		svc.cleanup = append(svc.cleanup, cleanup)
		opts = append(opts, payment.WithLedger(ledger))
		svc.check = ledger.Ping
	}

	svc.handler = payment.NewExecutor(gateway, opts...).Handle
	logger.Info("payment executor ready", "success_rate", cfg.SuccessRate, "ledger", cfg.Ledger)
	return svc, nil
}

func buildOrders(ctx context.Context, env *environment) (*service, error) {
	httpCfg, err := config.LoadHTTP("HTTP_ADDR", ":8080")
	if err != nil {
		return nil, err
	}
	svc := &service{role: config.RoleOrders}
	logger := env.logger.With("role", svc.role)

	store, cleanup, err := buildOrderStore(ctx, env.retry("orders-db"), logger)
	if err != nil {
		return nil, err
	}
	svc.cleanup = append(svc.cleanup, cleanup)
	svc.check = store.Ping

	orderService := orders.NewService(store, env.messaging.Publisher(), logger)
	svc.handler = orders.NewProjector(store, logger).Handle

	limiter := reliability.NewRateLimiter(httpCfg.RateLimitInterval, httpCfg.RateLimitBurst, env.metrics.AddRateLimitWait)
	svc.server = &http.Server{
		Addr:              httpCfg.Addr,
		Handler:           orders.NewRouter(orderService, limiter, env.metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return svc, nil
}

func buildFanout(_ context.Context, env *environment) (*service, error) {
	httpCfg, err := config.LoadHTTP("FANOUT_ADDR", ":8081")
	if err != nil {
		return nil, err
	}
	svc := &service{role: config.RoleFanout}
	logger := env.logger.With("role", svc.role)

	hub := realtime.NewHub(logger)
	env.metrics.RegisterGauge("realtime.clients", func() int64 { return int64(hub.ClientCount()) })
	svc.background = append(svc.background, hub.Run)
	svc.handler = realtime.NewFanout(hub, logger).Handle
	svc.server = &http.Server{
		Addr:              httpCfg.Addr,
		Handler:           realtime.NewRouter(hub),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return svc, nil
}
