package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ordersaga/cmd/server/config"
	grpcadapter "ordersaga/internal/adapters/grpc"
	"ordersaga/internal/observability"
	"ordersaga/internal/reliability"
	"ordersaga/internal/router"
	"ordersaga/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server error", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := config.LoadEnvFile(); err != nil {
		return err
	}
	app, err := config.LoadApp()
	if err != nil {
		return err
	}
	serviceName := "ordersaga-" + app.Role

	logger := observability.NewLogger(os.Stdout, config.LoadLogging().Level, serviceName)
	slog.SetDefault(logger)

	tracing := config.LoadTracing(serviceName)
	shutdownTracing, err := observability.SetupTracing(ctx, tracing.ServiceName, tracing.Endpoint, app.Env)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("flush traces", "error", err)
		}
	}()

	startup, err := config.LoadStartup()
	if err != nil {
		return err
	}
	grpcCfg, err := config.LoadGRPC()
	if err != nil {
		return err
	}
	obsCfg, err := config.LoadObservability()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	metrics.SetService(serviceName)

	msg, err := newMessaging(app, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := msg.Close(); err != nil {
			logger.Error("close transport", "error", err)
		}
	}()

	env := &environment{app: app, startup: startup, logger: logger, metrics: metrics, messaging: msg}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 16)
	services, err := startRoles(runCtx, env, rolesFor(app.Role), errCh)
	defer func() {
		for _, svc := range services {
			svc.close()
		}
	}()
	if err != nil {
		return err
	}

	check := healthCheck(msg, services)

	limiter := reliability.NewRateLimiter(grpcCfg.RateLimitInterval, grpcCfg.RateLimitBurst, metrics.AddRateLimitWait)
	grpcServer := grpcadapter.NewServer(grpcadapter.Options{
		Service:    serviceName,
		Limiter:    limiter,
		Metrics:    metrics,
		Reflection: app.Env != "production",
		Logger:     logger,
	})
	lis, err := net.Listen("tcp", grpcCfg.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()
	grpcServer.SetServing(true)
	go grpcServer.Monitor(runCtx, 10*time.Second, check)

	servers := []*http.Server{observabilityServer(obsCfg, serviceName, metrics, check)}
	for _, svc := range services {
		if svc.server != nil {
			servers = append(servers, svc.server)
		}
	}
	for _, srv := range servers {
		go serveHTTP(srv, logger, errCh)
	}

	logger.Info("ordersaga running", "role", app.Role, "transport", app.Transport, "grpc_addr", grpcCfg.Addr, "obs_addr", obsCfg.Addr)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("component failed, shutting down", "error", runErr)
	}

	metrics.MarkShutdown()
	cancel()
	grpcServer.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "addr", srv.Addr, "error", err)
		}
	}
	return runErr
}

// startRoles builds every role, subscribes its consumer and starts it.
// Consumers of fail-fast roles report a fatal error on errCh.
func startRoles(ctx context.Context, env *environment, roles []string, errCh chan<- error) ([]*service, error) {
	failOpen := true
	for _, role := range roles {
		failOpen = failOpen && roleTable[role].failOpen
	}
	if !failOpen {
		err := env.retry("transport").Do(ctx, func() error {
			return env.messaging.Connect(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("transport setup: %w", err)
		}
	}

	var services []*service
	for _, role := range roles {
		spec, ok := roleTable[role]
		if !ok {
			return services, fmt.Errorf("unknown role %q", role)
		}
		svc, err := spec.build(ctx, env)
		if err != nil {
			return services, fmt.Errorf("%s setup: %w", role, err)
		}
		services = append(services, svc)
	}

	fwd := router.New(router.DefaultTable(), env.messaging.Publisher(), env.logger, env.metrics)

	// Every subscription exists before any consumer runs or any HTTP
	// request can publish.
	type pending struct {
		svc *service
		sub transport.Subscriber
	}
	var ready []pending
	for _, svc := range services {
		spec := roleTable[svc.role]
		if spec.failOpen {
			continue
		}
		sub, err := env.messaging.Subscribe(spec.topics...)
		if err != nil {
			return services, fmt.Errorf("%s subscribe: %w", svc.role, err)
		}
		ready = append(ready, pending{svc: svc, sub: sub})
	}

	for _, svc := range services {
		for _, bg := range svc.background {
			go bg(ctx)
		}
		if spec := roleTable[svc.role]; spec.failOpen {
			go superviseConsumer(ctx, env, svc, spec, fwd)
		}
	}
	for _, p := range ready {
		go func(p pending) {
			defer p.sub.Close()
			consumer := transport.NewConsumer(p.svc.role, p.sub, p.svc.handler, fwd,
				transport.WithLogger(env.logger), transport.WithMetrics(env.metrics))
			if err := consumer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("%s consumer: %w", p.svc.role, err)
			}
		}(p)
	}
	return services, nil
}

// superviseConsumer keeps a fail-open role's consumer alive, reconnecting
// until ctx ends.
func superviseConsumer(ctx context.Context, env *environment, svc *service, spec roleSpec, fwd transport.Forwarder) {
	logger := env.logger.With("role", svc.role)
	policy := env.retry("transport")
	restarts := 0
	for ctx.Err() == nil {
		var sub transport.Subscriber
		err := policy.Do(ctx, func() error {
			if err := env.messaging.Connect(ctx); err != nil {
				return err
			}
			s, err := env.messaging.Subscribe(spec.topics...)
			if err != nil {
				return err
			}
			sub = s
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("consumer unavailable, serving without it", "error", err)
			if reliability.SleepWithContext(ctx, policy.MaxDelay) != nil {
				return
			}
			continue
		}

		consumer := transport.NewConsumer(svc.role, sub, svc.handler, fwd,
			transport.WithLogger(env.logger), transport.WithMetrics(env.metrics))
		started := time.Now()
		err = consumer.Run(ctx)
		_ = sub.Close()
		if err == nil {
			return
		}
		if time.Since(started) > policy.MaxDelay {
			restarts = 0
		}
		restarts++
		delay := policy.Backoff(restarts)
		logger.Warn("consumer stopped, reconnecting", "error", err, "delay", delay)
		if reliability.SleepWithContext(ctx, delay) != nil {
			return
		}
	}
}

func healthCheck(msg *messaging, services []*service) func(context.Context) error {
	return func(ctx context.Context) error {
		errs := []error{msg.Check(ctx)}
		for _, svc := range services {
			if svc.check != nil {
				if err := svc.check(ctx); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", svc.role, err))
				}
			}
		}
		return errors.Join(errs...)
	}
}

func observabilityServer(cfg config.ObservabilityConfig, service string, metrics *observability.Metrics, check func(context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))
	mux.Handle("/healthz", observability.HealthHandler(service, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return check(ctx)
	}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serveHTTP(srv *http.Server, logger *slog.Logger, errCh chan<- error) {
	logger.Info("http server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("http %s: %w", srv.Addr, err)
	}
}
