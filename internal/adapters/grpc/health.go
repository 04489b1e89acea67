// Package grpc exposes each role's gRPC surface: the standard health service
// behind rate-limit and metrics interceptors.
package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"ordersaga/internal/observability"

	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Options configures a Server.
type Options struct {
	// Service is the health service name reported for the role.
	Service    string
	Limiter    Limiter
	Metrics    *observability.Metrics
	Reflection bool
	Logger     *slog.Logger
}

// Server is a gRPC server carrying the health service.
type Server struct {
	grpc    *grpcpkg.Server
	health  *health.Server
	service string
	logger  *slog.Logger
}

// NewServer constructs a Server. Status starts NOT_SERVING until SetServing.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "grpc")

	srv := grpcpkg.NewServer(
		grpcpkg.UnaryInterceptor(rateLimitUnaryInterceptor(opts.Limiter, opts.Metrics, logger)),
		grpcpkg.StreamInterceptor(rateLimitStreamInterceptor(opts.Limiter, opts.Metrics, logger)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	if opts.Reflection {
		reflection.Register(srv)
	}

	s := &Server{grpc: srv, health: hs, service: opts.Service, logger: logger}
	s.SetServing(false)
	return s
}

// SetServing flips the overall and role status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	if s.service != "" {
		s.health.SetServingStatus(s.service, status)
	}
}

// Serve blocks serving lis.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop reports NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Monitor polls check every interval and mirrors its result into the health
// status until ctx ends.
func (s *Server) Monitor(ctx context.Context, interval time.Duration, check func(context.Context) error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		err := check(checkCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if (err == nil) != healthy {
			healthy = err == nil
			if healthy {
				s.logger.InfoContext(ctx, "dependency recovered")
			} else {
				s.logger.WarnContext(ctx, "dependency unhealthy", "error", err)
			}
		}
		s.SetServing(healthy)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
