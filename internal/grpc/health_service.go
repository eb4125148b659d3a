// Package grpc provides the gRPC server exposing checkout readiness through
// the standard grpc.health.v1 protocol.
package grpc

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Deng123666/e-commerce/internal/logging"
)

// CheckoutServiceName is the health service name reported for checkout.
const CheckoutServiceName = "ecommerce.checkout.v1.Checkout"

// probeTimeout bounds each dependency probe.
const probeTimeout = 2 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthService keeps the grpc.health.v1 status in line with the lease store
// and database probes.
type HealthService struct {
	server *health.Server
	checks map[string]Check
	names  []string
	logger zerolog.Logger

	mu      sync.Mutex
	failing map[string]bool
}

// NewHealthService creates a health service over the given probes. Until the
// first Probe the checkout service reports NOT_SERVING.
func NewHealthService(checks map[string]Check, logger zerolog.Logger) *HealthService {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &HealthService{
		server:  health.NewServer(),
		checks:  checks,
		names:   names,
		logger:  logger.With().Str("service", "health").Logger(),
		failing: make(map[string]bool),
	}
	s.server.SetServingStatus(CheckoutServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Probe runs every check once and updates the serving status. It returns
// true when all checks passed.
func (s *HealthService) Probe(ctx context.Context) bool {
	healthy := true
	for _, name := range s.names {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := s.checks[name](probeCtx)
		cancel()

		s.mu.Lock()
		wasFailing := s.failing[name]
		s.failing[name] = err != nil
		s.mu.Unlock()

		switch {
		case err != nil:
			healthy = false
			if !wasFailing {
				s.logger.Error().Err(err).Str("dependency", name).Msg("dependency unhealthy")
			}
		case wasFailing:
			s.logger.Info().Str("dependency", name).Msg("dependency recovered")
		}
	}

	st := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.server.SetServingStatus("", st)
	s.server.SetServingStatus(CheckoutServiceName, st)
	return healthy
}

// Run probes every interval until ctx is done.
func (s *HealthService) Run(ctx context.Context, interval time.Duration) {
	s.Probe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING to every watcher so load balancers drain.
func (s *HealthService) Shutdown() {
	s.server.Shutdown()
}

// NewServer creates a gRPC server with logging interceptors and the health
// service registered.
func NewServer(hs *HealthService, maxMessageSize int, logger zerolog.Logger) *grpc.Server {
	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.UnaryInterceptor(logging.GRPCLogger(logger)),
		grpc.StreamInterceptor(logging.GRPCStreamLogger(logger)),
	)
	healthpb.RegisterHealthServer(srv, hs.server)
	reflection.Register(srv)
	return srv
}
