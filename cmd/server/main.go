// Package main provides the entry point for the checkout server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Deng123666/e-commerce/internal/api"
	"github.com/Deng123666/e-commerce/internal/checkout"
	"github.com/Deng123666/e-commerce/internal/config"
	checkoutgrpc "github.com/Deng123666/e-commerce/internal/grpc"
	"github.com/Deng123666/e-commerce/internal/idempotency"
	"github.com/Deng123666/e-commerce/internal/lease"
	"github.com/Deng123666/e-commerce/internal/lock"
	"github.com/Deng123666/e-commerce/internal/logging"
	"github.com/Deng123666/e-commerce/internal/metrics"
	"github.com/Deng123666/e-commerce/internal/middleware"
	"github.com/Deng123666/e-commerce/internal/notify"
	"github.com/Deng123666/e-commerce/internal/store"
)

const serviceName = "e-commerce-checkout"

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(serviceName, cfg.LogLevel)
	if cfg.LogPretty {
		logger = logging.NewPrettyLogger(serviceName, cfg.LogLevel)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("server exited properly")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := make(map[string]checkoutgrpc.Check)

	// Lease store and notifications
	var (
		leases   lease.Store
		notifier notify.Notifier
	)
	if cfg.UseMemoryLeases() {
		logger.Warn().Msg("using in-memory leases, locks only exclude within this process")
		mem := lease.NewMemoryStore()
		defer mem.Close()
		leases = mem
		notifier = notify.NewLogNotifier(logger)
	} else {
		client, err := lease.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		leases = lease.NewRedisStore(client)
		notifier = notify.NewRedisQueue(client)
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info().Str("addr", client.Options().Addr).Msg("using redis leases")
	}

	// Relational store
	var db store.Store
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
		db = store.NewMemoryStore()
	} else {
		pool, err := openPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := store.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
		db = store.NewPostgresStore(pool)
		checks["postgres"] = db.Ping
	}

	// Locks and checkout
	factory, err := lock.NewFactory(leases, logger,
		lock.WithOrderOptions(lockOptions(cfg.OrderLock)),
		lock.WithProductOptions(lockOptions(cfg.ProductLock)),
	)
	if err != nil {
		return fmt.Errorf("invalid lock configuration: %w", err)
	}

	coordinator := checkout.NewCoordinator(db, factory, notifier, logger,
		checkout.WithCheckoutTimeout(cfg.CheckoutTimeout),
		checkout.WithCommitTimeout(cfg.CommitTimeout),
		checkout.WithNotifyTimeout(cfg.NotifyTimeout),
	)
	defer coordinator.Wait()

	// HTTP
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(middleware.Metrics())

	apiChecks := make(map[string]api.Checker, len(checks))
	for name, check := range checks {
		apiChecks[name] = api.Checker(check)
	}
	router.GET("/health", api.HealthHandler(apiChecks))
	metrics.RegisterMetricsEndpoint(router)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(leases, cfg.MaxRequestsPerWindow, cfg.RateLimitWindow, logger))
	apiV1.Use(middleware.PayloadLimit(cfg.MaxPayloadSize, logger))

	idem := idempotency.NewConfig(idempotency.NewStore(leases)).
		WithTTL(cfg.IdempotencyTTL).
		WithLogger(logger)

	if cfg.OperatorSigningSecret == "" {
		logger.Warn().Msg("OPERATOR_SIGNING_SECRET not set, restock and lock admin routes are unauthenticated")
	}

	handler := api.NewHandler(coordinator, leases, logger,
		api.WithRetryAfterSeconds(api.RetryAfterFor(lockOptions(cfg.OrderLock))),
		api.WithCheckoutMiddleware(idempotency.Middleware(idem)),
		api.WithOperatorMiddleware(middleware.RequireSignature(middleware.SignatureConfig{
			Secret: []byte(cfg.OperatorSigningSecret),
		})),
	)
	handler.RegisterRoutes(apiV1)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.CheckoutTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// gRPC health
	health := checkoutgrpc.NewHealthService(checks, logger)
	grpcServer := checkoutgrpc.NewServer(health, cfg.GRPCMaxMessageSize, logger)
	go health.Run(ctx, 10*time.Second)

	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("port", cfg.GRPCPort).Msg("starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info().Msg("shutting down server...")
	health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	grpcServer.GracefulStop()
	return nil
}

func openPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

func lockOptions(c config.LockConfig) lock.Options {
	return lock.Options{
		LeaseDuration: c.LeaseDuration,
		RetryTimes:    c.RetryTimes,
		RetryDelay:    c.RetryDelay,
	}
}
