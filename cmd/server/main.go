// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tradegate/internal/gatekeeper"
	"tradegate/internal/identity/ports"
	"tradegate/internal/identity/provider"
	"tradegate/internal/identity/store/account"
	"tradegate/internal/platform/config"
	"tradegate/internal/platform/httpserver"
	"tradegate/internal/platform/logger"
	"tradegate/internal/platform/metrics"
	platformpostgres "tradegate/internal/platform/postgres"
	platformredis "tradegate/internal/platform/redis"
	ratelimitports "tradegate/internal/ratelimit/ports"
	ratelimitservice "tradegate/internal/ratelimit/service"
	memorystore "tradegate/internal/ratelimit/store/memory"
	postgresstore "tradegate/internal/ratelimit/store/postgres"
	redisstore "tradegate/internal/ratelimit/store/redis"
	"tradegate/internal/redirect"
	"tradegate/internal/routes"
	"tradegate/internal/session"
	httptransport "tradegate/internal/transport/http"
	"tradegate/pkg/platform/audit"
	auditmemory "tradegate/pkg/platform/audit/store/memory"
	auditpostgres "tradegate/pkg/platform/audit/store/postgres"
	auditworker "tradegate/pkg/platform/audit/worker"
	"tradegate/pkg/platform/middleware/metadata"
	"tradegate/pkg/platform/middleware/requesttime"
)

// auditSink is both the worker's write side and the admin read surface.
type auditSink interface {
	audit.Store
	httptransport.AuditReader
}

func main() {
	log := logger.New()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	handlerOpts := []httptransport.Option{httptransport.WithLogger(log)}

	// One shared database handle serves the persistent limiter, the account
	// projection store and the durable audit trail.
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = platformpostgres.Open(ctx, cfg.DatabaseURL,
			postgresstore.Schema, account.Schema, auditpostgres.Schema)
		if err != nil {
			log.Error("postgres setup failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		handlerOpts = append(handlerOpts, httptransport.WithHealthCheck("postgres", func(ctx context.Context) error {
			return platformpostgres.Health(ctx, db)
		}))
	}

	var auditStore auditSink = auditmemory.NewInMemoryStore()
	if db != nil {
		auditStore = auditpostgres.NewPostgres(db)
	}
	publisher := audit.NewChannelPublisher(0, log)

	failClosed := cfg.FailMode == config.FailClosed

	var counters ratelimitports.CounterStore
	switch cfg.LimiterBackend {
	case config.BackendMemory:
		// Single-process only; multi-instance deployments must use the
		// postgres or redis backend.
		counters = memorystore.New()

	case config.BackendPostgres:
		store := postgresstore.New(db,
			postgresstore.WithLogger(log),
			postgresstore.WithFailClosed(failClosed),
			postgresstore.WithAuditPublisher(publisher),
		)
		counters = store
		group.Go(func() error {
			err := store.StartCleanup(ctx, 10*time.Minute, time.Hour)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})

	case config.BackendRedis:
		client, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("redis setup failed", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		counters = redisstore.New(client.Client,
			redisstore.WithLogger(log),
			redisstore.WithFailClosed(failClosed),
			redisstore.WithAuditPublisher(publisher),
		)
		handlerOpts = append(handlerOpts, httptransport.WithHealthCheck("redis", client.Health))
	}

	var accounts ports.AccountStore = account.NewMemoryStore()
	if db != nil {
		accounts = account.NewPostgresStore(db)
	}

	limiter, err := ratelimitservice.New(counters, nil,
		ratelimitservice.WithLogger(log),
		ratelimitservice.WithAuditPublisher(publisher),
	)
	if err != nil {
		log.Error("rate limit service setup failed", "error", err)
		os.Exit(1)
	}

	classifier, err := routes.New(nil, nil)
	if err != nil {
		log.Error("route table setup failed", "error", err)
		os.Exit(1)
	}

	resolver := session.New(
		provider.NewJWTProvider(cfg.JWTSigningKey, cfg.JWTIssuer),
		accounts,
		session.WithLogger(log),
	)
	policy := redirect.New(cfg.AdminEmails, accounts,
		redirect.WithLogger(log),
		redirect.WithAuditPublisher(publisher),
	)
	gate := gatekeeper.New(classifier, resolver, limiter, policy,
		gatekeeper.WithLogger(log),
		gatekeeper.WithAuditPublisher(publisher),
		gatekeeper.WithMetrics(metrics.New()),
		gatekeeper.WithAllowedOrigins(cfg.AllowedOrigins),
	)

	handlerOpts = append(handlerOpts, httptransport.WithAuditReader(auditStore))
	handler := httptransport.NewHandler(limiter, handlerOpts...)
	router := httptransport.NewRouter(handler,
		metadata.ClientMetadata,
		requesttime.Middleware,
		gate.Middleware,
	)

	srv := httpserver.New(cfg.Addr, router)

	group.Go(func() error {
		worker := auditworker.NewWorker(auditStore, publisher.Events(), log)
		return worker.Run(ctx)
	})

	group.Go(func() error {
		log.Info("starting tradegate", "addr", cfg.Addr, "backend", string(cfg.LimiterBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
