package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/opinionpulse/internal/broadcast"
	"github.com/pscheid92/opinionpulse/internal/comments"
	"github.com/pscheid92/opinionpulse/internal/config"
	"github.com/pscheid92/opinionpulse/internal/cooldown"
	"github.com/pscheid92/opinionpulse/internal/counters"
	"github.com/pscheid92/opinionpulse/internal/database"
	"github.com/pscheid92/opinionpulse/internal/docstore"
	"github.com/pscheid92/opinionpulse/internal/domain"
	"github.com/pscheid92/opinionpulse/internal/engine"
	"github.com/pscheid92/opinionpulse/internal/identity"
	"github.com/pscheid92/opinionpulse/internal/ledger"
	"github.com/pscheid92/opinionpulse/internal/logging"
	"github.com/pscheid92/opinionpulse/internal/reconcile"
	"github.com/pscheid92/opinionpulse/internal/redis"
	"github.com/pscheid92/opinionpulse/internal/retry"
	"github.com/pscheid92/opinionpulse/internal/server"
	"github.com/pscheid92/opinionpulse/internal/version"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// The database may come up after us on fresh deploys; retry with backoff.
	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Database not reachable yet, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	pool, err := retry.Do(ctx, policy, func(error) retry.Action { return retry.Retry }, func() (*pgxpool.Pool, error) {
		return database.Connect(ctx, cfg.DatabaseURL)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, svc *engine.Service, broadcaster *broadcast.Broadcaster) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		broadcaster.Stop()
		svc.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "build", version.Get().String())

	pool := setupDB(cfg)
	defer pool.Close()

	// Without Redis the service runs single-instance on the in-memory store.
	var (
		docs        docstore.Store
		markers     domain.CooldownMarkerStore
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisClient = setupRedis(context.Background(), cfg)
		defer func() { _ = redisClient.Close() }()
		docs = docstore.NewRedisStore(redisClient)
		markers = cooldown.NewRedisMarkerStore(redisClient)
	} else {
		slog.Warn("REDIS_URL not set, using in-memory document store")
		docs = docstore.NewMemoryStore()
		markers = cooldown.NewMemoryMarkerStore()
	}

	counterStore := counters.NewStore(docs)
	voteLedger := ledger.New(docs)

	reconciler := reconcile.New(docs, clock, cfg.PendingTimeout)

	profiles := database.NewProfileRepo(pool)
	catalog := database.NewCatalogRepo(pool)

	commentEngine := comments.NewEngine(docs, identity.ContextIdentity{}, profiles, clock)

	svc := engine.NewService(identity.ContextIdentity{}, markers, counterStore, voteLedger, reconciler, commentEngine, catalog, clock)

	onFirstClient := func(itemID uuid.UUID) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := svc.EnsureSubscribed(ctx, itemID); err != nil {
			slog.Error("Failed to subscribe item for broadcast", "item_id", itemID.String(), "error", err)
		}
	}
	onItemEmpty := func(itemID uuid.UUID) { svc.Unsubscribe(itemID) }
	broadcaster := broadcast.NewBroadcaster(onFirstClient, onItemEmpty, clock, cfg.MaxClientsPerItem)
	reconciler.SetNotifier(broadcaster)
	reconciler.Start()

	healthChecks := []server.HealthCheck{
		{Name: "database", Check: pool.Ping},
	}
	if redisClient != nil {
		healthChecks = append(healthChecks, server.HealthCheck{Name: "redis", Check: redisClient.Ping})
	}

	srv := server.NewServer(cfg, svc, reconciler, broadcaster, profiles, catalog, healthChecks)

	done := runGracefulShutdown(srv, svc, broadcaster)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
