package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estate_crm_backend/internal/email"
	"estate_crm_backend/internal/events"
	apphttp "estate_crm_backend/internal/http"
	"estate_crm_backend/internal/http/router"
	"estate_crm_backend/internal/leads"
	"estate_crm_backend/internal/leads/memstore"
	"estate_crm_backend/internal/leads/metrics"
	"estate_crm_backend/internal/leads/repository"
	"estate_crm_backend/internal/leads/sla"
	"estate_crm_backend/internal/notification"
	"estate_crm_backend/internal/notification/outbox"
	"estate_crm_backend/internal/scheduler"
	"estate_crm_backend/migrations"
	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/db"
	"estate_crm_backend/platform/logger"
	"estate_crm_backend/platform/telemetry"
	"estate_crm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var (
		store  repository.Store
		pool   *pgxpool.Pool
		health apphttp.HealthChecker
	)

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool = connectDatabase(ctx, cfg, log)
		defer pool.Close()
		store = repository.New(pool)
		health = pool
	default:
		mem := memstore.New()
		seeded, err := leads.SeedAgents(mem, cfg.GetSeedAgents(), time.Now())
		if err != nil {
			log.Error("failed to seed agents", "error", err)
			panic("failed to seed agents: " + err.Error())
		}
		log.Warn("using in-memory store; data is lost on restart", "seededAgents", len(seeded))
		store = mem
	}

	provider, err := telemetry.Init(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "error", err)
		panic("failed to initialize telemetry: " + err.Error())
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	recorder, err := metrics.New(provider.Meter())
	if err != nil {
		log.Error("failed to register metrics", "error", err)
		panic("failed to register metrics: " + err.Error())
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	leadsModule := leads.NewModule(store, eventBus, val, cfg, recorder, log)

	// Notification module subscribes to domain events (not HTTP-facing)
	notificationModule := notification.New(sender, leadsModule, cfg, log)
	notificationModule.RegisterHandlers(eventBus)

	// Sweeps run here only without redis; otherwise cmd/scheduler owns them
	// and the shared lock keeps admin-triggered sweeps single-flight.
	var runner *sla.Runner
	if cfg.GetRedisURL() != "" && pool != nil {
		redisClient, err := scheduler.NewRedisClient(cfg)
		if err != nil {
			log.Error("failed to initialize redis client", "error", err)
			panic("failed to initialize redis client: " + err.Error())
		}
		defer func() { _ = redisClient.Close() }()
		leadsModule.Sweeper().SetLock(scheduler.NewRedisSweepLock(redisClient, scheduler.DefaultSweepLockKey, 0))
		notificationModule.SetNotificationOutbox(outbox.New(pool))
	} else {
		runner = sla.NewRunner(leadsModule.Sweeper(), log, cfg.GetSweepInterval(), cfg.GetSLAWindow())
		log.Info("running sla sweep in-process", "interval", cfg.GetSweepInterval().String())
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   health,
		Metrics:  provider.Handler(),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			leadsModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if runner != nil {
		g.Go(func() error {
			runner.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
	}
	eventBus.Wait()
}

func connectDatabase(ctx context.Context, cfg *config.Config, log *logger.Logger) *pgxpool.Pool {
	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool, migrations.FS, log)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	return pool
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
