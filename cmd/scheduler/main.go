package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estate_crm_backend/internal/email"
	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/leads"
	"estate_crm_backend/internal/leads/metrics"
	"estate_crm_backend/internal/leads/repository"
	"estate_crm_backend/internal/notification"
	"estate_crm_backend/internal/notification/outbox"
	"estate_crm_backend/internal/scheduler"
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

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "sweepInterval", cfg.GetSweepInterval().String())

	if cfg.StoreDriver != config.StoreDriverPostgres || cfg.GetRedisURL() == "" {
		log.Error("scheduler needs STORE_DRIVER=postgres and REDIS_URL; the api runs sweeps in-process otherwise")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	defer pool.Close()

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

	eventBus := events.NewInMemoryBus(log)

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	outboxRepo := outbox.New(pool)

	// Worker-side sweep wiring (no HTTP handlers required).
	leadsModule := leads.NewModule(repository.New(pool), eventBus, validator.New(), cfg, recorder, log)

	notificationModule := notification.New(sender, leadsModule, cfg, log)
	notificationModule.SetNotificationOutbox(outboxRepo)
	notificationModule.RegisterHandlers(eventBus)

	redisClient, err := scheduler.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize redis client", "error", err)
		panic("failed to initialize redis client: " + err.Error())
	}
	defer func() { _ = redisClient.Close() }()
	leadsModule.Sweeper().SetLock(scheduler.NewRedisSweepLock(redisClient, scheduler.DefaultSweepLockKey, 0))

	dispatcher, err := scheduler.NewNotificationOutboxDispatcher(cfg, outboxRepo, log)
	if err != nil {
		log.Error("failed to initialize outbox dispatcher", "error", err)
		panic("failed to initialize outbox dispatcher: " + err.Error())
	}
	defer func() { _ = dispatcher.Close() }()

	periodic, err := scheduler.NewPeriodic(cfg, cfg.GetSweepInterval(), log)
	if err != nil {
		log.Error("failed to initialize periodic sweep", "error", err)
		panic("failed to initialize periodic sweep: " + err.Error())
	}

	worker, err := scheduler.NewWorker(cfg, leadsModule.Sweeper(), eventBus, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return periodic.Run(gctx)
	})
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("scheduler stopped", "error", err)
	}
	eventBus.Wait()
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
