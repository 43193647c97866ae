package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/leads/sla"
	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	sweeper sla.Sweeps
	bus     events.Bus
	log     *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, sweeper sla.Sweeps, bus events.Bus, log *logger.Logger) (*Worker, error) {
	opt, err := connOpt(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(sweeper, bus, log)
	w.server = server
	return w, nil
}

func newWorker(sweeper sla.Sweeps, bus events.Bus, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Discard()
	}
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:     mux,
		sweeper: sweeper,
		bus:     bus,
		log:     log,
	}

	mux.HandleFunc(TaskSLASweep, w.handleSLASweep)
	mux.HandleFunc(TaskNotificationOutboxDue, w.handleNotificationOutboxDue)
	return w
}

func (w *Worker) handleSLASweep(ctx context.Context, task *asynq.Task) error {
	if w.sweeper == nil {
		return nil
	}

	payload, err := ParseSLASweepPayload(task)
	if err != nil {
		return fmt.Errorf("parse sweep payload: %v: %w", err, asynq.SkipRetry)
	}

	result, err := w.sweeper.Sweep(ctx, payload.Window())
	if errors.Is(err, sla.ErrSweepInProgress) {
		w.log.Info("sla sweep task skipped, another sweep holds the lock")
		return nil
	}
	for _, leadErr := range result.Errors() {
		w.log.Warn("sla sweep lead failed", slog.String("error", leadErr.Error()))
	}
	if err != nil {
		return fmt.Errorf("sla sweep: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}

func (w *Worker) handleNotificationOutboxDue(ctx context.Context, task *asynq.Task) error {
	if w.bus == nil {
		return nil
	}

	payload, err := ParseNotificationOutboxDuePayload(task)
	if err != nil {
		return err
	}

	outboxID, err := uuid.Parse(payload.OutboxID)
	if err != nil {
		return err
	}

	return w.bus.PublishSync(ctx, events.NotificationOutboxDue{
		BaseEvent: events.NewBaseEvent(),
		OutboxID:  outboxID,
	})
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
