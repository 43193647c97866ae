package scheduler

import (
	"context"
	"fmt"
	"time"

	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Periodic registers the recurring SLA sweep with an asynq scheduler. Only
// one Periodic should run per deployment; the sweep lock still guards
// against overlap when more do.
type Periodic struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
	entryID   string
}

func NewPeriodic(cfg config.SchedulerConfig, interval time.Duration, log *logger.Logger) (*Periodic, error) {
	opt, err := connOpt(cfg)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	task, err := NewSLASweepTask(SLASweepPayload{})
	if err != nil {
		return nil, err
	}

	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})
	entryID, err := s.Register(cronSpec(interval), task,
		asynq.Queue(queueName(cfg)),
		asynq.MaxRetry(0),
		asynq.Unique(interval),
	)
	if err != nil {
		return nil, fmt.Errorf("register sla sweep: %w", err)
	}

	return &Periodic{scheduler: s, log: log, entryID: entryID}, nil
}

func cronSpec(interval time.Duration) string {
	return "@every " + interval.String()
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (p *Periodic) Run(ctx context.Context) error {
	if p == nil || p.scheduler == nil {
		return nil
	}
	if err := p.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	p.log.Info("sla sweep scheduled", "entry_id", p.entryID)

	<-ctx.Done()
	p.scheduler.Shutdown()
	return nil
}
