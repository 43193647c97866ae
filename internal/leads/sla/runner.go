package sla

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"estate_crm_backend/platform/logger"
)

const DefaultInterval = 5 * time.Minute

// Sweeps is what the runner drives.
type Sweeps interface {
	Sweep(ctx context.Context, window time.Duration) (Result, error)
}

// Runner fires a sweep on every tick in-process. A tick that lands while a
// sweep is still running is dropped, never queued.
type Runner struct {
	sweeper  Sweeps
	log      *logger.Logger
	interval time.Duration
	window   time.Duration
	wg       sync.WaitGroup
}

func NewRunner(sweeper Sweeps, log *logger.Logger, interval, window time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{sweeper: sweeper, log: log, interval: interval, window: window}
}

// Run blocks until ctx is cancelled, then waits for the in-flight sweep to
// stop at its next lead boundary.
func (r *Runner) Run(ctx context.Context) {
	if r == nil || r.sweeper == nil {
		return
	}
	defer r.wg.Wait()

	r.fire(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.fire(ctx)
		}
	}
}

func (r *Runner) fire(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runOnce(ctx)
	}()
}

func (r *Runner) runOnce(ctx context.Context) {
	result, err := r.sweeper.Sweep(ctx, r.window)
	switch {
	case errors.Is(err, ErrSweepInProgress):
		r.log.Info("sla sweep tick skipped, previous run still in flight")
	case errors.Is(err, context.Canceled):
		r.log.Info("sla sweep stopped", slog.Int("handled", len(result.Leads)))
	case err != nil:
		r.log.Error("sla sweep failed", slog.String("error", err.Error()))
	}
	for _, leadErr := range result.Errors() {
		r.log.Warn("sla sweep lead failed", slog.String("error", leadErr.Error()))
	}
}
