package sla

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeps struct {
	calls   atomic.Int32
	window  time.Duration
	mu      sync.Mutex
	release chan struct{}
}

func (c *countingSweeps) Sweep(ctx context.Context, window time.Duration) (Result, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.window = window
	c.mu.Unlock()
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return Result{Canceled: true}, ctx.Err()
		}
	}
	return Result{}, nil
}

func TestRunnerSweepsImmediatelyAndOnTicks(t *testing.T) {
	sweeps := &countingSweeps{}
	runner := NewRunner(sweeps, nil, 10*time.Millisecond, 45*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sweeps.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d sweeps ran", sweeps.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	sweeps.mu.Lock()
	defer sweeps.mu.Unlock()
	if sweeps.window != 45*time.Minute {
		t.Fatalf("window = %v, want the configured 45m", sweeps.window)
	}
}

func TestRunnerWaitsForInFlightSweepOnShutdown(t *testing.T) {
	sweeps := &countingSweeps{release: make(chan struct{})}
	runner := NewRunner(sweeps, nil, time.Hour, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	for sweeps.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}
