package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/leads/sla"
	"estate_crm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type fakeSweeps struct {
	gotWindow time.Duration
	calls     int
	result    sla.Result
	err       error
}

func (f *fakeSweeps) Sweep(_ context.Context, window time.Duration) (sla.Result, error) {
	f.calls++
	f.gotWindow = window
	return f.result, f.err
}

func TestHandleSLASweepPassesWindow(t *testing.T) {
	sweeps := &fakeSweeps{}
	w := newWorker(sweeps, nil, logger.Discard())

	task, err := NewSLASweepTask(SLASweepPayload{WindowSeconds: 900})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := w.handleSLASweep(context.Background(), task); err != nil {
		t.Fatalf("handleSLASweep: %v", err)
	}
	if sweeps.gotWindow != 15*time.Minute {
		t.Fatalf("window = %v, want 15m", sweeps.gotWindow)
	}
}

func TestHandleSLASweepEmptyPayloadUsesDefault(t *testing.T) {
	sweeps := &fakeSweeps{}
	w := newWorker(sweeps, nil, logger.Discard())

	if err := w.handleSLASweep(context.Background(), asynq.NewTask(TaskSLASweep, nil)); err != nil {
		t.Fatalf("handleSLASweep: %v", err)
	}
	if sweeps.calls != 1 || sweeps.gotWindow != 0 {
		t.Fatalf("calls=%d window=%v, want one call with default window", sweeps.calls, sweeps.gotWindow)
	}
}

func TestHandleSLASweepInProgressIsNotAFailure(t *testing.T) {
	w := newWorker(&fakeSweeps{err: sla.ErrSweepInProgress}, nil, logger.Discard())

	if err := w.handleSLASweep(context.Background(), asynq.NewTask(TaskSLASweep, nil)); err != nil {
		t.Fatalf("expected nil for overlapping sweep, got %v", err)
	}
}

func TestHandleSLASweepFailureSkipsRetry(t *testing.T) {
	w := newWorker(&fakeSweeps{err: errors.New("store down")}, nil, logger.Discard())

	err := w.handleSLASweep(context.Background(), asynq.NewTask(TaskSLASweep, nil))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandleNotificationOutboxDuePublishes(t *testing.T) {
	bus := events.NewInMemoryBus(logger.Discard())
	var got uuid.UUID
	bus.Subscribe(events.NotificationOutboxDue{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		got = e.(events.NotificationOutboxDue).OutboxID
		return nil
	}))
	w := newWorker(nil, bus, logger.Discard())

	id := uuid.New()
	task, err := NewNotificationOutboxDueTask(NotificationOutboxDuePayload{OutboxID: id.String()})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := w.handleNotificationOutboxDue(context.Background(), task); err != nil {
		t.Fatalf("handleNotificationOutboxDue: %v", err)
	}
	if got != id {
		t.Fatalf("published outbox id %s, want %s", got, id)
	}
}

func TestHandleNotificationOutboxDueRejectsBadID(t *testing.T) {
	w := newWorker(nil, events.NewInMemoryBus(logger.Discard()), logger.Discard())

	task, _ := NewNotificationOutboxDueTask(NotificationOutboxDuePayload{OutboxID: "nope"})
	if err := w.handleNotificationOutboxDue(context.Background(), task); err == nil {
		t.Fatal("expected error for malformed outbox id")
	}
}

func TestCronSpec(t *testing.T) {
	if got := cronSpec(5 * time.Minute); got != "@every 5m0s" {
		t.Fatalf("cronSpec = %q", got)
	}
}
