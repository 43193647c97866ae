package scheduler

import (
	"context"
	"time"

	"estate_crm_backend/internal/notification/outbox"
	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	outboxPollInterval = 2 * time.Second
	outboxClaimBatch   = 50
)

// OutboxClaimer is the slice of the outbox repository the dispatcher needs.
type OutboxClaimer interface {
	ClaimPending(ctx context.Context, limit int) ([]outbox.Record, error)
	MarkPending(ctx context.Context, id uuid.UUID, lastError *string) error
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// NotificationOutboxDispatcher moves due outbox rows onto the asynq queue.
type NotificationOutboxDispatcher struct {
	client enqueuer
	queue  string
	repo   OutboxClaimer
	log    *logger.Logger
}

func NewNotificationOutboxDispatcher(cfg config.SchedulerConfig, repo OutboxClaimer, log *logger.Logger) (*NotificationOutboxDispatcher, error) {
	opt, err := connOpt(cfg)
	if err != nil {
		return nil, err
	}

	return &NotificationOutboxDispatcher{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
		repo:   repo,
		log:    log,
	}, nil
}

func (d *NotificationOutboxDispatcher) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *NotificationOutboxDispatcher) Run(ctx context.Context) {
	if d == nil || d.client == nil || d.repo == nil {
		return
	}

	ticker := time.NewTicker(outboxPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		d.dispatchOnce(ctx)
	}
}

// dispatchOnce returns the number of records handed to the queue.
func (d *NotificationOutboxDispatcher) dispatchOnce(ctx context.Context) int {
	records, err := d.repo.ClaimPending(ctx, outboxClaimBatch)
	if err != nil {
		d.log.Warn("outbox claim failed", "error", err)
		return 0
	}

	enqueued := 0
	for _, rec := range records {
		task, err := NewNotificationOutboxDueTask(NotificationOutboxDuePayload{OutboxID: rec.ID.String()})
		if err != nil {
			d.release(ctx, rec.ID, err)
			continue
		}

		_, err = d.client.EnqueueContext(ctx, task, asynq.ProcessAt(rec.RunAt), asynq.Queue(d.queue))
		if err != nil {
			d.release(ctx, rec.ID, err)
			continue
		}
		enqueued++
	}
	return enqueued
}

func (d *NotificationOutboxDispatcher) release(ctx context.Context, id uuid.UUID, cause error) {
	msg := cause.Error()
	if err := d.repo.MarkPending(context.WithoutCancel(ctx), id, &msg); err != nil {
		d.log.Warn("outbox release failed", "outbox_id", id, "error", err)
	}
}
