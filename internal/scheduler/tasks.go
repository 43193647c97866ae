package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskSLASweep = "leads.sla.sweep"

const TaskNotificationOutboxDue = "notification.outbox.due"

// sweepUniqueTTL bounds how long a queued sweep blocks another enqueue.
const sweepUniqueTTL = time.Minute

// SLASweepPayload carries the breach window. Zero means the sweeper default.
type SLASweepPayload struct {
	WindowSeconds int `json:"windowSeconds,omitempty"`
}

func (p SLASweepPayload) Window() time.Duration {
	if p.WindowSeconds <= 0 {
		return 0
	}
	return time.Duration(p.WindowSeconds) * time.Second
}

type NotificationOutboxDuePayload struct {
	OutboxID string `json:"outboxId"`
}

func NewSLASweepTask(payload SLASweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSLASweep, data), nil
}

func ParseSLASweepPayload(task *asynq.Task) (SLASweepPayload, error) {
	var payload SLASweepPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SLASweepPayload{}, err
	}
	return payload, nil
}

func NewNotificationOutboxDueTask(payload NotificationOutboxDuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationOutboxDue, data), nil
}

func ParseNotificationOutboxDuePayload(task *asynq.Task) (NotificationOutboxDuePayload, error) {
	var payload NotificationOutboxDuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return NotificationOutboxDuePayload{}, err
	}
	return payload, nil
}
