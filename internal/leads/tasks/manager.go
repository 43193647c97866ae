// Package tasks manages follow-up tasks: creation, completion and the
// single rolling automatic follow-up each live lead carries.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/repository"
	"estate_crm_backend/platform/logger"
)

// Repository is the store slice the manager needs.
type Repository interface {
	repository.TaskReader
	repository.Transactor
}

// Metrics is the measurement surface used by the manager.
type Metrics interface {
	TaskCreated(ctx context.Context, origin string)
	TaskCompleted(ctx context.Context, origin string)
}

// ManualFollowUp is an agent-created task request.
type ManualFollowUp struct {
	LeadID    uuid.UUID
	DueAt     time.Time
	Title     string
	CreatedBy *uuid.UUID
}

// Completion is the outcome of CompleteTask. Next is set only when an
// automatic follow-up rolled over to a successor.
type Completion struct {
	Task domain.Task
	Next *domain.Task
}

// Options tunes the manager. Zero values fall back to defaults.
type Options struct {
	Timeout time.Duration
	Now     func() time.Time
}

type Manager struct {
	repo    Repository
	policy  domain.FollowUpPolicy
	metrics Metrics
	log     *logger.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewManager(repo Repository, policy domain.FollowUpPolicy, metrics Metrics, log *logger.Logger, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		repo:    repo,
		policy:  policy,
		metrics: metrics,
		log:     log,
		timeout: opts.Timeout,
		now:     opts.Now,
	}
}

func followUpTitle(lead domain.Lead) string {
	name := strings.TrimSpace(lead.ConsumerName)
	if name == "" {
		return "Follow up with lead"
	}
	return "Follow up with " + name
}

// CreateInitialFollowUp opens the lead's first automatic follow-up, due at
// the stage offset from now.
func (m *Manager) CreateInitialFollowUp(ctx context.Context, leadID uuid.UUID) (domain.Task, error) {
	task, err := repository.Bounded(ctx, m.timeout, func(ctx context.Context) (domain.Task, error) {
		var created domain.Task
		err := m.repo.WithTx(ctx, func(tx repository.Tx) error {
			lead, err := tx.LockLead(ctx, leadID)
			if err != nil {
				return err
			}
			if lead.IsTerminal() {
				return domain.ErrLeadTerminal
			}
			if _, open, err := tx.OpenAutoFollowUp(ctx, leadID); err != nil {
				return err
			} else if open {
				return domain.ErrFollowUpAlreadyOpen
			}

			now := m.now().UTC()
			created, err = tx.InsertTask(ctx, repository.CreateTaskParams{
				LeadID:    leadID,
				Title:     followUpTitle(lead),
				Origin:    domain.TaskOriginAutoFollowUp,
				DueAt:     m.policy.DueAt(lead.Status, now),
				CreatedAt: now,
			})
			return err
		})
		return created, err
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("create initial follow-up for lead %s: %w", leadID, err)
	}

	m.created(ctx, task)
	return task, nil
}

// CreateManualFollowUp adds an agent task. Terminal leads accept no tasks.
// A zero DueAt falls back to the stage offset.
func (m *Manager) CreateManualFollowUp(ctx context.Context, req ManualFollowUp) (domain.Task, error) {
	task, err := repository.Bounded(ctx, m.timeout, func(ctx context.Context) (domain.Task, error) {
		var created domain.Task
		err := m.repo.WithTx(ctx, func(tx repository.Tx) error {
			lead, err := tx.LockLead(ctx, req.LeadID)
			if err != nil {
				return err
			}
			if lead.IsTerminal() {
				return domain.ErrLeadTerminal
			}

			now := m.now().UTC()
			dueAt := req.DueAt.UTC()
			if req.DueAt.IsZero() {
				dueAt = m.policy.DueAt(lead.Status, now)
			}
			title := strings.TrimSpace(req.Title)
			if title == "" {
				title = followUpTitle(lead)
			}

			created, err = tx.InsertTask(ctx, repository.CreateTaskParams{
				LeadID:    req.LeadID,
				Title:     title,
				Origin:    domain.TaskOriginManual,
				DueAt:     dueAt,
				CreatedBy: req.CreatedBy,
				CreatedAt: now,
			})
			return err
		})
		return created, err
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("create manual follow-up for lead %s: %w", req.LeadID, err)
	}

	m.created(ctx, task)
	return task, nil
}

// CompleteTask closes an open task, logs the contact outcome on the lead
// and, for automatic follow-ups on live leads, opens the successor in the
// same transaction so the lead never holds two open automatic follow-ups.
func (m *Manager) CompleteTask(ctx context.Context, taskID uuid.UUID) (Completion, error) {
	completion, err := repository.Bounded(ctx, m.timeout, func(ctx context.Context) (Completion, error) {
		var out Completion
		// Lead before task, matching the order a status close takes.
		found, err := m.repo.GetTask(ctx, taskID)
		if err != nil {
			return out, err
		}
		err = m.repo.WithTx(ctx, func(tx repository.Tx) error {
			lead, err := tx.LockLead(ctx, found.LeadID)
			if err != nil {
				return err
			}
			task, err := tx.LockTask(ctx, taskID)
			if err != nil {
				return err
			}
			if !task.IsOpen() {
				return domain.ErrTaskAlreadyCompleted
			}

			now := m.now().UTC()
			out.Task, err = tx.CompleteTask(ctx, taskID, now)
			if err != nil {
				return err
			}

			if task.Origin.ImpliesContactOutcome() {
				if _, err := tx.RecordOutcome(ctx, lead.ID, "task_completed:"+string(task.Origin), now); err != nil {
					return err
				}
			}

			if task.Origin != domain.TaskOriginAutoFollowUp || lead.IsTerminal() {
				return nil
			}
			if _, open, err := tx.OpenAutoFollowUp(ctx, lead.ID); err != nil {
				return err
			} else if open {
				return nil
			}

			next, err := tx.InsertTask(ctx, repository.CreateTaskParams{
				LeadID:    lead.ID,
				Title:     followUpTitle(lead),
				Origin:    domain.TaskOriginAutoFollowUp,
				DueAt:     m.policy.DueAt(lead.Status, now),
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			out.Next = &next
			return nil
		})
		return out, err
	})
	if err != nil {
		return Completion{}, fmt.Errorf("complete task %s: %w", taskID, err)
	}

	if m.metrics != nil {
		m.metrics.TaskCompleted(ctx, string(completion.Task.Origin))
	}
	if completion.Next != nil {
		m.created(ctx, *completion.Next)
	}
	m.log.Info("task completed",
		slog.String("task_id", taskID.String()),
		slog.String("lead_id", completion.Task.LeadID.String()),
		slog.Bool("successor", completion.Next != nil),
	)
	return completion, nil
}

// ListTasks returns a lead's tasks in creation order.
func (m *Manager) ListTasks(ctx context.Context, leadID uuid.UUID) ([]domain.Task, error) {
	return repository.Bounded(ctx, m.timeout, func(ctx context.Context) ([]domain.Task, error) {
		return m.repo.ListTasks(ctx, leadID)
	})
}

// GetTask returns one task.
func (m *Manager) GetTask(ctx context.Context, taskID uuid.UUID) (domain.Task, error) {
	return repository.Bounded(ctx, m.timeout, func(ctx context.Context) (domain.Task, error) {
		return m.repo.GetTask(ctx, taskID)
	})
}

func (m *Manager) created(ctx context.Context, task domain.Task) {
	if m.metrics != nil {
		m.metrics.TaskCreated(ctx, string(task.Origin))
	}
	m.log.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("lead_id", task.LeadID.String()),
		slog.String("origin", string(task.Origin)),
		slog.Time("due_at", task.DueAt),
	)
}
