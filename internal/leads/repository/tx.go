package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"estate_crm_backend/internal/leads/domain"
)

// routingLockKey identifies the transaction-scoped advisory lock that
// serializes agent selection.
const routingLockKey int64 = 0x6c65616473 // "leads"

// Bounds for the routing lock wait. Exceeding the wait surfaces as a
// concurrency conflict the engine retries.
const (
	maxRoutingLockWait = 5 * time.Second
	minRoutingLockWait = 50 * time.Millisecond
)

// routingLockTimeout spends at most half of the time left on ctx waiting for
// the routing lock, so lock_timeout fires before the statement is cancelled.
func routingLockTimeout(ctx context.Context) string {
	wait := maxRoutingLockWait
	if deadline, ok := ctx.Deadline(); ok {
		if half := time.Until(deadline) / 2; half < wait {
			wait = half
		}
	}
	if wait < minRoutingLockWait {
		wait = minRoutingLockWait
	}
	return strconv.FormatInt(wait.Milliseconds(), 10) + "ms"
}

type txStore struct {
	tx pgx.Tx
}

var _ Tx = (*txStore)(nil)

func (s *txStore) LockRouting(ctx context.Context) error {
	if _, err := s.tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, routingLockTimeout(ctx)); err != nil {
		return classify("set lock timeout", err)
	}
	if _, err := s.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, routingLockKey); err != nil {
		return classify("lock routing", err)
	}
	return nil
}

func (s *txStore) LockLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	return getLead(ctx, s.tx, id, true)
}

func (s *txStore) ActiveAgents(ctx context.Context) ([]domain.Agent, error) {
	return listAgents(ctx, s.tx, true)
}

func (s *txStore) Cursor(ctx context.Context) (int64, error) {
	var position int64
	err := s.tx.QueryRow(ctx, `SELECT position FROM assignment_cursor WHERE id = 1 FOR UPDATE`).Scan(&position)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classify("read cursor", err)
	}
	return position, nil
}

func (s *txStore) SetCursor(ctx context.Context, position int64) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO assignment_cursor (id, position) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET position = EXCLUDED.position
	`, position)
	return classify("advance cursor", err)
}

func (s *txStore) UpdateAssignment(ctx context.Context, params UpdateAssignmentParams) (domain.Lead, error) {
	lead, err := scanLead(s.tx.QueryRow(ctx, `
		UPDATE leads
		SET assigned_agent_id = $2, assigned_at = $3, reassignment_count = $4, updated_at = $3
		WHERE id = $1
		RETURNING `+leadColumns,
		params.LeadID, params.AgentID, params.AssignedAt, params.ReassignmentCount,
	))
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.Lead{}, domain.ErrAgentNotFound
		}
		return domain.Lead{}, notFoundOr("update assignment", err, domain.ErrLeadNotFound)
	}
	return lead, nil
}

func (s *txStore) AppendAssignment(ctx context.Context, params AppendAssignmentParams) (domain.AssignmentRecord, error) {
	record, err := scanAssignment(s.tx.QueryRow(ctx, `
		INSERT INTO lead_assignments (lead_id, previous_agent_id, new_agent_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+assignmentColumns,
		params.LeadID, params.PreviousAgentID, params.NewAgentID, string(params.Reason), params.CreatedAt,
	))
	if err != nil {
		return domain.AssignmentRecord{}, notFoundOr("append assignment", err, domain.ErrLeadNotFound)
	}
	return record, nil
}

func (s *txStore) InsertLead(ctx context.Context, params CreateLeadParams) (domain.Lead, error) {
	lead, err := scanLead(s.tx.QueryRow(ctx, `
		INSERT INTO leads (consumer_name, consumer_phone, consumer_email, source, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'new', $5, $5)
		RETURNING `+leadColumns,
		params.ConsumerName, params.ConsumerPhone, params.ConsumerEmail, params.Source, params.CreatedAt,
	))
	if err != nil {
		return domain.Lead{}, classify("insert lead", err)
	}
	return lead, nil
}

func (s *txStore) updateLead(ctx context.Context, op, set string, id uuid.UUID, args ...any) (domain.Lead, error) {
	lead, err := scanLead(s.tx.QueryRow(ctx, `
		UPDATE leads SET `+set+`
		WHERE id = $1
		RETURNING `+leadColumns,
		append([]any{id}, args...)...,
	))
	if err != nil {
		return domain.Lead{}, notFoundOr(op, err, domain.ErrLeadNotFound)
	}
	return lead, nil
}

func (s *txStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.LeadStatus, at time.Time) (domain.Lead, error) {
	return s.updateLead(ctx, "update lead status",
		`status = $2, updated_at = $3`, id, string(status), at)
}

func (s *txStore) RecordOutcome(ctx context.Context, id uuid.UUID, outcome string, at time.Time) (domain.Lead, error) {
	return s.updateLead(ctx, "record outcome",
		`last_outcome = $2, last_outcome_at = $3, updated_at = $3`, id, outcome, at)
}

func (s *txStore) MarkUnreachable(ctx context.Context, id uuid.UUID, at time.Time) (domain.Lead, error) {
	return s.updateLead(ctx, "mark unreachable",
		`unreachable = TRUE, unreachable_at = $2, updated_at = $2`, id, at)
}

// ClearUnreachable also restarts the SLA clock for the current agent.
func (s *txStore) ClearUnreachable(ctx context.Context, id uuid.UUID, at time.Time) (domain.Lead, error) {
	return s.updateLead(ctx, "clear unreachable", `
		unreachable = FALSE,
		unreachable_at = NULL,
		reassignment_count = 0,
		assigned_at = CASE WHEN assigned_agent_id IS NULL THEN assigned_at ELSE $2 END,
		updated_at = $2`, id, at)
}

func (s *txStore) LockTask(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	task, err := scanTask(s.tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM lead_tasks WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.Task{}, notFoundOr("lock task", err, domain.ErrTaskNotFound)
	}
	return task, nil
}

func (s *txStore) InsertTask(ctx context.Context, params CreateTaskParams) (domain.Task, error) {
	task, err := scanTask(s.tx.QueryRow(ctx, `
		INSERT INTO lead_tasks (lead_id, title, status, origin, due_at, created_by, created_at)
		VALUES ($1, $2, 'open', $3, $4, $5, $6)
		RETURNING `+taskColumns,
		params.LeadID, params.Title, string(params.Origin), params.DueAt, params.CreatedBy, params.CreatedAt,
	))
	if err != nil {
		return domain.Task{}, notFoundOr("insert task", err, domain.ErrLeadNotFound)
	}
	return task, nil
}

func (s *txStore) CompleteTask(ctx context.Context, id uuid.UUID, at time.Time) (domain.Task, error) {
	task, err := scanTask(s.tx.QueryRow(ctx, `
		UPDATE lead_tasks SET status = 'completed', completed_at = $2
		WHERE id = $1
		RETURNING `+taskColumns,
		id, at,
	))
	if err != nil {
		return domain.Task{}, notFoundOr("complete task", err, domain.ErrTaskNotFound)
	}
	return task, nil
}

func (s *txStore) OpenTasks(ctx context.Context, leadID uuid.UUID) ([]domain.Task, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT `+taskColumns+`
		FROM lead_tasks
		WHERE lead_id = $1 AND status = 'open'
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`, leadID)
	if err != nil {
		return nil, classify("lock open tasks", err)
	}
	tasks, err := collect(rows, scanTask)
	if err != nil {
		return nil, classify("scan open tasks", err)
	}
	return tasks, nil
}

func (s *txStore) OpenAutoFollowUp(ctx context.Context, leadID uuid.UUID) (domain.Task, bool, error) {
	task, err := scanTask(s.tx.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM lead_tasks
		WHERE lead_id = $1 AND status = 'open' AND origin = 'auto_followup'
		LIMIT 1
	`, leadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, false, nil
	}
	if err != nil {
		return domain.Task{}, false, classify("find open follow-up", err)
	}
	return task, true, nil
}
