package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/repository"
)

type tx struct {
	state *state
}

var _ repository.Tx = (*tx)(nil)

// LockRouting is a no-op: the store mutex is already held.
func (t *tx) LockRouting(ctx context.Context) error {
	return ctx.Err()
}

func (t *tx) LockLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	if err := ctx.Err(); err != nil {
		return domain.Lead{}, err
	}
	idx := t.state.leadIndex(id)
	if idx < 0 {
		return domain.Lead{}, domain.ErrLeadNotFound
	}
	return t.state.leads[idx], nil
}

func (t *tx) ActiveAgents(ctx context.Context) ([]domain.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.state.listAgents(true), nil
}

func (t *tx) Cursor(ctx context.Context) (int64, error) {
	return t.state.cursor, ctx.Err()
}

func (t *tx) SetCursor(ctx context.Context, position int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.state.cursor = position
	return nil
}

func (t *tx) mutateLead(ctx context.Context, id uuid.UUID, fn func(*domain.Lead)) (domain.Lead, error) {
	if err := ctx.Err(); err != nil {
		return domain.Lead{}, err
	}
	idx := t.state.leadIndex(id)
	if idx < 0 {
		return domain.Lead{}, domain.ErrLeadNotFound
	}
	fn(&t.state.leads[idx])
	return t.state.leads[idx], nil
}

func (t *tx) UpdateAssignment(ctx context.Context, params repository.UpdateAssignmentParams) (domain.Lead, error) {
	if !t.state.agentExists(params.AgentID) {
		return domain.Lead{}, domain.ErrAgentNotFound
	}
	return t.mutateLead(ctx, params.LeadID, func(lead *domain.Lead) {
		agentID := params.AgentID
		assignedAt := params.AssignedAt
		lead.AssignedAgentID = &agentID
		lead.AssignedAt = &assignedAt
		lead.ReassignmentCount = params.ReassignmentCount
		lead.UpdatedAt = params.AssignedAt
	})
}

func (t *tx) AppendAssignment(ctx context.Context, params repository.AppendAssignmentParams) (domain.AssignmentRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.AssignmentRecord{}, err
	}
	if t.state.leadIndex(params.LeadID) < 0 {
		return domain.AssignmentRecord{}, domain.ErrLeadNotFound
	}
	record := domain.AssignmentRecord{
		ID:              uuid.New(),
		LeadID:          params.LeadID,
		PreviousAgentID: params.PreviousAgentID,
		NewAgentID:      params.NewAgentID,
		Reason:          params.Reason,
		CreatedAt:       params.CreatedAt,
	}
	t.state.assignments = append(t.state.assignments, record)
	return record, nil
}

func (t *tx) InsertLead(ctx context.Context, params repository.CreateLeadParams) (domain.Lead, error) {
	if err := ctx.Err(); err != nil {
		return domain.Lead{}, err
	}
	lead := domain.Lead{
		ID:            uuid.New(),
		ConsumerName:  params.ConsumerName,
		ConsumerPhone: params.ConsumerPhone,
		ConsumerEmail: params.ConsumerEmail,
		Source:        params.Source,
		Status:        domain.LeadStatusNew,
		CreatedAt:     params.CreatedAt,
		UpdatedAt:     params.CreatedAt,
	}
	t.state.leads = append(t.state.leads, lead)
	return lead, nil
}

func (t *tx) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.LeadStatus, at time.Time) (domain.Lead, error) {
	return t.mutateLead(ctx, id, func(lead *domain.Lead) {
		lead.Status = status
		lead.UpdatedAt = at
	})
}

func (t *tx) RecordOutcome(ctx context.Context, id uuid.UUID, outcome string, at time.Time) (domain.Lead, error) {
	return t.mutateLead(ctx, id, func(lead *domain.Lead) {
		value := outcome
		lead.LastOutcome = &value
		lead.LastOutcomeAt = &at
		lead.UpdatedAt = at
	})
}

func (t *tx) MarkUnreachable(ctx context.Context, id uuid.UUID, at time.Time) (domain.Lead, error) {
	return t.mutateLead(ctx, id, func(lead *domain.Lead) {
		lead.Unreachable = true
		lead.UnreachableAt = &at
		lead.UpdatedAt = at
	})
}

func (t *tx) ClearUnreachable(ctx context.Context, id uuid.UUID, at time.Time) (domain.Lead, error) {
	return t.mutateLead(ctx, id, func(lead *domain.Lead) {
		lead.Unreachable = false
		lead.UnreachableAt = nil
		lead.ReassignmentCount = 0
		if lead.AssignedAgentID != nil {
			lead.AssignedAt = &at
		}
		lead.UpdatedAt = at
	})
}

func (t *tx) LockTask(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	idx := t.state.taskIndex(id)
	if idx < 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return t.state.tasks[idx], nil
}

// InsertTask enforces the single open auto follow-up per lead the same way
// the partial unique index does in Postgres.
func (t *tx) InsertTask(ctx context.Context, params repository.CreateTaskParams) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	if t.state.leadIndex(params.LeadID) < 0 {
		return domain.Task{}, domain.ErrLeadNotFound
	}
	if params.Origin == domain.TaskOriginAutoFollowUp {
		if _, open, _ := t.OpenAutoFollowUp(ctx, params.LeadID); open {
			return domain.Task{}, domain.ErrFollowUpAlreadyOpen
		}
	}
	task := domain.Task{
		ID:        uuid.New(),
		LeadID:    params.LeadID,
		Title:     params.Title,
		Status:    domain.TaskStatusOpen,
		Origin:    params.Origin,
		DueAt:     params.DueAt,
		CreatedBy: params.CreatedBy,
		CreatedAt: params.CreatedAt,
	}
	t.state.tasks = append(t.state.tasks, task)
	return task, nil
}

func (t *tx) CompleteTask(ctx context.Context, id uuid.UUID, at time.Time) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	idx := t.state.taskIndex(id)
	if idx < 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	task := &t.state.tasks[idx]
	task.Status = domain.TaskStatusCompleted
	task.CompletedAt = &at
	return *task, nil
}

func (t *tx) OpenTasks(ctx context.Context, leadID uuid.UUID) ([]domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var open []domain.Task
	for _, task := range t.state.tasks {
		if task.LeadID == leadID && task.IsOpen() {
			open = append(open, task)
		}
	}
	return open, nil
}

func (t *tx) OpenAutoFollowUp(ctx context.Context, leadID uuid.UUID) (domain.Task, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, false, err
	}
	for _, task := range t.state.tasks {
		if task.LeadID == leadID && task.IsOpenAutoFollowUp() {
			return task, true, nil
		}
	}
	return domain.Task{}, false, nil
}
