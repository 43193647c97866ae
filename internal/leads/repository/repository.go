package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"estate_crm_backend/internal/leads/domain"
)

// Repository is the Postgres implementation of Store.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const leadColumns = `
	id, consumer_name, consumer_phone, consumer_email, source, status,
	assigned_agent_id, assigned_at, last_outcome_at, last_outcome,
	reassignment_count, unreachable, unreachable_at, created_at, updated_at`

const taskColumns = `
	id, lead_id, title, status, origin, due_at, created_by, created_at, completed_at`

const assignmentColumns = `
	id, lead_id, previous_agent_id, new_agent_id, reason, created_at`

// agentSelect derives active_lead_count from the lead table on every read.
const agentSelect = `
	SELECT a.id, a.name, a.email, a.status, a.created_at,
		COALESCE((
			SELECT COUNT(*) FROM leads l
			WHERE l.assigned_agent_id = a.id AND l.status NOT IN ('won', 'lost')
		), 0) AS active_lead_count
	FROM agents a`

func scanLead(row pgx.Row) (domain.Lead, error) {
	var lead domain.Lead
	var status string
	err := row.Scan(
		&lead.ID, &lead.ConsumerName, &lead.ConsumerPhone, &lead.ConsumerEmail, &lead.Source, &status,
		&lead.AssignedAgentID, &lead.AssignedAt, &lead.LastOutcomeAt, &lead.LastOutcome,
		&lead.ReassignmentCount, &lead.Unreachable, &lead.UnreachableAt, &lead.CreatedAt, &lead.UpdatedAt,
	)
	lead.Status = domain.LeadStatus(status)
	return lead, err
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var task domain.Task
	var status, origin string
	err := row.Scan(
		&task.ID, &task.LeadID, &task.Title, &status, &origin, &task.DueAt,
		&task.CreatedBy, &task.CreatedAt, &task.CompletedAt,
	)
	task.Status = domain.TaskStatus(status)
	task.Origin = domain.TaskOrigin(origin)
	return task, err
}

func scanAssignment(row pgx.Row) (domain.AssignmentRecord, error) {
	var record domain.AssignmentRecord
	var reason string
	err := row.Scan(&record.ID, &record.LeadID, &record.PreviousAgentID, &record.NewAgentID, &reason, &record.CreatedAt)
	record.Reason = domain.AssignmentReason(reason)
	return record, err
}

func scanAgent(row pgx.Row) (domain.Agent, error) {
	var agent domain.Agent
	var status string
	err := row.Scan(&agent.ID, &agent.Name, &agent.Email, &status, &agent.CreatedAt, &agent.ActiveLeadCount)
	agent.Status = domain.AgentStatus(status)
	return agent, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()

	items := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func listAgents(ctx context.Context, q querier, activeOnly bool) ([]domain.Agent, error) {
	rows, err := q.Query(ctx, agentSelect+`
		WHERE ($1 = false OR a.status = 'active')
		ORDER BY a.created_at ASC, a.id ASC
	`, activeOnly)
	if err != nil {
		return nil, classify("list agents", err)
	}
	agents, err := collect(rows, scanAgent)
	if err != nil {
		return nil, classify("scan agents", err)
	}
	return agents, nil
}

func (r *Repository) ListAgents(ctx context.Context, activeOnly bool) ([]domain.Agent, error) {
	return listAgents(ctx, r.pool, activeOnly)
}

func (r *Repository) GetAgent(ctx context.Context, id uuid.UUID) (domain.Agent, error) {
	agent, err := scanAgent(r.pool.QueryRow(ctx, agentSelect+` WHERE a.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Agent{}, domain.ErrAgentNotFound
	}
	if err != nil {
		return domain.Agent{}, classify("get agent", err)
	}
	return agent, nil
}

func getLead(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	lead, err := scanLead(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, domain.ErrLeadNotFound
	}
	if err != nil {
		return domain.Lead{}, classify("get lead", err)
	}
	return lead, nil
}

func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	return getLead(ctx, r.pool, id, false)
}

func (r *Repository) ListSLACandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE status NOT IN ('won', 'lost')
		  AND unreachable = FALSE
		  AND assigned_agent_id IS NOT NULL
		  AND assigned_at <= $1
		  AND (last_outcome_at IS NULL OR last_outcome_at < assigned_at)
		ORDER BY assigned_at ASC, id ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, classify("list sla candidates", err)
	}
	leads, err := collect(rows, scanLead)
	if err != nil {
		return nil, classify("scan sla candidates", err)
	}
	return leads, nil
}

func (r *Repository) ListOrphans(ctx context.Context, limit int) ([]domain.Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE status NOT IN ('won', 'lost')
		  AND assigned_agent_id IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, classify("list orphan leads", err)
	}
	leads, err := collect(rows, scanLead)
	if err != nil {
		return nil, classify("scan orphan leads", err)
	}
	return leads, nil
}

func (r *Repository) ListAssignments(ctx context.Context, leadID uuid.UUID) ([]domain.AssignmentRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM lead_assignments
		WHERE lead_id = $1
		ORDER BY seq ASC
	`, leadID)
	if err != nil {
		return nil, classify("list assignments", err)
	}
	records, err := collect(rows, scanAssignment)
	if err != nil {
		return nil, classify("scan assignments", err)
	}
	return records, nil
}

func (r *Repository) GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	task, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM lead_tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if err != nil {
		return domain.Task{}, classify("get task", err)
	}
	return task, nil
}

func (r *Repository) ListTasks(ctx context.Context, leadID uuid.UUID) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM lead_tasks
		WHERE lead_id = $1
		ORDER BY created_at ASC, id ASC
	`, leadID)
	if err != nil {
		return nil, classify("list tasks", err)
	}
	tasks, err := collect(rows, scanTask)
	if err != nil {
		return nil, classify("scan tasks", err)
	}
	return tasks, nil
}

// WithTx runs fn in a read-committed transaction. Row locks and the routing
// advisory lock taken inside fn are released on commit or rollback.
func (r *Repository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	pgTx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin tx", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(&txStore{tx: pgTx}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

func notFoundOr(op string, err error, notFound error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%s: %w", op, notFound)
	}
	return classify(op, err)
}
