package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"estate_crm_backend/internal/leads/domain"
)

// =====================================
// Segregated Interfaces (Interface Segregation Principle)
// =====================================

// AgentReader provides read-only access to agents and their derived load.
type AgentReader interface {
	// ListAgents returns every agent ordered by created_at, id with
	// ActiveLeadCount recomputed from the lead table.
	ListAgents(ctx context.Context, activeOnly bool) ([]domain.Agent, error)
	GetAgent(ctx context.Context, id uuid.UUID) (domain.Agent, error)
}

// LeadReader provides read-only access to leads.
type LeadReader interface {
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	// ListSLACandidates returns live, reachable, assigned leads whose current
	// assignment started at or before cutoff with no outcome since, oldest first.
	ListSLACandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.Lead, error)
	// ListOrphans returns live leads that never received an agent, oldest first.
	ListOrphans(ctx context.Context, limit int) ([]domain.Lead, error)
}

// AssignmentReader exposes the append-only assignment log.
type AssignmentReader interface {
	ListAssignments(ctx context.Context, leadID uuid.UUID) ([]domain.AssignmentRecord, error)
}

// TaskReader provides read-only access to tasks.
type TaskReader interface {
	GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error)
	ListTasks(ctx context.Context, leadID uuid.UUID) ([]domain.Task, error)
}

// Transactor runs fn inside a single store transaction. fn's error rolls
// the transaction back; a nil return commits.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// RoutingTx is the slice of a transaction the assignment engine needs.
type RoutingTx interface {
	// LockRouting serializes agent selection across every writer until the
	// transaction ends.
	LockRouting(ctx context.Context) error
	LockLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	ActiveAgents(ctx context.Context) ([]domain.Agent, error)
	Cursor(ctx context.Context) (int64, error)
	SetCursor(ctx context.Context, position int64) error
	UpdateAssignment(ctx context.Context, params UpdateAssignmentParams) (domain.Lead, error)
	AppendAssignment(ctx context.Context, params AppendAssignmentParams) (domain.AssignmentRecord, error)
}

// LeadTx covers lead lifecycle writes.
type LeadTx interface {
	LockLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	InsertLead(ctx context.Context, params CreateLeadParams) (domain.Lead, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.LeadStatus, at time.Time) (domain.Lead, error)
	RecordOutcome(ctx context.Context, id uuid.UUID, outcome string, at time.Time) (domain.Lead, error)
	MarkUnreachable(ctx context.Context, id uuid.UUID, at time.Time) (domain.Lead, error)
	ClearUnreachable(ctx context.Context, id uuid.UUID, at time.Time) (domain.Lead, error)
}

// TaskTx covers task writes.
type TaskTx interface {
	LockTask(ctx context.Context, id uuid.UUID) (domain.Task, error)
	InsertTask(ctx context.Context, params CreateTaskParams) (domain.Task, error)
	CompleteTask(ctx context.Context, id uuid.UUID, at time.Time) (domain.Task, error)
	OpenAutoFollowUp(ctx context.Context, leadID uuid.UUID) (domain.Task, bool, error)
	// OpenTasks locks and returns the lead's open tasks in creation order.
	OpenTasks(ctx context.Context, leadID uuid.UUID) ([]domain.Task, error)
}

// Tx is the full transactional surface implemented by each store.
type Tx interface {
	RoutingTx
	LeadTx
	TaskTx
}

// Store is the composite every backend implements.
type Store interface {
	AgentReader
	LeadReader
	AssignmentReader
	TaskReader
	Transactor
}

// CreateLeadParams carries a new lead's intake fields.
type CreateLeadParams struct {
	ConsumerName  string
	ConsumerPhone string
	ConsumerEmail *string
	Source        *string
	CreatedAt     time.Time
}

// UpdateAssignmentParams moves a lead to a new agent.
type UpdateAssignmentParams struct {
	LeadID            uuid.UUID
	AgentID           uuid.UUID
	AssignedAt        time.Time
	ReassignmentCount int
}

// AppendAssignmentParams is one new history entry.
type AppendAssignmentParams struct {
	LeadID          uuid.UUID
	PreviousAgentID *uuid.UUID
	NewAgentID      uuid.UUID
	Reason          domain.AssignmentReason
	CreatedAt       time.Time
}

// CreateTaskParams is one new task.
type CreateTaskParams struct {
	LeadID    uuid.UUID
	Title     string
	Origin    domain.TaskOrigin
	DueAt     time.Time
	CreatedBy *uuid.UUID
	CreatedAt time.Time
}
