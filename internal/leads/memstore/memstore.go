// Package memstore is an in-process implementation of the leads store. It
// backs the development server when no database is configured and gives the
// service tests a real transactional store without Postgres.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/repository"
)

// Store keeps every table behind one mutex. A transaction holds the mutex
// for its whole lifetime and works on a copy, so a failed fn leaves no trace.
type Store struct {
	mu    sync.Mutex
	state *state
}

var _ repository.Store = (*Store)(nil)

type state struct {
	agents      []domain.Agent
	leads       []domain.Lead
	assignments []domain.AssignmentRecord
	tasks       []domain.Task
	cursor      int64
}

func New() *Store {
	return &Store{state: &state{}}
}

func (s *state) clone() *state {
	return &state{
		agents:      slices.Clone(s.agents),
		leads:       slices.Clone(s.leads),
		assignments: slices.Clone(s.assignments),
		tasks:       slices.Clone(s.tasks),
		cursor:      s.cursor,
	}
}

// AddAgent registers an agent. Agents are ordered by creation time, then id.
func (s *Store) AddAgent(name, email string, status domain.AgentStatus, createdAt time.Time) domain.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent := domain.Agent{
		ID:        uuid.New(),
		Name:      name,
		Email:     email,
		Status:    status,
		CreatedAt: createdAt,
	}
	s.state.agents = append(s.state.agents, agent)
	slices.SortStableFunc(s.state.agents, func(a, b domain.Agent) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return agent
}

// SetAgentStatus activates or deactivates an agent.
func (s *Store) SetAgentStatus(id uuid.UUID, status domain.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state.agents {
		if s.state.agents[i].ID == id {
			s.state.agents[i].Status = status
			return nil
		}
	}
	return domain.ErrAgentNotFound
}

func (s *state) activeLeadCount(agentID uuid.UUID) int {
	count := 0
	for _, lead := range s.leads {
		if lead.AssignedAgentID != nil && *lead.AssignedAgentID == agentID && !lead.IsTerminal() {
			count++
		}
	}
	return count
}

func (s *state) listAgents(activeOnly bool) []domain.Agent {
	agents := make([]domain.Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		if activeOnly && agent.Status != domain.AgentStatusActive {
			continue
		}
		agent.ActiveLeadCount = s.activeLeadCount(agent.ID)
		agents = append(agents, agent)
	}
	return agents
}

func (s *state) leadIndex(id uuid.UUID) int {
	return slices.IndexFunc(s.leads, func(l domain.Lead) bool { return l.ID == id })
}

func (s *state) taskIndex(id uuid.UUID) int {
	return slices.IndexFunc(s.tasks, func(t domain.Task) bool { return t.ID == id })
}

func (s *state) agentExists(id uuid.UUID) bool {
	return slices.ContainsFunc(s.agents, func(a domain.Agent) bool { return a.ID == id })
}

func (s *Store) ListAgents(ctx context.Context, activeOnly bool) ([]domain.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listAgents(activeOnly), nil
}

func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (domain.Agent, error) {
	if err := ctx.Err(); err != nil {
		return domain.Agent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, agent := range s.state.listAgents(false) {
		if agent.ID == id {
			return agent, nil
		}
	}
	return domain.Agent{}, domain.ErrAgentNotFound
}

func (s *Store) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	if err := ctx.Err(); err != nil {
		return domain.Lead{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.state.leadIndex(id)
	if idx < 0 {
		return domain.Lead{}, domain.ErrLeadNotFound
	}
	return s.state.leads[idx], nil
}

func (s *Store) ListSLACandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]domain.Lead, 0)
	for _, lead := range s.state.leads {
		if lead.BreachesSLA(cutoff) {
			candidates = append(candidates, lead)
		}
	}
	slices.SortStableFunc(candidates, func(a, b domain.Lead) int {
		return a.AssignedAt.Compare(*b.AssignedAt)
	})
	return truncate(candidates, limit), nil
}

func (s *Store) ListOrphans(ctx context.Context, limit int) ([]domain.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	orphans := make([]domain.Lead, 0)
	for _, lead := range s.state.leads {
		if lead.IsOrphaned() {
			orphans = append(orphans, lead)
		}
	}
	slices.SortStableFunc(orphans, func(a, b domain.Lead) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return truncate(orphans, limit), nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func (s *Store) ListAssignments(ctx context.Context, leadID uuid.UUID) ([]domain.AssignmentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]domain.AssignmentRecord, 0)
	for _, record := range s.state.assignments {
		if record.LeadID == leadID {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.state.taskIndex(id)
	if idx < 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return s.state.tasks[idx], nil
}

func (s *Store) ListTasks(ctx context.Context, leadID uuid.UUID) ([]domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]domain.Task, 0)
	for _, task := range s.state.tasks {
		if task.LeadID == leadID {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// WithTx serializes all transactions; the in-memory store has no finer
// grained locking.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&tx{state: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = working
	return nil
}
