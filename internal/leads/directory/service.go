// Package directory serves the read-only agent view used for routing.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/repository"
)

// Repository is the consumer-driven slice of the store the directory needs.
type Repository interface {
	repository.AgentReader
}

// Service exposes agents with their live active-lead counts. It fails closed:
// any store error is returned and nothing is cached.
type Service struct {
	repo    Repository
	timeout time.Duration
}

func New(repo Repository, timeout time.Duration) *Service {
	return &Service{repo: repo, timeout: timeout}
}

// ActiveAgents returns active agents in stable created_at, id order.
func (s *Service) ActiveAgents(ctx context.Context) ([]domain.Agent, error) {
	agents, err := repository.Bounded(ctx, s.timeout, func(ctx context.Context) ([]domain.Agent, error) {
		return s.repo.ListAgents(ctx, true)
	})
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}
	return agents, nil
}

// ActiveLeadCount returns how many non-terminal leads the agent owns.
func (s *Service) ActiveLeadCount(ctx context.Context, agentID uuid.UUID) (int, error) {
	agent, err := s.Get(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return agent.ActiveLeadCount, nil
}

// Get returns one agent regardless of status.
func (s *Service) Get(ctx context.Context, agentID uuid.UUID) (domain.Agent, error) {
	agent, err := repository.Bounded(ctx, s.timeout, func(ctx context.Context) (domain.Agent, error) {
		return s.repo.GetAgent(ctx, agentID)
	})
	if err != nil {
		return domain.Agent{}, fmt.Errorf("get agent %s: %w", agentID, err)
	}
	return agent, nil
}

// List returns all agents, or only active ones when activeOnly is set.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]domain.Agent, error) {
	if activeOnly {
		return s.ActiveAgents(ctx)
	}
	agents, err := repository.Bounded(ctx, s.timeout, func(ctx context.Context) ([]domain.Agent, error) {
		return s.repo.ListAgents(ctx, false)
	})
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}
