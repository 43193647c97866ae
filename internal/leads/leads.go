// Package leads provides lead distribution and SLA enforcement.
// This file defines the public API of the leads bounded context.
// Only types and interfaces defined here should be imported by other domains.
package leads

import (
	"context"

	"github.com/google/uuid"
)

// AgentContact is what other domains may know about an agent.
type AgentContact struct {
	ID    uuid.UUID
	Name  string
	Email string
}

// LeadSummary is the minimal lead information shared with other domains.
type LeadSummary struct {
	ID                uuid.UUID
	ConsumerName      string
	ConsumerPhone     string
	Status            string
	ReassignmentCount int
}

// Directory resolves agents and leads for other domains, e.g. notifications.
type Directory interface {
	AgentContact(ctx context.Context, agentID uuid.UUID) (AgentContact, error)
	LeadSummary(ctx context.Context, leadID uuid.UUID) (LeadSummary, error)
}
