// Package domain holds the routing aggregate (leads with their tasks and
// assignment history) and the rules every store and service shares.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus marks whether an agent may receive leads.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
)

// Agent is the read model the directory serves. ActiveLeadCount is derived
// from the lead store at read time and never stored.
type Agent struct {
	ID              uuid.UUID
	Name            string
	Email           string
	Status          AgentStatus
	CreatedAt       time.Time
	ActiveLeadCount int
}

// Lead is the aggregate root for tasks and assignment records.
type Lead struct {
	ID                uuid.UUID
	ConsumerName      string
	ConsumerPhone     string
	ConsumerEmail     *string
	Source            *string
	Status            LeadStatus
	AssignedAgentID   *uuid.UUID
	AssignedAt        *time.Time
	LastOutcomeAt     *time.Time
	LastOutcome       *string
	ReassignmentCount int
	Unreachable       bool
	UnreachableAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsTerminal reports whether the lead is won or lost.
func (l Lead) IsTerminal() bool {
	return l.Status.IsTerminal()
}

// IsAssigned reports whether an agent currently owns the lead.
func (l Lead) IsAssigned() bool {
	return l.AssignedAgentID != nil && l.AssignedAt != nil
}

// HasOutcomeSinceAssignment reports whether a contact outcome was logged
// after the current assignment began.
func (l Lead) HasOutcomeSinceAssignment() bool {
	if l.LastOutcomeAt == nil || l.AssignedAt == nil {
		return false
	}
	return !l.LastOutcomeAt.Before(*l.AssignedAt)
}

// BreachesSLA reports whether the lead is due for breach handling: it is
// assigned, not terminal, not flagged unreachable, has been with its agent
// since at or before cutoff, and has no outcome logged since assignment.
func (l Lead) BreachesSLA(cutoff time.Time) bool {
	if l.IsTerminal() || l.Unreachable || !l.IsAssigned() {
		return false
	}
	if l.AssignedAt.After(cutoff) {
		return false
	}
	return !l.HasOutcomeSinceAssignment()
}

// IsOrphaned reports whether a live lead is waiting for its first agent.
func (l Lead) IsOrphaned() bool {
	return !l.IsTerminal() && l.AssignedAgentID == nil
}
