// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"estate_crm_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var (
	NewBaseEvent = events.NewBaseEvent
	BaseEventAt  = events.BaseEventAt
)

// =============================================================================
// Leads Domain Events
// =============================================================================

// LeadCreated is published when intake stores a new lead.
type LeadCreated struct {
	BaseEvent
	LeadID          uuid.UUID  `json:"leadId"`
	AssignedAgentID *uuid.UUID `json:"assignedAgentId,omitempty"`
	Source          string     `json:"source,omitempty"`
	ConsumerName    string     `json:"consumerName"`
}

func (e LeadCreated) EventName() string { return "leads.lead.created" }

// LeadAssigned is published after every committed assignment decision.
// Delivery problems downstream never roll the assignment back.
type LeadAssigned struct {
	BaseEvent
	LeadID          uuid.UUID  `json:"leadId"`
	PreviousAgentID *uuid.UUID `json:"previousAgentId,omitempty"`
	NewAgentID      uuid.UUID  `json:"newAgentId"`
	Reason          string     `json:"reason"`
}

func (e LeadAssigned) EventName() string { return "leads.assigned" }

// LeadMarkedUnreachable is published when the SLA sweep stops rotating a lead.
type LeadMarkedUnreachable struct {
	BaseEvent
	LeadID            uuid.UUID  `json:"leadId"`
	AgentID           *uuid.UUID `json:"agentId,omitempty"`
	ReassignmentCount int        `json:"reassignmentCount"`
}

func (e LeadMarkedUnreachable) EventName() string { return "leads.unreachable" }

// LeadAssignmentStalled is an operational alert: no active agent could take the lead.
type LeadAssignmentStalled struct {
	BaseEvent
	LeadID         uuid.UUID  `json:"leadId"`
	ExcludedAgent  *uuid.UUID `json:"excludedAgentId,omitempty"`
	AttemptedCause string     `json:"cause"`
}

func (e LeadAssignmentStalled) EventName() string { return "leads.assignment.stalled" }

// =============================================================================
// Notification Events
// =============================================================================

// NotificationOutboxDue is published by the scheduler worker when an outbox
// record is ready for delivery.
type NotificationOutboxDue struct {
	BaseEvent
	OutboxID uuid.UUID `json:"outboxId"`
}

func (e NotificationOutboxDue) EventName() string { return "notification.outbox.due" }
