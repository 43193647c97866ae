package domain

import (
	"time"

	"github.com/google/uuid"
)

// AssignmentReason explains why an agent received a lead.
type AssignmentReason string

const (
	ReasonInitial   AssignmentReason = "initial"
	ReasonSLABreach AssignmentReason = "sla_breach"
	ReasonManual    AssignmentReason = "manual"
)

// IsValid reports whether r is one of the known reasons.
func (r AssignmentReason) IsValid() bool {
	switch r {
	case ReasonInitial, ReasonSLABreach, ReasonManual:
		return true
	}
	return false
}

// AssignmentRecord is one immutable entry of a lead's assignment audit trail.
type AssignmentRecord struct {
	ID              uuid.UUID
	LeadID          uuid.UUID
	PreviousAgentID *uuid.UUID
	NewAgentID      uuid.UUID
	Reason          AssignmentReason
	CreatedAt       time.Time
}
