package transport

import (
	"time"

	"github.com/google/uuid"
)

// Request DTOs

type CreateLeadRequest struct {
	ConsumerName  string  `json:"consumerName" validate:"required,min=1,max=200"`
	ConsumerPhone string  `json:"consumerPhone" validate:"required,min=5,max=32"`
	ConsumerEmail *string `json:"consumerEmail,omitempty" validate:"omitempty,email,max=254"`
	Source        *string `json:"source,omitempty" validate:"omitempty,max=100"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=new contacted qualified negotiating won lost"`
}

type LogOutcomeRequest struct {
	Outcome string `json:"outcome" validate:"required,min=1,max=500"`
}

type CreateTaskRequest struct {
	Title string     `json:"title,omitempty" validate:"omitempty,max=200"`
	DueAt *time.Time `json:"dueAt,omitempty"`
}

type SweepRequest struct {
	WindowMinutes *int `json:"windowMinutes,omitempty" validate:"omitempty,min=1,max=10080"`
}

type ListAgentsQuery struct {
	IncludeInactive bool `form:"includeInactive"`
}

// Response DTOs

type LeadResponse struct {
	ID                uuid.UUID  `json:"id"`
	ConsumerName      string     `json:"consumerName"`
	ConsumerPhone     string     `json:"consumerPhone"`
	ConsumerEmail     *string    `json:"consumerEmail,omitempty"`
	Source            *string    `json:"source,omitempty"`
	Status            string     `json:"status"`
	AssignedAgentID   *uuid.UUID `json:"assignedAgentId,omitempty"`
	AssignedAt        *time.Time `json:"assignedAt,omitempty"`
	LastOutcome       *string    `json:"lastOutcome,omitempty"`
	LastOutcomeAt     *time.Time `json:"lastOutcomeAt,omitempty"`
	ReassignmentCount int        `json:"reassignmentCount"`
	Unreachable       bool       `json:"unreachable"`
	UnreachableAt     *time.Time `json:"unreachableAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type CreateLeadResponse struct {
	Lead              LeadResponse  `json:"lead"`
	FollowUp          *TaskResponse `json:"followUp,omitempty"`
	AssignmentPending bool          `json:"assignmentPending"`
	Code              string        `json:"code,omitempty"`
}

type AgentResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Status          string    `json:"status"`
	ActiveLeadCount int       `json:"activeLeadCount"`
	CreatedAt       time.Time `json:"createdAt"`
}

type AgentListResponse struct {
	Items []AgentResponse `json:"items"`
}

type AssignmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	LeadID          uuid.UUID  `json:"leadId"`
	PreviousAgentID *uuid.UUID `json:"previousAgentId,omitempty"`
	NewAgentID      uuid.UUID  `json:"newAgentId"`
	Reason          string     `json:"reason"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type AssignmentListResponse struct {
	Items []AssignmentResponse `json:"items"`
}

type ReassignResponse struct {
	Lead       LeadResponse       `json:"lead"`
	Assignment AssignmentResponse `json:"assignment"`
}

type TaskResponse struct {
	ID          uuid.UUID  `json:"id"`
	LeadID      uuid.UUID  `json:"leadId"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	Origin      string     `json:"origin"`
	DueAt       time.Time  `json:"dueAt"`
	CreatedBy   *uuid.UUID `json:"createdBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type TaskListResponse struct {
	Items []TaskResponse `json:"items"`
}

type CompleteTaskResponse struct {
	Task TaskResponse  `json:"task"`
	Next *TaskResponse `json:"next,omitempty"`
}

type SweepLeadResponse struct {
	LeadID          uuid.UUID  `json:"leadId"`
	Outcome         string     `json:"outcome"`
	PreviousAgentID *uuid.UUID `json:"previousAgentId,omitempty"`
	NewAgentID      *uuid.UUID `json:"newAgentId,omitempty"`
	Error           string     `json:"error,omitempty"`
}

type SweepResponse struct {
	StartedAt   time.Time           `json:"startedAt"`
	FinishedAt  time.Time           `json:"finishedAt"`
	Cutoff      time.Time           `json:"cutoff"`
	Reassigned  int                 `json:"reassigned"`
	Unreachable int                 `json:"unreachable"`
	Assigned    int                 `json:"assigned"`
	Skipped     int                 `json:"skipped"`
	Failed      int                 `json:"failed"`
	Canceled    bool                `json:"canceled"`
	Truncated   bool                `json:"truncated"`
	Leads       []SweepLeadResponse `json:"leads"`
}
