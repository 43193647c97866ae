package transport

import (
	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/sla"
	"estate_crm_backend/internal/leads/tasks"
)

func ToLeadResponse(lead domain.Lead) LeadResponse {
	return LeadResponse{
		ID:                lead.ID,
		ConsumerName:      lead.ConsumerName,
		ConsumerPhone:     lead.ConsumerPhone,
		ConsumerEmail:     lead.ConsumerEmail,
		Source:            lead.Source,
		Status:            string(lead.Status),
		AssignedAgentID:   lead.AssignedAgentID,
		AssignedAt:        lead.AssignedAt,
		LastOutcome:       lead.LastOutcome,
		LastOutcomeAt:     lead.LastOutcomeAt,
		ReassignmentCount: lead.ReassignmentCount,
		Unreachable:       lead.Unreachable,
		UnreachableAt:     lead.UnreachableAt,
		CreatedAt:         lead.CreatedAt,
		UpdatedAt:         lead.UpdatedAt,
	}
}

func ToAgentResponse(agent domain.Agent) AgentResponse {
	return AgentResponse{
		ID:              agent.ID,
		Name:            agent.Name,
		Email:           agent.Email,
		Status:          string(agent.Status),
		ActiveLeadCount: agent.ActiveLeadCount,
		CreatedAt:       agent.CreatedAt,
	}
}

func ToAgentList(agents []domain.Agent) AgentListResponse {
	items := make([]AgentResponse, 0, len(agents))
	for _, agent := range agents {
		items = append(items, ToAgentResponse(agent))
	}
	return AgentListResponse{Items: items}
}

func ToAssignmentResponse(record domain.AssignmentRecord) AssignmentResponse {
	return AssignmentResponse{
		ID:              record.ID,
		LeadID:          record.LeadID,
		PreviousAgentID: record.PreviousAgentID,
		NewAgentID:      record.NewAgentID,
		Reason:          string(record.Reason),
		CreatedAt:       record.CreatedAt,
	}
}

func ToAssignmentList(records []domain.AssignmentRecord) AssignmentListResponse {
	items := make([]AssignmentResponse, 0, len(records))
	for _, record := range records {
		items = append(items, ToAssignmentResponse(record))
	}
	return AssignmentListResponse{Items: items}
}

func ToTaskResponse(task domain.Task) TaskResponse {
	return TaskResponse{
		ID:          task.ID,
		LeadID:      task.LeadID,
		Title:       task.Title,
		Status:      string(task.Status),
		Origin:      string(task.Origin),
		DueAt:       task.DueAt,
		CreatedBy:   task.CreatedBy,
		CreatedAt:   task.CreatedAt,
		CompletedAt: task.CompletedAt,
	}
}

func ToTaskList(items []domain.Task) TaskListResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, task := range items {
		out = append(out, ToTaskResponse(task))
	}
	return TaskListResponse{Items: out}
}

func ToCompleteTaskResponse(completion tasks.Completion) CompleteTaskResponse {
	resp := CompleteTaskResponse{Task: ToTaskResponse(completion.Task)}
	if completion.Next != nil {
		next := ToTaskResponse(*completion.Next)
		resp.Next = &next
	}
	return resp
}

func ToSweepResponse(result sla.Result) SweepResponse {
	leads := make([]SweepLeadResponse, 0, len(result.Leads))
	for _, lead := range result.Leads {
		entry := SweepLeadResponse{
			LeadID:          lead.LeadID,
			Outcome:         string(lead.Outcome),
			PreviousAgentID: lead.PreviousAgentID,
			NewAgentID:      lead.NewAgentID,
		}
		if lead.Err != nil {
			entry.Error = lead.Err.Error()
		}
		leads = append(leads, entry)
	}
	return SweepResponse{
		StartedAt:   result.StartedAt,
		FinishedAt:  result.FinishedAt,
		Cutoff:      result.Cutoff,
		Reassigned:  result.Reassigned,
		Unreachable: result.Unreachable,
		Assigned:    result.Assigned,
		Skipped:     result.Skipped,
		Failed:      result.Failed,
		Canceled:    result.Canceled,
		Truncated:   result.Truncated,
		Leads:       leads,
	}
}
