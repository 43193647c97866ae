package assignment

import (
	"github.com/google/uuid"

	"estate_crm_backend/internal/leads/domain"
)

// Select picks the least-busy agent from agents, skipping exclude. Ties are
// broken by scanning from cursor (mod len(agents)) so repeated ties rotate
// through the candidates. agents must be in a stable order. The returned
// index is into agents; ok is false when nobody is eligible.
func Select(agents []domain.Agent, exclude *uuid.UUID, cursor int64) (int, bool) {
	n := len(agents)
	if n == 0 {
		return -1, false
	}

	eligible := func(a domain.Agent) bool {
		return a.Status == domain.AgentStatusActive && (exclude == nil || a.ID != *exclude)
	}

	minLoad := -1
	for _, agent := range agents {
		if !eligible(agent) {
			continue
		}
		if minLoad < 0 || agent.ActiveLeadCount < minLoad {
			minLoad = agent.ActiveLeadCount
		}
	}
	if minLoad < 0 {
		return -1, false
	}

	start := int(cursor % int64(n))
	if start < 0 {
		start += n
	}
	for offset := 0; offset < n; offset++ {
		idx := (start + offset) % n
		if eligible(agents[idx]) && agents[idx].ActiveLeadCount == minLoad {
			return idx, true
		}
	}
	return -1, false
}

// nextCursor advances past the chosen agent.
func nextCursor(chosen int) int64 {
	return int64(chosen) + 1
}
