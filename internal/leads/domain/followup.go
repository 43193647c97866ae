package domain

import "time"

// DefaultFollowUpOffset applies to stages without a configured offset.
const DefaultFollowUpOffset = 24 * time.Hour

// FollowUpPolicy maps a lead stage to the delay before the next automatic
// follow-up is due.
type FollowUpPolicy struct {
	offsets  map[LeadStatus]time.Duration
	fallback time.Duration
}

// DefaultFollowUpPolicy is one hour for fresh leads, growing with the stage.
func DefaultFollowUpPolicy() FollowUpPolicy {
	return FollowUpPolicy{
		offsets: map[LeadStatus]time.Duration{
			LeadStatusNew:         time.Hour,
			LeadStatusContacted:   24 * time.Hour,
			LeadStatusQualified:   48 * time.Hour,
			LeadStatusNegotiating: 72 * time.Hour,
		},
		fallback: DefaultFollowUpOffset,
	}
}

// NewFollowUpPolicy builds a policy from raw status keys, layered over the
// defaults. Unknown keys and non-positive durations are ignored.
func NewFollowUpPolicy(raw map[string]time.Duration) FollowUpPolicy {
	policy := DefaultFollowUpPolicy()
	for key, offset := range raw {
		status, ok := ParseLeadStatus(key)
		if !ok || status.IsTerminal() || offset <= 0 {
			continue
		}
		policy.offsets[status] = offset
	}
	return policy
}

// OffsetFor returns the follow-up delay for a lead in status.
func (p FollowUpPolicy) OffsetFor(status LeadStatus) time.Duration {
	if offset, ok := p.offsets[status]; ok {
		return offset
	}
	if p.fallback > 0 {
		return p.fallback
	}
	return DefaultFollowUpOffset
}

// DueAt returns when the next follow-up for a lead in status is due.
func (p FollowUpPolicy) DueAt(status LeadStatus, now time.Time) time.Time {
	return now.Add(p.OffsetFor(status))
}
