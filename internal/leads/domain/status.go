package domain

import "strings"

// LeadStatus is the sales stage of a lead.
type LeadStatus string

const (
	LeadStatusNew         LeadStatus = "new"
	LeadStatusContacted   LeadStatus = "contacted"
	LeadStatusQualified   LeadStatus = "qualified"
	LeadStatusNegotiating LeadStatus = "negotiating"
	LeadStatusWon         LeadStatus = "won"
	LeadStatusLost        LeadStatus = "lost"
)

var knownLeadStatuses = map[LeadStatus]struct{}{
	LeadStatusNew:         {},
	LeadStatusContacted:   {},
	LeadStatusQualified:   {},
	LeadStatusNegotiating: {},
	LeadStatusWon:         {},
	LeadStatusLost:        {},
}

// ParseLeadStatus normalizes raw input into a known status.
func ParseLeadStatus(raw string) (LeadStatus, bool) {
	status := LeadStatus(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := knownLeadStatuses[status]
	return status, ok
}

// IsTerminal reports whether no further assignment or task activity is allowed.
func (s LeadStatus) IsTerminal() bool {
	return s == LeadStatusWon || s == LeadStatusLost
}

// CanTransitionTo enforces that terminal statuses are final. Any non-terminal
// status may move to any known status, including backwards.
func (s LeadStatus) CanTransitionTo(next LeadStatus) bool {
	if _, ok := knownLeadStatuses[next]; !ok {
		return false
	}
	if s.IsTerminal() {
		return s == next
	}
	return true
}

// TerminalStatuses lists the statuses excluded from routing, for SQL filters.
func TerminalStatuses() []string {
	return []string{string(LeadStatusWon), string(LeadStatusLost)}
}
