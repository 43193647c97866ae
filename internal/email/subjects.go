package email

const (
	subjectLeadAssignedFmt      = "New lead assigned: %s"
	subjectLeadReassignedFmt    = "Lead reassigned to you: %s"
	subjectLeadUnreachableFmt   = "Lead needs review: %s was not reached"
	subjectAssignmentStalledFmt = "No agent available for lead %s"
)
