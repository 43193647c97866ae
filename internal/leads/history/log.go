// Package history is the append-only audit trail of assignment decisions.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/repository"
)

var errInvalidRecord = errors.New("invalid assignment record")

// Appender writes one record, normally inside the assignment transaction.
type Appender interface {
	AppendAssignment(ctx context.Context, params repository.AppendAssignmentParams) (domain.AssignmentRecord, error)
}

// Log reads and appends assignment records. There is no update or delete.
type Log struct {
	reader  repository.AssignmentReader
	timeout time.Duration
}

func New(reader repository.AssignmentReader, timeout time.Duration) *Log {
	return &Log{reader: reader, timeout: timeout}
}

// Record appends params through w. Failures always propagate so the
// surrounding assignment rolls back with its audit entry.
func (l *Log) Record(ctx context.Context, w Appender, params repository.AppendAssignmentParams) (domain.AssignmentRecord, error) {
	if params.LeadID == uuid.Nil || params.NewAgentID == uuid.Nil || !params.Reason.IsValid() {
		return domain.AssignmentRecord{}, fmt.Errorf("record assignment: %w", errInvalidRecord)
	}
	if params.Reason == domain.ReasonInitial && params.PreviousAgentID != nil {
		return domain.AssignmentRecord{}, fmt.Errorf("record assignment: initial with previous agent: %w", errInvalidRecord)
	}

	record, err := w.AppendAssignment(ctx, params)
	if err != nil {
		return domain.AssignmentRecord{}, fmt.Errorf("record assignment for lead %s: %w", params.LeadID, err)
	}
	return record, nil
}

// History returns a lead's records oldest first.
func (l *Log) History(ctx context.Context, leadID uuid.UUID) ([]domain.AssignmentRecord, error) {
	records, err := repository.Bounded(ctx, l.timeout, func(ctx context.Context) ([]domain.AssignmentRecord, error) {
		return l.reader.ListAssignments(ctx, leadID)
	})
	if err != nil {
		return nil, fmt.Errorf("assignment history for lead %s: %w", leadID, err)
	}
	return records, nil
}
