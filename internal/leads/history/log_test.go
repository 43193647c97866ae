package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/repository"
)

type fakeAppender struct {
	err     error
	records []repository.AppendAssignmentParams
}

func (f *fakeAppender) AppendAssignment(_ context.Context, params repository.AppendAssignmentParams) (domain.AssignmentRecord, error) {
	if f.err != nil {
		return domain.AssignmentRecord{}, f.err
	}
	f.records = append(f.records, params)
	return domain.AssignmentRecord{ID: uuid.New(), LeadID: params.LeadID, NewAgentID: params.NewAgentID, Reason: params.Reason}, nil
}

type fakeReader struct {
	records []domain.AssignmentRecord
}

func (f fakeReader) ListAssignments(_ context.Context, leadID uuid.UUID) ([]domain.AssignmentRecord, error) {
	out := make([]domain.AssignmentRecord, 0)
	for _, r := range f.records {
		if r.LeadID == leadID {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestRecordPropagatesWriteFailure(t *testing.T) {
	log := New(fakeReader{}, time.Second)
	writeErr := errors.New("disk full")

	_, err := log.Record(context.Background(), &fakeAppender{err: writeErr}, repository.AppendAssignmentParams{
		LeadID: uuid.New(), NewAgentID: uuid.New(), Reason: domain.ReasonInitial,
	})
	if !errors.Is(err, writeErr) {
		t.Fatalf("expected write failure to propagate, got %v", err)
	}
}

func TestRecordRejectsMalformedEntries(t *testing.T) {
	log := New(fakeReader{}, time.Second)
	appender := &fakeAppender{}
	previous := uuid.New()

	cases := []repository.AppendAssignmentParams{
		{LeadID: uuid.New(), NewAgentID: uuid.New(), Reason: "promoted"},
		{LeadID: uuid.New(), Reason: domain.ReasonManual},
		{LeadID: uuid.New(), NewAgentID: uuid.New(), Reason: domain.ReasonInitial, PreviousAgentID: &previous},
	}
	for _, params := range cases {
		if _, err := log.Record(context.Background(), appender, params); !errors.Is(err, errInvalidRecord) {
			t.Errorf("%+v: expected errInvalidRecord, got %v", params, err)
		}
	}
	if len(appender.records) != 0 {
		t.Fatal("malformed entries must not reach the store")
	}
}

func TestHistoryFiltersByLead(t *testing.T) {
	lead := uuid.New()
	reader := fakeReader{records: []domain.AssignmentRecord{
		{LeadID: lead, Reason: domain.ReasonInitial},
		{LeadID: uuid.New(), Reason: domain.ReasonInitial},
		{LeadID: lead, Reason: domain.ReasonSLABreach},
	}}

	records, err := New(reader, time.Second).History(context.Background(), lead)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 2 || records[0].Reason != domain.ReasonInitial || records[1].Reason != domain.ReasonSLABreach {
		t.Fatalf("unexpected history %+v", records)
	}
}
