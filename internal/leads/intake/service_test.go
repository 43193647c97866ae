package intake

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"estate_crm_backend/internal/leads/assignment"
	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/history"
	"estate_crm_backend/internal/leads/memstore"
	"estate_crm_backend/internal/leads/repository"
	"estate_crm_backend/internal/leads/tasks"
	"estate_crm_backend/platform/events"
	"estate_crm_backend/platform/logger"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memstore.Store
	bus     *events.InMemoryBus
	service *Service
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), bus: events.NewInMemoryBus(logger.Discard()), clock: base}
	now := func() time.Time { return f.clock }

	engine := assignment.NewEngine(f.store, history.New(f.store, time.Second), f.bus, nil, nil, assignment.Options{
		Timeout: time.Second,
		Now:     now,
	})
	manager := tasks.NewManager(f.store, domain.DefaultFollowUpPolicy(), nil, nil, tasks.Options{
		Timeout: time.Second,
		Now:     now,
	})
	f.service = New(f.store, engine, manager, f.bus, nil, Options{
		Timeout:     time.Second,
		PhoneRegion: "US",
		Now:         now,
	})
	return f
}

func (f *fixture) agent(name string) domain.Agent {
	return f.store.AddAgent(name, strings.ToLower(name)+"@example.com", domain.AgentStatusActive, base)
}

func TestCreateLeadAssignsAndSeedsFollowUp(t *testing.T) {
	f := newFixture(t)
	agent := f.agent("Ana")

	created := make(chan events.Event, 1)
	f.bus.Subscribe("leads.lead.created", events.HandlerFunc(func(_ context.Context, e events.Event) error {
		created <- e
		return nil
	}))

	result, err := f.service.CreateLead(context.Background(), CreateLeadInput{
		ConsumerName:  "  Dana   Park ",
		ConsumerPhone: "(415) 555-2671",
	})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	f.bus.Wait()

	lead := result.Lead
	if lead.ConsumerName != "Dana Park" {
		t.Errorf("name = %q, want sanitized", lead.ConsumerName)
	}
	if lead.ConsumerPhone != "+14155552671" {
		t.Errorf("phone = %q, want E.164", lead.ConsumerPhone)
	}
	if lead.AssignedAgentID == nil || *lead.AssignedAgentID != agent.ID {
		t.Fatalf("lead not assigned to the only agent: %+v", lead.AssignedAgentID)
	}
	if result.FollowUp == nil || !result.FollowUp.DueAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("follow-up = %+v, want due in 1h", result.FollowUp)
	}
	select {
	case <-created:
	default:
		t.Fatal("expected LeadCreated event")
	}

	records, err := f.store.ListAssignments(context.Background(), lead.ID)
	if err != nil || len(records) != 1 || records[0].Reason != domain.ReasonInitial {
		t.Fatalf("history = %+v, %v; want one initial record", records, err)
	}
}

func TestCreateLeadWithoutAgentsKeepsLead(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.CreateLead(context.Background(), CreateLeadInput{ConsumerName: "Dana", ConsumerPhone: "n/a"})
	if !errors.Is(err, domain.ErrNoEligibleAgent) {
		t.Fatalf("err = %v, want ErrNoEligibleAgent", err)
	}
	if result.Lead.AssignedAgentID != nil {
		t.Fatal("lead must stay unassigned")
	}
	if result.Lead.ConsumerPhone != "n/a" {
		t.Errorf("unparseable phone should be kept as typed, got %q", result.Lead.ConsumerPhone)
	}

	stored, err := f.store.GetLead(context.Background(), result.Lead.ID)
	if err != nil {
		t.Fatalf("lead not stored: %v", err)
	}
	if !stored.IsOrphaned() {
		t.Fatal("stored lead should be an orphan for recovery")
	}
}

func TestLogContactOutcomeStopsBreach(t *testing.T) {
	f := newFixture(t)
	f.agent("Ana")
	result, err := f.service.CreateLead(context.Background(), CreateLeadInput{ConsumerName: "Dana"})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}

	f.clock = base.Add(10 * time.Minute)
	lead, err := f.service.LogContactOutcome(context.Background(), result.Lead.ID, "left voicemail")
	if err != nil {
		t.Fatalf("LogContactOutcome: %v", err)
	}
	if lead.LastOutcome == nil || *lead.LastOutcome != "left voicemail" {
		t.Fatalf("outcome = %v", lead.LastOutcome)
	}
	if lead.BreachesSLA(base.Add(time.Hour)) {
		t.Fatal("lead with an outcome since assignment must not breach")
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	f := newFixture(t)
	f.agent("Ana")
	result, err := f.service.CreateLead(context.Background(), CreateLeadInput{ConsumerName: "Dana"})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	id := result.Lead.ID

	lead, err := f.service.UpdateStatus(context.Background(), id, "qualified")
	if err != nil || lead.Status != domain.LeadStatusQualified {
		t.Fatalf("UpdateStatus qualified = %v, %v", lead.Status, err)
	}
	if _, err := f.service.UpdateStatus(context.Background(), id, "lost"); err != nil {
		t.Fatalf("UpdateStatus lost: %v", err)
	}
	if _, err := f.service.UpdateStatus(context.Background(), id, "contacted"); !errors.Is(err, domain.ErrInvalidStatusTransition) {
		t.Fatalf("reopen err = %v, want ErrInvalidStatusTransition", err)
	}
	if _, err := f.service.UpdateStatus(context.Background(), id, "archived"); !errors.Is(err, domain.ErrInvalidStatusTransition) {
		t.Fatalf("unknown status err = %v, want ErrInvalidStatusTransition", err)
	}
}

func TestUpdateStatusTerminalClosesOpenTasks(t *testing.T) {
	f := newFixture(t)
	f.agent("Ana")
	ctx := context.Background()
	result, err := f.service.CreateLead(ctx, CreateLeadInput{ConsumerName: "Dana"})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	id := result.Lead.ID

	if err := f.store.WithTx(ctx, func(tx repository.Tx) error {
		_, err := tx.InsertTask(ctx, repository.CreateTaskParams{
			LeadID:    id,
			Title:     "Send listing pack",
			Origin:    domain.TaskOriginManual,
			DueAt:     base.Add(24 * time.Hour),
			CreatedAt: base,
		})
		return err
	}); err != nil {
		t.Fatalf("insert manual task: %v", err)
	}

	f.clock = base.Add(3 * time.Hour)
	if _, err := f.service.UpdateStatus(ctx, id, "won"); err != nil {
		t.Fatalf("UpdateStatus won: %v", err)
	}

	all, err := f.store.ListTasks(ctx, id)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("tasks = %d, want 2", len(all))
	}
	for _, task := range all {
		if task.IsOpen() {
			t.Fatalf("task %q still open after close", task.Title)
		}
		if task.CompletedAt == nil || !task.CompletedAt.Equal(f.clock) {
			t.Fatalf("task %q completedAt = %v, want %v", task.Title, task.CompletedAt, f.clock)
		}
	}
}

func TestResolveUnreachable(t *testing.T) {
	f := newFixture(t)
	f.agent("Ana")
	result, err := f.service.CreateLead(context.Background(), CreateLeadInput{ConsumerName: "Dana"})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	id := result.Lead.ID

	ctx := context.Background()
	if err := f.store.WithTx(ctx, func(tx repository.Tx) error {
		_, err := tx.MarkUnreachable(ctx, id, base)
		return err
	}); err != nil {
		t.Fatalf("mark unreachable: %v", err)
	}

	f.clock = base.Add(2 * time.Hour)
	lead, err := f.service.ResolveUnreachable(ctx, id)
	if err != nil {
		t.Fatalf("ResolveUnreachable: %v", err)
	}
	if lead.Unreachable || lead.ReassignmentCount != 0 {
		t.Fatalf("lead = %+v, want cleared flag and count", lead)
	}
	if lead.AssignedAt == nil || !lead.AssignedAt.Equal(f.clock) {
		t.Fatalf("assignedAt = %v, want SLA window restarted", lead.AssignedAt)
	}

	if _, err := f.service.UpdateStatus(ctx, id, "won"); err != nil {
		t.Fatalf("close lead: %v", err)
	}
	if _, err := f.service.ResolveUnreachable(ctx, id); !errors.Is(err, domain.ErrLeadTerminal) {
		t.Fatalf("err = %v, want ErrLeadTerminal", err)
	}
}

func TestReassignExcludesCurrentAgent(t *testing.T) {
	f := newFixture(t)
	ana := f.agent("Ana")
	ben := f.agent("Ben")

	result, err := f.service.CreateLead(context.Background(), CreateLeadInput{ConsumerName: "Dana"})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	first := *result.Lead.AssignedAgentID
	want := ben.ID
	if first == ben.ID {
		want = ana.ID
	}

	moved, err := f.service.Reassign(context.Background(), result.Lead.ID)
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if *moved.Lead.AssignedAgentID != want {
		t.Fatalf("reassigned to %s, want %s", moved.Lead.AssignedAgentID, want)
	}
	if moved.Record.Reason != domain.ReasonManual || moved.Lead.ReassignmentCount != 1 {
		t.Fatalf("record = %+v count = %d", moved.Record, moved.Lead.ReassignmentCount)
	}
}

func TestGetLeadNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.service.GetLead(context.Background(), [16]byte{9}); !errors.Is(err, domain.ErrLeadNotFound) {
		t.Fatalf("err = %v, want ErrLeadNotFound", err)
	}
}

func TestReassignGuardRejectsMovedLead(t *testing.T) {
	ana, ben := uuid.New(), uuid.New()
	cases := []struct {
		name     string
		expected *uuid.UUID
		locked   *uuid.UUID
		wantErr  bool
	}{
		{"unchanged", &ana, &ana, false},
		{"both unassigned", nil, nil, false},
		{"moved to another agent", &ana, &ben, true},
		{"assigned since read", nil, &ben, true},
		{"cleared since read", &ana, nil, true},
	}
	for _, tc := range cases {
		err := sameAgent(tc.expected)(domain.Lead{AssignedAgentID: tc.locked})
		if tc.wantErr != errors.Is(err, domain.ErrLeadNotEligible) {
			t.Errorf("%s: err = %v", tc.name, err)
		}
	}
}

// racingAssigner moves the lead to another agent just before the real
// decision runs.
type racingAssigner struct {
	store  *memstore.Store
	engine *assignment.Engine
	to     uuid.UUID
}

func (r *racingAssigner) AssignLead(ctx context.Context, req assignment.Request) (assignment.Result, error) {
	if err := r.store.WithTx(ctx, func(tx repository.Tx) error {
		_, err := tx.UpdateAssignment(ctx, repository.UpdateAssignmentParams{
			LeadID: req.LeadID, AgentID: r.to, AssignedAt: base, ReassignmentCount: 1,
		})
		return err
	}); err != nil {
		return assignment.Result{}, err
	}
	return r.engine.AssignLead(ctx, req)
}

func TestReassignKeepsConcurrentMove(t *testing.T) {
	f := newFixture(t)
	ana := f.agent("Ana")
	ben := f.agent("Ben")
	ctx := context.Background()

	result, err := f.service.CreateLead(ctx, CreateLeadInput{ConsumerName: "Dana"})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	other := ben.ID
	if *result.Lead.AssignedAgentID == ben.ID {
		other = ana.ID
	}

	now := func() time.Time { return f.clock }
	engine := assignment.NewEngine(f.store, history.New(f.store, time.Second), f.bus, nil, nil, assignment.Options{
		Timeout: time.Second,
		Now:     now,
	})
	manager := tasks.NewManager(f.store, domain.DefaultFollowUpPolicy(), nil, nil, tasks.Options{Timeout: time.Second, Now: now})
	racing := &racingAssigner{store: f.store, engine: engine, to: other}
	service := New(f.store, racing, manager, f.bus, nil, Options{Timeout: time.Second, Now: now})

	if _, err := service.Reassign(ctx, result.Lead.ID); !errors.Is(err, domain.ErrLeadNotEligible) {
		t.Fatalf("err = %v, want ErrLeadNotEligible", err)
	}
	lead, err := f.store.GetLead(ctx, result.Lead.ID)
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	if *lead.AssignedAgentID != other {
		t.Fatalf("lead on %s, want the concurrent move to %s kept", lead.AssignedAgentID, other)
	}
}
