package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/memstore"
	"estate_crm_backend/internal/leads/repository"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memstore.Store
	manager *Manager
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), clock: base}
	f.manager = NewManager(f.store, domain.DefaultFollowUpPolicy(), nil, nil, Options{
		Timeout: time.Second,
		Now:     func() time.Time { return f.clock },
	})
	return f
}

func (f *fixture) lead(t *testing.T, status domain.LeadStatus) domain.Lead {
	t.Helper()
	ctx := context.Background()
	var lead domain.Lead
	err := f.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		lead, err = tx.InsertLead(ctx, repository.CreateLeadParams{ConsumerName: "Dana", CreatedAt: base})
		if err != nil || status == domain.LeadStatusNew {
			return err
		}
		lead, err = tx.UpdateStatus(ctx, lead.ID, status, base)
		return err
	})
	if err != nil {
		t.Fatalf("seed lead: %v", err)
	}
	return lead
}

func (f *fixture) setStatus(t *testing.T, lead domain.Lead, status domain.LeadStatus) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.WithTx(ctx, func(tx repository.Tx) error {
		_, err := tx.UpdateStatus(ctx, lead.ID, status, f.clock)
		return err
	}); err != nil {
		t.Fatalf("set status: %v", err)
	}
}

func (f *fixture) openAutoFollowUps(t *testing.T, lead domain.Lead) int {
	t.Helper()
	tasks, err := f.store.ListTasks(context.Background(), lead.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	open := 0
	for _, task := range tasks {
		if task.IsOpenAutoFollowUp() {
			open++
		}
	}
	return open
}

func TestCreateInitialFollowUpDueByStage(t *testing.T) {
	f := newFixture(t)
	lead := f.lead(t, domain.LeadStatusNew)

	task, err := f.manager.CreateInitialFollowUp(context.Background(), lead.ID)
	if err != nil {
		t.Fatalf("CreateInitialFollowUp: %v", err)
	}
	if task.Origin != domain.TaskOriginAutoFollowUp || task.Status != domain.TaskStatusOpen {
		t.Fatalf("unexpected task %+v", task)
	}
	if !task.DueAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("DueAt = %v, want +1h", task.DueAt)
	}

	if _, err := f.manager.CreateInitialFollowUp(context.Background(), lead.ID); !errors.Is(err, domain.ErrFollowUpAlreadyOpen) {
		t.Fatalf("second initial follow-up: expected ErrFollowUpAlreadyOpen, got %v", err)
	}
	if n := f.openAutoFollowUps(t, lead); n != 1 {
		t.Fatalf("open auto follow-ups = %d, want 1", n)
	}
}

func TestCreateInitialFollowUpTerminalLead(t *testing.T) {
	f := newFixture(t)
	lead := f.lead(t, domain.LeadStatusLost)

	if _, err := f.manager.CreateInitialFollowUp(context.Background(), lead.ID); !errors.Is(err, domain.ErrLeadTerminal) {
		t.Fatalf("expected ErrLeadTerminal, got %v", err)
	}
}

func TestCreateManualFollowUpRejectsTerminalLead(t *testing.T) {
	f := newFixture(t)
	lead := f.lead(t, domain.LeadStatusWon)

	_, err := f.manager.CreateManualFollowUp(context.Background(), ManualFollowUp{LeadID: lead.ID, DueAt: base.Add(time.Hour)})
	if !errors.Is(err, domain.ErrLeadTerminal) {
		t.Fatalf("expected ErrLeadTerminal, got %v", err)
	}
	tasks, _ := f.store.ListTasks(context.Background(), lead.ID)
	if len(tasks) != 0 {
		t.Fatalf("terminal lead gained %d tasks", len(tasks))
	}
}

func TestManualFollowUpsAreUnrestrictedInCount(t *testing.T) {
	f := newFixture(t)
	lead := f.lead(t, domain.LeadStatusContacted)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.manager.CreateManualFollowUp(ctx, ManualFollowUp{LeadID: lead.ID, Title: "Call back"}); err != nil {
			t.Fatalf("manual %d: %v", i, err)
		}
	}
	tasks, _ := f.manager.ListTasks(ctx, lead.ID)
	if len(tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(tasks))
	}
	if !tasks[0].DueAt.Equal(base.Add(24 * time.Hour)) {
		t.Fatalf("zero due date must default to the contacted offset, got %v", tasks[0].DueAt)
	}
}

func TestCompleteAutoFollowUpRollsOver(t *testing.T) {
	f := newFixture(t)
	lead := f.lead(t, domain.LeadStatusNew)
	ctx := context.Background()

	first, err := f.manager.CreateInitialFollowUp(ctx, lead.ID)
	if err != nil {
		t.Fatalf("initial: %v", err)
	}
	f.setStatus(t, lead, domain.LeadStatusQualified)

	f.clock = base.Add(30 * time.Minute)
	completion, err := f.manager.CompleteTask(ctx, first.ID)
	if err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if completion.Task.Status != domain.TaskStatusCompleted || completion.Task.CompletedAt == nil {
		t.Fatalf("task not completed: %+v", completion.Task)
	}
	if completion.Next == nil {
		t.Fatal("expected successor follow-up")
	}
	if !completion.Next.DueAt.Equal(f.clock.Add(48 * time.Hour)) {
		t.Fatalf("successor due %v, want qualified offset 48h", completion.Next.DueAt)
	}
	if n := f.openAutoFollowUps(t, lead); n != 1 {
		t.Fatalf("open auto follow-ups = %d, want exactly 1", n)
	}

	updated, _ := f.store.GetLead(ctx, lead.ID)
	if updated.LastOutcomeAt == nil || !updated.LastOutcomeAt.Equal(f.clock) {
		t.Fatal("completion must log a contact outcome")
	}

	if _, err := f.manager.CompleteTask(ctx, first.ID); !errors.Is(err, domain.ErrTaskAlreadyCompleted) {
		t.Fatalf("expected ErrTaskAlreadyCompleted, got %v", err)
	}
}

func TestCompleteAutoFollowUpOnTerminalLeadHasNoSuccessor(t *testing.T) {
	f := newFixture(t)
	lead := f.lead(t, domain.LeadStatusNew)
	ctx := context.Background()

	task, err := f.manager.CreateInitialFollowUp(ctx, lead.ID)
	if err != nil {
		t.Fatalf("initial: %v", err)
	}
	f.setStatus(t, lead, domain.LeadStatusWon)

	completion, err := f.manager.CompleteTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("completing on a terminal lead is not an error: %v", err)
	}
	if completion.Next != nil {
		t.Fatal("terminal lead must not receive a successor")
	}
	if n := f.openAutoFollowUps(t, lead); n != 0 {
		t.Fatalf("open auto follow-ups = %d, want 0", n)
	}
}

func TestCompleteManualTaskHasNoSuccessor(t *testing.T) {
	f := newFixture(t)
	lead := f.lead(t, domain.LeadStatusNew)
	ctx := context.Background()

	manual, err := f.manager.CreateManualFollowUp(ctx, ManualFollowUp{LeadID: lead.ID, DueAt: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("manual: %v", err)
	}
	completion, err := f.manager.CompleteTask(ctx, manual.ID)
	if err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if completion.Next != nil {
		t.Fatal("manual tasks do not roll over")
	}
	updated, _ := f.store.GetLead(ctx, lead.ID)
	if updated.LastOutcomeAt == nil {
		t.Fatal("manual follow-up completion still counts as contact")
	}
}

func TestSingleOutstandingAutoFollowUpOverManyCompletions(t *testing.T) {
	f := newFixture(t)
	lead := f.lead(t, domain.LeadStatusNew)
	ctx := context.Background()

	task, err := f.manager.CreateInitialFollowUp(ctx, lead.ID)
	if err != nil {
		t.Fatalf("initial: %v", err)
	}
	for i := 0; i < 5; i++ {
		if n := f.openAutoFollowUps(t, lead); n != 1 {
			t.Fatalf("round %d: open auto follow-ups = %d", i, n)
		}
		f.clock = f.clock.Add(time.Hour)
		completion, err := f.manager.CompleteTask(ctx, task.ID)
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		task = *completion.Next
	}
}

func TestCompleteUnknownTask(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.CompleteTask(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
