package sla

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/leads/assignment"
	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/history"
	"estate_crm_backend/internal/leads/memstore"
	"estate_crm_backend/internal/leads/repository"
	"estate_crm_backend/internal/leads/tasks"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.EventName() == name {
			n++
		}
	}
	return n
}

type harness struct {
	store   *memstore.Store
	clock   *clock
	bus     *recordingBus
	engine  *assignment.Engine
	tasks   *tasks.Manager
	history *history.Log
	sweeper *Sweeper
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{store: memstore.New(), clock: &clock{now: base}, bus: &recordingBus{}}
	h.history = history.New(h.store, time.Second)
	h.engine = assignment.NewEngine(h.store, h.history, h.bus, nil, nil, assignment.Options{
		Timeout: time.Second,
		Now:     h.clock.Now,
	})
	h.tasks = tasks.NewManager(h.store, domain.DefaultFollowUpPolicy(), nil, nil, tasks.Options{
		Timeout: time.Second,
		Now:     h.clock.Now,
	})
	opts.Now = h.clock.Now
	if opts.Timeout == 0 {
		opts.Timeout = time.Second
	}
	h.sweeper = NewSweeper(h.store, h.engine, h.tasks, h.bus, nil, nil, opts)
	return h
}

func (h *harness) newLead(t *testing.T) domain.Lead {
	t.Helper()
	ctx := context.Background()
	var lead domain.Lead
	err := h.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		lead, err = tx.InsertLead(ctx, repository.CreateLeadParams{ConsumerName: "Lee", CreatedAt: h.clock.Now()})
		return err
	})
	if err != nil {
		t.Fatalf("insert lead: %v", err)
	}
	return lead
}

func (h *harness) assignedLead(t *testing.T) domain.Lead {
	t.Helper()
	lead := h.newLead(t)
	if _, err := h.engine.Assign(context.Background(), lead.ID, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	got, _ := h.store.GetLead(context.Background(), lead.ID)
	return got
}

func TestEndToEndBreachReassignment(t *testing.T) {
	h := newHarness(t, Options{Window: 30 * time.Minute})
	ctx := context.Background()

	a1 := h.store.AddAgent("A1", "a1@example.com", domain.AgentStatusActive, base)
	a2 := h.store.AddAgent("A2", "a2@example.com", domain.AgentStatusInactive, base.Add(time.Minute))

	lead := h.newLead(t)
	agentID, err := h.engine.Assign(ctx, lead.ID, nil)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if agentID != a1.ID {
		t.Fatalf("assign returned %s, want the only active agent A1", agentID)
	}

	task, err := h.tasks.CreateInitialFollowUp(ctx, lead.ID)
	if err != nil {
		t.Fatalf("initial follow-up: %v", err)
	}
	if !task.DueAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("T1 due %v, want +1h", task.DueAt)
	}

	if err := h.store.SetAgentStatus(a2.ID, domain.AgentStatusActive); err != nil {
		t.Fatalf("activate A2: %v", err)
	}
	h.clock.Advance(31 * time.Minute)

	result, err := h.sweeper.Sweep(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Reassigned != 1 {
		t.Fatalf("reassigned = %d, want 1", result.Reassigned)
	}

	records, err := h.history.History(ctx, lead.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("history has %d records, want 2", len(records))
	}
	if records[0].Reason != domain.ReasonInitial || records[0].NewAgentID != a1.ID || records[0].PreviousAgentID != nil {
		t.Fatalf("first record %+v, want initial -> A1", records[0])
	}
	if records[1].Reason != domain.ReasonSLABreach || *records[1].PreviousAgentID != a1.ID || records[1].NewAgentID != a2.ID {
		t.Fatalf("second record %+v, want sla_breach A1 -> A2", records[1])
	}
	if h.bus.count("leads.assigned") != 2 {
		t.Fatalf("expected two LeadAssigned notifications")
	}
}

func TestSweepIsIdempotentWithinTick(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.store.AddAgent("A1", "", domain.AgentStatusActive, base)
	h.store.AddAgent("A2", "", domain.AgentStatusActive, base.Add(time.Minute))

	for i := 0; i < 4; i++ {
		h.assignedLead(t)
	}
	h.clock.Advance(45 * time.Minute)

	first, err := h.sweeper.Sweep(ctx, 0)
	if err != nil || first.Reassigned != 4 {
		t.Fatalf("first sweep reassigned %d, err %v; want 4", first.Reassigned, err)
	}
	second, err := h.sweeper.Sweep(ctx, 0)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.Reassigned != 0 || len(second.Leads) != 0 {
		t.Fatalf("second sweep touched %d leads, want 0", len(second.Leads))
	}
}

func TestSweepSkipsLeadsWithOutcome(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.store.AddAgent("A1", "", domain.AgentStatusActive, base)
	h.store.AddAgent("A2", "", domain.AgentStatusActive, base.Add(time.Minute))

	lead := h.assignedLead(t)
	h.clock.Advance(10 * time.Minute)
	if err := h.store.WithTx(ctx, func(tx repository.Tx) error {
		_, err := tx.RecordOutcome(ctx, lead.ID, "voicemail", h.clock.Now())
		return err
	}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	h.clock.Advance(time.Hour)

	result, err := h.sweeper.Sweep(ctx, 0)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Reassigned != 0 {
		t.Fatal("lead with a logged outcome must not be reassigned")
	}
}

func TestUnreachableCap(t *testing.T) {
	h := newHarness(t, Options{MaxReassignments: 3})
	ctx := context.Background()
	h.store.AddAgent("A1", "", domain.AgentStatusActive, base)
	h.store.AddAgent("A2", "", domain.AgentStatusActive, base.Add(time.Minute))

	lead := h.assignedLead(t)
	for i := 1; i <= 3; i++ {
		h.clock.Advance(31 * time.Minute)
		result, err := h.sweeper.Sweep(ctx, 30*time.Minute)
		if err != nil || result.Reassigned != 1 {
			t.Fatalf("breach %d: reassigned %d, err %v", i, result.Reassigned, err)
		}
	}

	h.clock.Advance(31 * time.Minute)
	result, err := h.sweeper.Sweep(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("fourth sweep: %v", err)
	}
	if result.Unreachable != 1 || result.Reassigned != 0 {
		t.Fatalf("fourth sweep: unreachable %d reassigned %d, want 1/0", result.Unreachable, result.Reassigned)
	}

	got, _ := h.store.GetLead(ctx, lead.ID)
	if !got.Unreachable || got.ReassignmentCount != 3 || got.Status.IsTerminal() {
		t.Fatalf("lead state %+v, want unreachable flag on a live lead with 3 reassignments", got)
	}
	if h.bus.count("leads.unreachable") != 1 {
		t.Fatal("expected one unreachable event")
	}

	h.clock.Advance(2 * time.Hour)
	result, err = h.sweeper.Sweep(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("later sweep: %v", err)
	}
	if len(result.Leads) != 0 {
		t.Fatalf("unreachable lead must be excluded from later sweeps, got %+v", result.Leads)
	}
	records, _ := h.history.History(ctx, lead.ID)
	if len(records) != 4 {
		t.Fatalf("history = %d records, want initial + 3 breaches", len(records))
	}
}

func TestSweepCollectsPerLeadFailures(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	a1 := h.store.AddAgent("A1", "", domain.AgentStatusActive, base)
	a2 := h.store.AddAgent("A2", "", domain.AgentStatusActive, base.Add(time.Minute))

	onA1 := h.assignedLead(t)
	onA2 := h.assignedLead(t)
	if *onA1.AssignedAgentID != a1.ID || *onA2.AssignedAgentID != a2.ID {
		t.Fatal("setup expects one lead per agent")
	}
	if err := h.store.SetAgentStatus(a2.ID, domain.AgentStatusInactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	h.clock.Advance(time.Hour)

	result, err := h.sweeper.Sweep(ctx, 0)
	if err != nil {
		t.Fatalf("per-lead failures must not fail the sweep: %v", err)
	}
	if result.Reassigned != 1 || result.Failed != 1 {
		t.Fatalf("reassigned %d failed %d, want 1/1", result.Reassigned, result.Failed)
	}
	errs := result.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], domain.ErrNoEligibleAgent) {
		t.Fatalf("unexpected per-lead errors %v", errs)
	}
	if h.bus.count("leads.assignment.stalled") != 1 {
		t.Fatal("expected a stalled alert for the stuck lead")
	}
}

type fakeLock struct {
	acquired bool
	released int
}

func (l *fakeLock) TryLock(context.Context) (func(context.Context) error, bool, error) {
	return func(context.Context) error { l.released++; return nil }, l.acquired, nil
}

func TestSweepSingleton(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.sweeper.running.Store(true)
	if _, err := h.sweeper.Sweep(ctx, 0); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("expected ErrSweepInProgress while in flight, got %v", err)
	}
	h.sweeper.running.Store(false)

	lock := &fakeLock{acquired: false}
	h.sweeper.SetLock(lock)
	if _, err := h.sweeper.Sweep(ctx, 0); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("expected ErrSweepInProgress when another process holds the lock, got %v", err)
	}

	lock.acquired = true
	if _, err := h.sweeper.Sweep(ctx, 0); err != nil {
		t.Fatalf("sweep with lock: %v", err)
	}
	if lock.released != 1 {
		t.Fatalf("lock released %d times, want 1", lock.released)
	}
}

type cancellingAssigner struct {
	inner  Assigner
	cancel context.CancelFunc
	calls  int
}

func (a *cancellingAssigner) AssignLead(ctx context.Context, req assignment.Request) (assignment.Result, error) {
	a.calls++
	result, err := a.inner.AssignLead(ctx, req)
	a.cancel()
	return result, err
}

func TestSweepStopsBetweenLeadsOnCancel(t *testing.T) {
	h := newHarness(t, Options{})
	h.store.AddAgent("A1", "", domain.AgentStatusActive, base)
	h.store.AddAgent("A2", "", domain.AgentStatusActive, base.Add(time.Minute))
	for i := 0; i < 3; i++ {
		h.assignedLead(t)
	}
	h.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assigner := &cancellingAssigner{inner: h.engine, cancel: cancel}
	sweeper := NewSweeper(h.store, assigner, h.tasks, h.bus, nil, nil, Options{Now: h.clock.Now})

	result, err := sweeper.Sweep(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !result.Canceled || assigner.calls != 1 || result.Reassigned != 1 {
		t.Fatalf("canceled=%v calls=%d reassigned=%d, want stop after the first lead", result.Canceled, assigner.calls, result.Reassigned)
	}
}

func TestSweepRecoversOrphans(t *testing.T) {
	h := newHarness(t, Options{RecoverOrphans: true})
	ctx := context.Background()

	orphan := h.newLead(t)
	agent := h.store.AddAgent("A1", "", domain.AgentStatusActive, base)

	result, err := h.sweeper.Sweep(ctx, 0)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Assigned != 1 {
		t.Fatalf("assigned = %d, want 1", result.Assigned)
	}

	got, _ := h.store.GetLead(ctx, orphan.ID)
	if got.AssignedAgentID == nil || *got.AssignedAgentID != agent.ID {
		t.Fatal("orphan must be routed to the active agent")
	}
	records, _ := h.history.History(ctx, orphan.ID)
	if len(records) != 1 || records[0].Reason != domain.ReasonInitial {
		t.Fatalf("orphan history %+v, want one initial record", records)
	}
	taskList, _ := h.tasks.ListTasks(ctx, orphan.ID)
	if len(taskList) != 1 || !taskList[0].IsOpenAutoFollowUp() {
		t.Fatalf("recovered orphan must carry its initial follow-up, got %+v", taskList)
	}
}

func TestSweepIgnoresTerminalLeads(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.store.AddAgent("A1", "", domain.AgentStatusActive, base)
	h.store.AddAgent("A2", "", domain.AgentStatusActive, base.Add(time.Minute))

	lead := h.assignedLead(t)
	if err := h.store.WithTx(ctx, func(tx repository.Tx) error {
		_, err := tx.UpdateStatus(ctx, lead.ID, domain.LeadStatusWon, h.clock.Now())
		return err
	}); err != nil {
		t.Fatalf("close: %v", err)
	}
	h.clock.Advance(time.Hour)

	result, err := h.sweeper.Sweep(ctx, 0)
	if err != nil || len(result.Leads) != 0 {
		t.Fatalf("terminal lead swept: %+v err %v", result.Leads, err)
	}
}
