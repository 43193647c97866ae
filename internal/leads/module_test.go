package leads

import (
	"context"
	"testing"
	"time"

	"estate_crm_backend/internal/leads/intake"
	"estate_crm_backend/internal/leads/memstore"
	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/events"
	"estate_crm_backend/platform/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		StoreTimeout:          time.Second,
		SLAWindow:             30 * time.Minute,
		SweepInterval:         5 * time.Minute,
		MaxReassignments:      3,
		SweepBatchSize:        100,
		AssignmentMaxAttempts: 3,
		RecoverOrphans:        true,
		PhoneRegion:           "US",
	}
}

func TestSeedAgents(t *testing.T) {
	store := memstore.New()
	agents, err := SeedAgents(store, []string{"Ana Silva <ana@example.com>", "ben@example.com"}, time.Now())
	if err != nil {
		t.Fatalf("SeedAgents: %v", err)
	}
	if len(agents) != 2 || agents[0].Name != "Ana Silva" || agents[1].Name != "ben@example.com" {
		t.Fatalf("agents = %+v", agents)
	}

	if _, err := SeedAgents(store, []string{"not an address"}, time.Now()); err == nil {
		t.Fatal("expected error for malformed entry")
	}
}

func TestModuleDirectoryResolvesAssignedAgent(t *testing.T) {
	store := memstore.New()
	if _, err := SeedAgents(store, []string{"Ana <ana@example.com>"}, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	module := NewModule(store, events.NewInMemoryBus(logger.Discard()), nil, testConfig(), nil, logger.Discard())

	ctx := context.Background()
	created, err := module.Intake().CreateLead(ctx, intake.CreateLeadInput{ConsumerName: "Dana", ConsumerPhone: "4155552671"})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}

	contact, err := module.AgentContact(ctx, *created.Lead.AssignedAgentID)
	if err != nil {
		t.Fatalf("AgentContact: %v", err)
	}
	if contact.Email != "ana@example.com" {
		t.Fatalf("contact = %+v", contact)
	}

	summary, err := module.LeadSummary(ctx, created.Lead.ID)
	if err != nil || summary.Status != "new" {
		t.Fatalf("summary = %+v, %v", summary, err)
	}
}
