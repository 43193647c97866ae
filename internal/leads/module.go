// Package leads provides the lead distribution bounded context module.
// This file defines the module that encapsulates all leads setup and route registration.
package leads

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"estate_crm_backend/internal/events"
	apphttp "estate_crm_backend/internal/http"
	"estate_crm_backend/internal/leads/assignment"
	"estate_crm_backend/internal/leads/directory"
	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/handler"
	"estate_crm_backend/internal/leads/history"
	"estate_crm_backend/internal/leads/intake"
	"estate_crm_backend/internal/leads/memstore"
	"estate_crm_backend/internal/leads/metrics"
	"estate_crm_backend/internal/leads/repository"
	"estate_crm_backend/internal/leads/sla"
	"estate_crm_backend/internal/leads/tasks"
	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/logger"
	"estate_crm_backend/platform/validator"

	"github.com/google/uuid"
)

// ModuleConfig is the config slice the leads module reads.
type ModuleConfig interface {
	config.RoutingConfig
	config.IntakeConfig
}

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler   *handler.Handler
	directory *directory.Service
	engine    *assignment.Engine
	tasks     *tasks.Manager
	intake    *intake.Service
	sweeper   *sla.Sweeper
}

// NewModule wires the routing services over store. rec may be nil.
func NewModule(store repository.Store, eventBus events.Bus, val *validator.Validator, cfg ModuleConfig, rec *metrics.Recorder, log *logger.Logger) *Module {
	timeout := cfg.GetStoreTimeout()

	dir := directory.New(store, timeout)
	assignments := history.New(store, timeout)
	engine := assignment.NewEngine(store, assignments, eventBus, rec, log, assignment.Options{
		Timeout:     timeout,
		MaxAttempts: cfg.GetAssignmentMaxAttempts(),
	})
	manager := tasks.NewManager(store, domain.NewFollowUpPolicy(cfg.GetFollowUpOffsets()), rec, log, tasks.Options{
		Timeout: timeout,
	})
	intakeSvc := intake.New(store, engine, manager, eventBus, log, intake.Options{
		Timeout:     timeout,
		PhoneRegion: cfg.GetPhoneRegion(),
	})
	sweeper := sla.NewSweeper(store, engine, manager, eventBus, rec, log, sla.Options{
		Window:           cfg.GetSLAWindow(),
		MaxReassignments: cfg.GetMaxReassignments(),
		BatchSize:        cfg.GetSweepBatchSize(),
		Timeout:          timeout,
		RecoverOrphans:   cfg.IsOrphanRecoveryEnabled(),
	})

	return &Module{
		handler:   handler.New(intakeSvc, dir, assignments, manager, sweeper, val),
		directory: dir,
		engine:    engine,
		tasks:     manager,
		intake:    intakeSvc,
		sweeper:   sweeper,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Sweeper returns the SLA sweeper for schedulers and admin triggers.
func (m *Module) Sweeper() *sla.Sweeper {
	return m.sweeper
}

// Intake returns the lead lifecycle service.
func (m *Module) Intake() *intake.Service {
	return m.intake
}

// Engine returns the assignment engine.
func (m *Module) Engine() *assignment.Engine {
	return m.engine
}

// AgentContact implements Directory.
func (m *Module) AgentContact(ctx context.Context, agentID uuid.UUID) (AgentContact, error) {
	agent, err := m.directory.Get(ctx, agentID)
	if err != nil {
		return AgentContact{}, err
	}
	return AgentContact{ID: agent.ID, Name: agent.Name, Email: agent.Email}, nil
}

// LeadSummary implements Directory.
func (m *Module) LeadSummary(ctx context.Context, leadID uuid.UUID) (LeadSummary, error) {
	lead, err := m.intake.GetLead(ctx, leadID)
	if err != nil {
		return LeadSummary{}, err
	}
	return LeadSummary{
		ID:                lead.ID,
		ConsumerName:      lead.ConsumerName,
		ConsumerPhone:     lead.ConsumerPhone,
		Status:            string(lead.Status),
		ReassignmentCount: lead.ReassignmentCount,
	}, nil
}

// RegisterRoutes mounts leads routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected)
	m.handler.RegisterAdminRoutes(ctx.Admin)
}

// SeedAgents loads "Name <email>" entries into an in-memory store.
func SeedAgents(store *memstore.Store, entries []string, now time.Time) ([]domain.Agent, error) {
	agents := make([]domain.Agent, 0, len(entries))
	for _, entry := range entries {
		addr, err := mail.ParseAddress(entry)
		if err != nil {
			return nil, fmt.Errorf("seed agent %q: %w", entry, err)
		}
		name := addr.Name
		if name == "" {
			name = addr.Address
		}
		agents = append(agents, store.AddAgent(name, addr.Address, domain.AgentStatusActive, now))
	}
	return agents, nil
}

// Compile-time checks.
var (
	_ apphttp.Module = (*Module)(nil)
	_ Directory      = (*Module)(nil)
)
