// Package assignment routes leads to the least-busy active agent.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/history"
	"estate_crm_backend/internal/leads/repository"
	"estate_crm_backend/platform/logger"
)

const (
	defaultMaxAttempts = 3
	defaultTimeout     = 5 * time.Second
	retryBackoff       = 25 * time.Millisecond
)

// Store is the transactional store slice the engine needs.
type Store interface {
	repository.Transactor
}

// HistoryRecorder appends the audit entry inside the assignment transaction.
type HistoryRecorder interface {
	Record(ctx context.Context, w history.Appender, params repository.AppendAssignmentParams) (domain.AssignmentRecord, error)
}

// Metrics is the measurement surface used by the engine.
type Metrics interface {
	AssignmentCommitted(ctx context.Context, reason string)
	AssignmentFailed(ctx context.Context, cause string)
	ConflictRetried(ctx context.Context)
}

// Request describes one assignment decision.
type Request struct {
	LeadID         uuid.UUID
	ExcludeAgentID *uuid.UUID
	// Reason applies to leads that already have an agent. First assignments
	// are always recorded as initial. Defaults to manual.
	Reason domain.AssignmentReason
	// Guard re-checks the locked lead before any change. A non-nil error
	// aborts the decision without side effects.
	Guard func(lead domain.Lead) error
}

// Result is a committed decision.
type Result struct {
	Lead            domain.Lead
	Record          domain.AssignmentRecord
	PreviousAgentID *uuid.UUID
}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	Now         func() time.Time
}

// Engine serializes the read-count, pick, write sequence in one store
// transaction and publishes LeadAssigned after commit.
type Engine struct {
	store       Store
	history     HistoryRecorder
	bus         events.Bus
	metrics     Metrics
	log         *logger.Logger
	timeout     time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewEngine(store Store, history HistoryRecorder, bus events.Bus, metrics Metrics, log *logger.Logger, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{
		store:       store,
		history:     history,
		bus:         bus,
		metrics:     metrics,
		log:         log,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
	}
}

// Assign routes leadID to an agent other than exclude and returns the chosen agent.
func (e *Engine) Assign(ctx context.Context, leadID uuid.UUID, exclude *uuid.UUID) (uuid.UUID, error) {
	result, err := e.AssignLead(ctx, Request{LeadID: leadID, ExcludeAgentID: exclude})
	if err != nil {
		return uuid.Nil, err
	}
	return *result.Lead.AssignedAgentID, nil
}

// AssignLead runs one decision, retrying concurrency conflicts up to the
// configured attempt budget before reporting a transient store error.
func (e *Engine) AssignLead(ctx context.Context, req Request) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		result, err := repository.Bounded(ctx, e.timeout, func(ctx context.Context) (Result, error) {
			return e.attempt(ctx, req)
		})
		if err == nil {
			e.committed(ctx, result)
			return result, nil
		}

		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			e.failed(ctx, req, err)
			return Result{}, err
		}

		lastErr = err
		if e.metrics != nil {
			e.metrics.ConflictRetried(ctx)
		}
		e.log.Warn("assignment conflict, retrying",
			slog.String("lead_id", req.LeadID.String()),
			slog.Int("attempt", attempt),
		)

		if attempt < e.maxAttempts {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
	}

	err := fmt.Errorf("assign lead %s after %d attempts: %w: %w", req.LeadID, e.maxAttempts, domain.ErrTransientStore, lastErr)
	e.failed(ctx, req, err)
	return Result{}, err
}

func (e *Engine) attempt(ctx context.Context, req Request) (Result, error) {
	var result Result

	err := e.store.WithTx(ctx, func(tx repository.Tx) error {
		lead, err := tx.LockLead(ctx, req.LeadID)
		if err != nil {
			return err
		}
		if lead.IsTerminal() {
			return domain.ErrLeadTerminal
		}
		if req.Guard != nil {
			if err := req.Guard(lead); err != nil {
				return err
			}
		}

		if err := tx.LockRouting(ctx); err != nil {
			return err
		}
		agents, err := tx.ActiveAgents(ctx)
		if err != nil {
			return err
		}
		cursor, err := tx.Cursor(ctx)
		if err != nil {
			return err
		}

		idx, ok := Select(agents, req.ExcludeAgentID, cursor)
		if !ok {
			return domain.ErrNoEligibleAgent
		}
		chosen := agents[idx]

		reason := domain.ReasonInitial
		count := lead.ReassignmentCount
		if lead.AssignedAgentID != nil {
			reason = req.Reason
			if reason == "" || reason == domain.ReasonInitial {
				reason = domain.ReasonManual
			}
			count++
		}

		now := e.now().UTC()
		updated, err := tx.UpdateAssignment(ctx, repository.UpdateAssignmentParams{
			LeadID:            lead.ID,
			AgentID:           chosen.ID,
			AssignedAt:        now,
			ReassignmentCount: count,
		})
		if err != nil {
			return err
		}

		record, err := e.history.Record(ctx, tx, repository.AppendAssignmentParams{
			LeadID:          lead.ID,
			PreviousAgentID: lead.AssignedAgentID,
			NewAgentID:      chosen.ID,
			Reason:          reason,
			CreatedAt:       now,
		})
		if err != nil {
			return err
		}

		if err := tx.SetCursor(ctx, nextCursor(idx)); err != nil {
			return err
		}

		result = Result{Lead: updated, Record: record, PreviousAgentID: lead.AssignedAgentID}
		return nil
	})
	return result, err
}

func (e *Engine) committed(ctx context.Context, result Result) {
	previous := ""
	if result.PreviousAgentID != nil {
		previous = result.PreviousAgentID.String()
	}
	e.log.AssignmentDecision(result.Lead.ID.String(), previous, result.Record.NewAgentID.String(), string(result.Record.Reason))

	if e.metrics != nil {
		e.metrics.AssignmentCommitted(ctx, string(result.Record.Reason))
	}
	if e.bus != nil {
		e.bus.Publish(ctx, events.LeadAssigned{
			BaseEvent:       events.BaseEventAt(result.Record.CreatedAt),
			LeadID:          result.Lead.ID,
			PreviousAgentID: result.PreviousAgentID,
			NewAgentID:      result.Record.NewAgentID,
			Reason:          string(result.Record.Reason),
		})
	}
}

func (e *Engine) failed(ctx context.Context, req Request, err error) {
	cause := failureCause(err)
	if e.metrics != nil {
		e.metrics.AssignmentFailed(ctx, cause)
	}

	switch {
	case errors.Is(err, domain.ErrNoEligibleAgent):
		e.log.Error("no eligible agent for lead",
			slog.String("lead_id", req.LeadID.String()),
			slog.Any("excluded_agent_id", req.ExcludeAgentID),
		)
		if e.bus != nil {
			e.bus.Publish(ctx, events.LeadAssignmentStalled{
				BaseEvent:      events.BaseEventAt(e.now()),
				LeadID:         req.LeadID,
				ExcludedAgent:  req.ExcludeAgentID,
				AttemptedCause: string(reasonOrDefault(req.Reason)),
			})
		}
	case errors.Is(err, domain.ErrLeadNotEligible), errors.Is(err, domain.ErrLeadTerminal):
		e.log.Debug("assignment skipped", slog.String("lead_id", req.LeadID.String()), slog.String("error", err.Error()))
	default:
		e.log.Error("assignment failed",
			slog.String("lead_id", req.LeadID.String()),
			slog.String("cause", cause),
			slog.String("error", err.Error()),
		)
	}
}

func reasonOrDefault(reason domain.AssignmentReason) domain.AssignmentReason {
	if reason == "" {
		return domain.ReasonManual
	}
	return reason
}

func failureCause(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoEligibleAgent):
		return domain.CodeNoEligibleAgent
	case errors.Is(err, domain.ErrLeadTerminal):
		return domain.CodeLeadTerminal
	case errors.Is(err, domain.ErrLeadNotEligible):
		return "not_eligible"
	case errors.Is(err, domain.ErrLeadNotFound):
		return "lead_not_found"
	case domain.IsTransient(err):
		return domain.CodeTransientStore
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "internal"
}
