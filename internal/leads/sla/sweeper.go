// Package sla finds leads whose assigned agent missed the response window
// and rotates them to another agent, capping the rotation per lead.
package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/leads/assignment"
	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/repository"
	"estate_crm_backend/platform/logger"
)

const (
	DefaultWindow           = 30 * time.Minute
	DefaultMaxReassignments = 3
	DefaultBatchSize        = 500
)

// ErrSweepInProgress is returned when another sweep holds the singleton.
var ErrSweepInProgress = errors.New("sla sweep already in progress")

// Outcome is what a sweep did with one lead.
type Outcome string

const (
	OutcomeReassigned  Outcome = "reassigned"
	OutcomeUnreachable Outcome = "unreachable"
	OutcomeAssigned    Outcome = "assigned"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeFailed      Outcome = "failed"
)

// Repository is the store slice the sweeper reads and writes.
type Repository interface {
	repository.LeadReader
	repository.Transactor
}

// Assigner routes one lead.
type Assigner interface {
	AssignLead(ctx context.Context, req assignment.Request) (assignment.Result, error)
}

// FollowUpSeeder opens the first automatic follow-up for a newly routed lead.
type FollowUpSeeder interface {
	CreateInitialFollowUp(ctx context.Context, leadID uuid.UUID) (domain.Task, error)
}

// Lock is a cross-process singleton. TryLock reports acquired=false when
// another holder is active.
type Lock interface {
	TryLock(ctx context.Context) (unlock func(context.Context) error, acquired bool, err error)
}

// Metrics is the measurement surface used by the sweeper.
type Metrics interface {
	SweepFinished(ctx context.Context, outcomes map[string]int, duration time.Duration)
}

// LeadResult is the per-lead entry of a sweep report.
type LeadResult struct {
	LeadID          uuid.UUID
	Outcome         Outcome
	PreviousAgentID *uuid.UUID
	NewAgentID      *uuid.UUID
	Err             error
}

// Result summarizes one sweep. Per-lead failures live in Leads and never
// abort the run.
type Result struct {
	StartedAt   time.Time
	FinishedAt  time.Time
	Cutoff      time.Time
	Reassigned  int
	Unreachable int
	Assigned    int
	Skipped     int
	Failed      int
	Canceled    bool
	Truncated   bool
	Leads       []LeadResult
}

// Errors returns the per-lead failures.
func (r Result) Errors() []error {
	errs := make([]error, 0, r.Failed)
	for _, lead := range r.Leads {
		if lead.Err != nil && lead.Outcome == OutcomeFailed {
			errs = append(errs, fmt.Errorf("lead %s: %w", lead.LeadID, lead.Err))
		}
	}
	return errs
}

func (r *Result) add(entry LeadResult) {
	r.Leads = append(r.Leads, entry)
	switch entry.Outcome {
	case OutcomeReassigned:
		r.Reassigned++
	case OutcomeUnreachable:
		r.Unreachable++
	case OutcomeAssigned:
		r.Assigned++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

func (r Result) outcomeCounts() map[string]int {
	return map[string]int{
		string(OutcomeReassigned):  r.Reassigned,
		string(OutcomeUnreachable): r.Unreachable,
		string(OutcomeAssigned):    r.Assigned,
		string(OutcomeSkipped):     r.Skipped,
		string(OutcomeFailed):      r.Failed,
	}
}

// Options tunes the sweeper. Zero values fall back to defaults.
type Options struct {
	Window           time.Duration
	MaxReassignments int
	BatchSize        int
	Timeout          time.Duration
	RecoverOrphans   bool
	Now              func() time.Time
}

// Sweeper runs the breach scan. At most one sweep runs per process, and
// per deployment when a Lock is set.
type Sweeper struct {
	repo      Repository
	assigner  Assigner
	followUps FollowUpSeeder
	bus       events.Bus
	metrics   Metrics
	log       *logger.Logger
	lock      Lock
	opts      Options
	running   atomic.Bool
}

func NewSweeper(repo Repository, assigner Assigner, followUps FollowUpSeeder, bus events.Bus, metrics Metrics, log *logger.Logger, opts Options) *Sweeper {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxReassignments <= 0 {
		opts.MaxReassignments = DefaultMaxReassignments
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Sweeper{
		repo:      repo,
		assigner:  assigner,
		followUps: followUps,
		bus:       bus,
		metrics:   metrics,
		log:       log,
		opts:      opts,
	}
}

// SetLock installs a cross-process singleton lock.
func (s *Sweeper) SetLock(lock Lock) {
	s.lock = lock
}

// Window returns the configured default SLA window.
func (s *Sweeper) Window() time.Duration {
	return s.opts.Window
}

// Sweep reassigns every lead that breached window (the configured default
// when window <= 0). Cancelling ctx stops the run between leads; leads
// already handled stay handled.
func (s *Sweeper) Sweep(ctx context.Context, window time.Duration) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Result{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	if s.lock != nil {
		unlock, acquired, err := s.lock.TryLock(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !acquired {
			return Result{}, ErrSweepInProgress
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("release sweep lock failed", slog.String("error", err.Error()))
			}
		}()
	}

	if window <= 0 {
		window = s.opts.Window
	}

	result := Result{StartedAt: s.opts.Now().UTC()}
	result.Cutoff = result.StartedAt.Add(-window)

	err := s.sweepBreaches(ctx, &result)
	if err == nil && s.opts.RecoverOrphans {
		err = s.recoverOrphans(ctx, &result)
	}

	result.FinishedAt = s.opts.Now().UTC()
	duration := result.FinishedAt.Sub(result.StartedAt)
	s.log.SweepCompleted(result.Reassigned, result.Unreachable, result.Assigned, result.Failed, duration)
	if s.metrics != nil {
		s.metrics.SweepFinished(ctx, result.outcomeCounts(), duration)
	}
	if result.Truncated {
		s.log.Warn("sla sweep hit batch limit, remaining leads wait for the next tick",
			slog.Int("batch_size", s.opts.BatchSize))
	}

	return result, err
}

func (s *Sweeper) sweepBreaches(ctx context.Context, result *Result) error {
	candidates, err := repository.Bounded(ctx, s.opts.Timeout, func(ctx context.Context) ([]domain.Lead, error) {
		return s.repo.ListSLACandidates(ctx, result.Cutoff, s.opts.BatchSize)
	})
	if err != nil {
		return fmt.Errorf("list sla candidates: %w", err)
	}
	result.Truncated = len(candidates) >= s.opts.BatchSize

	for _, lead := range candidates {
		if err := ctx.Err(); err != nil {
			result.Canceled = true
			return err
		}
		result.add(s.handleBreach(ctx, lead, result.Cutoff))
	}
	return nil
}

func (s *Sweeper) handleBreach(ctx context.Context, lead domain.Lead, cutoff time.Time) LeadResult {
	entry := LeadResult{LeadID: lead.ID, PreviousAgentID: lead.AssignedAgentID}

	if lead.ReassignmentCount >= s.opts.MaxReassignments {
		marked, err := s.markUnreachable(ctx, lead.ID, cutoff)
		switch {
		case errors.Is(err, domain.ErrLeadNotEligible), errors.Is(err, domain.ErrLeadTerminal):
			entry.Outcome = OutcomeSkipped
		case err != nil:
			entry.Outcome = OutcomeFailed
			entry.Err = err
			s.log.Warn("mark unreachable failed", slog.String("lead_id", lead.ID.String()), slog.String("error", err.Error()))
		default:
			entry.Outcome = OutcomeUnreachable
			if s.bus != nil {
				s.bus.Publish(ctx, events.LeadMarkedUnreachable{
					BaseEvent:         events.BaseEventAt(*marked.UnreachableAt),
					LeadID:            marked.ID,
					AgentID:           marked.AssignedAgentID,
					ReassignmentCount: marked.ReassignmentCount,
				})
			}
			s.log.Info("lead marked unreachable",
				slog.String("lead_id", lead.ID.String()),
				slog.Int("reassignment_count", marked.ReassignmentCount))
		}
		return entry
	}

	current := lead.AssignedAgentID
	assigned, err := s.assigner.AssignLead(ctx, assignment.Request{
		LeadID:         lead.ID,
		ExcludeAgentID: current,
		Reason:         domain.ReasonSLABreach,
		Guard:          s.breachGuard(current, cutoff),
	})
	switch {
	case errors.Is(err, domain.ErrLeadNotEligible), errors.Is(err, domain.ErrLeadTerminal):
		entry.Outcome = OutcomeSkipped
	case err != nil:
		entry.Outcome = OutcomeFailed
		entry.Err = err
	default:
		entry.Outcome = OutcomeReassigned
		entry.NewAgentID = assigned.Lead.AssignedAgentID
	}
	return entry
}

// breachGuard re-reads the locked lead so a lead reassigned, contacted or
// flagged since the candidate scan is left alone.
func (s *Sweeper) breachGuard(expectedAgent *uuid.UUID, cutoff time.Time) func(domain.Lead) error {
	return func(lead domain.Lead) error {
		if !lead.BreachesSLA(cutoff) || lead.ReassignmentCount >= s.opts.MaxReassignments {
			return domain.ErrLeadNotEligible
		}
		if expectedAgent == nil || lead.AssignedAgentID == nil || *lead.AssignedAgentID != *expectedAgent {
			return domain.ErrLeadNotEligible
		}
		return nil
	}
}

func (s *Sweeper) markUnreachable(ctx context.Context, leadID uuid.UUID, cutoff time.Time) (domain.Lead, error) {
	return repository.Bounded(ctx, s.opts.Timeout, func(ctx context.Context) (domain.Lead, error) {
		var marked domain.Lead
		err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
			lead, err := tx.LockLead(ctx, leadID)
			if err != nil {
				return err
			}
			if lead.IsTerminal() {
				return domain.ErrLeadTerminal
			}
			if !lead.BreachesSLA(cutoff) || lead.ReassignmentCount < s.opts.MaxReassignments {
				return domain.ErrLeadNotEligible
			}
			marked, err = tx.MarkUnreachable(ctx, leadID, s.opts.Now().UTC())
			return err
		})
		return marked, err
	})
}

func (s *Sweeper) recoverOrphans(ctx context.Context, result *Result) error {
	orphans, err := repository.Bounded(ctx, s.opts.Timeout, func(ctx context.Context) ([]domain.Lead, error) {
		return s.repo.ListOrphans(ctx, s.opts.BatchSize)
	})
	if err != nil {
		return fmt.Errorf("list orphan leads: %w", err)
	}

	for _, lead := range orphans {
		if err := ctx.Err(); err != nil {
			result.Canceled = true
			return err
		}
		result.add(s.handleOrphan(ctx, lead))
	}
	return nil
}

func (s *Sweeper) handleOrphan(ctx context.Context, lead domain.Lead) LeadResult {
	entry := LeadResult{LeadID: lead.ID}

	assigned, err := s.assigner.AssignLead(ctx, assignment.Request{
		LeadID: lead.ID,
		Reason: domain.ReasonInitial,
		Guard: func(locked domain.Lead) error {
			if !locked.IsOrphaned() {
				return domain.ErrLeadNotEligible
			}
			return nil
		},
	})
	switch {
	case errors.Is(err, domain.ErrLeadNotEligible), errors.Is(err, domain.ErrLeadTerminal):
		entry.Outcome = OutcomeSkipped
		return entry
	case err != nil:
		entry.Outcome = OutcomeFailed
		entry.Err = err
		return entry
	}

	entry.Outcome = OutcomeAssigned
	entry.NewAgentID = assigned.Lead.AssignedAgentID

	if s.followUps != nil {
		if _, err := s.followUps.CreateInitialFollowUp(ctx, lead.ID); err != nil && !errors.Is(err, domain.ErrFollowUpAlreadyOpen) {
			s.log.Warn("seed follow-up for recovered lead failed",
				slog.String("lead_id", lead.ID.String()),
				slog.String("error", err.Error()))
		}
	}
	return entry
}
