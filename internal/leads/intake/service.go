// Package intake handles the lead lifecycle around routing: creating leads,
// logging contact outcomes, moving statuses and clearing the unreachable flag.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/leads/assignment"
	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/repository"
	"estate_crm_backend/platform/logger"
	"estate_crm_backend/platform/phone"
	"estate_crm_backend/platform/sanitize"
)

const maxOutcomeLength = 500

// Repository is the store slice intake needs.
type Repository interface {
	repository.LeadReader
	repository.Transactor
}

// Assigner routes one lead.
type Assigner interface {
	AssignLead(ctx context.Context, req assignment.Request) (assignment.Result, error)
}

// FollowUpSeeder opens the first automatic follow-up.
type FollowUpSeeder interface {
	CreateInitialFollowUp(ctx context.Context, leadID uuid.UUID) (domain.Task, error)
}

// CreateLeadInput is the raw intake form.
type CreateLeadInput struct {
	ConsumerName  string
	ConsumerPhone string
	ConsumerEmail *string
	Source        *string
}

// CreateLeadResult carries the stored lead even when routing failed, so a
// caller can report the lead as accepted but pending assignment.
type CreateLeadResult struct {
	Lead     domain.Lead
	FollowUp *domain.Task
}

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	Timeout     time.Duration
	PhoneRegion string
	Now         func() time.Time
}

type Service struct {
	repo      Repository
	assigner  Assigner
	followUps FollowUpSeeder
	bus       events.Bus
	log       *logger.Logger
	phones    phone.Normalizer
	timeout   time.Duration
	now       func() time.Time
}

func New(repo Repository, assigner Assigner, followUps FollowUpSeeder, bus events.Bus, log *logger.Logger, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		repo:      repo,
		assigner:  assigner,
		followUps: followUps,
		bus:       bus,
		log:       log,
		phones:    phone.NewNormalizer(opts.PhoneRegion),
		timeout:   opts.Timeout,
		now:       opts.Now,
	}
}

// CreateLead stores a lead, routes it and opens its first follow-up. When
// routing or the follow-up fails the lead stays stored and the error is
// returned next to it; the SLA sweep's orphan recovery picks it up later.
func (s *Service) CreateLead(ctx context.Context, in CreateLeadInput) (CreateLeadResult, error) {
	normalizedPhone, validPhone := s.phones.Normalize(in.ConsumerPhone)
	if !validPhone && normalizedPhone != "" {
		s.log.Debug("storing unparseable consumer phone as typed")
	}

	lead, err := repository.Bounded(ctx, s.timeout, func(ctx context.Context) (domain.Lead, error) {
		var created domain.Lead
		err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
			var err error
			created, err = tx.InsertLead(ctx, repository.CreateLeadParams{
				ConsumerName:  sanitize.Text(in.ConsumerName),
				ConsumerPhone: normalizedPhone,
				ConsumerEmail: sanitize.TextPtr(in.ConsumerEmail),
				Source:        sanitize.TextPtr(in.Source),
				CreatedAt:     s.now().UTC(),
			})
			return err
		})
		return created, err
	})
	if err != nil {
		return CreateLeadResult{}, fmt.Errorf("create lead: %w", err)
	}

	result := CreateLeadResult{Lead: lead}
	defer s.publishCreated(ctx, &result)

	assigned, err := s.assigner.AssignLead(ctx, assignment.Request{LeadID: lead.ID, Reason: domain.ReasonInitial})
	if err != nil {
		return result, fmt.Errorf("route new lead %s: %w", lead.ID, err)
	}
	result.Lead = assigned.Lead

	task, err := s.followUps.CreateInitialFollowUp(ctx, lead.ID)
	if err != nil {
		return result, fmt.Errorf("seed follow-up for new lead %s: %w", lead.ID, err)
	}
	result.FollowUp = &task
	return result, nil
}

func (s *Service) publishCreated(ctx context.Context, result *CreateLeadResult) {
	if s.bus == nil {
		return
	}
	source := ""
	if result.Lead.Source != nil {
		source = *result.Lead.Source
	}
	s.bus.Publish(ctx, events.LeadCreated{
		BaseEvent:       events.BaseEventAt(result.Lead.CreatedAt),
		LeadID:          result.Lead.ID,
		AssignedAgentID: result.Lead.AssignedAgentID,
		Source:          source,
		ConsumerName:    result.Lead.ConsumerName,
	})
}

// GetLead returns one lead.
func (s *Service) GetLead(ctx context.Context, leadID uuid.UUID) (domain.Lead, error) {
	return repository.Bounded(ctx, s.timeout, func(ctx context.Context) (domain.Lead, error) {
		return s.repo.GetLead(ctx, leadID)
	})
}

// LogContactOutcome stores what happened on the last contact attempt and
// stamps lastOutcomeAt, which exempts the lead from the current SLA breach.
func (s *Service) LogContactOutcome(ctx context.Context, leadID uuid.UUID, outcome string) (domain.Lead, error) {
	outcome = sanitize.Truncate(outcome, maxOutcomeLength)
	if outcome == "" {
		outcome = "contacted"
	}

	return s.mutate(ctx, "log contact outcome", leadID, func(ctx context.Context, tx repository.Tx, lead domain.Lead) (domain.Lead, error) {
		return tx.RecordOutcome(ctx, lead.ID, outcome, s.now().UTC())
	})
}

// UpdateStatus moves a lead between stages. Terminal statuses are final.
func (s *Service) UpdateStatus(ctx context.Context, leadID uuid.UUID, raw string) (domain.Lead, error) {
	next, ok := domain.ParseLeadStatus(raw)
	if !ok {
		return domain.Lead{}, fmt.Errorf("update status to %q: %w", raw, domain.ErrInvalidStatusTransition)
	}

	var closedTasks int
	updated, err := s.mutate(ctx, "update status", leadID, func(ctx context.Context, tx repository.Tx, lead domain.Lead) (domain.Lead, error) {
		if !lead.Status.CanTransitionTo(next) {
			return domain.Lead{}, fmt.Errorf("%s -> %s: %w", lead.Status, next, domain.ErrInvalidStatusTransition)
		}
		if lead.Status == next {
			return lead, nil
		}
		now := s.now().UTC()
		updated, err := tx.UpdateStatus(ctx, lead.ID, next, now)
		if err != nil || !next.IsTerminal() {
			return updated, err
		}

		open, err := tx.OpenTasks(ctx, lead.ID)
		if err != nil {
			return domain.Lead{}, err
		}
		for _, task := range open {
			if _, err := tx.CompleteTask(ctx, task.ID, now); err != nil {
				return domain.Lead{}, err
			}
		}
		closedTasks = len(open)
		return updated, nil
	})
	if err == nil && next.IsTerminal() {
		s.log.Info("lead closed",
			slog.String("lead_id", leadID.String()),
			slog.String("status", string(next)),
			slog.Int("tasks_closed", closedTasks),
		)
	}
	return updated, err
}

// ResolveUnreachable clears the unreachable flag after human review, resets
// the rotation count and restarts the SLA window for the current agent.
func (s *Service) ResolveUnreachable(ctx context.Context, leadID uuid.UUID) (domain.Lead, error) {
	return s.mutate(ctx, "resolve unreachable", leadID, func(ctx context.Context, tx repository.Tx, lead domain.Lead) (domain.Lead, error) {
		if lead.IsTerminal() {
			return domain.Lead{}, domain.ErrLeadTerminal
		}
		if !lead.Unreachable {
			return lead, nil
		}
		return tx.ClearUnreachable(ctx, lead.ID, s.now().UTC())
	})
}

// Reassign moves a lead to another agent on request, excluding the current one.
func (s *Service) Reassign(ctx context.Context, leadID uuid.UUID) (assignment.Result, error) {
	lead, err := s.GetLead(ctx, leadID)
	if err != nil {
		return assignment.Result{}, err
	}

	result, err := s.assigner.AssignLead(ctx, assignment.Request{
		LeadID:         leadID,
		ExcludeAgentID: lead.AssignedAgentID,
		Reason:         domain.ReasonManual,
		Guard:          sameAgent(lead.AssignedAgentID),
	})
	if err != nil {
		return assignment.Result{}, fmt.Errorf("reassign lead %s: %w", leadID, err)
	}

	if lead.AssignedAgentID == nil {
		if _, err := s.followUps.CreateInitialFollowUp(ctx, leadID); err != nil && !errors.Is(err, domain.ErrFollowUpAlreadyOpen) {
			s.log.Warn("seed follow-up after manual assignment failed",
				slog.String("lead_id", leadID.String()), slog.String("error", err.Error()))
		}
	}
	return result, nil
}

// sameAgent rejects the decision when the locked lead is no longer held by
// the agent the caller read, so a concurrent move is not undone.
func sameAgent(expected *uuid.UUID) func(domain.Lead) error {
	return func(locked domain.Lead) error {
		switch {
		case expected == nil && locked.AssignedAgentID == nil:
			return nil
		case expected == nil || locked.AssignedAgentID == nil:
			return domain.ErrLeadNotEligible
		case *expected != *locked.AssignedAgentID:
			return domain.ErrLeadNotEligible
		}
		return nil
	}
}

func (s *Service) mutate(
	ctx context.Context,
	op string,
	leadID uuid.UUID,
	fn func(ctx context.Context, tx repository.Tx, lead domain.Lead) (domain.Lead, error),
) (domain.Lead, error) {
	lead, err := repository.Bounded(ctx, s.timeout, func(ctx context.Context) (domain.Lead, error) {
		var out domain.Lead
		err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
			lead, err := tx.LockLead(ctx, leadID)
			if err != nil {
				return err
			}
			out, err = fn(ctx, tx, lead)
			return err
		})
		return out, err
	})
	if err != nil {
		return domain.Lead{}, fmt.Errorf("%s for lead %s: %w", op, leadID, err)
	}
	return lead, nil
}
