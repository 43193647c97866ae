package domain

import (
	"errors"

	"estate_crm_backend/platform/apperr"
)

var (
	ErrLeadNotFound            = errors.New("lead not found")
	ErrAgentNotFound           = errors.New("agent not found")
	ErrTaskNotFound            = errors.New("task not found")
	ErrNoEligibleAgent         = errors.New("no eligible agent")
	ErrLeadTerminal            = errors.New("lead workflow has ended")
	ErrLeadNotEligible         = errors.New("lead no longer eligible")
	ErrFollowUpAlreadyOpen     = errors.New("lead already has an open auto follow-up")
	ErrTaskAlreadyCompleted    = errors.New("task already completed")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrTransientStore          = errors.New("transient store error")
	ErrConcurrencyConflict     = errors.New("concurrency conflict")
)

const (
	CodeNoEligibleAgent   = "no_eligible_agent"
	CodeLeadTerminal      = "lead_terminal"
	CodeTransientStore    = "transient_store_error"
	CodeFollowUpOpen      = "followup_already_open"
	CodeTaskCompleted     = "task_already_completed"
	CodeInvalidTransition = "invalid_status_transition"
	CodeLeadChanged       = "lead_changed"

	MsgLeadTerminal = "lead workflow has ended; create a manual note instead"
)

// AppError translates routing sentinels into typed application errors that
// still unwrap to the sentinel. Unknown errors pass through unchanged.
func AppError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrLeadNotFound):
		return apperr.Wrap(apperr.KindNotFound, "lead not found", err)
	case errors.Is(err, ErrTaskNotFound):
		return apperr.Wrap(apperr.KindNotFound, "task not found", err)
	case errors.Is(err, ErrAgentNotFound):
		return apperr.Wrap(apperr.KindNotFound, "agent not found", err)
	case errors.Is(err, ErrNoEligibleAgent):
		return apperr.Wrap(apperr.KindUnavailable, "no active agent is available for assignment", err).
			WithCode(CodeNoEligibleAgent)
	case errors.Is(err, ErrLeadTerminal):
		return apperr.Wrap(apperr.KindConflict, MsgLeadTerminal, err).WithCode(CodeLeadTerminal)
	case errors.Is(err, ErrFollowUpAlreadyOpen):
		return apperr.Wrap(apperr.KindConflict, "lead already has an open follow-up", err).WithCode(CodeFollowUpOpen)
	case errors.Is(err, ErrTaskAlreadyCompleted):
		return apperr.Wrap(apperr.KindConflict, "task already completed", err).WithCode(CodeTaskCompleted)
	case errors.Is(err, ErrLeadNotEligible):
		return apperr.Wrap(apperr.KindConflict, "lead changed since it was read", err).WithCode(CodeLeadChanged)
	case errors.Is(err, ErrInvalidStatusTransition):
		return apperr.Wrap(apperr.KindConflict, "status change not allowed", err).WithCode(CodeInvalidTransition)
	case errors.Is(err, ErrTransientStore), errors.Is(err, ErrConcurrencyConflict):
		return apperr.Wrap(apperr.KindUnavailable, "storage temporarily unavailable, retry later", err).
			WithCode(CodeTransientStore)
	}
	return err
}

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStore) || errors.Is(err, ErrConcurrencyConflict)
}
