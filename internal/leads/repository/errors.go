package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"estate_crm_backend/internal/leads/domain"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgQueryCanceled        = "57014"
	pgTooManyConnections   = "53300"
	pgAdminShutdown        = "57P01"
	pgCannotConnectNow     = "57P03"

	openAutoFollowUpIndex = "uq_lead_tasks_open_auto_followup"
)

// classify maps driver failures onto the routing error taxonomy so callers
// can decide between retry, conflict and abort without importing pgx.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrConcurrencyConflict, err)
		case pgUniqueViolation:
			if pgErr.ConstraintName == openAutoFollowUpIndex {
				return fmt.Errorf("%s: %w", op, domain.ErrFollowUpAlreadyOpen)
			}
		case pgQueryCanceled, pgTooManyConnections, pgAdminShutdown, pgCannotConnectNow:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrTransientStore, err)
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return fmt.Errorf("%s: %w: %w", op, domain.ErrTransientStore, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connectErr *pgconn.ConnectError
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &connectErr),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTransientStore, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
