package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estate_crm_backend/internal/leads/domain"
)

// Bounded runs fn under a deadline of d (no deadline when d <= 0). Hitting
// that deadline while the caller's context is still live is reported as a
// transient store error so callers can retry with backoff.
func Bounded[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	bounded, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	result, err := fn(bounded)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !domain.IsTransient(err) {
		err = fmt.Errorf("store call exceeded %s: %w: %w", d, domain.ErrTransientStore, err)
	}
	return result, err
}
