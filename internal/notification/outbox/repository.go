// Package outbox persists notifications until the scheduler delivers them.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusEnqueued       Status = "enqueued"
	StatusProcessing     Status = "processing"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	errRepoNotConfigured        = "outbox repository not configured"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("outbox record not found")

type Record struct {
	ID        uuid.UUID
	Kind      string
	Template  string
	Recipient string
	Payload   json.RawMessage
	RunAt     time.Time
	Status    Status
	Attempts  int
}

type InsertParams struct {
	Kind      string
	Template  string
	Recipient string
	Payload   any
	RunAt     time.Time
}

// Validate checks the fields every record needs.
func (p InsertParams) Validate() error {
	switch {
	case p.Kind == "":
		return fmt.Errorf("kind is required")
	case p.Template == "":
		return fmt.Errorf("template is required")
	case p.Recipient == "":
		return fmt.Errorf("recipient is required")
	}
	return nil
}

const recordColumns = `id, kind, template, recipient, payload, run_at, status, attempts`

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	if r == nil || r.pool == nil {
		return uuid.Nil, errors.New(errRepoNotConfigured)
	}
	if err := p.Validate(); err != nil {
		return uuid.Nil, err
	}
	if p.RunAt.IsZero() {
		p.RunAt = time.Now().UTC()
	}

	payloadBytes, err := json.Marshal(p.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}

	var id uuid.UUID
	err = r.pool.QueryRow(ctx,
		`INSERT INTO notification_outbox (kind, template, recipient, payload, run_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		p.Kind, p.Template, p.Recipient, payloadBytes, p.RunAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var status string
	if err := row.Scan(&rec.ID, &rec.Kind, &rec.Template, &rec.Recipient, &rec.Payload, &rec.RunAt, &status, &rec.Attempts); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Record, error) {
	if r == nil || r.pool == nil {
		return Record{}, errors.New(errRepoNotConfigured)
	}

	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM notification_outbox WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// ClaimPending moves up to limit due records to enqueued. Concurrent
// dispatchers never claim the same record.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Record, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM notification_outbox
		WHERE status = 'pending' AND run_at <= now()
		ORDER BY run_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE notification_outbox o
	SET status = 'enqueued', updated_at = now()
	FROM cte
	WHERE o.id = cte.id
	RETURNING o.id, o.kind, o.template, o.recipient, o.payload, o.run_at, o.status, o.attempts`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// MarkPending returns a record to the queue, e.g. when enqueueing it failed.
func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError *string) error {
	return r.exec(ctx,
		`UPDATE notification_outbox
		 SET status = 'pending', last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
}

func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx,
		`UPDATE notification_outbox
		 SET status = 'processing', attempts = attempts + 1, updated_at = now()
		 WHERE id = $1`,
		id,
	)
}

func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx,
		`UPDATE notification_outbox
		 SET status = 'succeeded', last_error = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.exec(ctx,
		`UPDATE notification_outbox
		 SET status = 'failed', last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
}

func (r *Repository) ScheduleRetry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	return r.exec(ctx,
		`UPDATE notification_outbox
		 SET status = 'pending', run_at = $2, last_error = $3, updated_at = now()
		 WHERE id = $1`,
		id, runAt, lastError,
	)
}

func (r *Repository) exec(ctx context.Context, sql string, args ...any) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx, sql, args...)
	return err
}
