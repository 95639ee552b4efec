package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
)

const outboxColumns = `
	id, event_id, memory_id, payload, status, retry_count, idempotency_key,
	error_message, created_at, next_attempt_at, processing_started_at,
	vector_written_at, graph_written_at, processed_at`

type OutboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *OutboxRepository) Create(ctx context.Context, event *models.OutboxEvent) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO evermind_outbox_events (
			id, event_id, memory_id, payload, status, retry_count,
			idempotency_key, error_message, created_at, next_attempt_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (event_id) DO NOTHING`

	_, err := r.conn(ctx).Exec(ctx, query,
		event.ID,
		event.EventID,
		nullString(event.MemoryID),
		event.Payload,
		string(event.Status),
		event.RetryCount,
		nullString(event.IdempotencyKey),
		nullString(event.ErrorMessage),
		event.CreatedAt,
		event.NextAttemptAt,
	)

	return err
}

func (r *OutboxRepository) GetByID(ctx context.Context, id string) (*models.OutboxEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + outboxColumns + `
		FROM evermind_outbox_events
		WHERE id = $1`

	return r.scanEvent(r.conn(ctx).QueryRow(ctx, query, id))
}

// Claim atomically moves up to limit due pending events to processing and
// returns them. SKIP LOCKED keeps concurrent drainers from claiming the same
// rows.
func (r *OutboxRepository) Claim(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE evermind_outbox_events
		SET status = 'processing',
			processing_started_at = NOW()
		WHERE id IN (
			SELECT id FROM evermind_outbox_events
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	rows, err := r.conn(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanEvents(rows)
}

// Complete marks the event done. Callers run this in the same transaction
// that flips the memory to committed so the two states cannot diverge.
func (r *OutboxRepository) Complete(ctx context.Context, id string, processedAt time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE evermind_outbox_events
		SET status = 'done',
			processed_at = $2,
			error_message = NULL
		WHERE id = $1 AND status = 'processing'`

	return r.expectOneRow(ctx, query, id, processedAt)
}

// Reschedule returns a processing event to pending with a new attempt time.
func (r *OutboxRepository) Reschedule(ctx context.Context, id string, retryCount int, nextAttemptAt time.Time, errorMessage string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE evermind_outbox_events
		SET status = 'pending',
			retry_count = $2,
			next_attempt_at = $3,
			error_message = $4,
			processing_started_at = NULL
		WHERE id = $1 AND status = 'processing'`

	return r.expectOneRow(ctx, query, id, retryCount, nextAttemptAt, nullString(errorMessage))
}

func (r *OutboxRepository) MoveToDLQ(ctx context.Context, id string, errorMessage string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE evermind_outbox_events
		SET status = 'dlq',
			error_message = $2
		WHERE id = $1`

	return r.expectOneRow(ctx, query, id, nullString(errorMessage))
}

func (r *OutboxRepository) MarkPendingReview(ctx context.Context, id string, reason string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE evermind_outbox_events
		SET status = 'pending_review',
			error_message = $2
		WHERE id = $1`

	return r.expectOneRow(ctx, query, id, nullString(reason))
}

// RecordVectorWritten persists that the vector write landed, so a retry of
// the same event skips the vector step.
func (r *OutboxRepository) RecordVectorWritten(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE evermind_outbox_events
		SET vector_written_at = $2
		WHERE id = $1 AND vector_written_at IS NULL`

	_, err := r.conn(ctx).Exec(ctx, query, id, at)
	return err
}

func (r *OutboxRepository) RecordGraphWritten(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE evermind_outbox_events
		SET graph_written_at = $2
		WHERE id = $1 AND graph_written_at IS NULL`

	_, err := r.conn(ctx).Exec(ctx, query, id, at)
	return err
}

// RequeueStuck recovers events stuck in processing longer than olderThan,
// usually after a drainer crash. Returns the number of events requeued.
func (r *OutboxRepository) RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE evermind_outbox_events
		SET status = 'pending',
			next_attempt_at = NOW(),
			processing_started_at = NULL
		WHERE status = 'processing'
		  AND processing_started_at < NOW() - $1::interval`

	tag, err := r.conn(ctx).Exec(ctx, query, olderThan.String())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Requeue resets a dlq or pending_review event for another pass.
func (r *OutboxRepository) Requeue(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE evermind_outbox_events
		SET status = 'pending',
			retry_count = 0,
			next_attempt_at = NOW(),
			error_message = NULL,
			processing_started_at = NULL
		WHERE id = $1 AND status IN ('dlq', 'pending_review')`

	return r.expectOneRow(ctx, query, id)
}

func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[models.OutboxStatus]int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT status, COUNT(*)
		FROM evermind_outbox_events
		GROUP BY status`

	rows, err := r.conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.OutboxStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[models.OutboxStatus(status)] = count
	}
	return counts, rows.Err()
}

func (r *OutboxRepository) expectOneRow(ctx context.Context, query string, args ...any) error {
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func (r *OutboxRepository) scanEvent(row pgx.Row) (*models.OutboxEvent, error) {
	var e models.OutboxEvent
	var memoryID, idempotencyKey, errorMessage sql.NullString
	var status string

	err := row.Scan(
		&e.ID,
		&e.EventID,
		&memoryID,
		&e.Payload,
		&status,
		&e.RetryCount,
		&idempotencyKey,
		&errorMessage,
		&e.CreatedAt,
		&e.NextAttemptAt,
		&e.ProcessingStartedAt,
		&e.VectorWrittenAt,
		&e.GraphWrittenAt,
		&e.ProcessedAt,
	)
	if err != nil {
		if checkNoRows(err) {
			return nil, domain.ErrEventNotFound
		}
		return nil, err
	}

	e.Status = models.OutboxStatus(status)
	e.MemoryID = getString(memoryID)
	e.IdempotencyKey = getString(idempotencyKey)
	e.ErrorMessage = getString(errorMessage)

	return &e, nil
}

func (r *OutboxRepository) scanEvents(rows pgx.Rows) ([]*models.OutboxEvent, error) {
	events := make([]*models.OutboxEvent, 0)

	for rows.Next() {
		var e models.OutboxEvent
		var memoryID, idempotencyKey, errorMessage sql.NullString
		var status string

		err := rows.Scan(
			&e.ID,
			&e.EventID,
			&memoryID,
			&e.Payload,
			&status,
			&e.RetryCount,
			&idempotencyKey,
			&errorMessage,
			&e.CreatedAt,
			&e.NextAttemptAt,
			&e.ProcessingStartedAt,
			&e.VectorWrittenAt,
			&e.GraphWrittenAt,
			&e.ProcessedAt,
		)
		if err != nil {
			return nil, err
		}

		e.Status = models.OutboxStatus(status)
		e.MemoryID = getString(memoryID)
		e.IdempotencyKey = getString(idempotencyKey)
		e.ErrorMessage = getString(errorMessage)

		events = append(events, &e)
	}

	return events, rows.Err()
}
