package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
)

type ConflictRepository struct {
	BaseRepository
}

func NewConflictRepository(pool *pgxpool.Pool) *ConflictRepository {
	return &ConflictRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *ConflictRepository) Create(ctx context.Context, record *models.ConflictRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO evermind_conflict_records (
			id, user_id, memory_id_a, memory_id_b, topic, indicator,
			confidence, resolution, superseded_by, detected_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err := r.conn(ctx).Exec(ctx, query,
		record.ID,
		record.UserID,
		record.MemoryIDA,
		record.MemoryIDB,
		record.Topic,
		record.Indicator,
		record.Confidence,
		string(record.Resolution),
		nullString(record.SupersededBy),
		record.DetectedAt,
		record.ResolvedAt,
	)

	return err
}

func (r *ConflictRepository) Update(ctx context.Context, record *models.ConflictRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE evermind_conflict_records
		SET resolution = $2,
			superseded_by = $3,
			resolved_at = $4
		WHERE id = $1`

	tag, err := r.conn(ctx).Exec(ctx, query,
		record.ID,
		string(record.Resolution),
		nullString(record.SupersededBy),
		record.ResolvedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ConflictRepository) GetByID(ctx context.Context, id string) (*models.ConflictRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, memory_id_a, memory_id_b, topic, indicator,
		       confidence, resolution, superseded_by, detected_at, resolved_at
		FROM evermind_conflict_records
		WHERE id = $1`

	return r.scanConflict(r.conn(ctx).QueryRow(ctx, query, id))
}

func (r *ConflictRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.ConflictRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, memory_id_a, memory_id_b, topic, indicator,
		       confidence, resolution, superseded_by, detected_at, resolved_at
		FROM evermind_conflict_records
		WHERE user_id = $1
		ORDER BY detected_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.conn(ctx).Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*models.ConflictRecord, 0)
	for rows.Next() {
		rec, err := r.scanConflictRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// HasConflictBetween reports whether a conflict is already recorded for the
// pair of memories, in either order.
func (r *ConflictRepository) HasConflictBetween(ctx context.Context, userID, memoryIDA, memoryIDB string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT EXISTS (
			SELECT 1 FROM evermind_conflict_records
			WHERE user_id = $1
			  AND ((memory_id_a = $2 AND memory_id_b = $3)
			    OR (memory_id_a = $3 AND memory_id_b = $2))
		)`

	var exists bool
	err := r.conn(ctx).QueryRow(ctx, query, userID, memoryIDA, memoryIDB).Scan(&exists)
	return exists, err
}

func (r *ConflictRepository) scanConflict(row pgx.Row) (*models.ConflictRecord, error) {
	var rec models.ConflictRecord
	var resolution string
	var supersededBy sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.MemoryIDA,
		&rec.MemoryIDB,
		&rec.Topic,
		&rec.Indicator,
		&rec.Confidence,
		&resolution,
		&supersededBy,
		&rec.DetectedAt,
		&rec.ResolvedAt,
	)
	if err != nil {
		if checkNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	rec.Resolution = models.ConflictResolution(resolution)
	rec.SupersededBy = getString(supersededBy)
	return &rec, nil
}

func (r *ConflictRepository) scanConflictRow(rows pgx.Rows) (*models.ConflictRecord, error) {
	var rec models.ConflictRecord
	var resolution string
	var supersededBy sql.NullString

	err := rows.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.MemoryIDA,
		&rec.MemoryIDB,
		&rec.Topic,
		&rec.Indicator,
		&rec.Confidence,
		&resolution,
		&supersededBy,
		&rec.DetectedAt,
		&rec.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Resolution = models.ConflictResolution(resolution)
	rec.SupersededBy = getString(supersededBy)
	return &rec, nil
}
