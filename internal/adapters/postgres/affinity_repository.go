package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evermind-ai/evermind/internal/domain/models"
)

type AffinityRepository struct {
	BaseRepository
}

func NewAffinityRepository(pool *pgxpool.Pool) *AffinityRepository {
	return &AffinityRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *AffinityRepository) Insert(ctx context.Context, record *models.AffinityRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO evermind_affinity_history (
			id, user_id, score, delta, state, turn_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)`

	_, err := r.conn(ctx).Exec(ctx, query,
		record.ID,
		record.UserID,
		record.Score,
		record.Delta,
		string(record.State),
		nullString(record.TurnID),
		record.CreatedAt,
	)

	return err
}

// GetLatest returns the user's most recent affinity record, or nil for a
// user with no history yet.
func (r *AffinityRepository) GetLatest(ctx context.Context, userID string) (*models.AffinityRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, score, delta, state, turn_id, created_at
		FROM evermind_affinity_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var rec models.AffinityRecord
	var state string
	var turnID sql.NullString

	err := r.conn(ctx).QueryRow(ctx, query, userID).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Score,
		&rec.Delta,
		&state,
		&turnID,
		&rec.CreatedAt,
	)
	if err != nil {
		if checkNoRows(err) {
			return nil, nil
		}
		return nil, err
	}

	rec.State = models.AffinityState(state)
	rec.TurnID = getString(turnID)
	return &rec, nil
}

func (r *AffinityRepository) GetHistory(ctx context.Context, userID string, limit int) ([]*models.AffinityRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, score, delta, state, turn_id, created_at
		FROM evermind_affinity_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.conn(ctx).Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*models.AffinityRecord, 0)
	for rows.Next() {
		var rec models.AffinityRecord
		var state string
		var turnID sql.NullString

		err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.Score,
			&rec.Delta,
			&state,
			&turnID,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		rec.State = models.AffinityState(state)
		rec.TurnID = getString(turnID)
		records = append(records, &rec)
	}

	return records, rows.Err()
}
