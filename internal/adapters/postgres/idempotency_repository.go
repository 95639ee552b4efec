package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evermind-ai/evermind/internal/domain/models"
)

type IdempotencyRepository struct {
	BaseRepository
}

func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *IdempotencyRepository) Insert(ctx context.Context, record *models.IdempotencyRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO evermind_idempotency_keys (
			user_id, key, turn_id, session_id, response, created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (user_id, key) DO NOTHING`

	_, err := r.conn(ctx).Exec(ctx, query,
		record.UserID,
		record.Key,
		record.TurnID,
		record.SessionID,
		record.Response,
		record.CreatedAt,
		record.ExpiresAt,
	)

	return err
}

// Get returns the stored record for (user, key), or nil when absent or
// already expired. Expired rows are left for DeleteExpired to sweep.
func (r *IdempotencyRepository) Get(ctx context.Context, userID, key string) (*models.IdempotencyRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT user_id, key, turn_id, session_id, response, created_at, expires_at
		FROM evermind_idempotency_keys
		WHERE user_id = $1 AND key = $2 AND expires_at > NOW()`

	var rec models.IdempotencyRecord
	err := r.conn(ctx).QueryRow(ctx, query, userID, key).Scan(
		&rec.UserID,
		&rec.Key,
		&rec.TurnID,
		&rec.SessionID,
		&rec.Response,
		&rec.CreatedAt,
		&rec.ExpiresAt,
	)
	if err != nil {
		if checkNoRows(err) {
			return nil, nil
		}
		return nil, err
	}

	return &rec, nil
}

func (r *IdempotencyRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `DELETE FROM evermind_idempotency_keys WHERE expires_at <= NOW()`

	tag, err := r.conn(ctx).Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
