package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
)

type SessionRepository struct {
	BaseRepository
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO evermind_sessions (id, user_id, started_at, ended_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.conn(ctx).Exec(ctx, query,
		session.ID,
		session.UserID,
		session.StartedAt,
		session.EndedAt,
	)

	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, started_at, ended_at
		FROM evermind_sessions
		WHERE id = $1`

	return r.scanSession(r.conn(ctx).QueryRow(ctx, query, id))
}

func (r *SessionRepository) GetByIDAndUserID(ctx context.Context, id, userID string) (*models.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, started_at, ended_at
		FROM evermind_sessions
		WHERE id = $1 AND user_id = $2`

	return r.scanSession(r.conn(ctx).QueryRow(ctx, query, id, userID))
}

func (r *SessionRepository) End(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE evermind_sessions
		SET ended_at = NOW()
		WHERE id = $1 AND ended_at IS NULL`

	tag, err := r.conn(ctx).Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, started_at, ended_at
		FROM evermind_sessions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.conn(ctx).Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session

	err := row.Scan(&s.ID, &s.UserID, &s.StartedAt, &s.EndedAt)
	if err != nil {
		if checkNoRows(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}

	return &s, nil
}
