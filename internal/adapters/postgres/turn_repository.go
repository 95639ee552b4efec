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

type TurnRepository struct {
	BaseRepository
}

func NewTurnRepository(pool *pgxpool.Pool) *TurnRepository {
	return &TurnRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *TurnRepository) Create(ctx context.Context, turn *models.Turn) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO evermind_turns (
			id, session_id, user_id, role, content, emotion_tag, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)`

	_, err := r.conn(ctx).Exec(ctx, query,
		turn.ID,
		turn.SessionID,
		turn.UserID,
		string(turn.Role),
		turn.Content,
		nullString(turn.EmotionTag),
		turn.CreatedAt,
	)

	return err
}

func (r *TurnRepository) GetByID(ctx context.Context, id string) (*models.Turn, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, session_id, user_id, role, content, emotion_tag, created_at
		FROM evermind_turns
		WHERE id = $1`

	return r.scanTurn(r.conn(ctx).QueryRow(ctx, query, id))
}

// GetBySession returns the most recent turns of a session in chronological
// order, oldest first, so they can be fed straight into a prompt.
func (r *TurnRepository) GetBySession(ctx context.Context, sessionID string, limit int) ([]*models.Turn, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, session_id, user_id, role, content, emotion_tag, created_at
		FROM (
			SELECT id, session_id, user_id, role, content, emotion_tag, created_at
			FROM evermind_turns
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	rows, err := r.conn(ctx).Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTurns(rows)
}

// GetLastUserTurnAt returns the timestamp of the user's most recent turn
// across all sessions. Used to compute silence gaps for affinity updates.
func (r *TurnRepository) GetLastUserTurnAt(ctx context.Context, userID string) (*time.Time, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT created_at
		FROM evermind_turns
		WHERE user_id = $1 AND role = 'user'
		ORDER BY created_at DESC
		LIMIT 1`

	var at time.Time
	err := r.conn(ctx).QueryRow(ctx, query, userID).Scan(&at)
	if err != nil {
		if checkNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &at, nil
}

func (r *TurnRepository) CountBySession(ctx context.Context, sessionID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT COUNT(*) FROM evermind_turns WHERE session_id = $1`

	var count int
	err := r.conn(ctx).QueryRow(ctx, query, sessionID).Scan(&count)
	return count, err
}

func (r *TurnRepository) scanTurn(row pgx.Row) (*models.Turn, error) {
	var t models.Turn
	var role string
	var emotionTag sql.NullString

	err := row.Scan(
		&t.ID,
		&t.SessionID,
		&t.UserID,
		&role,
		&t.Content,
		&emotionTag,
		&t.CreatedAt,
	)
	if err != nil {
		if checkNoRows(err) {
			return nil, domain.ErrTurnNotFound
		}
		return nil, err
	}

	t.Role = models.TurnRole(role)
	t.EmotionTag = getString(emotionTag)
	return &t, nil
}

func (r *TurnRepository) scanTurns(rows pgx.Rows) ([]*models.Turn, error) {
	turns := make([]*models.Turn, 0)

	for rows.Next() {
		var t models.Turn
		var role string
		var emotionTag sql.NullString

		err := rows.Scan(
			&t.ID,
			&t.SessionID,
			&t.UserID,
			&role,
			&t.Content,
			&emotionTag,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		t.Role = models.TurnRole(role)
		t.EmotionTag = getString(emotionTag)
		turns = append(turns, &t)
	}

	return turns, rows.Err()
}
