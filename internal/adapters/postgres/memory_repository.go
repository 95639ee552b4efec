package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

type MemoryRepository struct {
	BaseRepository
}

func NewMemoryRepository(pool *pgxpool.Pool) *MemoryRepository {
	return &MemoryRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, memory *models.Memory) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	metadata, err := marshalMetadata(memory.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO evermind_memories (
			id, user_id, content, valence, status, session_id, turn_id,
			metadata, created_at, committed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)`

	_, err = r.conn(ctx).Exec(ctx, query,
		memory.ID,
		memory.UserID,
		memory.Content,
		memory.Valence,
		string(memory.Status),
		nullString(memory.SessionID),
		nullString(memory.TurnID),
		metadata,
		memory.CreatedAt,
		memory.CommittedAt,
	)

	return err
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.Memory, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, content, valence, status, session_id, turn_id,
		       metadata, created_at, committed_at
		FROM evermind_memories
		WHERE id = $1`

	return r.scanMemory(r.conn(ctx).QueryRow(ctx, query, id))
}

func (r *MemoryRepository) GetByIDs(ctx context.Context, userID string, ids []string) ([]*models.Memory, error) {
	if len(ids) == 0 {
		return []*models.Memory{}, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, content, valence, status, session_id, turn_id,
		       metadata, created_at, committed_at
		FROM evermind_memories
		WHERE user_id = $1 AND id = ANY($2)`

	rows, err := r.conn(ctx).Query(ctx, query, userID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanMemories(rows)
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, filter ports.MemoryFilter) ([]*models.Memory, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error

	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query := `
			SELECT id, user_id, content, valence, status, session_id, turn_id,
			       metadata, created_at, committed_at
			FROM evermind_memories
			WHERE user_id = $1 AND status = ANY($2)
			ORDER BY created_at DESC
			LIMIT $3 OFFSET $4`
		rows, err = r.conn(ctx).Query(ctx, query, userID, statuses, limit, filter.Offset)
	} else {
		query := `
			SELECT id, user_id, content, valence, status, session_id, turn_id,
			       metadata, created_at, committed_at
			FROM evermind_memories
			WHERE user_id = $1 AND status != 'deleted'
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`
		rows, err = r.conn(ctx).Query(ctx, query, userID, limit, filter.Offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanMemories(rows)
}

// GetRecentCommitted returns the newest committed memories for conflict
// scanning against a freshly extracted statement.
func (r *MemoryRepository) GetRecentCommitted(ctx context.Context, userID string, limit int) ([]*models.Memory, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, content, valence, status, session_id, turn_id,
		       metadata, created_at, committed_at
		FROM evermind_memories
		WHERE user_id = $1 AND status = 'committed'
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.conn(ctx).Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanMemories(rows)
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, status models.MemoryStatus, committedAt *time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE evermind_memories
		SET status = $2,
			committed_at = COALESCE($3, committed_at)
		WHERE id = $1`

	tag, err := r.conn(ctx).Exec(ctx, query, id, string(status), committedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMemoryNotFound
	}
	return nil
}

func (r *MemoryRepository) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	data, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE evermind_memories
		SET metadata = $2
		WHERE id = $1`

	tag, err := r.conn(ctx).Exec(ctx, query, id, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMemoryNotFound
	}
	return nil
}

func (r *MemoryRepository) scanMemory(row pgx.Row) (*models.Memory, error) {
	var m models.Memory
	var status string
	var sessionID, turnID sql.NullString
	var metadata []byte

	err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.Content,
		&m.Valence,
		&status,
		&sessionID,
		&turnID,
		&metadata,
		&m.CreatedAt,
		&m.CommittedAt,
	)
	if err != nil {
		if checkNoRows(err) {
			return nil, domain.ErrMemoryNotFound
		}
		return nil, err
	}

	m.Status = models.MemoryStatus(status)
	m.SessionID = getString(sessionID)
	m.TurnID = getString(turnID)
	m.Metadata, err = unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (r *MemoryRepository) scanMemories(rows pgx.Rows) ([]*models.Memory, error) {
	memories := make([]*models.Memory, 0)

	for rows.Next() {
		var m models.Memory
		var status string
		var sessionID, turnID sql.NullString
		var metadata []byte

		err := rows.Scan(
			&m.ID,
			&m.UserID,
			&m.Content,
			&m.Valence,
			&status,
			&sessionID,
			&turnID,
			&metadata,
			&m.CreatedAt,
			&m.CommittedAt,
		)
		if err != nil {
			return nil, err
		}

		m.Status = models.MemoryStatus(status)
		m.SessionID = getString(sessionID)
		m.TurnID = getString(turnID)
		m.Metadata, err = unmarshalMetadata(metadata)
		if err != nil {
			return nil, err
		}

		memories = append(memories, &m)
	}

	return memories, rows.Err()
}
