package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/evermind-ai/evermind/internal/ports"
)

// VectorIndex stores memory embeddings in a dedicated pgvector table, kept
// separate from the relational memory rows so embedding writes can lag the
// transactional write path.
type VectorIndex struct {
	BaseRepository
}

func NewVectorIndex(pool *pgxpool.Pool) *VectorIndex {
	return &VectorIndex{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (v *VectorIndex) Upsert(ctx context.Context, record *ports.VectorRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO evermind_memory_vectors (
			id, user_id, embedding, content, valence, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		ON CONFLICT (id) DO UPDATE
		SET embedding = EXCLUDED.embedding,
			content = EXCLUDED.content,
			valence = EXCLUDED.valence`

	_, err := v.conn(ctx).Exec(ctx, query,
		record.ID,
		record.UserID,
		pgvector.NewVector(record.Embedding),
		record.Content,
		record.Valence,
		record.CreatedAt,
	)

	return err
}

// Search returns the topK nearest vectors for the user by cosine similarity.
func (v *VectorIndex) Search(ctx context.Context, userID string, embedding []float32, topK int) ([]ports.VectorHit, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, content, valence, created_at,
		       1 - (embedding <=> $2) AS cosine
		FROM evermind_memory_vectors
		WHERE user_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3`

	rows, err := v.conn(ctx).Query(ctx, query, userID, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make([]ports.VectorHit, 0, topK)
	for rows.Next() {
		var h ports.VectorHit
		if err := rows.Scan(&h.ID, &h.Content, &h.Valence, &h.CreatedAt, &h.Cosine); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}

	return hits, rows.Err()
}
