package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type BaseRepository struct {
	pool *pgxpool.Pool
}

func NewBaseRepository(pool *pgxpool.Pool) BaseRepository {
	return BaseRepository{pool: pool}
}

func (r *BaseRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// conn returns the ambient transaction when one is in the context, else the
// pool. Repositories never hold connections across calls.
func (r *BaseRepository) conn(ctx context.Context) dbConn {
	return GetConn(ctx, r.pool)
}
