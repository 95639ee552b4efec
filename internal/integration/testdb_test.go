//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evermind-ai/evermind/internal/adapters/postgres"
)

// testEmbeddingDims keeps the pgvector column small; the fake embedding
// service produces vectors of the same width.
const testEmbeddingDims = 8

// evermindTables lists every table the schema creates, in drop order.
var evermindTables = []string{
	"evermind_graph_edges",
	"evermind_graph_entities",
	"evermind_conflict_records",
	"evermind_affinity_history",
	"evermind_idempotency_keys",
	"evermind_outbox_events",
	"evermind_memory_vectors",
	"evermind_memories",
	"evermind_turns",
	"evermind_sessions",
}

// setupTestDB connects to TEST_DATABASE_URL and rebuilds the schema from
// scratch so every test starts clean. The database needs the pgvector
// extension available.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("failed to ping test database: %v", err)
	}

	for _, table := range evermindTables {
		if _, err := pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
			pool.Close()
			t.Fatalf("failed to drop %s: %v", table, err)
		}
	}

	if err := postgres.Migrate(ctx, pool, testEmbeddingDims); err != nil {
		pool.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}

// countRows is a shorthand for the single-value count queries the
// assertions lean on.
func countRows(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()

	var n int
	if err := pool.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return n
}
