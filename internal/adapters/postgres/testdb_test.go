package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
)

// setupMockContext returns a context carrying the mock as the active
// transaction, so conn() hands queries to the mock instead of a pool.
func setupMockContext(mock pgxmock.PgxPoolIface) context.Context {
	return context.WithValue(context.Background(), txKey, mock)
}

// setupTestDB connects to the integration test database, applies the schema,
// and registers cleanup. Tests calling this should also gate themselves with
// testing.Short().
//
// The connection is taken from:
//   - TEST_DATABASE_URL: complete database URL (takes precedence)
//   - PGHOST / PGPORT / PGUSER / PGDATABASE otherwise
//
// The database needs the pgvector extension available.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := getTestDatabaseURL()
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := Migrate(context.Background(), pool, 1024); err != nil {
		pool.Close()
		t.Fatalf("Failed to apply schema: %v", err)
	}

	cleanupTestData(t, pool)

	t.Cleanup(func() {
		cleanupTestData(t, pool)
		pool.Close()
	})

	return pool
}

func getTestDatabaseURL() string {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}

	pgHost := os.Getenv("PGHOST")
	pgPort := os.Getenv("PGPORT")
	pgUser := os.Getenv("PGUSER")
	pgDatabase := os.Getenv("PGDATABASE")

	if pgHost == "" {
		return ""
	}
	if pgPort == "" {
		pgPort = "5432"
	}
	if pgUser == "" {
		pgUser = "postgres"
	}
	if pgDatabase == "" {
		pgDatabase = "evermind_test"
	}

	// A leading slash means PGHOST is a Unix socket directory.
	if pgHost[0] == '/' {
		return fmt.Sprintf("postgres://%s@:%s/%s?host=%s&sslmode=disable",
			pgUser, pgPort, pgDatabase, pgHost)
	}

	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=disable",
		pgUser, pgHost, pgPort, pgDatabase)
}

// cleanupTestData removes rows created by integration tests. All tests use
// user ids with the test- prefix, so the sweep is keyed on that.
func cleanupTestData(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()

	// Turns reference sessions, so they go first.
	statements := []string{
		`DELETE FROM evermind_turns WHERE user_id LIKE 'test-%'`,
		`DELETE FROM evermind_sessions WHERE user_id LIKE 'test-%'`,
		`DELETE FROM evermind_memories WHERE user_id LIKE 'test-%'`,
		`DELETE FROM evermind_memory_vectors WHERE user_id LIKE 'test-%'`,
		`DELETE FROM evermind_outbox_events WHERE payload->>'user_id' LIKE 'test-%'`,
		`DELETE FROM evermind_idempotency_keys WHERE user_id LIKE 'test-%'`,
		`DELETE FROM evermind_affinity_history WHERE user_id LIKE 'test-%'`,
		`DELETE FROM evermind_conflict_records WHERE user_id LIKE 'test-%'`,
		`DELETE FROM evermind_graph_edges WHERE user_id LIKE 'test-%'`,
		`DELETE FROM evermind_graph_entities WHERE user_id LIKE 'test-%'`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Logf("Warning: failed to clean up test data: %v", err)
		}
	}
}
