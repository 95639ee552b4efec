package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaDDL is the full relational layout: conversation tables, the memory
// fan-out (memories + vectors + outbox), idempotency, affinity history,
// conflicts, and the graph. Every statement is idempotent so Migrate can run
// on every deploy. %d is the embedding dimension.
const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS evermind_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_evermind_sessions_user
	ON evermind_sessions (user_id, started_at DESC);

CREATE TABLE IF NOT EXISTS evermind_turns (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES evermind_sessions(id),
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	emotion_tag TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evermind_turns_session
	ON evermind_turns (session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_evermind_turns_user_role
	ON evermind_turns (user_id, role, created_at DESC);

CREATE TABLE IF NOT EXISTS evermind_memories (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	valence DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	session_id TEXT,
	turn_id TEXT,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	committed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_evermind_memories_user_status
	ON evermind_memories (user_id, status, created_at DESC);

CREATE TABLE IF NOT EXISTS evermind_memory_vectors (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	content TEXT NOT NULL,
	valence DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evermind_memory_vectors_user
	ON evermind_memory_vectors (user_id);
CREATE INDEX IF NOT EXISTS idx_evermind_memory_vectors_embedding
	ON evermind_memory_vectors USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS evermind_outbox_events (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL UNIQUE,
	memory_id TEXT,
	payload JSONB NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INT NOT NULL DEFAULT 0,
	idempotency_key TEXT,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	next_attempt_at TIMESTAMPTZ NOT NULL,
	processing_started_at TIMESTAMPTZ,
	vector_written_at TIMESTAMPTZ,
	graph_written_at TIMESTAMPTZ,
	processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_evermind_outbox_claim
	ON evermind_outbox_events (status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_evermind_outbox_memory
	ON evermind_outbox_events (memory_id);

CREATE TABLE IF NOT EXISTS evermind_idempotency_keys (
	user_id TEXT NOT NULL,
	key TEXT NOT NULL,
	turn_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	response JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, key)
);
CREATE INDEX IF NOT EXISTS idx_evermind_idempotency_expiry
	ON evermind_idempotency_keys (expires_at);

CREATE TABLE IF NOT EXISTS evermind_affinity_history (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	delta DOUBLE PRECISION NOT NULL,
	state TEXT NOT NULL,
	turn_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evermind_affinity_user
	ON evermind_affinity_history (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS evermind_conflict_records (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	memory_id_a TEXT NOT NULL,
	memory_id_b TEXT NOT NULL,
	topic TEXT NOT NULL,
	indicator TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	resolution TEXT NOT NULL DEFAULT 'unresolved',
	superseded_by TEXT,
	detected_at TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_evermind_conflicts_user
	ON evermind_conflict_records (user_id, detected_at DESC);

CREATE TABLE IF NOT EXISTS evermind_graph_entities (
	user_id TEXT NOT NULL,
	id TEXT NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	mention_count INT NOT NULL DEFAULT 1,
	attributes JSONB,
	first_mentioned_at TIMESTAMPTZ NOT NULL,
	last_mentioned_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, id)
);
CREATE INDEX IF NOT EXISTS idx_evermind_entities_name
	ON evermind_graph_entities (user_id, lower(name));

CREATE TABLE IF NOT EXISTS evermind_graph_edges (
	user_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	decay_rate DOUBLE PRECISION NOT NULL DEFAULT 0.03,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	provenance JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, source_id, target_id, relation_type)
);
CREATE INDEX IF NOT EXISTS idx_evermind_edges_source
	ON evermind_graph_edges (user_id, source_id);
CREATE INDEX IF NOT EXISTS idx_evermind_edges_target
	ON evermind_graph_edges (user_id, target_id);
CREATE INDEX IF NOT EXISTS idx_evermind_edges_updated
	ON evermind_graph_edges (updated_at);
CREATE INDEX IF NOT EXISTS idx_evermind_edges_provenance
	ON evermind_graph_edges USING gin (provenance);
`

// Migrate applies the schema. Safe to run repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDims int) error {
	if embeddingDims <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", embeddingDims)
	}
	ddl := fmt.Sprintf(schemaDDL, embeddingDims)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
