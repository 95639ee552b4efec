//go:build integration

package integration

import (
	"context"
	"strings"
	"testing"

	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// TestMemoryFlow_WriteThenReadFact walks the canonical path: a statement
// turn leaves a pending memory behind one outbox event, the drainer fans it
// out to the vector index and the graph, and a later question reads the fact
// back without writing anything.
func TestMemoryFlow_WriteThenReadFact(t *testing.T) {
	pool := setupTestDB(t)
	e := newEnv(t, pool, envConfig{})
	ctx := context.Background()

	out, err := e.process.Execute(ctx, &ports.ProcessTurnInput{
		UserID:        "u1",
		Text:          "我和二丫去过沈阳旅游",
		UserInitiated: true,
	})
	if err != nil {
		t.Fatalf("process turn: %v", err)
	}
	if out.Reply == "" {
		t.Error("expected a reply")
	}
	if out.SessionID == "" {
		t.Error("expected a session to be created")
	}
	if out.MemoryStatus != "pending" {
		t.Errorf("expected memory_status pending, got %s", out.MemoryStatus)
	}

	if n := countRows(t, pool, `SELECT COUNT(*) FROM evermind_outbox_events WHERE status = 'pending'`); n != 1 {
		t.Fatalf("expected 1 pending outbox event, got %d", n)
	}
	if len(e.notifier.pending) != 1 {
		t.Fatalf("expected 1 pending notification, got %d", len(e.notifier.pending))
	}
	memoryID := e.notifier.pending[0]

	processed, err := e.drainer.DrainOnce(ctx, 10)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 event processed, got %d", processed)
	}

	memory, err := e.memories.GetByID(ctx, memoryID)
	if err != nil {
		t.Fatalf("load memory: %v", err)
	}
	if memory.Status != models.MemoryStatusCommitted {
		t.Errorf("expected memory committed, got %s", memory.Status)
	}
	if n := countRows(t, pool, `SELECT COUNT(*) FROM evermind_memory_vectors WHERE id = $1`, memoryID); n != 1 {
		t.Errorf("expected 1 vector row for the memory, got %d", n)
	}
	if n := countRows(t, pool, `SELECT COUNT(*) FROM evermind_graph_entities WHERE user_id = 'u1'`); n < 3 {
		t.Errorf("expected at least user, companion and city entities, got %d", n)
	}

	facts, err := e.facts.Execute(ctx, &ports.EntityFactsInput{
		UserID:  "u1",
		Query:   "谁去沈阳旅游过",
		MaxHops: 3,
	})
	if err != nil {
		t.Fatalf("query facts: %v", err)
	}
	if len(facts.Facts) == 0 {
		t.Fatal("expected graph facts around 沈阳")
	}
	foundCompanion := false
	for _, f := range facts.Facts {
		if strings.Contains(f.EntityName, "二丫") || strings.Contains(f.TargetName, "二丫") {
			foundCompanion = true
			break
		}
	}
	if !foundCompanion {
		t.Errorf("expected a fact mentioning 二丫, got %+v", facts.Facts)
	}
}

// TestMemoryFlow_QuestionsAreReadOnly feeds a question turn and checks that
// nothing lands in the outbox or the graph: questions retrieve, they do not
// memorize.
func TestMemoryFlow_QuestionsAreReadOnly(t *testing.T) {
	pool := setupTestDB(t)
	e := newEnv(t, pool, envConfig{})
	ctx := context.Background()

	out, err := e.process.Execute(ctx, &ports.ProcessTurnInput{
		UserID: "u1",
		Text:   "我和二丫去过沈阳旅游",
	})
	if err != nil {
		t.Fatalf("statement turn: %v", err)
	}
	if _, err := e.drainer.DrainOnce(ctx, 10); err != nil {
		t.Fatalf("drain: %v", err)
	}

	eventsBefore := countRows(t, pool, `SELECT COUNT(*) FROM evermind_outbox_events`)
	edgesBefore := countRows(t, pool, `SELECT COUNT(*) FROM evermind_graph_edges WHERE user_id = 'u1'`)

	question, err := e.process.Execute(ctx, &ports.ProcessTurnInput{
		UserID:    "u1",
		SessionID: out.SessionID,
		Text:      "谁去沈阳旅游过",
	})
	if err != nil {
		t.Fatalf("question turn: %v", err)
	}
	if question.MemoryStatus != "committed" {
		t.Errorf("question should not leave a pending memory, got status %s", question.MemoryStatus)
	}

	if n := countRows(t, pool, `SELECT COUNT(*) FROM evermind_outbox_events`); n != eventsBefore {
		t.Errorf("question enqueued an outbox event: %d -> %d", eventsBefore, n)
	}
	if n := countRows(t, pool, `SELECT COUNT(*) FROM evermind_graph_edges WHERE user_id = 'u1'`); n != edgesBefore {
		t.Errorf("question mutated the graph: %d -> %d edges", edgesBefore, n)
	}
}
