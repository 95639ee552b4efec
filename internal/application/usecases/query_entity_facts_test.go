package usecases

import (
	"context"
	"errors"
	"testing"

	"github.com/evermind-ai/evermind/internal/application/services"
	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

func newFactsFixture() (*mockGraphStore, *QueryEntityFacts) {
	graph := newMockGraphStore()
	retrieval := services.NewRetrievalService(
		newMockEmbedding(4), newMockVectorIndex(), graph, newMockMemoryRepo(),
		nil, services.NewEmotionService(), services.RetrievalOptions{},
	)
	return graph, NewQueryEntityFacts(retrieval)
}

func TestQueryEntityFacts_ReturnsFactsAroundAnchor(t *testing.T) {
	graph, uc := newFactsFixture()

	ent := models.NewEntity("u1", "沈阳", models.EntityTypeLocation)
	graph.mu.Lock()
	graph.entities[ent.ID] = ent
	graph.facts = []models.GraphFact{
		{
			EntityID:   models.UserEntityID,
			EntityName: "user",
			Relation:   models.RelationLivesIn,
			TargetID:   ent.ID,
			TargetName: "沈阳",
			Hop:        1,
			Weight:     0.8,
		},
	}
	graph.mu.Unlock()

	out, err := uc.Execute(context.Background(), &ports.EntityFactsInput{UserID: "u1", Query: "沈阳的冬天"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Anchors) != 2 || out.Anchors[0] != "沈阳" || out.Anchors[1] != "冬天" {
		t.Errorf("unexpected anchors: %v", out.Anchors)
	}
	if len(out.Facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(out.Facts))
	}
	if out.Facts[0].Relation != models.RelationLivesIn || out.Facts[0].TargetName != "沈阳" {
		t.Errorf("unexpected fact: %+v", out.Facts[0])
	}
}

func TestQueryEntityFacts_UnknownAnchorGivesAnchorsWithoutFacts(t *testing.T) {
	_, uc := newFactsFixture()

	out, err := uc.Execute(context.Background(), &ports.EntityFactsInput{UserID: "u1", Query: "杭州的天气"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Anchors) == 0 {
		t.Error("anchors should still be reported when the graph has no match")
	}
	if out.Facts == nil || len(out.Facts) != 0 {
		t.Errorf("expected an empty fact list, got %v", out.Facts)
	}
}

func TestQueryEntityFacts_NoAnchorsYieldsEmptyOutput(t *testing.T) {
	_, uc := newFactsFixture()

	out, err := uc.Execute(context.Background(), &ports.EntityFactsInput{UserID: "u1", Query: "how are you doing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Anchors == nil || len(out.Anchors) != 0 {
		t.Errorf("expected empty anchors, got %v", out.Anchors)
	}
	if out.Facts == nil || len(out.Facts) != 0 {
		t.Errorf("expected empty facts, got %v", out.Facts)
	}
}

func TestQueryEntityFacts_EmptyQueryRejected(t *testing.T) {
	_, uc := newFactsFixture()

	_, err := uc.Execute(context.Background(), &ports.EntityFactsInput{UserID: "u1", Query: "   "})
	if !errors.Is(err, domain.ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestQueryEntityFacts_MissingUserRejected(t *testing.T) {
	_, uc := newFactsFixture()

	_, err := uc.Execute(context.Background(), &ports.EntityFactsInput{Query: "沈阳"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	var derr *domain.DomainError
	if !errors.As(err, &derr) || derr.Code != domain.CodeInvalidInput {
		t.Errorf("expected INVALID_INPUT code, got %v", err)
	}
}

func TestQueryEntityFacts_GraphErrorSurfaces(t *testing.T) {
	graph, uc := newFactsFixture()
	graph.mu.Lock()
	graph.err = errors.New("bolt connection reset")
	graph.mu.Unlock()

	if _, err := uc.Execute(context.Background(), &ports.EntityFactsInput{UserID: "u1", Query: "沈阳的冬天"}); err == nil {
		t.Fatal("expected the graph error to surface")
	}
}
