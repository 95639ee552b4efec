package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/evermind-ai/evermind/internal/adapters/metrics"
	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// DefaultDecayPageSize is how many edges one decay transaction touches.
const DefaultDecayPageSize = 1000

// GraphMergeStats summarizes one IR application.
type GraphMergeStats struct {
	EntitiesMerged   int
	RelationsMerged  int
	SelfLoopsSkipped int
}

// GraphService turns critic-approved IRs into graph writes and owns the
// decay pass. All writes are MERGEs, so replaying the same IR after a
// drainer crash converges instead of duplicating.
type GraphService struct {
	graph     ports.GraphStore
	decayRate float64 // stamped on new edges; 0 falls back to the model default
}

func NewGraphService(graph ports.GraphStore, decayRate float64) *GraphService {
	if decayRate <= 0 {
		decayRate = models.DefaultDecayRate
	}
	return &GraphService{graph: graph, decayRate: decayRate}
}

// MergeIR writes ir into userID's graph. memoryID lands in the provenance
// of every edge so reranking can trace weight back to memories. An IR with
// no relations writes nothing; entities only enter the graph when something
// connects them.
func (s *GraphService) MergeIR(ctx context.Context, userID string, ir *models.IR, memoryID string, observedAt time.Time) (*GraphMergeStats, error) {
	stats := &GraphMergeStats{}
	if ir == nil || !ir.Sufficient() {
		return stats, nil
	}
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	if err := s.graph.MergeEntity(ctx, models.UserEntity(userID)); err != nil {
		return stats, err
	}

	for i := range ir.Entities {
		ent := &ir.Entities[i]
		if ent.IsUser || ent.ID == models.UserEntityID {
			continue
		}
		node := &models.Entity{
			ID:               ent.ID,
			UserID:           userID,
			Name:             ent.Name,
			Type:             ent.Type,
			MentionCount:     1,
			Attributes:       ent.Attributes,
			FirstMentionedAt: observedAt,
			LastMentionedAt:  observedAt,
		}
		if node.ID == "" {
			node.ID = models.CanonicalEntityID(ent.Name)
		}
		if node.Attributes == nil {
			node.Attributes = make(map[string]any)
		}
		if err := s.graph.MergeEntity(ctx, node); err != nil {
			return stats, err
		}
		stats.EntitiesMerged++
	}

	for i := range ir.Relations {
		r := &ir.Relations[i]
		rel := models.NewRelation(userID, r.SourceID, r.TargetID, r.Type)
		rel.DecayRate = s.decayRate
		if rel.IsSelfLoop() {
			stats.SelfLoopsSkipped++
			continue
		}
		if r.Weight > 0 {
			rel.Weight = r.Weight
		}
		if r.Confidence > 0 {
			rel.Confidence = r.Confidence
		}
		rel.AddProvenance(memoryID)
		if err := s.graph.MergeRelation(ctx, rel); err != nil {
			if errors.Is(err, domain.ErrSelfLoop) {
				stats.SelfLoopsSkipped++
				continue
			}
			return stats, err
		}
		stats.RelationsMerged++
	}

	return stats, nil
}

// Decay runs one full decay sweep and reports how many edges were rewritten.
func (s *GraphService) Decay(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = DefaultDecayPageSize
	}
	n, err := s.graph.ApplyDecay(ctx, pageSize)
	if err != nil {
		return 0, err
	}
	metrics.GraphEdgesDecayed.Add(float64(n))
	log.Printf("info: graph: decay sweep rewrote %d edges", n)
	return n, nil
}
