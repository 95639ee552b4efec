package services

import (
	"strings"

	"github.com/evermind-ai/evermind/internal/adapters/metrics"
	"github.com/evermind-ai/evermind/internal/domain/models"
)

// Critic gates extractor output before it may touch the graph. Everything
// the extractors emit is a candidate; only members that pass the closed
// vocabulary and the confidence threshold survive.
type Critic struct {
	threshold       float64
	strictThreshold float64
}

func NewCritic(threshold, strictThreshold float64) *Critic {
	if threshold <= 0 {
		threshold = 0.5
	}
	if strictThreshold < threshold {
		strictThreshold = 0.7
	}
	return &Critic{threshold: threshold, strictThreshold: strictThreshold}
}

// Filter returns a new IR holding only the members that pass. strict raises
// the confidence bar, used for evaluation traffic. The user entity is always
// considered present for endpoint checks, whether or not the extractor
// emitted it.
func (c *Critic) Filter(ir *models.IR, strict bool) (*models.IR, models.CriticStats) {
	tau := c.threshold
	if strict {
		tau = c.strictThreshold
	}

	stats := models.CriticStats{
		EntitiesIn:  len(ir.Entities),
		RelationsIn: len(ir.Relations),
	}

	kept := &models.IR{Metadata: ir.Metadata}
	seenEntities := make(map[string]struct{}, len(ir.Entities))

	for _, e := range ir.Entities {
		switch {
		case strings.TrimSpace(e.Name) == "":
			stats.EntityEmptyName++
			metrics.CriticDropsTotal.WithLabelValues("entity", "empty_name").Inc()
		case !models.ValidEntityType(e.Type):
			stats.EntityBadType++
			metrics.CriticDropsTotal.WithLabelValues("entity", "bad_type").Inc()
		case e.Confidence < tau:
			stats.EntityLowConfidence++
			metrics.CriticDropsTotal.WithLabelValues("entity", "low_confidence").Inc()
		default:
			if _, dup := seenEntities[e.ID]; dup {
				stats.EntityDuplicate++
				metrics.CriticDropsTotal.WithLabelValues("entity", "duplicate").Inc()
				continue
			}
			seenEntities[e.ID] = struct{}{}
			kept.Entities = append(kept.Entities, e)
		}
	}

	// Endpoint resolution treats "user" as always present.
	hasEndpoint := func(id string) bool {
		if id == models.UserEntityID {
			return true
		}
		_, ok := seenEntities[id]
		return ok
	}

	type relKey struct {
		source, target string
		typ            models.RelationType
	}
	seenRelations := make(map[relKey]struct{}, len(ir.Relations))

	for _, r := range ir.Relations {
		switch {
		case r.SourceID == r.TargetID:
			stats.RelationSelfLoop++
			metrics.CriticDropsTotal.WithLabelValues("relation", "self_loop").Inc()
		case !models.ValidRelationType(r.Type):
			stats.RelationBadType++
			metrics.CriticDropsTotal.WithLabelValues("relation", "bad_type").Inc()
		case r.Confidence < tau:
			stats.RelationLowConfidence++
			metrics.CriticDropsTotal.WithLabelValues("relation", "low_confidence").Inc()
		case !hasEndpoint(r.SourceID) || !hasEndpoint(r.TargetID):
			stats.RelationDangling++
			metrics.CriticDropsTotal.WithLabelValues("relation", "dangling").Inc()
		default:
			key := relKey{r.SourceID, r.TargetID, r.Type}
			if _, dup := seenRelations[key]; dup {
				stats.RelationDuplicate++
				metrics.CriticDropsTotal.WithLabelValues("relation", "duplicate").Inc()
				continue
			}
			seenRelations[key] = struct{}{}
			kept.Relations = append(kept.Relations, r)
		}
	}

	stats.EntitiesKept = len(kept.Entities)
	stats.RelationsKept = len(kept.Relations)
	return kept, stats
}
