package services

import (
	"context"
	"log"
	"time"

	"github.com/evermind-ai/evermind/internal/domain/models"
)

// ExtractionResult bundles the critic-filtered IR with its provenance
// stats and the overall confidence the drainer gates on.
type ExtractionResult struct {
	IR      *models.IR
	Stats   models.CriticStats
	Overall float64
}

// Sufficient reports whether the extraction justifies a graph write.
func (r *ExtractionResult) Sufficient() bool {
	return r.IR.Sufficient()
}

// ExtractionService runs the full pipeline: rule extraction, a bounded
// oracle pass, merge, structured-fact augmentation, critic filter. The
// oracle is optional; without it the system operates rule-only.
type ExtractionService struct {
	rules  *RuleExtractor
	oracle *OracleExtractor
	facts  *StructuredFactExtractor
	critic *Critic
}

func NewExtractionService(rules *RuleExtractor, oracle *OracleExtractor, facts *StructuredFactExtractor, critic *Critic) *ExtractionService {
	return &ExtractionService{
		rules:  rules,
		oracle: oracle,
		facts:  facts,
		critic: critic,
	}
}

// Extract never fails outright: oracle errors degrade to rule-only output,
// and an empty IR with overall 0 is a valid result the caller quarantines.
func (s *ExtractionService) Extract(ctx context.Context, text string, observedAt time.Time, strict bool) *ExtractionResult {
	ruleIR := s.rules.Extract(text, observedAt)

	var oracleIR *models.IR
	if s.oracle != nil {
		var err error
		oracleIR, err = s.oracle.Extract(ctx, text, observedAt)
		if err != nil {
			log.Printf("warning: extraction: oracle unavailable, continuing rule-only: %v", err)
			oracleIR = nil
		}
	}

	merged := mergeIR(ruleIR, oracleIR)
	merged.Metadata = models.IRMetadata{
		Source:            models.IRSourceMerged,
		OverallConfidence: maxOverall(ruleIR, oracleIR),
		Timestamp:         observedAt,
	}

	s.augmentStructuredFacts(merged, text, observedAt)

	kept, stats := s.critic.Filter(merged, strict)
	return &ExtractionResult{
		IR:      kept,
		Stats:   stats,
		Overall: kept.Metadata.OverallConfidence,
	}
}

// mergeIR unions entities by id (max confidence on collision) and relations
// by (source, target, type) taking the max confidence.
func mergeIR(a, b *models.IR) *models.IR {
	merged := &models.IR{}

	entityIdx := make(map[string]int)
	addEntities := func(src *models.IR) {
		if src == nil {
			return
		}
		for _, e := range src.Entities {
			if i, ok := entityIdx[e.ID]; ok {
				if e.Confidence > merged.Entities[i].Confidence {
					merged.Entities[i].Confidence = e.Confidence
				}
				if merged.Entities[i].Attributes == nil {
					merged.Entities[i].Attributes = e.Attributes
				}
				continue
			}
			entityIdx[e.ID] = len(merged.Entities)
			merged.Entities = append(merged.Entities, e)
		}
	}

	type relKey struct {
		source, target string
		typ            models.RelationType
	}
	relIdx := make(map[relKey]int)
	addRelations := func(src *models.IR) {
		if src == nil {
			return
		}
		for _, r := range src.Relations {
			key := relKey{r.SourceID, r.TargetID, r.Type}
			if i, ok := relIdx[key]; ok {
				if r.Confidence > merged.Relations[i].Confidence {
					merged.Relations[i].Confidence = r.Confidence
				}
				continue
			}
			relIdx[key] = len(merged.Relations)
			merged.Relations = append(merged.Relations, r)
		}
	}

	addEntities(a)
	addEntities(b)
	addRelations(a)
	addRelations(b)
	return merged
}

func (s *ExtractionService) augmentStructuredFacts(ir *models.IR, text string, observedAt time.Time) {
	if s.facts == nil {
		return
	}

	// Facts anchor to the utterance's event entity when one exists,
	// otherwise to the user node.
	anchorID := models.UserEntityID
	for _, e := range ir.Entities {
		if e.Type == models.EntityTypeEvent {
			anchorID = e.ID
			break
		}
	}

	entities, relations := s.facts.Extract(text, anchorID, observedAt)
	for _, e := range entities {
		if !ir.HasEntity(e.ID) {
			ir.Entities = append(ir.Entities, e)
		}
	}
	for _, r := range relations {
		dup := false
		for _, existing := range ir.Relations {
			if existing.SourceID == r.SourceID && existing.TargetID == r.TargetID && existing.Type == r.Type {
				dup = true
				break
			}
		}
		if !dup {
			ir.Relations = append(ir.Relations, r)
		}
	}
}

func maxOverall(irs ...*models.IR) float64 {
	overall := 0.0
	for _, ir := range irs {
		if ir != nil && ir.Metadata.OverallConfidence > overall {
			overall = ir.Metadata.OverallConfidence
		}
	}
	return overall
}
