package models

import (
	"time"
)

// IREntity is one entity candidate in the intermediate representation
// produced by extraction, before the critic has filtered it.
type IREntity struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       EntityType     `json:"type"`
	Confidence float64        `json:"confidence"`
	IsUser     bool           `json:"is_user,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// IRRelation is one relation candidate between two IR entities.
type IRRelation struct {
	SourceID   string       `json:"source_id"`
	TargetID   string       `json:"target_id"`
	Type       RelationType `json:"type"`
	Confidence float64      `json:"confidence"`
	Desc       string       `json:"desc,omitempty"`
	Weight     float64      `json:"weight,omitempty"`
}

// IRMetadata records where an IR came from and how much to trust it.
type IRMetadata struct {
	Source            string    `json:"source"`
	OverallConfidence float64   `json:"overall_confidence"`
	Timestamp         time.Time `json:"timestamp"`
}

// IR is the structured extract of one utterance: entity and relation
// candidates plus provenance metadata. The critic turns an open IR into a
// closed one whose every member passes the vocabulary and confidence gates.
type IR struct {
	Entities  []IREntity `json:"entities"`
	Relations []IRRelation `json:"relations"`
	Metadata  IRMetadata `json:"metadata"`
}

// IR sources, in merge-precedence order.
const (
	IRSourceRules  = "rules"
	IRSourceOracle = "oracle"
	IRSourceMerged = "merged"
)

// Sufficient reports whether the IR carries at least one relation, which is
// the bar for a graph write.
func (ir *IR) Sufficient() bool {
	return len(ir.Relations) > 0
}

// HasEntity reports whether id is present in the entity list.
func (ir *IR) HasEntity(id string) bool {
	for i := range ir.Entities {
		if ir.Entities[i].ID == id {
			return true
		}
	}
	return false
}

// CriticStats counts dropped IR members by reason, for observability.
type CriticStats struct {
	EntitiesIn           int `json:"entities_in"`
	EntitiesKept         int `json:"entities_kept"`
	EntityLowConfidence  int `json:"entity_low_confidence"`
	EntityBadType        int `json:"entity_bad_type"`
	EntityDuplicate      int `json:"entity_duplicate"`
	EntityEmptyName      int `json:"entity_empty_name"`
	RelationsIn          int `json:"relations_in"`
	RelationsKept        int `json:"relations_kept"`
	RelationSelfLoop     int `json:"relation_self_loop"`
	RelationLowConfidence int `json:"relation_low_confidence"`
	RelationBadType      int `json:"relation_bad_type"`
	RelationDangling     int `json:"relation_dangling"`
	RelationDuplicate    int `json:"relation_duplicate"`
}
