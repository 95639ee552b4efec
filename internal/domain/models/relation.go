package models

import (
	"math"
	"time"
)

type RelationType string

// Closed relation vocabulary. Extractor output that does not map into this
// set is dropped by the IR critic.
const (
	RelationFamily          RelationType = "FAMILY"
	RelationParentOf        RelationType = "PARENT_OF"
	RelationChildOf         RelationType = "CHILD_OF"
	RelationSiblingOf       RelationType = "SIBLING_OF"
	RelationCousinOf        RelationType = "COUSIN_OF"
	RelationFriendOf        RelationType = "FRIEND_OF"
	RelationColleagueOf     RelationType = "COLLEAGUE_OF"
	RelationClassmateOf     RelationType = "CLASSMATE_OF"
	RelationFrom            RelationType = "FROM"
	RelationLivesIn         RelationType = "LIVES_IN"
	RelationWorksAt         RelationType = "WORKS_AT"
	RelationLikes           RelationType = "LIKES"
	RelationDislikes        RelationType = "DISLIKES"
	RelationHappenedAt      RelationType = "HAPPENED_AT"
	RelationHappenedBetween RelationType = "HAPPENED_BETWEEN"
	RelationLasted          RelationType = "LASTED"
	RelationCost            RelationType = "COST"
	RelationIs              RelationType = "IS"
	RelationResearched      RelationType = "RESEARCHED"
	RelationShares          RelationType = "SHARES"
	RelationPlansTo         RelationType = "PLANS_TO"
	RelationRelatedTo       RelationType = "RELATED_TO"
)

var allowedRelationTypes = map[RelationType]struct{}{
	RelationFamily: {}, RelationParentOf: {}, RelationChildOf: {},
	RelationSiblingOf: {}, RelationCousinOf: {}, RelationFriendOf: {},
	RelationColleagueOf: {}, RelationClassmateOf: {}, RelationFrom: {},
	RelationLivesIn: {}, RelationWorksAt: {}, RelationLikes: {},
	RelationDislikes: {}, RelationHappenedAt: {}, RelationHappenedBetween: {},
	RelationLasted: {}, RelationCost: {}, RelationIs: {},
	RelationResearched: {}, RelationShares: {}, RelationPlansTo: {},
	RelationRelatedTo: {},
}

func ValidRelationType(t RelationType) bool {
	_, ok := allowedRelationTypes[t]
	return ok
}

const (
	// DefaultDecayRate is the per-day exponential constant for edge weights.
	DefaultDecayRate = 0.03
	// MinEdgeWeight is the floor below which decay never pushes a weight.
	MinEdgeWeight = 0.01
)

// Relation is a directed weighted edge between two entities, scoped by user.
// Re-observation of the same (user, source, target, type) merges: the new
// weight is added on top of the stored one capped at 1.0, confidence takes
// the max, provenance is unioned, and the decay clock resets.
type Relation struct {
	UserID     string       `json:"user_id"`
	SourceID   string       `json:"source_id"`
	TargetID   string       `json:"target_id"`
	Type       RelationType `json:"type"`
	Weight     float64      `json:"weight"`
	DecayRate  float64      `json:"decay_rate"`
	Confidence float64      `json:"confidence"`
	Provenance []string     `json:"provenance,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func NewRelation(userID, sourceID, targetID string, relType RelationType) *Relation {
	now := time.Now()
	return &Relation{
		UserID:     userID,
		SourceID:   sourceID,
		TargetID:   targetID,
		Type:       relType,
		Weight:     1.0,
		DecayRate:  DefaultDecayRate,
		Confidence: 1.0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (r *Relation) IsSelfLoop() bool {
	return r.SourceID == r.TargetID
}

// EffectiveWeight applies exponential time decay at read time without
// mutating the stored weight. Monotonically non-increasing between writes
// and never below MinEdgeWeight.
func (r *Relation) EffectiveWeight(at time.Time) float64 {
	return EffectiveWeight(r.Weight, r.DecayRate, r.UpdatedAt, at)
}

func EffectiveWeight(weight, decayRate float64, updatedAt, at time.Time) float64 {
	days := at.Sub(updatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	w := weight * math.Exp(-decayRate*days)
	if w < MinEdgeWeight {
		return MinEdgeWeight
	}
	return w
}

// AddProvenance appends a memory/turn id unless already present.
func (r *Relation) AddProvenance(id string) {
	for _, p := range r.Provenance {
		if p == id {
			return
		}
	}
	r.Provenance = append(r.Provenance, id)
}

// GraphFact is one traversal result: an edge reached from a query anchor,
// annotated with its hop distance and decayed weight.
type GraphFact struct {
	EntityID   string       `json:"entity_id" msgpack:"entity_id"`
	EntityName string       `json:"entity_name" msgpack:"entity_name"`
	Relation   RelationType `json:"relation" msgpack:"relation"`
	TargetID   string       `json:"target_id" msgpack:"target_id"`
	TargetName string       `json:"target_name" msgpack:"target_name"`
	Hop        int          `json:"hop" msgpack:"hop"`
	Weight     float64      `json:"weight" msgpack:"weight"`
	Provenance []string     `json:"provenance,omitempty" msgpack:"provenance,omitempty"`
}
