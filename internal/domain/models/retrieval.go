package models

type RetrievalMode string

const (
	ModeHybrid    RetrievalMode = "hybrid"
	ModeGraphOnly RetrievalMode = "graph_only"
)

func ValidRetrievalMode(m RetrievalMode) bool {
	return m == ModeHybrid || m == ModeGraphOnly
}

// ScoredMemory is a retrieval candidate with its unified rerank score and
// the raw signals that produced it.
type ScoredMemory struct {
	Memory    *Memory `json:"memory"`
	Score     float64 `json:"score"`
	Cosine    float64 `json:"cosine"`
	EdgeBoost float64 `json:"edge_boost"`
	Recency   float64 `json:"recency"`
}
