package ports

import (
	"context"

	"github.com/evermind-ai/evermind/internal/domain/models"
)

// ProcessTurnInput contains parameters for processing one user turn
type ProcessTurnInput struct {
	UserID         string
	SessionID      string // optional; a new session is created when empty
	Text           string
	IdempotencyKey string
	Mode           models.RetrievalMode // defaults to hybrid
	MemorizeOnly   bool
	EvalMode       bool
	UserInitiated  bool
}

// AffinitySnapshot is the affinity portion of a reply.
type AffinitySnapshot struct {
	Score float64              `json:"score" msgpack:"score"`
	State models.AffinityState `json:"state" msgpack:"state"`
	Delta float64              `json:"delta" msgpack:"delta"`
}

// MemoryUsed is one retrieved memory as surfaced to the caller.
type MemoryUsed struct {
	ID      string  `json:"id" msgpack:"id"`
	Content string  `json:"content" msgpack:"content"`
	Score   float64 `json:"score" msgpack:"score"`
}

// ContextSource reports where the reply context came from.
type ContextSource struct {
	HistoryTurnsCount int  `json:"history_turns_count" msgpack:"history_turns_count"`
	VectorHits        int  `json:"vector_hits" msgpack:"vector_hits"`
	GraphFacts        int  `json:"graph_facts" msgpack:"graph_facts"`
	Cached            bool `json:"cached" msgpack:"cached"`
}

// ProcessTurnOutput is the reply contract for a processed turn.
type ProcessTurnOutput struct {
	Reply          string           `json:"reply" msgpack:"reply"`
	SessionID      string           `json:"session_id" msgpack:"session_id"`
	TurnID         string           `json:"turn_id" msgpack:"turn_id"`
	Emotion        models.Emotion   `json:"emotion" msgpack:"emotion"`
	Affinity       AffinitySnapshot `json:"affinity" msgpack:"affinity"`
	MemoriesUsed   []MemoryUsed     `json:"memories_used" msgpack:"memories_used"`
	ToneType       string           `json:"tone_type" msgpack:"tone_type"`
	ResponseTimeMs float64          `json:"response_time_ms" msgpack:"response_time_ms"`
	MemoryStatus   string           `json:"memory_status" msgpack:"memory_status"`
	Mode           string           `json:"mode" msgpack:"mode"`
	ContextSource  *ContextSource   `json:"context_source,omitempty" msgpack:"context_source,omitempty"`
}

// ProcessTurnUseCase is the synchronous turn entry point.
type ProcessTurnUseCase interface {
	Execute(ctx context.Context, input *ProcessTurnInput) (*ProcessTurnOutput, error)
}

// TurnDeltaType enumerates streaming event types in emission order.
type TurnDeltaType string

const (
	DeltaStart           TurnDeltaType = "start"
	DeltaText            TurnDeltaType = "text"
	DeltaMemoryPending   TurnDeltaType = "memory_pending"
	DeltaMemoryCommitted TurnDeltaType = "memory_committed"
	DeltaClarification   TurnDeltaType = "clarification"
	DeltaDone            TurnDeltaType = "done"
	DeltaError           TurnDeltaType = "error"
)

// TurnDelta is one streamed event. Ordered within a stream; streams are
// independent of each other.
type TurnDelta struct {
	Type      TurnDeltaType `json:"type"`
	SessionID string        `json:"session_id,omitempty"`
	Content   string        `json:"content,omitempty"`
	MemoryID  string        `json:"memory_id,omitempty"`
}

// StreamTurnUseCase is the streaming mirror of ProcessTurn. The returned
// channel is closed after the done or error delta. Cancelling ctx stops
// emission; work already committed stays committed.
type StreamTurnUseCase interface {
	Execute(ctx context.Context, input *ProcessTurnInput) (<-chan TurnDelta, error)
}

// EntityFactsInput queries the graph around entities mentioned in the text.
type EntityFactsInput struct {
	UserID  string
	Query   string
	MaxHops int // defaults to 3
}

// EntityFactsOutput carries the traversal results.
type EntityFactsOutput struct {
	Anchors []string           `json:"anchors"`
	Facts   []models.GraphFact `json:"facts"`
}

// QueryEntityFactsUseCase resolves anchors from free text and traverses.
type QueryEntityFactsUseCase interface {
	Execute(ctx context.Context, input *EntityFactsInput) (*EntityFactsOutput, error)
}

// OutboxDrainer runs the asynchronous fan-out.
type OutboxDrainer interface {
	// Run blocks, polling and draining until ctx is cancelled.
	Run(ctx context.Context) error
	// DrainOnce claims and processes at most limit events, returning the
	// number processed. Used by the one-shot CLI path and tests.
	DrainOnce(ctx context.Context, limit int) (int, error)
}

// DecayRunner applies the nightly edge-weight decay.
type DecayRunner interface {
	Execute(ctx context.Context, pageSize int) (int, error)
}
