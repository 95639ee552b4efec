package ports

import (
	"context"
	"time"

	"github.com/evermind-ai/evermind/internal/domain/models"
)

// LLMMessage represents a message in the LLM conversation context
type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMResponse represents a response from the LLM
type LLMResponse struct {
	Content string `json:"content,omitempty"`
}

// LLMStreamChunk represents a streaming chunk from the LLM
type LLMStreamChunk struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done"`
	Error   error  `json:"error,omitempty"`
}

// GenerateOptions bound a single generation call. Nil options keep the
// deployment defaults; supplying options makes every field explicit,
// including a zero temperature.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// LLMService is the generation oracle. Outputs are treated as opaque text;
// idempotent in the absence of sampling.
type LLMService interface {
	Generate(ctx context.Context, messages []LLMMessage, opts *GenerateOptions) (*LLMResponse, error)
	GenerateStream(ctx context.Context, messages []LLMMessage, opts *GenerateOptions) (<-chan LLMStreamChunk, error)
}

// EmbeddingResult represents the result of embedding generation
type EmbeddingResult struct {
	Embedding  []float32 `json:"embedding"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
}

// EmbeddingService is the embedding oracle, fixed at d dimensions
// (default 1024) per deployment.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) (*EmbeddingResult, error)
	EmbedBatch(ctx context.Context, texts []string) ([]*EmbeddingResult, error)
	GetDimensions() int
}

// VectorRecord is the payload stored in the vector index, keyed by memory id.
type VectorRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Embedding []float32 `json:"embedding"`
	Content   string    `json:"content"`
	Valence   float64   `json:"valence"`
	CreatedAt time.Time `json:"created_at"`
}

// VectorHit is one cosine-similarity search result.
type VectorHit struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Valence   float64   `json:"valence"`
	CreatedAt time.Time `json:"created_at"`
	Cosine    float64   `json:"cosine"`
}

// VectorIndex is the V store: upsert by primary key and cosine search,
// always scoped by user. Upsert of the same key with the same row is a
// no-op, which is what makes the drainer retry-safe.
type VectorIndex interface {
	Upsert(ctx context.Context, record *VectorRecord) error
	Search(ctx context.Context, userID string, query []float32, topK int) ([]VectorHit, error)
}

// GraphStore is the G store: MERGE-semantics writes and bounded traversal.
type GraphStore interface {
	MergeEntity(ctx context.Context, entity *models.Entity) error
	MergeRelation(ctx context.Context, relation *models.Relation) error
	GetEntity(ctx context.Context, userID, id string) (*models.Entity, error)
	// FindEntities matches nodes whose name equals or contains any anchor,
	// case-insensitive for ASCII, exact for CJK.
	FindEntities(ctx context.Context, userID string, anchors []string) ([]*models.Entity, error)
	// QueryPaths runs a BFS of at most maxHops from the anchor entities and
	// returns the facts reached, weighted by decayed edge weight.
	QueryPaths(ctx context.Context, userID string, anchors []string, maxHops int) ([]models.GraphFact, error)
	// EdgeWeightSum returns the decayed weight mass of edges whose
	// provenance includes any of the given memory ids, for reranking.
	EdgeWeightSum(ctx context.Context, userID string, memoryIDs []string) (map[string]float64, error)
	// ApplyDecay rewrites stored weights for edges not updated within a
	// day, in pages, and returns the number of edges touched.
	ApplyDecay(ctx context.Context, pageSize int) (int, error)
}

// TurnNotifier receives lifecycle notifications from the write path and the
// drainer. Implementations fan these out to live streams and the event feed.
// All methods must be non-blocking.
type TurnNotifier interface {
	// NotifyMemoryPending is emitted when the turn transaction commits.
	NotifyMemoryPending(userID, sessionID, memoryID string)

	// NotifyMemoryCommitted is emitted by the drainer after the fan-out
	// completes.
	NotifyMemoryCommitted(userID, sessionID, memoryID string)

	// NotifyClarification is emitted when conflict resolution needs the
	// user to pick a side; content carries both literal statements.
	NotifyClarification(userID, sessionID, content string)

	// NotifyAffinityState is emitted on affinity state transitions.
	NotifyAffinityState(userID string, from, to models.AffinityState, score float64)
}

// EventAffinityState is the TurnEvent type for affinity transitions. The
// other event types reuse the TurnDelta vocabulary.
const EventAffinityState = "affinity_state"

// TurnEvent is one lifecycle notification as seen by live subscribers.
type TurnEvent struct {
	Type      string  `json:"type" msgpack:"type"`
	UserID    string  `json:"user_id" msgpack:"user_id"`
	SessionID string  `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	MemoryID  string  `json:"memory_id,omitempty" msgpack:"memory_id,omitempty"`
	Content   string  `json:"content,omitempty" msgpack:"content,omitempty"`
	Score     float64 `json:"score,omitempty" msgpack:"score,omitempty"`
	FromState string  `json:"from_state,omitempty" msgpack:"from_state,omitempty"`
	ToState   string  `json:"to_state,omitempty" msgpack:"to_state,omitempty"`
}

// TurnSubscriber hands out per-user subscriptions to the notification
// stream. The streaming turn path and the websocket event feed both consume
// it. The returned cancel func must be safe to call more than once.
type TurnSubscriber interface {
	Subscribe(userID string) (<-chan TurnEvent, func())
}

// TemplateCache stores greeting/ack/farewell reply templates keyed by
// (message class, affinity state).
type TemplateCache interface {
	Get(ctx context.Context, class string, state models.AffinityState) (string, bool)
	Set(ctx context.Context, class string, state models.AffinityState, text string, ttl time.Duration)
}

// RevocationSet is the TTL-keyed set of revoked token ids.
type RevocationSet interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}
