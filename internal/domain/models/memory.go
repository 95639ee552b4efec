package models

import (
	"time"
)

type MemoryStatus string

const (
	MemoryStatusPending       MemoryStatus = "pending"
	MemoryStatusCommitted     MemoryStatus = "committed"
	MemoryStatusDeprecated    MemoryStatus = "deprecated"
	MemoryStatusDeleted       MemoryStatus = "deleted"
	MemoryStatusPendingReview MemoryStatus = "pending_review"
)

// MetadataGraphSkipped marks memories that were committed without graph
// writes (questions and other non-factual turns).
const MetadataGraphSkipped = "graph_skipped"

// Memory is a durable fact candidate distilled from a user turn. It is the
// unit of cross-store fan-out: the relational row is authoritative, the
// vector row and graph links follow asynchronously via the outbox.
type Memory struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Content     string         `json:"content"`
	Embedding   []float32      `json:"embedding,omitempty"`
	Valence     float64        `json:"valence"`
	Status      MemoryStatus   `json:"status"`
	SessionID   string         `json:"session_id,omitempty"`
	TurnID      string         `json:"turn_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CommittedAt *time.Time     `json:"committed_at,omitempty"`
}

func NewMemory(id, userID, content string) *Memory {
	return &Memory{
		ID:        id,
		UserID:    userID,
		Content:   content,
		Status:    MemoryStatusPending,
		Metadata:  make(map[string]any),
		CreatedAt: time.Now(),
	}
}

// SetValence clamps valence to [-1, 1].
func (m *Memory) SetValence(valence float64) {
	if valence < -1 {
		valence = -1
	}
	if valence > 1 {
		valence = 1
	}
	m.Valence = valence
}

func (m *Memory) SetEmbedding(embedding []float32) {
	m.Embedding = embedding
}

func (m *Memory) HasEmbedding() bool {
	return len(m.Embedding) > 0
}

// MarkCommitted transitions pending -> committed. Only the outbox drainer
// calls this; committed_at is required by the commit invariant.
func (m *Memory) MarkCommitted(at time.Time) {
	m.Status = MemoryStatusCommitted
	m.CommittedAt = &at
}

func (m *Memory) MarkPendingReview() {
	m.Status = MemoryStatusPendingReview
}

// Deprecate is used by conflict resolution when a newer memory supersedes
// this one. Hard deletion is out of scope.
func (m *Memory) Deprecate() {
	m.Status = MemoryStatusDeprecated
}

func (m *Memory) IsRetrievable() bool {
	return m.Status == MemoryStatusCommitted || m.Status == MemoryStatusPending
}

func (m *Memory) GraphSkipped() bool {
	v, ok := m.Metadata[MetadataGraphSkipped]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func (m *Memory) SetGraphSkipped() {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[MetadataGraphSkipped] = true
}
