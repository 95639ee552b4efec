package dto

import (
	"time"

	"github.com/evermind-ai/evermind/internal/domain/models"
)

// MemoryResponse is the wire shape of one memory row. Embeddings never
// leave the server.
type MemoryResponse struct {
	ID           string     `json:"id" msgpack:"id"`
	Content      string     `json:"content" msgpack:"content"`
	Valence      float64    `json:"valence" msgpack:"valence"`
	Status       string     `json:"status" msgpack:"status"`
	SessionID    string     `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	TurnID       string     `json:"turn_id,omitempty" msgpack:"turn_id,omitempty"`
	GraphSkipped bool       `json:"graph_skipped,omitempty" msgpack:"graph_skipped,omitempty"`
	CreatedAt    time.Time  `json:"created_at" msgpack:"created_at"`
	CommittedAt  *time.Time `json:"committed_at,omitempty" msgpack:"committed_at,omitempty"`
}

func (r *MemoryResponse) FromModel(m *models.Memory) *MemoryResponse {
	r.ID = m.ID
	r.Content = m.Content
	r.Valence = m.Valence
	r.Status = string(m.Status)
	r.SessionID = m.SessionID
	r.TurnID = m.TurnID
	r.GraphSkipped = m.GraphSkipped()
	r.CreatedAt = m.CreatedAt
	r.CommittedAt = m.CommittedAt
	return r
}

// MemoryListResponse wraps one page of memories.
type MemoryListResponse struct {
	Memories []*MemoryResponse `json:"memories" msgpack:"memories"`
	Count    int               `json:"count" msgpack:"count"`
}
