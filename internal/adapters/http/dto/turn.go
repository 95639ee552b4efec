package dto

import (
	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// TurnRequest is the payload of POST /api/v1/turns and /turns/stream.
type TurnRequest struct {
	Message        string `json:"message" msgpack:"message"`
	SessionID      string `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty" msgpack:"idempotency_key,omitempty"`
	Mode           string `json:"mode,omitempty" msgpack:"mode,omitempty"`
	MemorizeOnly   bool   `json:"memorize_only,omitempty" msgpack:"memorize_only,omitempty"`
	EvalMode       bool   `json:"eval_mode,omitempty" msgpack:"eval_mode,omitempty"`
}

// ToInput converts the wire request into the usecase input. Turns arriving
// over the API are user-initiated by definition; mode validation happens in
// the usecase.
func (r *TurnRequest) ToInput(userID string) *ports.ProcessTurnInput {
	return &ports.ProcessTurnInput{
		UserID:         userID,
		SessionID:      r.SessionID,
		Text:           r.Message,
		IdempotencyKey: r.IdempotencyKey,
		Mode:           models.RetrievalMode(r.Mode),
		MemorizeOnly:   r.MemorizeOnly,
		EvalMode:       r.EvalMode,
		UserInitiated:  true,
	}
}
