package models

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	OutboxStatusPending       OutboxStatus = "pending"
	OutboxStatusProcessing    OutboxStatus = "processing"
	OutboxStatusDone          OutboxStatus = "done"
	OutboxStatusFailed        OutboxStatus = "failed"
	OutboxStatusDLQ           OutboxStatus = "dlq"
	OutboxStatusPendingReview OutboxStatus = "pending_review"
)

// EventIDMemoryCreated builds the globally unique event key for a memory
// fan-out event. One memory maps to at most one live event.
func EventIDMemoryCreated(memoryID string) string {
	return "memory_created:" + memoryID
}

// OutboxPayload is the JSON body carried by a memory_created event.
type OutboxPayload struct {
	MemoryID   string     `json:"memory_id"`
	UserID     string     `json:"user_id"`
	Content    string     `json:"content"`
	SessionID  string     `json:"session_id,omitempty"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
	EvalMode   bool       `json:"eval_mode,omitempty"`
}

// OutboxEvent is a durable work item for the asynchronous fan-out to the
// vector and graph stores. Claiming is a conditional update from pending to
// processing, so at most one worker holds an event at a time.
type OutboxEvent struct {
	ID                  string       `json:"id"`
	EventID             string       `json:"event_id"`
	MemoryID            string       `json:"memory_id,omitempty"`
	Payload             []byte       `json:"payload"`
	Status              OutboxStatus `json:"status"`
	RetryCount          int          `json:"retry_count"`
	IdempotencyKey      string       `json:"idempotency_key,omitempty"`
	ErrorMessage        string       `json:"error_message,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	NextAttemptAt       time.Time    `json:"next_attempt_at"`
	ProcessingStartedAt *time.Time   `json:"processing_started_at,omitempty"`
	VectorWrittenAt     *time.Time   `json:"vector_written_at,omitempty"`
	GraphWrittenAt      *time.Time   `json:"graph_written_at,omitempty"`
	ProcessedAt         *time.Time   `json:"processed_at,omitempty"`
}

func NewOutboxEvent(id, memoryID string, payload []byte) *OutboxEvent {
	now := time.Now()
	return &OutboxEvent{
		ID:            id,
		EventID:       EventIDMemoryCreated(memoryID),
		MemoryID:      memoryID,
		Payload:       payload,
		Status:        OutboxStatusPending,
		CreatedAt:     now,
		NextAttemptAt: now,
	}
}

// ParsePayload decodes the JSON payload. A decode failure is permanent; the
// drainer dead-letters such events instead of retrying them.
func (e *OutboxEvent) ParsePayload() (*OutboxPayload, error) {
	var p OutboxPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (e *OutboxEvent) MarkVectorWritten(at time.Time) {
	e.VectorWrittenAt = &at
}

func (e *OutboxEvent) MarkGraphWritten(at time.Time) {
	e.GraphWrittenAt = &at
}

// Terminal reports whether the event can never be claimed again.
func (e *OutboxEvent) Terminal() bool {
	return e.Status == OutboxStatusDone || e.Status == OutboxStatusDLQ
}
