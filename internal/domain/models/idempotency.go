package models

import (
	"time"
)

// IdempotencyRecord maps a caller-supplied key to the turn and response that
// the first successful request produced. Within the TTL, retries with the
// same key return the stored response byte-identical and cause no writes.
type IdempotencyRecord struct {
	UserID    string    `json:"user_id"`
	Key       string    `json:"key"`
	TurnID    string    `json:"turn_id"`
	SessionID string    `json:"session_id"`
	Response  []byte    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewIdempotencyRecord(userID, key, turnID, sessionID string, response []byte, ttl time.Duration) *IdempotencyRecord {
	now := time.Now()
	return &IdempotencyRecord{
		UserID:    userID,
		Key:       key,
		TurnID:    turnID,
		SessionID: sessionID,
		Response:  response,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func (r *IdempotencyRecord) Expired(at time.Time) bool {
	return at.After(r.ExpiresAt)
}
