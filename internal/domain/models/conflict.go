package models

import (
	"time"
)

type ConflictResolution string

const (
	ConflictUnresolved        ConflictResolution = "unresolved"
	ConflictSupersededByNewer ConflictResolution = "superseded_by_newer"
	ConflictUserClarified     ConflictResolution = "user_clarified"
)

// ConflictRecord documents two memories of the same user holding opposite
// positions on a shared topic, and how the conflict was resolved.
type ConflictRecord struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	MemoryIDA    string             `json:"memory_id_a"`
	MemoryIDB    string             `json:"memory_id_b"`
	Topic        string             `json:"topic"`
	Indicator    string             `json:"indicator"`
	Confidence   float64            `json:"confidence"`
	Resolution   ConflictResolution `json:"resolution"`
	SupersededBy string             `json:"superseded_by,omitempty"`
	DetectedAt   time.Time          `json:"detected_at"`
	ResolvedAt   *time.Time         `json:"resolved_at,omitempty"`
}

func NewConflictRecord(id, userID, memoryA, memoryB, topic, indicator string, confidence float64) *ConflictRecord {
	return &ConflictRecord{
		ID:         id,
		UserID:     userID,
		MemoryIDA:  memoryA,
		MemoryIDB:  memoryB,
		Topic:      topic,
		Indicator:  indicator,
		Confidence: confidence,
		Resolution: ConflictUnresolved,
		DetectedAt: time.Now(),
	}
}

// ResolveSuperseded marks the conflict resolved in favor of the newer memory.
func (c *ConflictRecord) ResolveSuperseded(winnerID string) {
	now := time.Now()
	c.Resolution = ConflictSupersededByNewer
	c.SupersededBy = winnerID
	c.ResolvedAt = &now
}

func (c *ConflictRecord) ResolveClarified(winnerID string) {
	now := time.Now()
	c.Resolution = ConflictUserClarified
	c.SupersededBy = winnerID
	c.ResolvedAt = &now
}
