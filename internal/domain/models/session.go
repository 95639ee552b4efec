package models

import (
	"time"
)

// Session is a logical conversation scope for turns and memories
type Session struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func NewSession(id, userID string) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		StartedAt: time.Now(),
	}
}

func (s *Session) IsOpen() bool {
	return s.EndedAt == nil
}

func (s *Session) End() {
	if s.EndedAt == nil {
		now := time.Now()
		s.EndedAt = &now
	}
}
