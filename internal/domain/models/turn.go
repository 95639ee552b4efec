package models

import (
	"time"
)

type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// Turn is one message in a session. Immutable after insertion.
type Turn struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Role       TurnRole  `json:"role"`
	Content    string    `json:"content"`
	EmotionTag string    `json:"emotion_tag,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewTurn(id, sessionID, userID string, role TurnRole, content string) *Turn {
	return &Turn{
		ID:        id,
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

func (t *Turn) IsUser() bool {
	return t.Role == TurnRoleUser
}

// ValidRole reports whether the role is one of the two accepted values.
func ValidRole(role TurnRole) bool {
	return role == TurnRoleUser || role == TurnRoleAssistant
}
