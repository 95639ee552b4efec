package models

import (
	"time"
)

type AffinityState string

const (
	AffinityStranger     AffinityState = "stranger"
	AffinityAcquaintance AffinityState = "acquaintance"
	AffinityFriend       AffinityState = "friend"
	AffinityCloseFriend  AffinityState = "close_friend"
	AffinityBestFriend   AffinityState = "best_friend"
)

// DefaultAffinityScore is used for users with no history.
const DefaultAffinityScore = 0.5

// AffinityStateForScore maps a score to its state by the fixed cut-points
// 0.2 / 0.4 / 0.6 / 0.8.
func AffinityStateForScore(score float64) AffinityState {
	switch {
	case score < 0.2:
		return AffinityStranger
	case score < 0.4:
		return AffinityAcquaintance
	case score < 0.6:
		return AffinityFriend
	case score < 0.8:
		return AffinityCloseFriend
	default:
		return AffinityBestFriend
	}
}

// AffinityRecord is one row of the per-user affinity time series. The latest
// row is the current value.
type AffinityRecord struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Score     float64       `json:"score"`
	Delta     float64       `json:"delta"`
	State     AffinityState `json:"state"`
	TurnID    string        `json:"turn_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func NewAffinityRecord(id, userID string, score, delta float64) *AffinityRecord {
	return &AffinityRecord{
		ID:        id,
		UserID:    userID,
		Score:     score,
		Delta:     delta,
		State:     AffinityStateForScore(score),
		CreatedAt: time.Now(),
	}
}

// AffinitySignals is the per-turn input bundle for the affinity update rule.
type AffinitySignals struct {
	UserInitiated      bool    `json:"user_initiated"`
	EmotionValence     float64 `json:"emotion_valence"`
	MemoryConfirmation bool    `json:"memory_confirmation"`
	Correction         bool    `json:"correction"`
	SilenceDays        int     `json:"silence_days"`
}
