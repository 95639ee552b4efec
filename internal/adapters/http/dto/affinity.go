package dto

import (
	"time"

	"github.com/evermind-ai/evermind/internal/domain/models"
)

// AffinityPoint is one row of the per-user affinity time series.
type AffinityPoint struct {
	Score     float64   `json:"score" msgpack:"score"`
	Delta     float64   `json:"delta" msgpack:"delta"`
	State     string    `json:"state" msgpack:"state"`
	TurnID    string    `json:"turn_id,omitempty" msgpack:"turn_id,omitempty"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

func (p *AffinityPoint) FromRecord(rec *models.AffinityRecord) *AffinityPoint {
	p.Score = rec.Score
	p.Delta = rec.Delta
	p.State = string(rec.State)
	p.TurnID = rec.TurnID
	p.CreatedAt = rec.CreatedAt
	return p
}

// AffinityResponse is the GET /api/v1/affinity payload: the current value
// plus recent history, newest first. Users with no rows get the neutral
// default.
type AffinityResponse struct {
	Current *AffinityPoint   `json:"current" msgpack:"current"`
	History []*AffinityPoint `json:"history" msgpack:"history"`
}
