package services

import (
	"context"
	"fmt"

	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

const (
	affinityInitBonus       = 0.03
	affinityValenceWeight   = 0.05
	affinityConfirmBonus    = 0.02
	affinityCorrectionCost  = 0.05
	affinitySilenceWeight   = 0.01
	affinityMaxDeltaPerTurn = 0.1
)

// AffinityUpdate is the outcome of one turn's affinity step. The caller
// decides what to do with a state transition after the turn commits.
type AffinityUpdate struct {
	Record        *models.AffinityRecord
	PreviousScore float64
	PreviousState models.AffinityState
}

func (u *AffinityUpdate) Transitioned() bool {
	return u.Record != nil && u.Record.State != u.PreviousState
}

// AffinityService maintains the bounded per-user closeness score. Every turn
// moves it by at most 0.1, and the score itself lives in [0, 1]; a bad week
// can cool a friendship but cannot erase it.
type AffinityService struct {
	repo ports.AffinityRepository
	ids  ports.IDGenerator
}

func NewAffinityService(repo ports.AffinityRepository, ids ports.IDGenerator) *AffinityService {
	return &AffinityService{repo: repo, ids: ids}
}

// ComputeAffinityDelta applies the per-turn update rule to the signal bundle.
func ComputeAffinityDelta(s models.AffinitySignals) float64 {
	delta := 0.0
	if s.UserInitiated {
		delta += affinityInitBonus
	}
	delta += affinityValenceWeight * clamp(s.EmotionValence, -1, 1)
	if s.MemoryConfirmation {
		delta += affinityConfirmBonus
	}
	if s.Correction {
		delta -= affinityCorrectionCost
	}
	if s.SilenceDays > 0 {
		delta -= affinitySilenceWeight * float64(s.SilenceDays) / 30
	}
	return clamp(delta, -affinityMaxDeltaPerTurn, affinityMaxDeltaPerTurn)
}

// Current returns the latest affinity row, or a synthetic default row for a
// user with no history. The synthetic row is not persisted; history starts
// with the first real turn.
func (s *AffinityService) Current(ctx context.Context, userID string) (*models.AffinityRecord, error) {
	latest, err := s.repo.GetLatest(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("affinity: load latest: %w", err)
	}
	if latest == nil {
		return &models.AffinityRecord{
			UserID: userID,
			Score:  models.DefaultAffinityScore,
			State:  models.AffinityStateForScore(models.DefaultAffinityScore),
		}, nil
	}
	return latest, nil
}

// History returns recent rows newest-first.
func (s *AffinityService) History(ctx context.Context, userID string, limit int) ([]*models.AffinityRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.GetHistory(ctx, userID, limit)
}

// Apply computes the new score from the latest row and inserts exactly one
// history row. Run it inside the turn transaction so the row commits or
// rolls back with the turn it belongs to.
func (s *AffinityService) Apply(ctx context.Context, userID, turnID string, signals models.AffinitySignals) (*AffinityUpdate, error) {
	current, err := s.Current(ctx, userID)
	if err != nil {
		return nil, err
	}

	delta := ComputeAffinityDelta(signals)
	score := clamp(current.Score+delta, 0, 1)

	record := models.NewAffinityRecord(s.ids.GenerateAffinityID(), userID, score, delta)
	record.TurnID = turnID
	if err := s.repo.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("affinity: insert row: %w", err)
	}

	return &AffinityUpdate{
		Record:        record,
		PreviousScore: current.Score,
		PreviousState: current.State,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
