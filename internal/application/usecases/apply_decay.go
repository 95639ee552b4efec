package usecases

import (
	"context"
	"log"
	"time"

	"github.com/evermind-ai/evermind/internal/application/services"
)

// ApplyDecay runs the periodic edge-weight decay sweep. One Execute is one
// full sweep; Run repeats it on an interval until ctx is cancelled.
type ApplyDecay struct {
	graphs   *services.GraphService
	interval time.Duration
	pageSize int
}

func NewApplyDecay(graphs *services.GraphService, interval time.Duration, pageSize int) *ApplyDecay {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &ApplyDecay{graphs: graphs, interval: interval, pageSize: pageSize}
}

func (uc *ApplyDecay) Execute(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = uc.pageSize
	}
	return uc.graphs.Decay(ctx, pageSize)
}

// Run blocks, sweeping once per interval, and returns nil once ctx is
// cancelled. The first sweep waits a full interval so process restarts do
// not multiply the daily decay.
func (uc *ApplyDecay) Run(ctx context.Context) error {
	ticker := time.NewTicker(uc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := uc.Execute(ctx, uc.pageSize); err != nil {
				log.Printf("warning: graph: decay sweep failed: %v", err)
			}
		}
	}
}
