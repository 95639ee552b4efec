package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/evermind-ai/evermind/internal/adapters/postgres"
	"github.com/evermind-ai/evermind/internal/application/services"
	"github.com/evermind-ai/evermind/internal/application/usecases"
	"github.com/spf13/cobra"
)

// decayCmd runs a single graph decay sweep
func decayCmd() *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Run one graph decay sweep",
		Long: `Apply exponential decay to every edge weight in the entity graph and
prune edges that no memory provenance keeps alive.

The serve command runs this sweep on a schedule; the standalone command
exists for cron jobs and manual runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecay(cmd.Context(), pageSize)
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", 0, "edges per batch (defaults to the configured page size)")
	return cmd
}

func runDecay(ctx context.Context, pageSize int) error {
	log.Println("Starting graph decay sweep...")

	pool, err := initDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if pageSize <= 0 {
		pageSize = cfg.Graph.DecayPageSize
	}

	graphService := services.NewGraphService(postgres.NewGraphStore(pool), cfg.Graph.DecayRate)
	decay := usecases.NewApplyDecay(graphService, 0, pageSize)

	start := time.Now()
	decayed, err := decay.Execute(ctx, pageSize)
	if err != nil {
		return fmt.Errorf("decay sweep failed: %w", err)
	}

	log.Printf("Decayed %d edges in %s", decayed, time.Since(start).Round(time.Millisecond))
	return nil
}
