package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/evermind-ai/evermind/internal/adapters/embedding"
	"github.com/evermind-ai/evermind/internal/adapters/http/handlers"
	"github.com/evermind-ai/evermind/internal/adapters/id"
	"github.com/evermind-ai/evermind/internal/adapters/llm"
	"github.com/evermind-ai/evermind/internal/adapters/postgres"
	"github.com/evermind-ai/evermind/internal/application/services"
	"github.com/evermind-ai/evermind/internal/application/usecases"
	"github.com/spf13/cobra"
)

// drainCmd runs the transactional outbox drainer
func drainCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run the outbox drainer",
		Long: `Run the transactional outbox drainer as a standalone process.

The drainer claims pending memory events, runs extraction, embeds and
indexes the text, merges facts into the entity graph and detects
conflicts. By default it polls until interrupted; with --once it
processes a single batch and exits, which suits cron-style deployments
and debugging.

The serve command runs the same drainer in-process, so a standalone
drainer is only needed when the write path is scaled separately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(cmd.Context(), once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "process a single batch and exit")
	return cmd
}

func runDrain(ctx context.Context, once bool) error {
	log.Println("Starting Evermind outbox drainer...")

	pool, err := initDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Println("Database connection established")

	memoryRepo := postgres.NewMemoryRepository(pool)
	outboxRepo := postgres.NewOutboxRepository(pool)
	conflictRepo := postgres.NewConflictRepository(pool)
	graphStore := postgres.NewGraphStore(pool)
	vectorIndex := postgres.NewVectorIndex(pool)
	txManager := postgres.NewTransactionManager(pool)
	idGen := id.New()

	llmService := llm.NewService(llmClient, cfg.LLM.Timeout())
	embeddingClient := embedding.NewClient(
		cfg.Embedding.URL,
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
		cfg.Embedding.Timeout(),
	)

	// No HTTP server in this process, so the hub has no subscribers and
	// lifecycle events are dropped on the floor.
	hub := handlers.NewTurnHub()

	emotionService := services.NewEmotionService()
	graphService := services.NewGraphService(graphStore, cfg.Graph.DecayRate)
	conflictService := services.NewConflictService(conflictRepo, memoryRepo, idGen, hub, 0)

	drainer := usecases.NewDrainOutbox(
		outboxRepo,
		memoryRepo,
		txManager,
		embeddingClient,
		vectorIndex,
		newExtraction(llmService),
		graphService,
		conflictService,
		emotionService,
		hub,
		drainerOptions(),
	)

	if once {
		processed, err := drainer.DrainOnce(ctx, cfg.Outbox.BatchSize)
		if err != nil {
			return fmt.Errorf("drain failed: %w", err)
		}
		log.Printf("Drained %d events", processed)
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	drainErrors := make(chan error, 1)
	go func() {
		log.Printf("Drainer polling every %s (%d workers)", cfg.Outbox.PollInterval(), cfg.Outbox.Workers)
		drainErrors <- drainer.Run(runCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-drainErrors:
		return fmt.Errorf("drainer error: %w", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		log.Println("Shutting down gracefully...")
		cancel()

		if err := <-drainErrors; err != nil {
			return fmt.Errorf("drainer shutdown error: %w", err)
		}
		log.Println("Drainer stopped")
		return nil
	}
}
