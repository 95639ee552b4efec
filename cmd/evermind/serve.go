package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evermind-ai/evermind/internal/adapters/embedding"
	"github.com/evermind-ai/evermind/internal/adapters/http"
	"github.com/evermind-ai/evermind/internal/adapters/http/handlers"
	"github.com/evermind-ai/evermind/internal/adapters/id"
	"github.com/evermind-ai/evermind/internal/adapters/llm"
	"github.com/evermind-ai/evermind/internal/adapters/postgres"
	"github.com/evermind-ai/evermind/internal/adapters/redis"
	"github.com/evermind-ai/evermind/internal/adapters/tracing"
	"github.com/evermind-ai/evermind/internal/application/services"
	"github.com/evermind-ai/evermind/internal/application/usecases"
	"github.com/spf13/cobra"
)

// serveCmd starts the HTTP API server
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the Evermind HTTP API server.

The server exposes REST endpoints for conversation turns, memories,
entity facts, affinity and outbox administration, streams turn progress
over SSE and WebSocket, and runs the outbox drainer and the periodic
graph decay sweep in-process.

Required configuration:
  - PostgreSQL with pgvector (EVERMIND_POSTGRES_URL)
  - LLM endpoint (EVERMIND_LLM_URL)
  - Embedding endpoint (EVERMIND_EMBEDDING_URL)

Optional:
  - Redis for shared caches across replicas (EVERMIND_REDIS_URL)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// runServer initializes and starts the HTTP API server
func runServer(ctx context.Context) error {
	log.Println("Starting Evermind API server...")
	log.Printf("  HTTP:      http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("  LLM:       %s", cfg.LLM.URL)
	log.Printf("  Embedding: %s", cfg.Embedding.URL)
	if cfg.IsRedisConfigured() {
		log.Printf("  Redis:     %s", maskSecret(cfg.Redis.URL))
	}
	log.Println()

	// Initialize OpenTelemetry tracing
	if cfg.Tracing.Enabled {
		log.Println("Initializing OpenTelemetry tracing...")
		shutdown, err := tracing.InitTracer("evermind-api")
		if err != nil {
			log.Printf("Warning: Failed to initialize tracing: %v", err)
		} else {
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error shutting down tracer: %v", err)
				}
			}()
			log.Println("OpenTelemetry tracing initialized")
		}
	}

	// Initialize database connection pool
	log.Println("Connecting to PostgreSQL...")
	pool, err := initDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Println("Database connection established")

	// Initialize Redis-backed caches (nil client keeps them in-process)
	rdb := initRedis(ctx)
	if rdb != nil {
		defer rdb.Close()
	}
	revocations := redis.NewRevocationSet(rdb)
	templates := redis.NewTemplateCache(rdb)

	// Initialize repositories
	sessionRepo := postgres.NewSessionRepository(pool)
	turnRepo := postgres.NewTurnRepository(pool)
	memoryRepo := postgres.NewMemoryRepository(pool)
	outboxRepo := postgres.NewOutboxRepository(pool)
	idempotencyRepo := postgres.NewIdempotencyRepository(pool)
	affinityRepo := postgres.NewAffinityRepository(pool)
	conflictRepo := postgres.NewConflictRepository(pool)
	graphStore := postgres.NewGraphStore(pool)
	vectorIndex := postgres.NewVectorIndex(pool)
	txManager := postgres.NewTransactionManager(pool)
	log.Println("Repositories initialized")

	// Initialize ID generator
	idGen := id.New()

	// Initialize model clients
	llmService := llm.NewService(llmClient, cfg.LLM.Timeout())
	log.Println("LLM service initialized")

	embeddingClient := embedding.NewClient(
		cfg.Embedding.URL,
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
		cfg.Embedding.Timeout(),
	)
	log.Println("Embedding client initialized")

	// The hub fans turn lifecycle events out to SSE and WebSocket
	// subscribers; it doubles as the notifier for the write path.
	hub := handlers.NewTurnHub()

	// Initialize application services
	emotionService := services.NewEmotionService()
	greetingService := services.NewGreetingService(templates, 0)
	affinityService := services.NewAffinityService(affinityRepo, idGen)
	graphService := services.NewGraphService(graphStore, cfg.Graph.DecayRate)
	retrievalService := services.NewRetrievalService(
		embeddingClient,
		vectorIndex,
		graphStore,
		memoryRepo,
		llmService,
		emotionService,
		services.RetrievalOptions{
			TopK:          cfg.Retrieval.TopK,
			TopKVec:       cfg.Retrieval.TopKVector,
			MaxHops:       cfg.Retrieval.MaxHops,
			BranchTimeout: cfg.Retrieval.BranchTimeout(),
		},
	)
	promptBuilder := services.NewPromptBuilder(cfg.Conversation.HistoryTurns, 0, 0)
	extractionService := newExtraction(llmService)
	conflictService := services.NewConflictService(conflictRepo, memoryRepo, idGen, hub, 0)
	log.Println("Application services initialized")

	// Initialize use cases
	processTurn := usecases.NewProcessTurn(
		sessionRepo,
		turnRepo,
		memoryRepo,
		outboxRepo,
		idempotencyRepo,
		txManager,
		idGen,
		llmService,
		hub,
		emotionService,
		greetingService,
		affinityService,
		retrievalService,
		promptBuilder,
		cfg.Conversation.HistoryTurns,
		cfg.Conversation.IdempotencyTTL(),
	)
	streamTurn := usecases.NewStreamTurn(processTurn, hub, 0)
	queryFacts := usecases.NewQueryEntityFacts(retrievalService)
	log.Println("Conversation use cases initialized")

	drainer := usecases.NewDrainOutbox(
		outboxRepo,
		memoryRepo,
		txManager,
		embeddingClient,
		vectorIndex,
		extractionService,
		graphService,
		conflictService,
		emotionService,
		hub,
		drainerOptions(),
	)
	decay := usecases.NewApplyDecay(graphService, cfg.Graph.DecayInterval(), cfg.Graph.DecayPageSize)

	// Create HTTP server
	server := http.NewServer(cfg, pool, rdb, revocations, hub, processTurn, streamTurn, queryFacts, memoryRepo, affinityRepo, outboxRepo)

	// Start background jobs. Both Run methods return nil once their
	// context is cancelled, so Wait distinguishes shutdown from failure.
	jobsCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()

	jobs, jobsCtx := errgroup.WithContext(jobsCtx)
	jobs.Go(func() error { return drainer.Run(jobsCtx) })
	jobs.Go(func() error { return decay.Run(jobsCtx) })
	log.Printf("Outbox drainer started (%d workers)", cfg.Outbox.Workers)
	log.Printf("Graph decay sweep scheduled every %s", cfg.Graph.DecayInterval())

	// Channel to listen for errors from the server and background jobs
	serverErrors := make(chan error, 2)

	// Start server in a goroutine
	go func() {
		log.Printf("HTTP server listening on %s:%d", cfg.Server.Host, cfg.Server.Port)
		serverErrors <- server.Start()
	}()

	// A drainer or decay failure takes the whole process down rather
	// than serving reads while the write path silently stalls.
	go func() {
		if err := jobs.Wait(); err != nil {
			serverErrors <- fmt.Errorf("background jobs: %w", err)
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		stopJobs()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		log.Println("Shutting down gracefully...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Stop accepting requests first, then stop the drainer so
		// in-flight outbox events finish or are released for retry.
		if err := server.Stop(shutdownCtx); err != nil {
			stopJobs()
			return fmt.Errorf("server shutdown error: %w", err)
		}

		stopJobs()
		if err := jobs.Wait(); err != nil {
			log.Printf("Warning: background jobs exited with error: %v", err)
		}

		log.Println("Server stopped")
		return nil
	}
}
