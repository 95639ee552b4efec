package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/evermind-ai/evermind/internal/adapters/llm"
	"github.com/evermind-ai/evermind/internal/adapters/redis"
	"github.com/evermind-ai/evermind/internal/application/services"
	"github.com/evermind-ai/evermind/internal/application/usecases"
	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/ports"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared global variables
var (
	cfg       *config.Config
	llmClient *llm.Client
)

// initDB initializes a database connection pool for CLI commands
func initDB(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Database.PostgresURL == "" {
		return nil, fmt.Errorf("PostgreSQL connection required. Set EVERMIND_POSTGRES_URL")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Force UTC timezone to prevent timezone-related issues with TIMESTAMP columns
	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return pool, nil
}

// initRedis connects to Redis when configured. A nil return is a valid
// outcome: the revocation set and template cache fall back to in-process
// maps, which is fine for single-instance deployments.
func initRedis(ctx context.Context) *goredis.Client {
	if !cfg.IsRedisConfigured() {
		log.Println("Redis not configured - using in-process revocation and template caches")
		return nil
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v", err)
		log.Println("Falling back to in-process revocation and template caches")
		return nil
	}

	log.Println("Redis connection established")
	return rdb
}

// newExtraction wires the rule extractor, the LLM oracle, the structured
// fact parser and the critic into the extraction pipeline shared by the
// serve and drain commands.
func newExtraction(llmService ports.LLMService) *services.ExtractionService {
	critic := services.NewCritic(cfg.Extraction.ConfidenceThreshold, cfg.Extraction.StrictThreshold)
	oracle := services.NewOracleExtractor(llmService, cfg.Extraction.OracleTimeout())
	return services.NewExtractionService(services.NewRuleExtractor(), oracle, services.NewStructuredFactExtractor(), critic)
}

// drainerOptions maps outbox and extraction settings onto the drainer.
func drainerOptions() usecases.DrainerOptions {
	return usecases.DrainerOptions{
		Workers:           cfg.Outbox.Workers,
		BatchSize:         cfg.Outbox.BatchSize,
		PollInterval:      cfg.Outbox.PollInterval(),
		MaxRetries:        cfg.Outbox.MaxRetries,
		BackoffBase:       cfg.Outbox.BackoffBase(),
		BackoffCap:        cfg.Outbox.BackoffCap(),
		MinOverall:        cfg.Extraction.MinOverallConfidence,
		ProcessingTimeout: cfg.Outbox.ProcessingTimeout(),
		ReconcileInterval: cfg.Outbox.ReconcileInterval(),
	}
}

// maskSecret masks a secret string for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// boolStatus returns a status string for a boolean
func boolStatus(b bool) string {
	if b {
		return "configured"
	}
	return "not configured"
}
