package main

import (
	"fmt"
	"os"

	"github.com/evermind-ai/evermind/internal/adapters/llm"
	"github.com/evermind-ai/evermind/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "evermind",
		Short: "Evermind - long-term memory engine for companion conversations",
		Long: `Evermind stores companion conversations, extracts durable facts into
a decaying entity graph, and serves hybrid retrieval over relational,
vector and graph indexes backed by PostgreSQL.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			llmClient = llm.NewClient(
				cfg.LLM.URL,
				cfg.LLM.APIKey,
				cfg.LLM.Model,
				cfg.LLM.MaxTokens,
				cfg.LLM.Temperature,
			)

			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		drainCmd(),
		decayCmd(),
		migrateCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()

			fmt.Println("LLM:")
			fmt.Printf("  URL:         %s\n", cfg.LLM.URL)
			fmt.Printf("  Model:       %s\n", cfg.LLM.Model)
			fmt.Printf("  Max Tokens:  %d\n", cfg.LLM.MaxTokens)
			fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
			fmt.Printf("  Timeout:     %s\n", cfg.LLM.Timeout())
			fmt.Printf("  API Key:     %s\n", maskSecret(cfg.LLM.APIKey))
			fmt.Println()

			fmt.Println("Embedding:")
			fmt.Printf("  URL:        %s\n", cfg.Embedding.URL)
			fmt.Printf("  Model:      %s\n", cfg.Embedding.Model)
			fmt.Printf("  Dimensions: %d\n", cfg.Embedding.Dimensions)
			fmt.Printf("  API Key:    %s\n", maskSecret(cfg.Embedding.APIKey))
			fmt.Println()

			fmt.Println("Storage:")
			fmt.Printf("  PostgreSQL: %s\n", maskSecret(cfg.Database.PostgresURL))
			fmt.Printf("  Redis:      %s\n", maskSecret(cfg.Redis.URL))
			fmt.Printf("  Status:     %s\n", boolStatus(cfg.IsRedisConfigured()))
			fmt.Println()

			fmt.Println("Server:")
			fmt.Printf("  Host:       %s\n", cfg.Server.Host)
			fmt.Printf("  Port:       %d\n", cfg.Server.Port)
			fmt.Printf("  CORS:       %v\n", cfg.Server.CORSOrigins)
			fmt.Printf("  Rate Limit: %d req/min\n", cfg.Server.RateLimitPerMinute)
			fmt.Println()

			fmt.Println("Outbox:")
			fmt.Printf("  Workers:            %d\n", cfg.Outbox.Workers)
			fmt.Printf("  Batch Size:         %d\n", cfg.Outbox.BatchSize)
			fmt.Printf("  Poll Interval:      %s\n", cfg.Outbox.PollInterval())
			fmt.Printf("  Max Retries:        %d\n", cfg.Outbox.MaxRetries)
			fmt.Printf("  Processing Timeout: %s\n", cfg.Outbox.ProcessingTimeout())
			fmt.Println()

			fmt.Println("Retrieval:")
			fmt.Printf("  Top K:          %d\n", cfg.Retrieval.TopK)
			fmt.Printf("  Top K (vector): %d\n", cfg.Retrieval.TopKVector)
			fmt.Printf("  Max Hops:       %d\n", cfg.Retrieval.MaxHops)
			fmt.Printf("  Branch Timeout: %s\n", cfg.Retrieval.BranchTimeout())
			fmt.Println()

			fmt.Println("Extraction:")
			fmt.Printf("  Confidence Threshold: %.2f\n", cfg.Extraction.ConfidenceThreshold)
			fmt.Printf("  Strict Threshold:     %.2f\n", cfg.Extraction.StrictThreshold)
			fmt.Printf("  Min Overall:          %.2f\n", cfg.Extraction.MinOverallConfidence)
			fmt.Println()

			fmt.Println("Graph:")
			fmt.Printf("  Decay Rate:     %.3f\n", cfg.Graph.DecayRate)
			fmt.Printf("  Decay Interval: %s\n", cfg.Graph.DecayInterval())
			fmt.Printf("  Page Size:      %d\n", cfg.Graph.DecayPageSize)
			fmt.Println()

			fmt.Println("Conversation:")
			fmt.Printf("  History Turns:   %d\n", cfg.Conversation.HistoryTurns)
			fmt.Printf("  Idempotency TTL: %s\n", cfg.Conversation.IdempotencyTTL())
			fmt.Println()

			fmt.Println("Tracing:")
			fmt.Printf("  Status: %s\n", boolStatus(cfg.Tracing.Enabled))
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  EVERMIND_LLM_URL, EVERMIND_LLM_API_KEY, EVERMIND_LLM_MODEL")
			fmt.Println("  EVERMIND_EMBEDDING_URL, EVERMIND_EMBEDDING_MODEL, EVERMIND_EMBEDDING_DIMENSIONS")
			fmt.Println("  EVERMIND_POSTGRES_URL, EVERMIND_REDIS_URL")
			fmt.Println("  EVERMIND_SERVER_HOST, EVERMIND_SERVER_PORT, EVERMIND_CORS_ORIGINS")
			fmt.Println("  EVERMIND_OUTBOX_WORKERS, EVERMIND_OUTBOX_BATCH_SIZE, EVERMIND_OUTBOX_MAX_RETRIES")
			fmt.Println("  EVERMIND_RETRIEVAL_TOP_K, EVERMIND_RETRIEVAL_MAX_HOPS")
			fmt.Println("  EVERMIND_GRAPH_DECAY_RATE, EVERMIND_GRAPH_DECAY_INTERVAL_HOURS")
			fmt.Println("  EVERMIND_TRACING_ENABLED")

			return nil
		},
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Evermind %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
