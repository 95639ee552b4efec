package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for Evermind
type Config struct {
	LLM          LLMConfig          `json:"llm"`
	Embedding    EmbeddingConfig    `json:"embedding"`
	Database     DatabaseConfig     `json:"database"`
	Redis        RedisConfig        `json:"redis"`
	Server       ServerConfig       `json:"server"`
	Outbox       OutboxConfig       `json:"outbox"`
	Retrieval    RetrievalConfig    `json:"retrieval"`
	Extraction   ExtractionConfig   `json:"extraction"`
	Graph        GraphConfig        `json:"graph"`
	Conversation ConversationConfig `json:"conversation"`
	Tracing      TracingConfig      `json:"tracing"`
}

// LLMConfig holds LLM API configuration (vLLM/LiteLLM, OpenAI-compatible)
type LLMConfig struct {
	URL         string  `json:"url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TimeoutSec  int     `json:"timeout_sec"` // per-generation deadline
}

// Timeout returns the generation deadline as a duration.
func (c LLMConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }

// EmbeddingConfig holds embedding API configuration
type EmbeddingConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`      // e.g., "bge-m3"
	Dimensions int    `json:"dimensions"` // e.g., 1024 for bge-m3
	TimeoutSec int    `json:"timeout_sec"`
}

// Timeout returns the embedding call deadline as a duration.
func (c EmbeddingConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	PostgresURL string `json:"postgres_url"`
}

// RedisConfig holds the optional Redis configuration. When URL is empty the
// greeting template cache and token revocation set fall back to in-process maps.
type RedisConfig struct {
	URL string `json:"url"` // e.g., "redis://localhost:6379/0"
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host               string   `json:"host"`
	Port               int      `json:"port"`
	CORSOrigins        []string `json:"cors_origins"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute"` // per client IP; 0 disables
}

// OutboxConfig holds outbox drainer configuration
type OutboxConfig struct {
	Workers              int `json:"workers"`
	BatchSize            int `json:"batch_size"`
	PollIntervalMS       int `json:"poll_interval_ms"`
	MaxRetries           int `json:"max_retries"`
	BackoffBaseMS        int `json:"backoff_base_ms"`
	BackoffCapMS         int `json:"backoff_cap_ms"`
	ProcessingTimeoutSec int `json:"processing_timeout_sec"` // stuck-row requeue threshold
	ReconcileIntervalSec int `json:"reconcile_interval_sec"`
}

// PollInterval returns how long an idle worker sleeps between claim attempts.
func (c OutboxConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// BackoffBase returns the first retry delay.
func (c OutboxConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffCap returns the maximum retry delay.
func (c OutboxConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMS) * time.Millisecond
}

// ProcessingTimeout returns how old a processing row must be before the
// reconciler requeues it.
func (c OutboxConfig) ProcessingTimeout() time.Duration {
	return time.Duration(c.ProcessingTimeoutSec) * time.Second
}

// ReconcileInterval returns how often the reconciler scans for stuck rows.
func (c OutboxConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSec) * time.Second
}

// RetrievalConfig holds hybrid retrieval configuration
type RetrievalConfig struct {
	TopK            int `json:"top_k"`
	TopKVector      int `json:"top_k_vector"`
	MaxHops         int `json:"max_hops"`
	BranchTimeoutMS int `json:"branch_timeout_ms"` // per retrieval branch
}

// BranchTimeout returns the per-branch deadline for the retrieval fork-join.
func (c RetrievalConfig) BranchTimeout() time.Duration {
	return time.Duration(c.BranchTimeoutMS) * time.Millisecond
}

// ExtractionConfig holds memory extraction and critic configuration
type ExtractionConfig struct {
	ConfidenceThreshold  float64 `json:"confidence_threshold"`   // critic tau
	StrictThreshold      float64 `json:"strict_threshold"`       // critic tau in strict mode
	MinOverallConfidence float64 `json:"min_overall_confidence"` // below this the memory is quarantined
	OracleTimeoutMS      int     `json:"oracle_timeout_ms"`
}

// OracleTimeout returns the deadline for the fast extraction oracle call.
func (c ExtractionConfig) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutMS) * time.Millisecond
}

// GraphConfig holds entity graph configuration
type GraphConfig struct {
	DecayRate          float64 `json:"decay_rate"` // per-day exponential decay
	DecayPageSize      int     `json:"decay_page_size"`
	DecayIntervalHours int     `json:"decay_interval_hours"`
}

// DecayInterval returns how often the decay job runs.
func (c GraphConfig) DecayInterval() time.Duration {
	return time.Duration(c.DecayIntervalHours) * time.Hour
}

// ConversationConfig holds conversation-core configuration
type ConversationConfig struct {
	HistoryTurns        int `json:"history_turns"` // last N turns included in the prompt
	IdempotencyTTLHours int `json:"idempotency_ttl_hours"`
}

// IdempotencyTTL returns how long a stored reply satisfies a repeated key.
func (c ConversationConfig) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			URL:         "http://localhost:8000/v1",
			APIKey:      "",
			Model:       "Qwen/Qwen3-8B-AWQ",
			MaxTokens:   1024,
			Temperature: 0.7,
			TimeoutSec:  30,
		},
		Embedding: EmbeddingConfig{
			URL:        "http://localhost:11434/v1",
			APIKey:     "",
			Model:      "bge-m3",
			Dimensions: 1024,
			TimeoutSec: 20,
		},
		Database: DatabaseConfig{
			PostgresURL: "",
		},
		Redis: RedisConfig{
			URL: "",
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			CORSOrigins:        []string{"http://localhost:3000"},
			RateLimitPerMinute: 100,
		},
		Outbox: OutboxConfig{
			Workers:              runtime.GOMAXPROCS(0),
			BatchSize:            16,
			PollIntervalMS:       500,
			MaxRetries:           5,
			BackoffBaseMS:        1000,
			BackoffCapMS:         300000,
			ProcessingTimeoutSec: 600,
			ReconcileIntervalSec: 60,
		},
		Retrieval: RetrievalConfig{
			TopK:            20,
			TopKVector:      32,
			MaxHops:         3,
			BranchTimeoutMS: 1200,
		},
		Extraction: ExtractionConfig{
			ConfidenceThreshold:  0.5,
			StrictThreshold:      0.7,
			MinOverallConfidence: 0.35,
			OracleTimeoutMS:      800,
		},
		Graph: GraphConfig{
			DecayRate:          0.03,
			DecayPageSize:      1000,
			DecayIntervalHours: 24,
		},
		Conversation: ConversationConfig{
			HistoryTurns:        10,
			IdempotencyTTLHours: 24,
		},
		Tracing: TracingConfig{
			Enabled: true,
		},
	}
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// envBool loads a boolean environment variable into the target pointer if set and valid
func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// envStringSlice loads a comma-separated environment variable into a string slice
func envStringSlice(key string, target *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			*target = result
		}
	}
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	// Load LLM configuration from environment
	envString("EVERMIND_LLM_URL", &cfg.LLM.URL)
	envString("EVERMIND_LLM_API_KEY", &cfg.LLM.APIKey)
	envString("EVERMIND_LLM_MODEL", &cfg.LLM.Model)
	envInt("EVERMIND_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envFloat("EVERMIND_LLM_TEMPERATURE", &cfg.LLM.Temperature)
	envInt("EVERMIND_LLM_TIMEOUT_SEC", &cfg.LLM.TimeoutSec)

	// Load Embedding configuration from environment
	envString("EVERMIND_EMBEDDING_URL", &cfg.Embedding.URL)
	envString("EVERMIND_EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	envString("EVERMIND_EMBEDDING_MODEL", &cfg.Embedding.Model)
	envInt("EVERMIND_EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions)
	envInt("EVERMIND_EMBEDDING_TIMEOUT_SEC", &cfg.Embedding.TimeoutSec)

	// Load Database configuration from environment
	envString("EVERMIND_POSTGRES_URL", &cfg.Database.PostgresURL)

	// Load Redis configuration from environment
	envString("EVERMIND_REDIS_URL", &cfg.Redis.URL)

	// Load Server configuration from environment
	envString("EVERMIND_SERVER_HOST", &cfg.Server.Host)
	envInt("EVERMIND_SERVER_PORT", &cfg.Server.Port)
	envStringSlice("EVERMIND_CORS_ORIGINS", &cfg.Server.CORSOrigins)
	envInt("EVERMIND_RATE_LIMIT_PER_MINUTE", &cfg.Server.RateLimitPerMinute)

	// Load Outbox configuration from environment
	envInt("EVERMIND_OUTBOX_WORKERS", &cfg.Outbox.Workers)
	envInt("EVERMIND_OUTBOX_BATCH_SIZE", &cfg.Outbox.BatchSize)
	envInt("EVERMIND_OUTBOX_POLL_INTERVAL_MS", &cfg.Outbox.PollIntervalMS)
	envInt("EVERMIND_OUTBOX_MAX_RETRIES", &cfg.Outbox.MaxRetries)
	envInt("EVERMIND_OUTBOX_BACKOFF_BASE_MS", &cfg.Outbox.BackoffBaseMS)
	envInt("EVERMIND_OUTBOX_BACKOFF_CAP_MS", &cfg.Outbox.BackoffCapMS)
	envInt("EVERMIND_OUTBOX_PROCESSING_TIMEOUT_SEC", &cfg.Outbox.ProcessingTimeoutSec)
	envInt("EVERMIND_OUTBOX_RECONCILE_INTERVAL_SEC", &cfg.Outbox.ReconcileIntervalSec)

	// Load Retrieval configuration from environment
	envInt("EVERMIND_RETRIEVAL_TOP_K", &cfg.Retrieval.TopK)
	envInt("EVERMIND_RETRIEVAL_TOP_K_VECTOR", &cfg.Retrieval.TopKVector)
	envInt("EVERMIND_RETRIEVAL_MAX_HOPS", &cfg.Retrieval.MaxHops)
	envInt("EVERMIND_RETRIEVAL_BRANCH_TIMEOUT_MS", &cfg.Retrieval.BranchTimeoutMS)

	// Load Extraction configuration from environment
	envFloat("EVERMIND_EXTRACTION_CONFIDENCE_THRESHOLD", &cfg.Extraction.ConfidenceThreshold)
	envFloat("EVERMIND_EXTRACTION_STRICT_THRESHOLD", &cfg.Extraction.StrictThreshold)
	envFloat("EVERMIND_EXTRACTION_MIN_OVERALL", &cfg.Extraction.MinOverallConfidence)
	envInt("EVERMIND_EXTRACTION_ORACLE_TIMEOUT_MS", &cfg.Extraction.OracleTimeoutMS)

	// Load Graph configuration from environment
	envFloat("EVERMIND_GRAPH_DECAY_RATE", &cfg.Graph.DecayRate)
	envInt("EVERMIND_GRAPH_DECAY_PAGE_SIZE", &cfg.Graph.DecayPageSize)
	envInt("EVERMIND_GRAPH_DECAY_INTERVAL_HOURS", &cfg.Graph.DecayIntervalHours)

	// Load Conversation configuration from environment
	envInt("EVERMIND_CONVERSATION_HISTORY_TURNS", &cfg.Conversation.HistoryTurns)
	envInt("EVERMIND_IDEMPOTENCY_TTL_HOURS", &cfg.Conversation.IdempotencyTTLHours)

	// Load Tracing configuration from environment
	envBool("EVERMIND_TRACING_ENABLED", &cfg.Tracing.Enabled)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsRedisConfigured returns true if a Redis URL is set
func (c *Config) IsRedisConfigured() bool {
	return c.Redis.URL != ""
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "rate limit must not be negative")
	}

	// LLM validation
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "LLM temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, "LLM max_tokens must be positive")
	}
	if c.LLM.TimeoutSec < 1 {
		errs = append(errs, "LLM timeout must be at least 1 second")
	}
	if c.LLM.URL == "" {
		errs = append(errs, "LLM URL is required")
	} else if !isValidURL(c.LLM.URL) {
		errs = append(errs, "LLM URL must be a valid URL")
	}

	// Embedding validation
	if c.Embedding.URL == "" {
		errs = append(errs, "embedding URL is required")
	} else if !isValidURL(c.Embedding.URL) {
		errs = append(errs, "embedding URL must be a valid URL")
	}
	if c.Embedding.Dimensions < 1 {
		errs = append(errs, "embedding dimensions must be positive")
	}
	if c.Embedding.TimeoutSec < 1 {
		errs = append(errs, "embedding timeout must be at least 1 second")
	}

	// Database validation
	if c.Database.PostgresURL == "" {
		errs = append(errs, "PostgreSQL URL is required")
	} else if !isValidURL(c.Database.PostgresURL) {
		errs = append(errs, "PostgreSQL URL must be a valid URL")
	}

	// Redis validation (optional but validate if set)
	if c.Redis.URL != "" && !isValidURL(c.Redis.URL) {
		errs = append(errs, "Redis URL must be a valid URL")
	}

	// Outbox validation
	if c.Outbox.Workers < 1 {
		errs = append(errs, "outbox workers must be at least 1")
	}
	if c.Outbox.BatchSize < 1 {
		errs = append(errs, "outbox batch size must be at least 1")
	}
	if c.Outbox.PollIntervalMS < 1 {
		errs = append(errs, "outbox poll interval must be positive")
	}
	if c.Outbox.MaxRetries < 0 {
		errs = append(errs, "outbox max retries must not be negative")
	}
	if c.Outbox.BackoffBaseMS < 1 {
		errs = append(errs, "outbox backoff base must be positive")
	}
	if c.Outbox.BackoffCapMS < c.Outbox.BackoffBaseMS {
		errs = append(errs, "outbox backoff cap must be at least the base")
	}
	if c.Outbox.ProcessingTimeoutSec < 1 {
		errs = append(errs, "outbox processing timeout must be positive")
	}
	if c.Outbox.ReconcileIntervalSec < 1 {
		errs = append(errs, "outbox reconcile interval must be positive")
	}

	// Retrieval validation
	if c.Retrieval.TopK < 1 {
		errs = append(errs, "retrieval top_k must be at least 1")
	}
	if c.Retrieval.TopKVector < 1 {
		errs = append(errs, "retrieval top_k_vector must be at least 1")
	}
	if c.Retrieval.MaxHops < 1 || c.Retrieval.MaxHops > 5 {
		errs = append(errs, "retrieval max hops must be between 1 and 5")
	}
	if c.Retrieval.BranchTimeoutMS < 1 {
		errs = append(errs, "retrieval branch timeout must be positive")
	}

	// Extraction validation
	if c.Extraction.ConfidenceThreshold < 0 || c.Extraction.ConfidenceThreshold > 1 {
		errs = append(errs, "extraction confidence threshold must be between 0 and 1")
	}
	if c.Extraction.StrictThreshold < c.Extraction.ConfidenceThreshold || c.Extraction.StrictThreshold > 1 {
		errs = append(errs, "extraction strict threshold must be between the confidence threshold and 1")
	}
	if c.Extraction.MinOverallConfidence < 0 || c.Extraction.MinOverallConfidence > 1 {
		errs = append(errs, "extraction min overall confidence must be between 0 and 1")
	}
	if c.Extraction.OracleTimeoutMS < 1 {
		errs = append(errs, "extraction oracle timeout must be positive")
	}

	// Graph validation
	if c.Graph.DecayRate < 0 {
		errs = append(errs, "graph decay rate must not be negative")
	}
	if c.Graph.DecayPageSize < 1 {
		errs = append(errs, "graph decay page size must be at least 1")
	}
	if c.Graph.DecayIntervalHours < 1 {
		errs = append(errs, "graph decay interval must be at least 1 hour")
	}

	// Conversation validation
	if c.Conversation.HistoryTurns < 0 {
		errs = append(errs, "conversation history turns must not be negative")
	}
	if c.Conversation.IdempotencyTTLHours < 1 {
		errs = append(errs, "idempotency TTL must be at least 1 hour")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getConfigPath returns the path to the config file
func getConfigPath() string {
	if path := os.Getenv("EVERMIND_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "evermind.json"
	}

	// Check ~/.config/evermind/config.json first
	configDir := filepath.Join(homeDir, ".config", "evermind")
	configPath := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	// Check ~/.evermind/config.json
	altPath := filepath.Join(homeDir, ".evermind", "config.json")
	if _, err := os.Stat(altPath); err == nil {
		return altPath
	}

	return "evermind.json"
}
