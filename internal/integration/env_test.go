//go:build integration

package integration

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evermind-ai/evermind/internal/adapters/id"
	"github.com/evermind-ai/evermind/internal/adapters/postgres"
	"github.com/evermind-ai/evermind/internal/adapters/redis"
	"github.com/evermind-ai/evermind/internal/application/services"
	"github.com/evermind-ai/evermind/internal/application/usecases"
	"github.com/evermind-ai/evermind/internal/ports"
)

// envConfig tweaks the parts of the stack a scenario cares about.
type envConfig struct {
	reply      string           // canned LLM reply; defaults to a short acknowledgement
	minOverall float64          // drainer quarantine threshold; 0 keeps the default
	graph      ports.GraphStore // overrides the postgres store, for fault injection
}

// env is the full write/read stack wired over one test database, with fakes
// standing in for the model endpoints.
type env struct {
	pool      *pgxpool.Pool
	llm       *fakeLLM
	embedding *fakeEmbedding
	notifier  *recordingNotifier

	sessions  ports.SessionRepository
	turns     ports.TurnRepository
	memories  ports.MemoryRepository
	outbox    ports.OutboxRepository
	affinity  ports.AffinityRepository
	conflicts ports.ConflictRepository
	vectors   ports.VectorIndex

	process *usecases.ProcessTurn
	drainer *usecases.DrainOutbox
	facts   *usecases.QueryEntityFacts
}

func newEnv(t *testing.T, pool *pgxpool.Pool, ec envConfig) *env {
	t.Helper()

	if ec.reply == "" {
		ec.reply = "好呀，我记住啦。"
	}

	e := &env{
		pool:      pool,
		llm:       newFakeLLM(ec.reply),
		embedding: &fakeEmbedding{},
		notifier:  &recordingNotifier{},
		sessions:  postgres.NewSessionRepository(pool),
		turns:     postgres.NewTurnRepository(pool),
		memories:  postgres.NewMemoryRepository(pool),
		outbox:    postgres.NewOutboxRepository(pool),
		affinity:  postgres.NewAffinityRepository(pool),
		conflicts: postgres.NewConflictRepository(pool),
		vectors:   postgres.NewVectorIndex(pool),
	}

	graphStore := ec.graph
	if graphStore == nil {
		graphStore = postgres.NewGraphStore(pool)
	}
	idempotencyRepo := postgres.NewIdempotencyRepository(pool)
	txManager := postgres.NewTransactionManager(pool)
	idGen := id.New()

	emotionService := services.NewEmotionService()
	greetingService := services.NewGreetingService(redis.NewTemplateCache(nil), time.Hour)
	affinityService := services.NewAffinityService(e.affinity, idGen)
	graphService := services.NewGraphService(graphStore, 0)
	retrievalService := services.NewRetrievalService(
		e.embedding, e.vectors, graphStore, e.memories, e.llm, emotionService,
		services.RetrievalOptions{},
	)
	promptBuilder := services.NewPromptBuilder(0, 0, 0)
	critic := services.NewCritic(0, 0)
	oracle := services.NewOracleExtractor(e.llm, time.Second)
	extractionService := services.NewExtractionService(services.NewRuleExtractor(), oracle, services.NewStructuredFactExtractor(), critic)
	conflictService := services.NewConflictService(e.conflicts, e.memories, idGen, e.notifier, 0)

	e.process = usecases.NewProcessTurn(
		e.sessions, e.turns, e.memories, e.outbox, idempotencyRepo,
		txManager, idGen, e.llm, e.notifier, emotionService,
		greetingService, affinityService, retrievalService, promptBuilder,
		0, 0,
	)
	e.drainer = usecases.NewDrainOutbox(
		e.outbox, e.memories, txManager, e.embedding, e.vectors,
		extractionService, graphService, conflictService, emotionService,
		e.notifier, usecases.DrainerOptions{MinOverall: ec.minOverall},
	)
	e.facts = usecases.NewQueryEntityFacts(retrievalService)

	return e
}
