package http

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/evermind-ai/evermind/internal/adapters/http/handlers"
	"github.com/evermind-ai/evermind/internal/adapters/http/middleware"
	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/ports"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
)

type Server struct {
	config       *config.Config
	router       *chi.Mux
	httpServer   *http.Server
	db           *pgxpool.Pool
	rdb          *goredis.Client
	revocations  ports.RevocationSet
	hub          *handlers.TurnHub
	processTurn  ports.ProcessTurnUseCase
	streamTurn   ports.StreamTurnUseCase
	queryFacts   ports.QueryEntityFactsUseCase
	memoryRepo   ports.MemoryRepository
	affinityRepo ports.AffinityRepository
	outboxRepo   ports.OutboxRepository
}

func NewServer(
	cfg *config.Config,
	db *pgxpool.Pool,
	rdb *goredis.Client,
	revocations ports.RevocationSet,
	hub *handlers.TurnHub,
	processTurn ports.ProcessTurnUseCase,
	streamTurn ports.StreamTurnUseCase,
	queryFacts ports.QueryEntityFactsUseCase,
	memoryRepo ports.MemoryRepository,
	affinityRepo ports.AffinityRepository,
	outboxRepo ports.OutboxRepository,
) *Server {
	s := &Server{
		config:       cfg,
		db:           db,
		rdb:          rdb,
		revocations:  revocations,
		hub:          hub,
		processTurn:  processTurn,
		streamTurn:   streamTurn,
		queryFacts:   queryFacts,
		memoryRepo:   memoryRepo,
		affinityRepo: affinityRepo,
		outboxRepo:   outboxRepo,
	}

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogger)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(s.config.Server.CORSOrigins))
	r.Use(middleware.Metrics)

	healthHandler := handlers.NewHealthHandler(s.db, s.rdb)
	r.Get("/health", healthHandler.Handle)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.config.Server.RateLimitPerMinute))
		r.Use(middleware.Auth(s.revocations))

		turnsHandler := handlers.NewTurnsHandler(s.processTurn, s.streamTurn)
		r.Post("/turns", turnsHandler.Process)
		r.Post("/turns/stream", turnsHandler.Stream)

		factsHandler := handlers.NewEntityFactsHandler(s.queryFacts)
		r.Get("/entities/facts", factsHandler.Get)

		memoriesHandler := handlers.NewMemoriesHandler(s.memoryRepo)
		r.Get("/memories", memoriesHandler.List)
		r.Get("/memories/{id}", memoriesHandler.Get)

		affinityHandler := handlers.NewAffinityHandler(s.affinityRepo)
		r.Get("/affinity", affinityHandler.Get)

		outboxHandler := handlers.NewOutboxHandler(s.outboxRepo)
		r.Get("/outbox/stats", outboxHandler.Stats)
		r.Post("/outbox/{id}/requeue", outboxHandler.Requeue)

		eventsHandler := handlers.NewEventsHandler(s.hub, s.config.Server.CORSOrigins)
		r.Get("/events/ws", eventsHandler.Handle)
	})

	s.router = r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout: SSE and websocket responses stay open
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	return s.router
}
