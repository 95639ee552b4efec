package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evermind_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evermind_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evermind_turns_total",
		Help: "Total conversation turns processed",
	}, []string{"mode", "status"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evermind_turn_duration_seconds",
		Help:    "End-to-end turn processing duration",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	GreetingCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evermind_greeting_cache_hits_total",
		Help: "Turns answered from the greeting template cache",
	})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evermind_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evermind_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"model"})

	OutboxProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evermind_outbox_processed_total",
		Help: "Outbox events moved to a terminal or retry state",
	}, []string{"outcome"}) // done, retried, dlq, pending_review, skipped

	OutboxQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evermind_outbox_queue_depth",
		Help: "Outbox rows by status",
	}, []string{"status"})

	OutboxEventDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evermind_outbox_event_duration_seconds",
		Help:    "Time to fully process one claimed outbox event",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	RetrievalBranchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evermind_retrieval_branch_duration_seconds",
		Help:    "Latency of each retrieval branch",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"branch"}) // vector, graph

	RetrievalBranchTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evermind_retrieval_branch_timeouts_total",
		Help: "Retrieval branches that timed out and degraded to empty",
	}, []string{"branch"})

	CriticDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evermind_critic_drops_total",
		Help: "IR items dropped by the critic, by reason",
	}, []string{"kind", "reason"}) // kind: entity, relation

	ConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evermind_conflicts_total",
		Help: "Memory conflicts detected, by resolution",
	}, []string{"resolution"})

	AffinityScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evermind_affinity_score",
		Help: "Latest affinity score per user",
	}, []string{"user_id"})

	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evermind_rate_limit_rejections_total",
		Help: "Requests rejected by the per-IP rate limiter",
	})

	GraphEdgesDecayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evermind_graph_edges_decayed_total",
		Help: "Edges rewritten by the decay job",
	})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evermind_websocket_clients",
		Help: "Connected websocket event feed clients",
	})
)
