package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// healthTimeout bounds each dependency probe.
const healthTimeout = 5 * time.Second

// HealthHandler serves liveness and readiness. Liveness is unconditional;
// readiness pings the stores.
type HealthHandler struct {
	db  *pgxpool.Pool
	rdb *redis.Client
}

func NewHealthHandler(db *pgxpool.Pool, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb}
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type ReadyResponse struct {
	Status   string                   `json:"status"`
	Services map[string]ServiceHealth `json:"services"`
}

type ServiceHealth struct {
	Status    string  `json:"status"`
	LatencyMs *int64  `json:"latency_ms,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// Handle serves GET /health
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	respond(w, r, HealthResponse{Status: "ok", Version: "1.0.0"}, http.StatusOK)
}

// Ready serves GET /ready: 503 when Postgres is unreachable. Redis only
// backs the template cache and revocation set, so a Redis failure degrades
// readiness instead of failing it.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ok", Services: make(map[string]ServiceHealth)}
	code := http.StatusOK

	if h.db != nil {
		svc := h.checkPostgres(r.Context())
		resp.Services["postgres"] = svc
		if svc.Status != "healthy" {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	if h.rdb != nil {
		svc := h.checkRedis(r.Context())
		resp.Services["redis"] = svc
		if svc.Status != "healthy" && resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	respond(w, r, resp, code)
}

func (h *HealthHandler) checkPostgres(ctx context.Context) ServiceHealth {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	err := h.db.Ping(checkCtx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		return ServiceHealth{
			Status:    "unhealthy",
			LatencyMs: &latency,
			Error:     &errMsg,
		}
	}

	return ServiceHealth{
		Status:    "healthy",
		LatencyMs: &latency,
	}
}

func (h *HealthHandler) checkRedis(ctx context.Context) ServiceHealth {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	err := h.rdb.Ping(checkCtx).Err()
	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		return ServiceHealth{
			Status:    "unhealthy",
			LatencyMs: &latency,
			Error:     &errMsg,
		}
	}

	return ServiceHealth{
		Status:    "healthy",
		LatencyMs: &latency,
	}
}
