package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/evermind-ai/evermind/internal/adapters/http/dto"
	"github.com/evermind-ai/evermind/internal/adapters/metrics"
	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// OutboxHandler exposes fan-out queue stats and the DLQ rescue path.
type OutboxHandler struct {
	outbox ports.OutboxRepository
}

func NewOutboxHandler(outbox ports.OutboxRepository) *OutboxHandler {
	return &OutboxHandler{outbox: outbox}
}

// Stats handles GET /api/v1/outbox/stats
func (h *OutboxHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.outbox.CountByStatus(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := &dto.OutboxStatsResponse{Counts: make(map[string]int, len(counts))}
	for status, n := range counts {
		resp.Counts[string(status)] = n
		resp.Total += n
		metrics.OutboxQueueDepth.WithLabelValues(string(status)).Set(float64(n))
	}

	respond(w, r, resp, http.StatusOK)
}

// Requeue handles POST /api/v1/outbox/{id}/requeue
// Only terminal rows (dlq, pending_review) can be rescued; the drainer picks
// the row up on its next claim cycle.
func (h *OutboxHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Event ID")
	if !ok {
		return
	}

	event, err := h.outbox.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			respondError(w, r, "not_found", "Outbox event not found", http.StatusNotFound)
		} else {
			respondDomainError(w, r, err)
		}
		return
	}

	if event.Status != models.OutboxStatusDLQ && event.Status != models.OutboxStatusPendingReview {
		respondError(w, r, "conflict", "only dlq or pending_review events can be requeued", http.StatusConflict)
		return
	}

	if err := h.outbox.Requeue(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}

	log.Printf("outbox: event %s requeued via API (was %s)", id, event.Status)
	respond(w, r, &dto.RequeueResponse{ID: id, Status: string(models.OutboxStatusPending)}, http.StatusOK)
}
