package handlers

import (
	"net/http"

	"github.com/evermind-ai/evermind/internal/adapters/http/dto"
	"github.com/evermind-ai/evermind/internal/adapters/http/middleware"
	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// AffinityHandler serves the current affinity snapshot plus recent history.
type AffinityHandler struct {
	affinity ports.AffinityRepository
}

func NewAffinityHandler(affinity ports.AffinityRepository) *AffinityHandler {
	return &AffinityHandler{affinity: affinity}
}

// Get handles GET /api/v1/affinity?history=
func (h *AffinityHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		respondError(w, r, "auth_error", "User ID not found in context", http.StatusUnauthorized)
		return
	}

	limit := parseIntQuery(r, "history", 20)
	if limit < 0 || limit > 200 {
		limit = 20
	}

	latest, err := h.affinity.GetLatest(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := &dto.AffinityResponse{History: []*dto.AffinityPoint{}}
	if latest != nil {
		resp.Current = (&dto.AffinityPoint{}).FromRecord(latest)
	} else {
		resp.Current = &dto.AffinityPoint{
			Score: models.DefaultAffinityScore,
			State: string(models.AffinityStateForScore(models.DefaultAffinityScore)),
		}
	}

	if limit > 0 {
		history, err := h.affinity.GetHistory(r.Context(), userID, limit)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		for _, rec := range history {
			resp.History = append(resp.History, (&dto.AffinityPoint{}).FromRecord(rec))
		}
	}

	respond(w, r, resp, http.StatusOK)
}
