package handlers

import (
	"net/http"

	"github.com/evermind-ai/evermind/internal/adapters/http/dto"
	"github.com/evermind-ai/evermind/internal/adapters/http/middleware"
	"github.com/evermind-ai/evermind/internal/ports"
)

// EntityFactsHandler answers free-text graph queries: anchor extraction
// plus bounded traversal, no reply generation.
type EntityFactsHandler struct {
	facts ports.QueryEntityFactsUseCase
}

func NewEntityFactsHandler(facts ports.QueryEntityFactsUseCase) *EntityFactsHandler {
	return &EntityFactsHandler{facts: facts}
}

// Get handles GET /api/v1/entities/facts?q=&max_hops=
func (h *EntityFactsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		respondError(w, r, "auth_error", "User ID not found in context", http.StatusUnauthorized)
		return
	}

	output, err := h.facts.Execute(r.Context(), &ports.EntityFactsInput{
		UserID:  userID,
		Query:   r.URL.Query().Get("q"),
		MaxHops: parseIntQuery(r, "max_hops", 0),
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respond(w, r, &dto.EntityFactsResponse{Anchors: output.Anchors, Facts: output.Facts}, http.StatusOK)
}
