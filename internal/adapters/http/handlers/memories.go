package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/evermind-ai/evermind/internal/adapters/http/dto"
	"github.com/evermind-ai/evermind/internal/adapters/http/middleware"
	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// MemoriesHandler exposes the memory browse surface, mainly used to triage
// pending_review rows.
type MemoriesHandler struct {
	memories ports.MemoryRepository
}

func NewMemoriesHandler(memories ports.MemoryRepository) *MemoriesHandler {
	return &MemoriesHandler{memories: memories}
}

// List handles GET /api/v1/memories?status=&limit=&offset=
func (h *MemoriesHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		respondError(w, r, "auth_error", "User ID not found in context", http.StatusUnauthorized)
		return
	}

	filter := ports.MemoryFilter{
		Limit:  parseIntQuery(r, "limit", 50),
		Offset: parseIntQuery(r, "offset", 0),
	}
	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := models.MemoryStatus(strings.TrimSpace(s))
			switch status {
			case models.MemoryStatusPending, models.MemoryStatusCommitted,
				models.MemoryStatusDeprecated, models.MemoryStatusDeleted,
				models.MemoryStatusPendingReview:
				filter.Status = append(filter.Status, status)
			default:
				respondError(w, r, domain.CodeInvalidInput, "unknown memory status: "+s, http.StatusUnprocessableEntity)
				return
			}
		}
	}

	memories, err := h.memories.ListByUser(r.Context(), userID, filter)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	out := make([]*dto.MemoryResponse, 0, len(memories))
	for _, m := range memories {
		out = append(out, (&dto.MemoryResponse{}).FromModel(m))
	}
	respond(w, r, &dto.MemoryListResponse{Memories: out, Count: len(out)}, http.StatusOK)
}

// Get handles GET /api/v1/memories/{id}
func (h *MemoriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		respondError(w, r, "auth_error", "User ID not found in context", http.StatusUnauthorized)
		return
	}

	id, ok := validateURLParam(r, w, "id", "Memory ID")
	if !ok {
		return
	}

	memory, err := h.memories.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrMemoryNotFound) {
			respondError(w, r, "not_found", "Memory not found", http.StatusNotFound)
		} else {
			respondDomainError(w, r, err)
		}
		return
	}

	// Rows belong to their user; foreign ids look absent, not forbidden.
	if memory.UserID != userID {
		respondError(w, r, "not_found", "Memory not found", http.StatusNotFound)
		return
	}

	respond(w, r, (&dto.MemoryResponse{}).FromModel(memory), http.StatusOK)
}
