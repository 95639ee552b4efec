package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/evermind-ai/evermind/internal/adapters/http/dto"
	"github.com/evermind-ai/evermind/internal/adapters/http/middleware"
	"github.com/evermind-ai/evermind/internal/ports"
)

// TurnsHandler serves the synchronous and streaming turn endpoints.
type TurnsHandler struct {
	processTurn ports.ProcessTurnUseCase
	streamTurn  ports.StreamTurnUseCase
}

func NewTurnsHandler(processTurn ports.ProcessTurnUseCase, streamTurn ports.StreamTurnUseCase) *TurnsHandler {
	return &TurnsHandler{
		processTurn: processTurn,
		streamTurn:  streamTurn,
	}
}

// Process handles POST /api/v1/turns
func (h *TurnsHandler) Process(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		respondError(w, r, "auth_error", "User ID not found in context", http.StatusUnauthorized)
		return
	}

	req, ok := decodeRequest[dto.TurnRequest](r, w)
	if !ok {
		return
	}

	output, err := h.processTurn.Execute(r.Context(), req.ToInput(userID))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respond(w, r, output, http.StatusOK)
}

// Stream handles POST /api/v1/turns/stream
// One SSE data frame per turn delta; the stream ends after done or error.
func (h *TurnsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		respondError(w, r, "auth_error", "User ID not found in context", http.StatusUnauthorized)
		return
	}

	req, ok := decodeRequest[dto.TurnRequest](r, w)
	if !ok {
		return
	}

	// Validation failures surface here, before any SSE headers are sent.
	deltas, err := h.streamTurn.Execute(r.Context(), req.ToInput(userID))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, "internal_error", "Streaming not supported", http.StatusInternalServerError)
		return
	}
	flusher.Flush()

	// Keepalive comments hold intermediaries open while the stream waits
	// for the drainer to confirm the commit.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Printf("SSE: client disconnected mid-stream (user %s)", userID)
			return

		case delta, ok := <-deltas:
			if !ok {
				return
			}
			data, err := json.Marshal(delta)
			if err != nil {
				log.Printf("SSE: failed to marshal delta: %v", err)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				log.Printf("SSE: error writing event: %v", err)
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
