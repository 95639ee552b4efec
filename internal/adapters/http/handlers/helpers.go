package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/evermind-ai/evermind/internal/adapters/http/dto"
	"github.com/evermind-ai/evermind/internal/adapters/http/encoding"
	"github.com/evermind-ai/evermind/internal/adapters/tracing"
	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/go-chi/chi/v5"
)

// respond writes data as JSON or msgpack, following the Accept header.
func respond(w http.ResponseWriter, r *http.Request, data interface{}, status int) {
	if encoding.NegotiateContentType(r) == encoding.ContentTypeMsgpack {
		if err := encoding.WriteMsgpack(w, status, data); err != nil {
			log.Printf("error: msgpack response encode failed: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", encoding.ContentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes the structured error envelope, stamped with the trace
// id of the active span.
func respondError(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	respond(w, r, dto.NewErrorResponse(code, message, tracing.TraceIDFromContext(r.Context())), status)
}

// statusForCode maps the public domain error codes to HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case domain.CodeInvalidInput:
		return http.StatusUnprocessableEntity
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case domain.CodeExtractionLowConfidence:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError translates a usecase error into the wire envelope.
// Anything unclassified becomes a 500 CONVERSATION_FAILED so store internals
// never reach the client.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var derr *domain.DomainError
	if errors.As(err, &derr) && derr.Code != "" {
		respondError(w, r, derr.Code, derr.Message, statusForCode(derr.Code))
		return
	}

	switch {
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidMode),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidInput):
		respondError(w, r, domain.CodeInvalidInput, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrMemoryNotFound),
		errors.Is(err, domain.ErrEventNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrNotFound):
		respondError(w, r, "not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrRateLimited):
		respondError(w, r, domain.CodeRateLimited, err.Error(), http.StatusTooManyRequests)
	default:
		log.Printf("error: unclassified handler error: %v", err)
		respondError(w, r, domain.CodeConversationFailed, "internal error", http.StatusInternalServerError)
	}
}

// decodeRequest decodes the request body by Content-Type: msgpack when the
// client sent it, JSON otherwise. Bodies are capped at 1 MB.
func decodeRequest[T any](r *http.Request, w http.ResponseWriter) (*T, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)

	var req T
	if encoding.IsMsgpack(r.Header.Get("Content-Type")) {
		if err := encoding.ReadMsgpack(r, &req); err != nil {
			respondError(w, r, "invalid_request", "Invalid request body", http.StatusBadRequest)
			return nil, false
		}
		return &req, true
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(r *http.Request, name string, defaultValue int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// validateURLParam validates and returns a URL parameter
func validateURLParam(r *http.Request, w http.ResponseWriter, paramName, errorField string) (string, bool) {
	value := chi.URLParam(r, paramName)
	if value == "" {
		respondError(w, r, "invalid_request", errorField+" is required", http.StatusBadRequest)
		return "", false
	}
	return value, true
}
