package domain

import "errors"

// Common domain errors
var (
	// Turn processing errors
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnNotFound    = errors.New("turn not found")
	ErrEmptyMessage    = errors.New("message cannot be empty")
	ErrInvalidMode     = errors.New("invalid retrieval mode")
	ErrSessionClosed   = errors.New("session has ended")

	// Memory errors
	ErrMemoryNotFound   = errors.New("memory not found")
	ErrEmbeddingsFailed = errors.New("failed to generate embeddings")
	ErrSearchFailed     = errors.New("memory search failed")

	// Outbox errors
	ErrEventNotFound   = errors.New("outbox event not found")
	ErrEventClaimed    = errors.New("outbox event already claimed")
	ErrEventTerminal   = errors.New("outbox event is terminal")
	ErrPayloadMalformed = errors.New("outbox payload malformed")

	// Graph errors
	ErrEntityNotFound = errors.New("entity not found")
	ErrSelfLoop       = errors.New("relation cannot self-loop")

	// Oracle errors
	ErrLLMUnavailable       = errors.New("LLM service unavailable")
	ErrLLMRequestFailed     = errors.New("LLM request failed")
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// Extraction errors
	ErrLowConfidence    = errors.New("extraction confidence below threshold")
	ErrNothingExtracted = errors.New("no entities survived the critic")

	// Validation errors
	ErrInvalidID    = errors.New("invalid ID format")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("resource not found")

	// Rate limiting
	ErrRateLimited = errors.New("rate limit exceeded")

	// Store errors
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Public error codes carried on DomainError and mapped by the HTTP adapter.
const (
	CodeConversationFailed      = "CONVERSATION_FAILED"
	CodeStoreUnavailable        = "STORE_UNAVAILABLE"
	CodeExtractionLowConfidence = "EXTRACTION_LOW_CONFIDENCE"
	CodeRateLimited             = "RATE_LIMITED"
	CodeInvalidInput            = "INVALID_INPUT"
)

// DomainError wraps a domain error with a public code and the trace id of
// the request that produced it. User-visible messages never include store
// internals; operators correlate through the trace id.
type DomainError struct {
	Err     error
	Message string
	Code    string
	TraceID string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func NewDomainError(err error, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
	}
}

func NewDomainErrorWithCode(err error, message, code string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// transientError marks drainer failures that warrant a backoff and retry:
// network errors, 5xx, rate limits, oracle timeouts.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// permanentError marks drainer failures no retry can fix: schema violations,
// malformed payloads, the critic rejecting everything.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsTransient reports whether err was marked transient. Unmarked errors are
// treated as transient by the drainer so that infrastructure blips default
// to retry rather than DLQ.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
