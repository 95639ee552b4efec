package ports

import (
	"context"
	"time"

	"github.com/evermind-ai/evermind/internal/domain/models"
)

// SessionRepository defines operations for session persistence
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByIDAndUserID(ctx context.Context, id, userID string) (*models.Session, error)
	End(ctx context.Context, id string) error
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error)
}

// TurnRepository defines operations for turn persistence. Turns are
// immutable; there is no Update.
type TurnRepository interface {
	Create(ctx context.Context, turn *models.Turn) error
	GetByID(ctx context.Context, id string) (*models.Turn, error)
	GetBySession(ctx context.Context, sessionID string, limit int) ([]*models.Turn, error)
	// GetLastUserTurnAt returns the created_at of the user's most recent
	// user-role turn, for the silence_days affinity signal.
	GetLastUserTurnAt(ctx context.Context, userID string) (*time.Time, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
}

// MemoryFilter narrows ListByUser.
type MemoryFilter struct {
	Status []models.MemoryStatus
	Limit  int
	Offset int
}

// MemoryRepository defines operations for memory persistence
type MemoryRepository interface {
	Create(ctx context.Context, memory *models.Memory) error
	GetByID(ctx context.Context, id string) (*models.Memory, error)
	GetByIDs(ctx context.Context, userID string, ids []string) ([]*models.Memory, error)
	ListByUser(ctx context.Context, userID string, filter MemoryFilter) ([]*models.Memory, error)
	// GetRecentCommitted returns committed memories newest-first, for
	// conflict detection against a freshly committed memory.
	GetRecentCommitted(ctx context.Context, userID string, limit int) ([]*models.Memory, error)
	UpdateStatus(ctx context.Context, id string, status models.MemoryStatus, committedAt *time.Time) error
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error
}

// OutboxRepository defines operations for the durable fan-out queue.
// Claim is the only path from pending to processing and takes each row at
// most once per claim cycle.
type OutboxRepository interface {
	Create(ctx context.Context, event *models.OutboxEvent) error
	GetByID(ctx context.Context, id string) (*models.OutboxEvent, error)
	// Claim atomically moves up to limit due pending events to processing
	// and returns them. Rows claimed by another worker are skipped, not
	// waited on.
	Claim(ctx context.Context, limit int) ([]*models.OutboxEvent, error)
	// Complete marks the event done. Callers run it inside the same
	// transaction that flips the memory to committed.
	Complete(ctx context.Context, id string, processedAt time.Time) error
	// Reschedule returns a transient failure to pending with the next
	// attempt time pushed out by backoff.
	Reschedule(ctx context.Context, id string, retryCount int, nextAttemptAt time.Time, errorMessage string) error
	MoveToDLQ(ctx context.Context, id string, reason string) error
	MarkPendingReview(ctx context.Context, id string, reason string) error
	RecordVectorWritten(ctx context.Context, id string, at time.Time) error
	RecordGraphWritten(ctx context.Context, id string, at time.Time) error
	// RequeueStuck returns processing rows older than the timeout to
	// pending. Run by the reconciler.
	RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error)
	// Requeue rescues a dlq or pending_review event for another attempt.
	Requeue(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[models.OutboxStatus]int, error)
}

// IdempotencyRepository defines operations for idempotency records. Insert
// must fail on duplicate (user_id, key) so the first writer wins.
type IdempotencyRepository interface {
	Insert(ctx context.Context, record *models.IdempotencyRecord) error
	Get(ctx context.Context, userID, key string) (*models.IdempotencyRecord, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// AffinityRepository defines operations for the affinity time series
type AffinityRepository interface {
	Insert(ctx context.Context, record *models.AffinityRecord) error
	GetLatest(ctx context.Context, userID string) (*models.AffinityRecord, error)
	GetHistory(ctx context.Context, userID string, limit int) ([]*models.AffinityRecord, error)
}

// ConflictRepository defines operations for conflict records
type ConflictRepository interface {
	Create(ctx context.Context, record *models.ConflictRecord) error
	Update(ctx context.Context, record *models.ConflictRecord) error
	GetByID(ctx context.Context, id string) (*models.ConflictRecord, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.ConflictRecord, error)
	// HasConflictBetween reports whether a record already covers the pair,
	// in either order.
	HasConflictBetween(ctx context.Context, userID, memoryIDA, memoryIDB string) (bool, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	// WithTransaction executes a function within a database transaction
	// If the function returns an error, the transaction is rolled back
	// Otherwise, the transaction is committed
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	// WithSessionLock is WithTransaction plus an advisory lock keyed by the
	// session id, serializing turn commits within one session.
	WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error
}

// IDGenerator generates unique IDs for entities
type IDGenerator interface {
	// GenerateSessionID generates a new session ID (uuid)
	GenerateSessionID() string

	// GenerateTurnID generates a new turn ID (uuid)
	GenerateTurnID() string

	// GenerateMemoryID generates a new memory ID (uuid)
	GenerateMemoryID() string

	// GenerateEventID generates a new outbox event row ID (evt_xxx)
	GenerateEventID() string

	// GenerateConflictID generates a new conflict record ID (cfl_xxx)
	GenerateConflictID() string

	// GenerateAffinityID generates a new affinity row ID (aff_xxx)
	GenerateAffinityID() string

	// GenerateRequestID generates a new request ID (req_xxx)
	GenerateRequestID() string
}
