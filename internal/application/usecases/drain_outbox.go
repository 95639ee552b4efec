package usecases

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evermind-ai/evermind/internal/adapters/metrics"
	"github.com/evermind-ai/evermind/internal/adapters/retry"
	"github.com/evermind-ai/evermind/internal/application/services"
	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// Drainer defaults; all overridable through DrainerOptions.
const (
	DefaultDrainWorkers      = 4
	DefaultDrainBatchSize    = 16
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultMaxRetries        = 5
	DefaultBackoffBase       = time.Second
	DefaultBackoffCap        = 5 * time.Minute
	DefaultMinOverall        = 0.35
	DefaultProcessingTimeout = 10 * time.Minute
	DefaultReconcileInterval = time.Minute
)

// DrainerOptions tune the worker pool and the per-event policies. Zero
// values fall back to defaults.
type DrainerOptions struct {
	Workers           int
	BatchSize         int
	PollInterval      time.Duration
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	MinOverall        float64
	StrictCritic      bool
	ProcessingTimeout time.Duration
	ReconcileInterval time.Duration
}

func (o DrainerOptions) withDefaults() DrainerOptions {
	if o.Workers <= 0 {
		o.Workers = DefaultDrainWorkers
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultDrainBatchSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = DefaultBackoffCap
	}
	if o.MinOverall <= 0 {
		o.MinOverall = DefaultMinOverall
	}
	if o.ProcessingTimeout <= 0 {
		o.ProcessingTimeout = DefaultProcessingTimeout
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = DefaultReconcileInterval
	}
	return o
}

// DrainOutbox is the asynchronous half of the write path. Workers claim
// pending events, run embedding and extraction, fan the results out to the
// vector index and the graph, and flip the memory to committed in one final
// transaction. Every store write is idempotent by key, so a crash anywhere
// in the middle converges on retry instead of duplicating.
type DrainOutbox struct {
	outbox     ports.OutboxRepository
	memories   ports.MemoryRepository
	txManager  ports.TransactionManager
	embedding  ports.EmbeddingService
	vectors    ports.VectorIndex
	extraction *services.ExtractionService
	graphs     *services.GraphService
	conflicts  *services.ConflictService
	emotion    *services.EmotionService
	notifier   ports.TurnNotifier

	opts DrainerOptions
}

func NewDrainOutbox(
	outbox ports.OutboxRepository,
	memories ports.MemoryRepository,
	txManager ports.TransactionManager,
	embedding ports.EmbeddingService,
	vectors ports.VectorIndex,
	extraction *services.ExtractionService,
	graphs *services.GraphService,
	conflicts *services.ConflictService,
	emotion *services.EmotionService,
	notifier ports.TurnNotifier,
	opts DrainerOptions,
) *DrainOutbox {
	return &DrainOutbox{
		outbox:     outbox,
		memories:   memories,
		txManager:  txManager,
		embedding:  embedding,
		vectors:    vectors,
		extraction: extraction,
		graphs:     graphs,
		conflicts:  conflicts,
		emotion:    emotion,
		notifier:   notifier,
		opts:       opts.withDefaults(),
	}
}

// Run blocks, draining until ctx is cancelled. It starts the worker pool
// plus a reconciler that requeues events stuck in processing after a crash
// and keeps the queue-depth gauge fresh.
func (uc *DrainOutbox) Run(ctx context.Context) error {
	log.Printf("info: outbox: starting %d workers (batch %d, poll %s)",
		uc.opts.Workers, uc.opts.BatchSize, uc.opts.PollInterval)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < uc.opts.Workers; i++ {
		worker := i
		g.Go(func() error {
			return uc.workerLoop(gctx, worker)
		})
	}
	g.Go(func() error {
		return uc.reconcileLoop(gctx)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("info: outbox: drainer stopped")
	return nil
}

// DrainOnce claims and processes at most limit events. Used by the one-shot
// CLI path and by tests that need deterministic draining.
func (uc *DrainOutbox) DrainOnce(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = uc.opts.BatchSize
	}
	events, err := uc.outbox.Claim(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim: %w", err)
	}
	for _, event := range events {
		uc.handleEvent(ctx, event)
	}
	return len(events), nil
}

func (uc *DrainOutbox) workerLoop(ctx context.Context, worker int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		events, err := uc.outbox.Claim(ctx, uc.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("warning: outbox: worker %d claim failed: %v", worker, err)
			events = nil
		}

		if len(events) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(uc.opts.PollInterval):
			}
			continue
		}

		for _, event := range events {
			if ctx.Err() != nil {
				// Unprocessed claims stay in processing; the
				// reconciler requeues them after the timeout.
				return ctx.Err()
			}
			uc.handleEvent(ctx, event)
		}
	}
}

func (uc *DrainOutbox) reconcileLoop(ctx context.Context) error {
	ticker := time.NewTicker(uc.opts.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			uc.reconcile(ctx)
		}
	}
}

// reconcile requeues events stuck in processing (worker crash, kill -9)
// and refreshes the queue-depth gauge.
func (uc *DrainOutbox) reconcile(ctx context.Context) {
	requeued, err := uc.outbox.RequeueStuck(ctx, uc.opts.ProcessingTimeout)
	if err != nil {
		log.Printf("warning: outbox: reconciler requeue failed: %v", err)
	} else if requeued > 0 {
		log.Printf("info: outbox: reconciler requeued %d stuck events", requeued)
	}

	counts, err := uc.outbox.CountByStatus(ctx)
	if err != nil {
		log.Printf("warning: outbox: reconciler stats failed: %v", err)
		return
	}
	for _, status := range []models.OutboxStatus{
		models.OutboxStatusPending, models.OutboxStatusProcessing,
		models.OutboxStatusDone, models.OutboxStatusDLQ,
		models.OutboxStatusPendingReview,
	} {
		metrics.OutboxQueueDepth.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// handleEvent runs one claimed event to a terminal or retry state. It never
// returns an error: every failure is folded into the event's own lifecycle.
func (uc *DrainOutbox) handleEvent(ctx context.Context, event *models.OutboxEvent) {
	started := time.Now()
	err := uc.processEvent(ctx, event)
	if err == nil {
		metrics.OutboxEventDuration.Observe(time.Since(started).Seconds())
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-event: leave the row in processing for the
		// reconciler rather than burning a retry.
		log.Printf("info: outbox: event %s interrupted by shutdown", event.ID)
		return
	}

	if domain.IsPermanent(err) {
		uc.deadLetter(ctx, event, err)
		return
	}
	uc.scheduleRetry(ctx, event, err)
}

// processEvent is the six-step fan-out:
//
//	payload -> memory -> embed -> extract -> vector upsert -> graph merge -> commit
//
// Steps already recorded on the event row (vector_written_at,
// graph_written_at) are skipped on retry, which is what makes a partial
// fan-out resumable.
func (uc *DrainOutbox) processEvent(ctx context.Context, event *models.OutboxEvent) error {
	payload, err := event.ParsePayload()
	if err != nil {
		return domain.Permanent(fmt.Errorf("%w: %v", domain.ErrPayloadMalformed, err))
	}
	if payload.MemoryID == "" || payload.UserID == "" {
		return domain.Permanent(fmt.Errorf("%w: missing memory_id or user_id", domain.ErrPayloadMalformed))
	}

	memory, err := uc.memories.GetByID(ctx, payload.MemoryID)
	if err != nil {
		if errors.Is(err, domain.ErrMemoryNotFound) {
			// The memory row is gone; nothing to fan out. Done with a
			// skip reason rather than an error.
			return uc.completeSkipped(ctx, event, "memory row missing")
		}
		return domain.Transient(fmt.Errorf("load memory %s: %w", payload.MemoryID, err))
	}
	if memory.Status == models.MemoryStatusCommitted {
		// A previous attempt crashed after the final transaction; the
		// event row just needs closing.
		return uc.completeSkipped(ctx, event, "memory already committed")
	}
	if memory.Status == models.MemoryStatusDeprecated || memory.Status == models.MemoryStatusDeleted {
		return uc.completeSkipped(ctx, event, "memory "+string(memory.Status))
	}

	observedAt := memory.CreatedAt
	if payload.ObservedAt != nil {
		observedAt = *payload.ObservedAt
	}

	// Questions are read-only turns: they get a vector row so recall can
	// find them, but they never mutate the graph.
	if uc.emotion != nil && uc.emotion.IsQuestion(memory.Content) {
		return uc.commitQuestion(ctx, event, memory)
	}

	extraction := uc.extraction.Extract(ctx, memory.Content, observedAt, uc.opts.StrictCritic)
	reportCriticStats(extraction.Stats)

	if allEntitiesInvalid(extraction.Stats) {
		// Extractor produced only structurally invalid entities; no
		// retry will fix that. Park the memory for review and dead-letter.
		uc.quarantineMemory(ctx, memory)
		return domain.Permanent(domain.ErrNothingExtracted)
	}
	if extraction.Overall < uc.opts.MinOverall || !extraction.Sufficient() {
		return uc.quarantine(ctx, event, memory, extraction)
	}

	if err := uc.writeVector(ctx, event, memory); err != nil {
		return err
	}
	if err := uc.writeGraph(ctx, event, memory, extraction, observedAt); err != nil {
		return err
	}
	if err := uc.commitCommitted(ctx, event, memory, false); err != nil {
		return err
	}

	uc.afterCommit(ctx, event, memory, payload)
	metrics.OutboxProcessedTotal.WithLabelValues("done").Inc()
	return nil
}

// writeVector embeds the content and upserts the vector row, unless a prior
// attempt already recorded the write.
func (uc *DrainOutbox) writeVector(ctx context.Context, event *models.OutboxEvent, memory *models.Memory) error {
	if event.VectorWrittenAt != nil {
		return nil
	}

	result, err := uc.embedding.Embed(ctx, memory.Content)
	if err != nil {
		return domain.Transient(fmt.Errorf("%w: %v", domain.ErrEmbeddingsFailed, err))
	}
	memory.SetEmbedding(result.Embedding)

	record := &ports.VectorRecord{
		ID:        memory.ID,
		UserID:    memory.UserID,
		Embedding: result.Embedding,
		Content:   memory.Content,
		Valence:   memory.Valence,
		CreatedAt: memory.CreatedAt,
	}
	if err := uc.vectors.Upsert(ctx, record); err != nil {
		return domain.Transient(fmt.Errorf("vector upsert %s: %w", memory.ID, err))
	}

	now := time.Now()
	event.MarkVectorWritten(now)
	if err := uc.outbox.RecordVectorWritten(ctx, event.ID, now); err != nil {
		// The upsert itself is idempotent; losing the marker only costs
		// a redundant re-embed on retry.
		log.Printf("warning: outbox: record vector_written_at for %s: %v", event.ID, err)
	}
	return nil
}

// writeGraph merges the extracted IR into the user's graph, unless a prior
// attempt already recorded the write.
func (uc *DrainOutbox) writeGraph(ctx context.Context, event *models.OutboxEvent, memory *models.Memory, extraction *services.ExtractionResult, observedAt time.Time) error {
	if event.GraphWrittenAt != nil {
		return nil
	}

	stats, err := uc.graphs.MergeIR(ctx, memory.UserID, extraction.IR, memory.ID, observedAt)
	if err != nil {
		return domain.Transient(fmt.Errorf("graph merge %s: %w", memory.ID, err))
	}
	log.Printf("info: outbox: merged %d entities, %d relations for memory %s",
		stats.EntitiesMerged, stats.RelationsMerged, memory.ID)

	now := time.Now()
	event.MarkGraphWritten(now)
	if err := uc.outbox.RecordGraphWritten(ctx, event.ID, now); err != nil {
		log.Printf("warning: outbox: record graph_written_at for %s: %v", event.ID, err)
	}
	return nil
}

// commitQuestion closes out a question memory: vector row yes, graph no.
// The graph_written_at sentinel records the principled skip.
func (uc *DrainOutbox) commitQuestion(ctx context.Context, event *models.OutboxEvent, memory *models.Memory) error {
	if err := uc.writeVector(ctx, event, memory); err != nil {
		return err
	}
	memory.SetGraphSkipped()
	if event.GraphWrittenAt == nil {
		now := time.Now()
		event.MarkGraphWritten(now)
		if err := uc.outbox.RecordGraphWritten(ctx, event.ID, now); err != nil {
			log.Printf("warning: outbox: record graph skip for %s: %v", event.ID, err)
		}
	}
	if err := uc.commitCommitted(ctx, event, memory, true); err != nil {
		return err
	}
	uc.notifyCommitted(memory, "")
	metrics.OutboxProcessedTotal.WithLabelValues("done").Inc()
	return nil
}

// commitCommitted runs the final transaction: memory committed, event done.
// Both flips or neither.
func (uc *DrainOutbox) commitCommitted(ctx context.Context, event *models.OutboxEvent, memory *models.Memory, graphSkipped bool) error {
	now := time.Now()
	err := uc.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := uc.memories.UpdateStatus(txCtx, memory.ID, models.MemoryStatusCommitted, &now); err != nil {
			return fmt.Errorf("mark memory committed: %w", err)
		}
		if graphSkipped {
			if err := uc.memories.UpdateMetadata(txCtx, memory.ID, memory.Metadata); err != nil {
				return fmt.Errorf("record graph skip: %w", err)
			}
		}
		if err := uc.outbox.Complete(txCtx, event.ID, now); err != nil {
			return fmt.Errorf("complete event: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Transient(err)
	}
	memory.MarkCommitted(now)
	return nil
}

// afterCommit runs the best-effort steps that must not fail the event:
// lifecycle notification and conflict detection against recent memories.
func (uc *DrainOutbox) afterCommit(ctx context.Context, event *models.OutboxEvent, memory *models.Memory, payload *models.OutboxPayload) {
	uc.notifyCommitted(memory, payload.SessionID)

	if uc.conflicts == nil {
		return
	}
	records, err := uc.conflicts.DetectAndResolve(ctx, memory.UserID, memory, payload.SessionID)
	if err != nil {
		log.Printf("warning: outbox: conflict detection for memory %s: %v", memory.ID, err)
		return
	}
	if len(records) > 0 {
		log.Printf("info: outbox: memory %s raised %d conflict record(s)", memory.ID, len(records))
	}
}

func (uc *DrainOutbox) notifyCommitted(memory *models.Memory, sessionID string) {
	if uc.notifier == nil {
		return
	}
	if sessionID == "" {
		sessionID = memory.SessionID
	}
	uc.notifier.NotifyMemoryCommitted(memory.UserID, sessionID, memory.ID)
}

// quarantine parks a low-confidence extraction: memory and event both go to
// pending_review, nothing is written to V or G, and a later requeue or a
// manual pass can rescue it.
func (uc *DrainOutbox) quarantine(ctx context.Context, event *models.OutboxEvent, memory *models.Memory, extraction *services.ExtractionResult) error {
	reason := fmt.Sprintf("extraction confidence %.2f below %.2f", extraction.Overall, uc.opts.MinOverall)
	if extraction.Overall >= uc.opts.MinOverall {
		reason = "no relations survived the critic"
	}

	err := uc.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := uc.memories.UpdateStatus(txCtx, memory.ID, models.MemoryStatusPendingReview, nil); err != nil {
			return fmt.Errorf("mark memory pending_review: %w", err)
		}
		return uc.outbox.MarkPendingReview(txCtx, event.ID, reason)
	})
	if err != nil {
		return domain.Transient(err)
	}

	log.Printf("info: outbox: event %s quarantined: %s", event.ID, reason)
	metrics.OutboxProcessedTotal.WithLabelValues("pending_review").Inc()
	return nil
}

func (uc *DrainOutbox) quarantineMemory(ctx context.Context, memory *models.Memory) {
	if err := uc.memories.UpdateStatus(ctx, memory.ID, models.MemoryStatusPendingReview, nil); err != nil {
		log.Printf("warning: outbox: mark memory %s pending_review: %v", memory.ID, err)
	}
}

func (uc *DrainOutbox) completeSkipped(ctx context.Context, event *models.OutboxEvent, reason string) error {
	now := time.Now()
	// Stamp both fan-out markers so the done-implies-written invariant
	// holds with the skip recorded in the error message column.
	if event.VectorWrittenAt == nil {
		if err := uc.outbox.RecordVectorWritten(ctx, event.ID, now); err != nil {
			return domain.Transient(err)
		}
	}
	if event.GraphWrittenAt == nil {
		if err := uc.outbox.RecordGraphWritten(ctx, event.ID, now); err != nil {
			return domain.Transient(err)
		}
	}
	if err := uc.outbox.Complete(ctx, event.ID, now); err != nil {
		return domain.Transient(err)
	}
	log.Printf("info: outbox: event %s done (skipped: %s)", event.ID, reason)
	metrics.OutboxProcessedTotal.WithLabelValues("skipped").Inc()
	return nil
}

// scheduleRetry handles a transient failure: exponential backoff with
// jitter until MaxRetries, then the dead-letter queue.
func (uc *DrainOutbox) scheduleRetry(ctx context.Context, event *models.OutboxEvent, cause error) {
	nextRetry := event.RetryCount + 1
	if nextRetry >= uc.opts.MaxRetries {
		uc.deadLetter(ctx, event, fmt.Errorf("retries exhausted: %w", cause))
		return
	}

	delay := retry.NextDelay(event.RetryCount, uc.opts.BackoffBase, uc.opts.BackoffCap)
	nextAttempt := time.Now().Add(delay)
	if err := uc.outbox.Reschedule(ctx, event.ID, nextRetry, nextAttempt, cause.Error()); err != nil {
		log.Printf("error: outbox: reschedule %s failed (reconciler will recover it): %v", event.ID, err)
		return
	}
	log.Printf("warning: outbox: event %s retry %d/%d in %s: %v",
		event.ID, nextRetry, uc.opts.MaxRetries, delay.Round(time.Millisecond), cause)
	metrics.OutboxProcessedTotal.WithLabelValues("retried").Inc()
}

func (uc *DrainOutbox) deadLetter(ctx context.Context, event *models.OutboxEvent, cause error) {
	if err := uc.outbox.MoveToDLQ(ctx, event.ID, cause.Error()); err != nil {
		log.Printf("error: outbox: dead-letter %s failed (reconciler will recover it): %v", event.ID, err)
		return
	}
	log.Printf("error: outbox: event %s dead-lettered: %v", event.ID, cause)
	metrics.OutboxProcessedTotal.WithLabelValues("dlq").Inc()
}

// allEntitiesInvalid distinguishes garbage extraction (every entity dropped
// for a structural reason) from merely timid extraction (low confidence),
// which quarantines instead of dead-lettering.
func allEntitiesInvalid(stats models.CriticStats) bool {
	if stats.EntitiesIn == 0 || stats.EntitiesKept > 0 {
		return false
	}
	return stats.EntityBadType+stats.EntityEmptyName == stats.EntitiesIn
}

func reportCriticStats(stats models.CriticStats) {
	report := func(kind, reason string, n int) {
		if n > 0 {
			metrics.CriticDropsTotal.WithLabelValues(kind, reason).Add(float64(n))
		}
	}
	report("entity", "low_confidence", stats.EntityLowConfidence)
	report("entity", "bad_type", stats.EntityBadType)
	report("entity", "duplicate", stats.EntityDuplicate)
	report("entity", "empty_name", stats.EntityEmptyName)
	report("relation", "self_loop", stats.RelationSelfLoop)
	report("relation", "low_confidence", stats.RelationLowConfidence)
	report("relation", "bad_type", stats.RelationBadType)
	report("relation", "dangling", stats.RelationDangling)
	report("relation", "duplicate", stats.RelationDuplicate)
}
