package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/evermind-ai/evermind/internal/adapters/metrics"
	"github.com/evermind-ai/evermind/internal/adapters/tracing"
	"github.com/evermind-ai/evermind/internal/application/services"
	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// Reply-side memory status values. A turn that enqueued a memory reports
// pending; a turn with nothing outstanding (question, greeting) reports
// committed.
const (
	memoryStatusPending   = "pending"
	memoryStatusCommitted = "committed"
)

var confirmationMarkers = []string{
	"没错", "对的", "是的", "你记得", "记对了",
	"that's right", "exactly", "you remembered", "correct",
}

var correctionMarkers = []string{
	"不对", "不是这样", "你记错了", "记错", "搞错了",
	"that's wrong", "that's not right", "you got that wrong", "incorrect",
}

// ProcessTurn is the synchronous conversation entry point. One call carries
// a user message through intent gating, retrieval, generation, and a single
// transaction that records the turn pair, the pending memory, its outbox
// event, the affinity row, and the idempotency record.
type ProcessTurn struct {
	sessions    ports.SessionRepository
	turns       ports.TurnRepository
	memories    ports.MemoryRepository
	outbox      ports.OutboxRepository
	idempotency ports.IdempotencyRepository
	txManager   ports.TransactionManager
	idGenerator ports.IDGenerator
	llm         ports.LLMService
	notifier    ports.TurnNotifier
	emotion     *services.EmotionService
	greeting    *services.GreetingService
	affinity    *services.AffinityService
	retrieval   *services.RetrievalService
	prompts     *services.PromptBuilder

	historyTurns   int
	idempotencyTTL time.Duration
}

func NewProcessTurn(
	sessions ports.SessionRepository,
	turns ports.TurnRepository,
	memories ports.MemoryRepository,
	outbox ports.OutboxRepository,
	idempotency ports.IdempotencyRepository,
	txManager ports.TransactionManager,
	idGenerator ports.IDGenerator,
	llm ports.LLMService,
	notifier ports.TurnNotifier,
	emotion *services.EmotionService,
	greeting *services.GreetingService,
	affinity *services.AffinityService,
	retrieval *services.RetrievalService,
	prompts *services.PromptBuilder,
	historyTurns int,
	idempotencyTTL time.Duration,
) *ProcessTurn {
	if historyTurns <= 0 {
		historyTurns = services.DefaultHistoryTurns
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	return &ProcessTurn{
		sessions:       sessions,
		turns:          turns,
		memories:       memories,
		outbox:         outbox,
		idempotency:    idempotency,
		txManager:      txManager,
		idGenerator:    idGenerator,
		llm:            llm,
		notifier:       notifier,
		emotion:        emotion,
		greeting:       greeting,
		affinity:       affinity,
		retrieval:      retrieval,
		prompts:        prompts,
		historyTurns:   historyTurns,
		idempotencyTTL: idempotencyTTL,
	}
}

// turnDraft carries everything the commit step needs, assembled by the
// read-side of the pipeline.
type turnDraft struct {
	input        *ports.ProcessTurnInput
	session      *models.Session
	newSession   bool
	text         string
	reply        string
	tone         string
	emotion      models.Emotion
	current      *models.AffinityRecord
	silenceDays  int
	skipMemory   bool
	retrieved    *services.RetrievalResult
	historyCount int
	cached       bool
	mode         models.RetrievalMode
	started      time.Time
}

// turnCommit is what the transaction produced.
type turnCommit struct {
	userTurn *models.Turn
	memory   *models.Memory
	update   *services.AffinityUpdate
	output   *ports.ProcessTurnOutput
}

func (uc *ProcessTurn) Execute(ctx context.Context, input *ports.ProcessTurnInput) (*ports.ProcessTurnOutput, error) {
	started := time.Now()

	draft, out, err := uc.prepare(ctx, input, started)
	if err != nil {
		return nil, err
	}
	if out != nil {
		// Idempotent replay; nothing was written.
		return out, nil
	}

	commit, err := uc.commit(ctx, draft)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues(string(draft.mode), "error").Inc()
		return nil, uc.storeError(ctx, err)
	}

	uc.notifyCommitted(draft, commit)

	metrics.TurnsTotal.WithLabelValues(string(draft.mode), "ok").Inc()
	metrics.TurnDuration.Observe(time.Since(started).Seconds())
	if commit.update != nil {
		metrics.AffinityScore.WithLabelValues(input.UserID).Set(commit.update.Record.Score)
	}

	return commit.output, nil
}

// prepare runs every step before the transaction: validation, idempotent
// replay, intent gating, retrieval, and generation. It returns either a
// ready-to-commit draft or a replayed output.
func (uc *ProcessTurn) prepare(ctx context.Context, input *ports.ProcessTurnInput, started time.Time) (*turnDraft, *ports.ProcessTurnOutput, error) {
	draft, messages, replayed, err := uc.stage(ctx, input, started)
	if err != nil || replayed != nil {
		return nil, replayed, err
	}
	if messages == nil {
		// Canned reply (greeting or memorize ack); nothing to generate.
		return draft, nil, nil
	}

	resp, err := uc.llm.Generate(ctx, messages, nil)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues(string(draft.mode), "error").Inc()
		log.Printf("error: reply generation failed for user %s: %v", input.UserID, err)
		derr := domain.NewDomainErrorWithCode(domain.ErrLLMUnavailable, "reply generation failed", domain.CodeConversationFailed)
		derr.TraceID = tracing.TraceIDFromContext(ctx)
		return nil, nil, derr
	}
	draft.reply = strings.TrimSpace(resp.Content)

	return draft, nil, nil
}

// stage assembles the draft up to, but not including, reply generation.
// The streaming path shares it and generates with its own sink. A nil
// message slice means the draft already carries its reply.
func (uc *ProcessTurn) stage(ctx context.Context, input *ports.ProcessTurnInput, started time.Time) (*turnDraft, []ports.LLMMessage, *ports.ProcessTurnOutput, error) {
	if err := validateInput(input); err != nil {
		return nil, nil, nil, err
	}
	mode := input.Mode
	if mode == "" {
		mode = models.ModeHybrid
	}

	if input.IdempotencyKey != "" {
		if out := uc.replay(ctx, input); out != nil {
			metrics.TurnsTotal.WithLabelValues(string(mode), "replayed").Inc()
			log.Printf("info: replayed turn for user %s key %s", input.UserID, input.IdempotencyKey)
			return nil, nil, out, nil
		}
	}

	session, newSession, err := uc.resolveSession(ctx, input)
	if err != nil {
		return nil, nil, nil, err
	}

	text := strings.TrimSpace(input.Text)
	isQuestion := uc.emotion.IsQuestion(text)
	emotion := uc.emotion.Analyze(text)

	current, err := uc.affinity.Current(ctx, input.UserID)
	if err != nil {
		log.Printf("warning: failed to load affinity for user %s: %v", input.UserID, err)
		current = &models.AffinityRecord{
			UserID: input.UserID,
			Score:  models.DefaultAffinityScore,
			State:  models.AffinityStateForScore(models.DefaultAffinityScore),
		}
	}

	draft := &turnDraft{
		input:       input,
		session:     session,
		newSession:  newSession,
		text:        text,
		tone:        services.SelectTone(current.State, emotion.Valence),
		emotion:     emotion,
		current:     current,
		silenceDays: uc.silenceDays(ctx, input.UserID),
		skipMemory:  isQuestion,
		mode:        mode,
		started:     started,
	}

	if input.MemorizeOnly {
		draft.reply = services.MemorizeAck
		return draft, nil, nil, nil
	}

	if class, ok := uc.greeting.Classify(text); ok {
		draft.reply = uc.greeting.Reply(ctx, class, current.State)
		draft.skipMemory = true
		draft.cached = true
		metrics.GreetingCacheHits.Inc()
		return draft, nil, nil, nil
	}

	retrieved, err := uc.retrieval.HybridRetrieve(ctx, input.UserID, text, current.Score, mode)
	if err != nil {
		log.Printf("warning: retrieval failed for user %s, continuing with empty context: %v", input.UserID, err)
		retrieved = &services.RetrievalResult{}
	}
	draft.retrieved = retrieved

	history := uc.loadHistory(ctx, session, newSession)
	draft.historyCount = len(history)

	messages := uc.prompts.Build(services.PromptInput{
		UserText: text,
		Tone:     draft.tone,
		State:    current.State,
		Emotion:  emotion,
		History:  history,
		Memories: retrieved.Memories,
		Facts:    retrieved.Facts,
	})
	return draft, messages, nil, nil
}

// replay returns the stored output for a previously seen key, or nil when
// the key is unknown, expired, or unreadable.
func (uc *ProcessTurn) replay(ctx context.Context, input *ports.ProcessTurnInput) *ports.ProcessTurnOutput {
	record, err := uc.idempotency.Get(ctx, input.UserID, input.IdempotencyKey)
	if err != nil {
		log.Printf("warning: idempotency lookup failed for user %s: %v", input.UserID, err)
		return nil
	}
	if record == nil || record.Expired(time.Now()) {
		return nil
	}
	var out ports.ProcessTurnOutput
	if err := json.Unmarshal(record.Response, &out); err != nil {
		log.Printf("warning: stored idempotency response unreadable for user %s key %s: %v", input.UserID, input.IdempotencyKey, err)
		return nil
	}
	return &out
}

func (uc *ProcessTurn) resolveSession(ctx context.Context, input *ports.ProcessTurnInput) (*models.Session, bool, error) {
	if input.SessionID == "" {
		return models.NewSession(uc.idGenerator.GenerateSessionID(), input.UserID), true, nil
	}
	session, err := uc.sessions.GetByIDAndUserID(ctx, input.SessionID, input.UserID)
	if err != nil {
		derr := domain.NewDomainErrorWithCode(domain.ErrSessionNotFound, "session not found", domain.CodeInvalidInput)
		derr.TraceID = tracing.TraceIDFromContext(ctx)
		return nil, false, derr
	}
	if !session.IsOpen() {
		derr := domain.NewDomainErrorWithCode(domain.ErrSessionClosed, "session has ended", domain.CodeInvalidInput)
		derr.TraceID = tracing.TraceIDFromContext(ctx)
		return nil, false, derr
	}
	return session, false, nil
}

// silenceDays is computed before the user turn is inserted so the gap
// measures the previous visit.
func (uc *ProcessTurn) silenceDays(ctx context.Context, userID string) int {
	last, err := uc.turns.GetLastUserTurnAt(ctx, userID)
	if err != nil {
		log.Printf("warning: failed to load last turn time for user %s: %v", userID, err)
		return 0
	}
	if last == nil {
		return 0
	}
	days := int(time.Since(*last).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func (uc *ProcessTurn) loadHistory(ctx context.Context, session *models.Session, newSession bool) []*models.Turn {
	if newSession {
		return nil
	}
	history, err := uc.turns.GetBySession(ctx, session.ID, uc.historyTurns)
	if err != nil {
		log.Printf("warning: failed to load history for session %s: %v", session.ID, err)
		return nil
	}
	return history
}

// commit runs the single turn transaction under the session advisory lock:
// session row if new, both turns, the pending memory with its outbox event,
// the affinity row, and the idempotency record. All of it or none of it.
func (uc *ProcessTurn) commit(ctx context.Context, d *turnDraft) (*turnCommit, error) {
	result := &turnCommit{}
	err := uc.txManager.WithSessionLock(ctx, d.session.ID, func(txCtx context.Context) error {
		if d.newSession {
			if err := uc.sessions.Create(txCtx, d.session); err != nil {
				return fmt.Errorf("failed to create session: %w", err)
			}
		}

		userTurn := models.NewTurn(uc.idGenerator.GenerateTurnID(), d.session.ID, d.input.UserID, models.TurnRoleUser, d.text)
		userTurn.EmotionTag = d.emotion.Primary
		if err := uc.turns.Create(txCtx, userTurn); err != nil {
			return fmt.Errorf("failed to create user turn: %w", err)
		}
		assistantTurn := models.NewTurn(uc.idGenerator.GenerateTurnID(), d.session.ID, d.input.UserID, models.TurnRoleAssistant, d.reply)
		if err := uc.turns.Create(txCtx, assistantTurn); err != nil {
			return fmt.Errorf("failed to create assistant turn: %w", err)
		}
		result.userTurn = userTurn

		status := memoryStatusCommitted
		if !d.skipMemory {
			memory, err := uc.enqueueMemory(txCtx, d, userTurn)
			if err != nil {
				return err
			}
			result.memory = memory
			status = memoryStatusPending
		}

		snapshot := ports.AffinitySnapshot{Score: d.current.Score, State: d.current.State}
		if !d.input.EvalMode {
			update, err := uc.affinity.Apply(txCtx, d.input.UserID, userTurn.ID, models.AffinitySignals{
				UserInitiated:      d.input.UserInitiated,
				EmotionValence:     d.emotion.Valence,
				MemoryConfirmation: matchesAny(d.text, confirmationMarkers),
				Correction:         matchesAny(d.text, correctionMarkers),
				SilenceDays:        d.silenceDays,
			})
			if err != nil {
				return fmt.Errorf("failed to update affinity: %w", err)
			}
			result.update = update
			snapshot = ports.AffinitySnapshot{
				Score: update.Record.Score,
				State: update.Record.State,
				Delta: update.Record.Delta,
			}
		}

		result.output = uc.buildOutput(d, userTurn, status, snapshot)

		if d.input.IdempotencyKey != "" {
			response, err := json.Marshal(result.output)
			if err != nil {
				return fmt.Errorf("failed to marshal idempotency response: %w", err)
			}
			record := models.NewIdempotencyRecord(d.input.UserID, d.input.IdempotencyKey, userTurn.ID, d.session.ID, response, uc.idempotencyTTL)
			if err := uc.idempotency.Insert(txCtx, record); err != nil {
				return fmt.Errorf("failed to store idempotency record: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (uc *ProcessTurn) enqueueMemory(ctx context.Context, d *turnDraft, userTurn *models.Turn) (*models.Memory, error) {
	memory := models.NewMemory(uc.idGenerator.GenerateMemoryID(), d.input.UserID, d.text)
	memory.SessionID = d.session.ID
	memory.TurnID = userTurn.ID
	memory.SetValence(d.emotion.Valence)
	if err := uc.memories.Create(ctx, memory); err != nil {
		return nil, fmt.Errorf("failed to create memory: %w", err)
	}

	observedAt := userTurn.CreatedAt
	payload, err := json.Marshal(&models.OutboxPayload{
		MemoryID:   memory.ID,
		UserID:     d.input.UserID,
		Content:    d.text,
		SessionID:  d.session.ID,
		ObservedAt: &observedAt,
		EvalMode:   d.input.EvalMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}
	event := models.NewOutboxEvent(uc.idGenerator.GenerateEventID(), memory.ID, payload)
	event.IdempotencyKey = d.input.IdempotencyKey
	if err := uc.outbox.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return memory, nil
}

func (uc *ProcessTurn) buildOutput(d *turnDraft, userTurn *models.Turn, status string, snapshot ports.AffinitySnapshot) *ports.ProcessTurnOutput {
	used := make([]ports.MemoryUsed, 0)
	if d.retrieved != nil {
		for _, m := range d.retrieved.Memories {
			used = append(used, ports.MemoryUsed{ID: m.Memory.ID, Content: m.Memory.Content, Score: m.Score})
		}
	}

	var source *ports.ContextSource
	if !d.input.MemorizeOnly {
		source = &ports.ContextSource{
			HistoryTurnsCount: d.historyCount,
			Cached:            d.cached,
		}
		if d.retrieved != nil {
			source.VectorHits = len(d.retrieved.Memories)
			source.GraphFacts = len(d.retrieved.Facts)
		}
	}

	return &ports.ProcessTurnOutput{
		Reply:          d.reply,
		SessionID:      d.session.ID,
		TurnID:         userTurn.ID,
		Emotion:        d.emotion,
		Affinity:       snapshot,
		MemoriesUsed:   used,
		ToneType:       d.tone,
		ResponseTimeMs: float64(time.Since(d.started).Microseconds()) / 1000.0,
		MemoryStatus:   status,
		Mode:           string(d.mode),
		ContextSource:  source,
	}
}

func (uc *ProcessTurn) notifyCommitted(d *turnDraft, commit *turnCommit) {
	if uc.notifier == nil {
		return
	}
	if commit.memory != nil {
		uc.notifier.NotifyMemoryPending(d.input.UserID, d.session.ID, commit.memory.ID)
	}
	if commit.update != nil && commit.update.Transitioned() {
		uc.notifier.NotifyAffinityState(d.input.UserID, commit.update.PreviousState, commit.update.Record.State, commit.update.Record.Score)
	}
}

func (uc *ProcessTurn) storeError(ctx context.Context, err error) error {
	log.Printf("error: turn transaction failed: %v", err)
	derr := domain.NewDomainErrorWithCode(domain.ErrStoreUnavailable, "failed to record turn", domain.CodeStoreUnavailable)
	derr.TraceID = tracing.TraceIDFromContext(ctx)
	return derr
}

func validateInput(input *ports.ProcessTurnInput) error {
	if input == nil || strings.TrimSpace(input.Text) == "" {
		return domain.NewDomainErrorWithCode(domain.ErrEmptyMessage, "text must not be empty", domain.CodeInvalidInput)
	}
	if strings.TrimSpace(input.UserID) == "" {
		return domain.NewDomainErrorWithCode(domain.ErrInvalidInput, "user_id is required", domain.CodeInvalidInput)
	}
	if input.Mode != "" && !models.ValidRetrievalMode(input.Mode) {
		return domain.NewDomainErrorWithCode(domain.ErrInvalidMode, "mode must be hybrid or graph_only", domain.CodeInvalidInput)
	}
	return nil
}

func matchesAny(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
