package usecases

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/evermind-ai/evermind/internal/adapters/metrics"
	"github.com/evermind-ai/evermind/internal/adapters/tracing"
	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/ports"
)

// DefaultCommitWait bounds how long a stream lingers after done-generating,
// waiting for the drainer to report memory_committed. Past it the stream
// closes with the memory still pending; the events feed carries the rest.
const DefaultCommitWait = 5 * time.Second

// StreamTurn is the streaming mirror of ProcessTurn. It shares the staging
// and commit machinery and differs only in how the reply leaves the process:
// token deltas as they arrive, then lifecycle deltas until the fan-out
// confirms or the wait budget runs out.
type StreamTurn struct {
	pipeline   *ProcessTurn
	subscriber ports.TurnSubscriber
	commitWait time.Duration
}

func NewStreamTurn(pipeline *ProcessTurn, subscriber ports.TurnSubscriber, commitWait time.Duration) *StreamTurn {
	if commitWait <= 0 {
		commitWait = DefaultCommitWait
	}
	return &StreamTurn{
		pipeline:   pipeline,
		subscriber: subscriber,
		commitWait: commitWait,
	}
}

// Execute validates and stages synchronously, so bad input surfaces as an
// error before any delta is emitted, then streams from a goroutine. The
// returned channel closes after the done or error delta.
func (uc *StreamTurn) Execute(ctx context.Context, input *ports.ProcessTurnInput) (<-chan ports.TurnDelta, error) {
	started := time.Now()
	draft, messages, replayed, err := uc.pipeline.stage(ctx, input, started)
	if err != nil {
		return nil, err
	}

	out := make(chan ports.TurnDelta, 16)
	go uc.run(ctx, draft, messages, replayed, out)
	return out, nil
}

func (uc *StreamTurn) run(ctx context.Context, draft *turnDraft, messages []ports.LLMMessage, replayed *ports.ProcessTurnOutput, out chan<- ports.TurnDelta) {
	defer close(out)

	if replayed != nil {
		uc.emit(ctx, out, ports.TurnDelta{Type: ports.DeltaStart, SessionID: replayed.SessionID})
		uc.emit(ctx, out, ports.TurnDelta{Type: ports.DeltaText, Content: replayed.Reply})
		uc.emit(ctx, out, ports.TurnDelta{Type: ports.DeltaDone, SessionID: replayed.SessionID})
		return
	}

	if !uc.emit(ctx, out, ports.TurnDelta{Type: ports.DeltaStart, SessionID: draft.session.ID}) {
		return
	}

	if messages == nil {
		if !uc.emit(ctx, out, ports.TurnDelta{Type: ports.DeltaText, Content: draft.reply}) {
			return
		}
	} else {
		reply, err := uc.streamReply(ctx, draft, messages, out)
		if err != nil {
			if ctx.Err() != nil {
				// Client went away mid-generation; nothing committed,
				// nothing to report.
				return
			}
			uc.fail(ctx, out, err)
			return
		}
		draft.reply = reply
	}

	// Subscribe before committing so the drainer's committed event cannot
	// slip past between commit and subscribe.
	var events <-chan ports.TurnEvent
	if uc.subscriber != nil && !draft.skipMemory {
		ch, cancel := uc.subscriber.Subscribe(draft.input.UserID)
		defer cancel()
		events = ch
	}

	// The reply is complete; a disconnect from here on must not lose the
	// turn. Commit detached from the request context.
	commitCtx := context.WithoutCancel(ctx)
	commit, err := uc.pipeline.commit(commitCtx, draft)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues(string(draft.mode), "error").Inc()
		uc.fail(ctx, out, uc.pipeline.storeError(commitCtx, err))
		return
	}
	uc.pipeline.notifyCommitted(draft, commit)

	metrics.TurnsTotal.WithLabelValues(string(draft.mode), "ok").Inc()
	metrics.TurnDuration.Observe(time.Since(draft.started).Seconds())
	if commit.update != nil {
		metrics.AffinityScore.WithLabelValues(draft.input.UserID).Set(commit.update.Record.Score)
	}

	if commit.memory != nil {
		if !uc.emit(ctx, out, ports.TurnDelta{Type: ports.DeltaMemoryPending, SessionID: draft.session.ID, MemoryID: commit.memory.ID}) {
			return
		}
		uc.awaitCommitted(ctx, events, draft.session.ID, commit.memory.ID, out)
	}

	uc.emit(ctx, out, ports.TurnDelta{Type: ports.DeltaDone, SessionID: draft.session.ID})
}

// streamReply forwards generation chunks as text deltas and returns the
// accumulated reply.
func (uc *StreamTurn) streamReply(ctx context.Context, draft *turnDraft, messages []ports.LLMMessage, out chan<- ports.TurnDelta) (string, error) {
	chunks, err := uc.pipeline.llm.GenerateStream(ctx, messages, nil)
	if err != nil {
		return "", uc.generationError(ctx, draft, err)
	}

	var reply strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", uc.generationError(ctx, draft, chunk.Error)
		}
		if chunk.Content != "" {
			reply.WriteString(chunk.Content)
			if !uc.emit(ctx, out, ports.TurnDelta{Type: ports.DeltaText, Content: chunk.Content}) {
				return "", ctx.Err()
			}
		}
		if chunk.Done {
			break
		}
	}

	text := strings.TrimSpace(reply.String())
	if text == "" {
		return "", uc.generationError(ctx, draft, domain.ErrLLMUnavailable)
	}
	return text, nil
}

func (uc *StreamTurn) generationError(ctx context.Context, draft *turnDraft, cause error) error {
	metrics.TurnsTotal.WithLabelValues(string(draft.mode), "error").Inc()
	log.Printf("error: streamed generation failed for user %s: %v", draft.input.UserID, cause)
	derr := domain.NewDomainErrorWithCode(domain.ErrLLMUnavailable, "reply generation failed", domain.CodeConversationFailed)
	derr.TraceID = tracing.TraceIDFromContext(ctx)
	return derr
}

// awaitCommitted relays fan-out lifecycle events for this memory until the
// committed delta arrives, the wait budget runs out, or the caller leaves.
// Clarifications surface as they happen; the committed wait keeps going.
func (uc *StreamTurn) awaitCommitted(ctx context.Context, events <-chan ports.TurnEvent, sessionID, memoryID string, out chan<- ports.TurnDelta) {
	if events == nil {
		return
	}
	timer := time.NewTimer(uc.commitWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// Fan-out still in flight; the memory stays pending and the
			// events feed will carry the committed notification.
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case string(ports.DeltaMemoryCommitted):
				if ev.MemoryID != memoryID {
					continue
				}
				uc.emit(ctx, out, ports.TurnDelta{Type: ports.DeltaMemoryCommitted, SessionID: sessionID, MemoryID: ev.MemoryID})
				return
			case string(ports.DeltaClarification):
				if !uc.emit(ctx, out, ports.TurnDelta{Type: ports.DeltaClarification, SessionID: sessionID, Content: ev.Content}) {
					return
				}
			}
		}
	}
}

func (uc *StreamTurn) fail(ctx context.Context, out chan<- ports.TurnDelta, err error) {
	content := err.Error()
	var derr *domain.DomainError
	if errors.As(err, &derr) {
		content = derr.Message
	}
	uc.emit(ctx, out, ports.TurnDelta{Type: ports.DeltaError, Content: content})
}

// emit delivers one delta unless the consumer is gone. False means stop
// streaming.
func (uc *StreamTurn) emit(ctx context.Context, out chan<- ports.TurnDelta, delta ports.TurnDelta) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- delta:
		return true
	}
}
