//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"

	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// fakeLLM answers every generation with one canned reply. The extraction
// oracle cannot parse it, which degrades extraction to rule-only output,
// exactly what these tests want: deterministic graphs from deterministic
// rules.
type fakeLLM struct {
	mu    sync.Mutex
	reply string
	calls int
}

func newFakeLLM(reply string) *fakeLLM {
	return &fakeLLM{reply: reply}
}

func (f *fakeLLM) Generate(ctx context.Context, messages []ports.LLMMessage, opts *ports.GenerateOptions) (*ports.LLMResponse, error) {
	f.mu.Lock()
	f.calls++
	reply := f.reply
	f.mu.Unlock()
	return &ports.LLMResponse{Content: reply}, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, messages []ports.LLMMessage, opts *ports.GenerateOptions) (<-chan ports.LLMStreamChunk, error) {
	f.mu.Lock()
	f.calls++
	reply := f.reply
	f.mu.Unlock()

	ch := make(chan ports.LLMStreamChunk, 2)
	ch <- ports.LLMStreamChunk{Content: reply}
	ch <- ports.LLMStreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEmbedding returns the same direction for every text so cosine search
// always hits; the relational store decides what is actually retrievable.
type fakeEmbedding struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedding) Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	vec := make([]float32, testEmbeddingDims)
	for i := range vec {
		vec[i] = 0.5
	}
	return &ports.EmbeddingResult{Embedding: vec, Model: "test", Dimensions: testEmbeddingDims}, nil
}

func (f *fakeEmbedding) EmbedBatch(ctx context.Context, texts []string) ([]*ports.EmbeddingResult, error) {
	results := make([]*ports.EmbeddingResult, len(texts))
	for i, t := range texts {
		r, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

func (f *fakeEmbedding) GetDimensions() int { return testEmbeddingDims }

func (f *fakeEmbedding) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// flakyGraphStore fails the first n relation merges and then delegates,
// simulating a drainer crash after the vector write but before the graph
// write.
type flakyGraphStore struct {
	ports.GraphStore
	mu       sync.Mutex
	failures int
}

func (f *flakyGraphStore) MergeRelation(ctx context.Context, relation *models.Relation) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("simulated graph outage")
	}
	f.mu.Unlock()
	return f.GraphStore.MergeRelation(ctx, relation)
}

// recordingNotifier captures lifecycle notifications for assertions.
type recordingNotifier struct {
	mu             sync.Mutex
	pending        []string
	committed      []string
	clarifications []string
}

func (r *recordingNotifier) NotifyMemoryPending(userID, sessionID, memoryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, memoryID)
}

func (r *recordingNotifier) NotifyMemoryCommitted(userID, sessionID, memoryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, memoryID)
}

func (r *recordingNotifier) NotifyClarification(userID, sessionID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clarifications = append(r.clarifications, content)
}

func (r *recordingNotifier) NotifyAffinityState(userID string, from, to models.AffinityState, score float64) {
}

func (r *recordingNotifier) clarificationTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.clarifications))
	copy(out, r.clarifications)
	return out
}
