package usecases

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// ============================================================================
// Common mock implementations shared across usecase tests
// ============================================================================

// mockLLM scripts both the blocking and the streaming generation paths.
// holdStream, when set, delays the terminal chunk until the channel closes,
// letting tests disconnect mid-generation.
type mockLLM struct {
	mu         sync.Mutex
	response   string
	chunks     []string
	err        error
	chunkErr   error
	holdStream chan struct{}
	calls      int
}

func newMockLLM(response string) *mockLLM {
	return &mockLLM{response: response}
}

func (m *mockLLM) Generate(ctx context.Context, messages []ports.LLMMessage, opts *ports.GenerateOptions) (*ports.LLMResponse, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	response := m.response
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &ports.LLMResponse{Content: response}, nil
}

func (m *mockLLM) GenerateStream(ctx context.Context, messages []ports.LLMMessage, opts *ports.GenerateOptions) (<-chan ports.LLMStreamChunk, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	chunkErr := m.chunkErr
	hold := m.holdStream
	chunks := make([]string, len(m.chunks))
	copy(chunks, m.chunks)
	response := m.response
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 && response != "" {
		chunks = []string{response}
	}

	ch := make(chan ports.LLMStreamChunk, len(chunks)+1)
	for _, c := range chunks {
		ch <- ports.LLMStreamChunk{Content: c}
	}
	terminal := func() {
		if chunkErr != nil {
			ch <- ports.LLMStreamChunk{Error: chunkErr}
		} else {
			ch <- ports.LLMStreamChunk{Done: true}
		}
		close(ch)
	}
	if hold != nil {
		go func() {
			<-hold
			terminal()
		}()
		return ch, nil
	}
	terminal()
	return ch, nil
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockEmbedding returns a constant-valued vector.
type mockEmbedding struct {
	mu    sync.Mutex
	dims  int
	err   error
	calls int
}

func newMockEmbedding(dims int) *mockEmbedding {
	return &mockEmbedding{dims: dims}
}

func (m *mockEmbedding) Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	dims := m.dims
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = 0.5
	}
	return &ports.EmbeddingResult{Embedding: vec, Model: "test", Dimensions: dims}, nil
}

func (m *mockEmbedding) EmbedBatch(ctx context.Context, texts []string) ([]*ports.EmbeddingResult, error) {
	results := make([]*ports.EmbeddingResult, len(texts))
	for i, t := range texts {
		r, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

func (m *mockEmbedding) GetDimensions() int { return m.dims }

func (m *mockEmbedding) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockVectorIndex records upserts and serves scripted hits.
type mockVectorIndex struct {
	mu      sync.Mutex
	records map[string]*ports.VectorRecord
	hits    []ports.VectorHit
	err     error
}

func newMockVectorIndex() *mockVectorIndex {
	return &mockVectorIndex{records: make(map[string]*ports.VectorRecord)}
}

func (m *mockVectorIndex) Upsert(ctx context.Context, record *ports.VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *record
	m.records[record.ID] = &cp
	return nil
}

func (m *mockVectorIndex) Search(ctx context.Context, userID string, query []float32, topK int) ([]ports.VectorHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	hits := make([]ports.VectorHit, len(m.hits))
	copy(hits, m.hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *mockVectorIndex) upsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// mockGraphStore records merges and serves scripted traversals.
type mockGraphStore struct {
	mu         sync.Mutex
	entities   map[string]*models.Entity
	relations  []*models.Relation
	facts      []models.GraphFact
	edgeSums   map[string]float64
	decayed    int
	decayCalls int
	lastPage   int
	err        error
}

func newMockGraphStore() *mockGraphStore {
	return &mockGraphStore{
		entities: make(map[string]*models.Entity),
		edgeSums: make(map[string]float64),
	}
}

func (m *mockGraphStore) MergeEntity(ctx context.Context, entity *models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *entity
	m.entities[entity.ID] = &cp
	return nil
}

func (m *mockGraphStore) MergeRelation(ctx context.Context, relation *models.Relation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *relation
	m.relations = append(m.relations, &cp)
	return nil
}

func (m *mockGraphStore) GetEntity(ctx context.Context, userID, id string) (*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entities[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (m *mockGraphStore) FindEntities(ctx context.Context, userID string, anchors []string) ([]*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var found []*models.Entity
	for _, a := range anchors {
		if e, ok := m.entities[models.CanonicalEntityID(a)]; ok {
			cp := *e
			found = append(found, &cp)
		}
	}
	return found, nil
}

func (m *mockGraphStore) QueryPaths(ctx context.Context, userID string, anchors []string, maxHops int) ([]models.GraphFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	facts := make([]models.GraphFact, len(m.facts))
	copy(facts, m.facts)
	return facts, nil
}

func (m *mockGraphStore) EdgeWeightSum(ctx context.Context, userID string, memoryIDs []string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]float64, len(m.edgeSums))
	for k, v := range m.edgeSums {
		out[k] = v
	}
	return out, nil
}

func (m *mockGraphStore) ApplyDecay(ctx context.Context, pageSize int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decayCalls++
	m.lastPage = pageSize
	if m.err != nil {
		return 0, m.err
	}
	return m.decayed, nil
}

func (m *mockGraphStore) decaySweeps() (calls, lastPage int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decayCalls, m.lastPage
}

func (m *mockGraphStore) relationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.relations)
}

func (m *mockGraphStore) hasRelation(typ models.RelationType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.relations {
		if r.Type == typ {
			return true
		}
	}
	return false
}

// mockSessionRepo keeps sessions in a map.
type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	err      error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*models.Session)}
}

func (m *mockSessionRepo) put(s *models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
}

func (m *mockSessionRepo) Create(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *mockSessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockSessionRepo) GetByIDAndUserID(ctx context.Context, id, userID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if s, ok := m.sessions[id]; ok && s.UserID == userID {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockSessionRepo) End(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.End()
		return nil
	}
	return domain.ErrSessionNotFound
}

func (m *mockSessionRepo) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockSessionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// mockTurnRepo keeps turns in insertion order.
type mockTurnRepo struct {
	mu    sync.Mutex
	turns []*models.Turn
	err   error
}

func newMockTurnRepo() *mockTurnRepo {
	return &mockTurnRepo{}
}

func (m *mockTurnRepo) Create(ctx context.Context, turn *models.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *turn
	m.turns = append(m.turns, &cp)
	return nil
}

func (m *mockTurnRepo) GetByID(ctx context.Context, id string) (*models.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.turns {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockTurnRepo) GetBySession(ctx context.Context, sessionID string, limit int) ([]*models.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Turn
	for _, t := range m.turns {
		if t.SessionID == sessionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockTurnRepo) GetLastUserTurnAt(ctx context.Context, userID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var last *time.Time
	for _, t := range m.turns {
		if t.UserID == userID && t.IsUser() {
			at := t.CreatedAt
			last = &at
		}
	}
	return last, nil
}

func (m *mockTurnRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.turns {
		if t.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (m *mockTurnRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// mockMemoryRepo keeps memories in a map.
type mockMemoryRepo struct {
	mu       sync.Mutex
	memories map[string]*models.Memory
	err      error
	getErr   error
}

func newMockMemoryRepo() *mockMemoryRepo {
	return &mockMemoryRepo{memories: make(map[string]*models.Memory)}
}

func (m *mockMemoryRepo) put(mem *models.Memory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mem
	m.memories[mem.ID] = &cp
}

func (m *mockMemoryRepo) Create(ctx context.Context, memory *models.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *memory
	m.memories[memory.ID] = &cp
	return nil
}

func (m *mockMemoryRepo) GetByID(ctx context.Context, id string) (*models.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	mem, ok := m.memories[id]
	if !ok {
		return nil, domain.ErrMemoryNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *mockMemoryRepo) GetByIDs(ctx context.Context, userID string, ids []string) ([]*models.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Memory
	for _, id := range ids {
		if mem, ok := m.memories[id]; ok && mem.UserID == userID {
			cp := *mem
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockMemoryRepo) ListByUser(ctx context.Context, userID string, filter ports.MemoryFilter) ([]*models.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Memory
	for _, mem := range m.memories {
		if mem.UserID != userID {
			continue
		}
		if len(filter.Status) > 0 {
			keep := false
			for _, st := range filter.Status {
				if mem.Status == st {
					keep = true
					break
				}
			}
			if !keep {
				continue
			}
		}
		cp := *mem
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockMemoryRepo) GetRecentCommitted(ctx context.Context, userID string, limit int) ([]*models.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Memory
	for _, mem := range m.memories {
		if mem.UserID == userID && mem.Status == models.MemoryStatusCommitted {
			cp := *mem
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockMemoryRepo) UpdateStatus(ctx context.Context, id string, status models.MemoryStatus, committedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	mem, ok := m.memories[id]
	if !ok {
		return domain.ErrMemoryNotFound
	}
	mem.Status = status
	if committedAt != nil {
		mem.CommittedAt = committedAt
	}
	return nil
}

func (m *mockMemoryRepo) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	mem, ok := m.memories[id]
	if !ok {
		return domain.ErrMemoryNotFound
	}
	mem.Metadata = metadata
	return nil
}

func (m *mockMemoryRepo) statusOf(id string) models.MemoryStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mem, ok := m.memories[id]; ok {
		return mem.Status
	}
	return ""
}

func (m *mockMemoryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.memories)
}

// mockOutboxRepo is a full in-memory queue: Claim flips due pending rows to
// processing, the terminal transitions mirror the SQL guards.
type mockOutboxRepo struct {
	mu        sync.Mutex
	events    map[string]*models.OutboxEvent
	order     []string
	err       error
	claimErr  error
	vectorErr error
	graphErr  error
}

func newMockOutboxRepo() *mockOutboxRepo {
	return &mockOutboxRepo{events: make(map[string]*models.OutboxEvent)}
}

func (m *mockOutboxRepo) put(e *models.OutboxEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events[e.ID] = &cp
	m.order = append(m.order, e.ID)
}

func (m *mockOutboxRepo) Create(ctx context.Context, event *models.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	// Same contract as the SQL: ON CONFLICT (event_id) DO NOTHING.
	for _, e := range m.events {
		if e.EventID == event.EventID {
			return nil
		}
	}
	cp := *event
	m.events[event.ID] = &cp
	m.order = append(m.order, event.ID)
	return nil
}

func (m *mockOutboxRepo) GetByID(ctx context.Context, id string) (*models.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockOutboxRepo) Claim(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	now := time.Now()
	var claimed []*models.OutboxEvent
	for _, id := range m.order {
		if len(claimed) == limit {
			break
		}
		e := m.events[id]
		if e.Status != models.OutboxStatusPending || e.NextAttemptAt.After(now) {
			continue
		}
		e.Status = models.OutboxStatusProcessing
		at := now
		e.ProcessingStartedAt = &at
		cp := *e
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (m *mockOutboxRepo) Complete(ctx context.Context, id string, processedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.Status != models.OutboxStatusProcessing {
		return domain.ErrEventNotFound
	}
	e.Status = models.OutboxStatusDone
	e.ProcessedAt = &processedAt
	return nil
}

func (m *mockOutboxRepo) Reschedule(ctx context.Context, id string, retryCount int, nextAttemptAt time.Time, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.Status != models.OutboxStatusProcessing {
		return domain.ErrEventNotFound
	}
	e.Status = models.OutboxStatusPending
	e.RetryCount = retryCount
	e.NextAttemptAt = nextAttemptAt
	e.ErrorMessage = errorMessage
	e.ProcessingStartedAt = nil
	return nil
}

func (m *mockOutboxRepo) MoveToDLQ(ctx context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	e.Status = models.OutboxStatusDLQ
	e.ErrorMessage = reason
	return nil
}

func (m *mockOutboxRepo) MarkPendingReview(ctx context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	e.Status = models.OutboxStatusPendingReview
	e.ErrorMessage = reason
	return nil
}

func (m *mockOutboxRepo) RecordVectorWritten(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vectorErr != nil {
		return m.vectorErr
	}
	e, ok := m.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	if e.VectorWrittenAt == nil {
		e.VectorWrittenAt = &at
	}
	return nil
}

func (m *mockOutboxRepo) RecordGraphWritten(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.graphErr != nil {
		return m.graphErr
	}
	e, ok := m.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	if e.GraphWrittenAt == nil {
		e.GraphWrittenAt = &at
	}
	return nil
}

func (m *mockOutboxRepo) RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for _, e := range m.events {
		if e.Status == models.OutboxStatusProcessing && e.ProcessingStartedAt != nil && e.ProcessingStartedAt.Before(cutoff) {
			e.Status = models.OutboxStatusPending
			e.ProcessingStartedAt = nil
			e.NextAttemptAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (m *mockOutboxRepo) Requeue(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	if e.Status != models.OutboxStatusDLQ && e.Status != models.OutboxStatusPendingReview {
		return domain.ErrEventNotFound
	}
	e.Status = models.OutboxStatusPending
	e.RetryCount = 0
	e.NextAttemptAt = time.Now()
	e.ErrorMessage = ""
	return nil
}

func (m *mockOutboxRepo) CountByStatus(ctx context.Context) (map[models.OutboxStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.OutboxStatus]int)
	for _, e := range m.events {
		out[e.Status]++
	}
	return out, nil
}

func (m *mockOutboxRepo) statusOf(id string) models.OutboxStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.events[id]; ok {
		return e.Status
	}
	return ""
}

func (m *mockOutboxRepo) eventFor(memoryID string) *models.OutboxEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.MemoryID == memoryID {
			cp := *e
			return &cp
		}
	}
	return nil
}

func (m *mockOutboxRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// mockIdempotencyRepo mirrors first-write-wins: a second Insert for the same
// (user, key) is a silent no-op.
type mockIdempotencyRepo struct {
	mu      sync.Mutex
	records map[string]*models.IdempotencyRecord
	err     error
}

func newMockIdempotencyRepo() *mockIdempotencyRepo {
	return &mockIdempotencyRepo{records: make(map[string]*models.IdempotencyRecord)}
}

func idemKey(userID, key string) string { return userID + "\x00" + key }

func (m *mockIdempotencyRepo) Insert(ctx context.Context, record *models.IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	k := idemKey(record.UserID, record.Key)
	if _, ok := m.records[k]; ok {
		return nil
	}
	cp := *record
	m.records[k] = &cp
	return nil
}

func (m *mockIdempotencyRepo) Get(ctx context.Context, userID, key string) (*models.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[idemKey(userID, key)]
	if !ok || rec.Expired(time.Now()) {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *mockIdempotencyRepo) DeleteExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for k, rec := range m.records {
		if rec.Expired(now) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *mockIdempotencyRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// mockTxManager runs the function inline. A scripted err fails the
// transaction before fn runs.
type mockTxManager struct {
	mu    sync.Mutex
	err   error
	calls int
	locks []string
}

func newMockTxManager() *mockTxManager {
	return &mockTxManager{}
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx)
}

func (m *mockTxManager) WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.locks = append(m.locks, sessionID)
	m.mu.Unlock()
	return m.WithTransaction(ctx, fn)
}

func (m *mockTxManager) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockAffinityRepo keeps the affinity time series in insertion order.
type mockAffinityRepo struct {
	mu   sync.Mutex
	rows []*models.AffinityRecord
	err  error
}

func newMockAffinityRepo() *mockAffinityRepo {
	return &mockAffinityRepo{}
}

func (m *mockAffinityRepo) Insert(ctx context.Context, record *models.AffinityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *record
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *mockAffinityRepo) GetLatest(ctx context.Context, userID string) (*models.AffinityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].UserID == userID {
			cp := *m.rows[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockAffinityRepo) GetHistory(ctx context.Context, userID string, limit int) ([]*models.AffinityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AffinityRecord
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].UserID != userID {
			continue
		}
		cp := *m.rows[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockAffinityRepo) rowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// mockConflictRepo keeps conflict records in memory.
type mockConflictRepo struct {
	mu      sync.Mutex
	records []*models.ConflictRecord
	err     error
}

func newMockConflictRepo() *mockConflictRepo {
	return &mockConflictRepo{}
}

func (m *mockConflictRepo) Create(ctx context.Context, record *models.ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *record
	m.records = append(m.records, &cp)
	return nil
}

func (m *mockConflictRepo) Update(ctx context.Context, record *models.ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.ID == record.ID {
			cp := *record
			m.records[i] = &cp
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockConflictRepo) GetByID(ctx context.Context, id string) (*models.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockConflictRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ConflictRecord
	for _, r := range m.records {
		if r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockConflictRepo) HasConflictBetween(ctx context.Context, userID, memoryIDA, memoryIDB string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.UserID != userID {
			continue
		}
		if (r.MemoryIDA == memoryIDA && r.MemoryIDB == memoryIDB) ||
			(r.MemoryIDA == memoryIDB && r.MemoryIDB == memoryIDA) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockConflictRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// mockIDGenerator hands out deterministic sequential ids.
type mockIDGenerator struct {
	mu  sync.Mutex
	seq int
}

func (m *mockIDGenerator) next(prefix string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return prefix + "-" + itoa(m.seq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func (m *mockIDGenerator) GenerateSessionID() string  { return m.next("ses") }
func (m *mockIDGenerator) GenerateTurnID() string     { return m.next("trn") }
func (m *mockIDGenerator) GenerateMemoryID() string   { return m.next("mem") }
func (m *mockIDGenerator) GenerateEventID() string    { return m.next("evt") }
func (m *mockIDGenerator) GenerateConflictID() string { return m.next("cfl") }
func (m *mockIDGenerator) GenerateAffinityID() string { return m.next("aff") }
func (m *mockIDGenerator) GenerateRequestID() string  { return m.next("req") }

// mockNotifier records lifecycle notifications.
type mockNotifier struct {
	mu             sync.Mutex
	pending        []string
	committed      []string
	clarifications []string
	transitions    []models.AffinityState
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{}
}

func (m *mockNotifier) NotifyMemoryPending(userID, sessionID, memoryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, memoryID)
}

func (m *mockNotifier) NotifyMemoryCommitted(userID, sessionID, memoryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, memoryID)
}

func (m *mockNotifier) NotifyClarification(userID, sessionID, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clarifications = append(m.clarifications, content)
}

func (m *mockNotifier) NotifyAffinityState(userID string, from, to models.AffinityState, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, to)
}

func (m *mockNotifier) committedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}

func (m *mockNotifier) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// mockSubscriber hands out one shared buffered channel per Subscribe call
// and lets tests push events into all of them.
type mockSubscriber struct {
	mu   sync.Mutex
	subs []chan ports.TurnEvent
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{}
}

func (m *mockSubscriber) Subscribe(userID string) (<-chan ports.TurnEvent, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan ports.TurnEvent, 8)
	m.subs = append(m.subs, ch)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s == ch {
					m.subs = append(m.subs[:i], m.subs[i+1:]...)
					close(ch)
					break
				}
			}
		})
	}
}

func (m *mockSubscriber) publish(ev ports.TurnEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
