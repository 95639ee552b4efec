package services

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
// Common mock implementations shared across service tests
// ============================================================================

// mockLLM is a scriptable LLM service.
type mockLLM struct {
	mu        sync.Mutex
	response  string
	err       error
	delay     time.Duration
	calls     int
	lastMsgs  []ports.LLMMessage
	lastOpts  *ports.GenerateOptions
}

func newMockLLM(response string) *mockLLM {
	return &mockLLM{response: response}
}

func (m *mockLLM) Generate(ctx context.Context, messages []ports.LLMMessage, opts *ports.GenerateOptions) (*ports.LLMResponse, error) {
	m.mu.Lock()
	m.calls++
	m.lastMsgs = messages
	m.lastOpts = opts
	delay := m.delay
	err := m.err
	response := m.response
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &ports.LLMResponse{Content: response}, nil
}

func (m *mockLLM) GenerateStream(ctx context.Context, messages []ports.LLMMessage, opts *ports.GenerateOptions) (<-chan ports.LLMStreamChunk, error) {
	m.mu.Lock()
	m.calls++
	response := m.response
	err := m.err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	ch := make(chan ports.LLMStreamChunk, 2)
	ch <- ports.LLMStreamChunk{Content: response}
	ch <- ports.LLMStreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockEmbedding returns a fixed-dimension vector derived from text length.
type mockEmbedding struct {
	mu    sync.Mutex
	dims  int
	err   error
	delay time.Duration
	calls int
}

func newMockEmbedding(dims int) *mockEmbedding {
	return &mockEmbedding{dims: dims}
}

func (m *mockEmbedding) Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	delay := m.delay
	dims := m.dims
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(len(text)%7) / 7
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

// mockVectorIndex stores upserts in memory and serves scripted hits.
type mockVectorIndex struct {
	mu      sync.Mutex
	records map[string]*ports.VectorRecord
	hits    []ports.VectorHit
	err     error
	delay   time.Duration
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
	err := m.err
	delay := m.delay
	hits := make([]ports.VectorHit, len(m.hits))
	copy(hits, m.hits)
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// mockGraphStore serves scripted entities and paths.
type mockGraphStore struct {
	mu        sync.Mutex
	entities  map[string]*models.Entity
	relations []*models.Relation
	facts     []models.GraphFact
	edgeSums  map[string]float64
	decayed   int
	err       error
	delay     time.Duration
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
	if existing, ok := m.entities[entity.ID]; ok {
		existing.MentionCount++
		existing.LastMentionedAt = time.Now()
		return nil
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
	for _, r := range m.relations {
		if r.SourceID == relation.SourceID && r.TargetID == relation.TargetID && r.Type == relation.Type {
			if relation.Weight > r.Weight {
				r.Weight = relation.Weight
			}
			r.UpdatedAt = time.Now()
			return nil
		}
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
	err := m.err
	delay := m.delay
	facts := make([]models.GraphFact, len(m.facts))
	copy(facts, m.facts)
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
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
	if m.err != nil {
		return 0, m.err
	}
	return m.decayed, nil
}

func (m *mockGraphStore) relationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.relations)
}

// mockMemoryRepo keeps memories in a map, enough for retrieval and conflict
// tests that only read.
type mockMemoryRepo struct {
	mu       sync.Mutex
	memories map[string]*models.Memory
	err      error
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
	if m.err != nil {
		return nil, m.err
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
	if m.err != nil {
		return nil, m.err
	}
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
	if m.err != nil {
		return nil, m.err
	}
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
	if m.err != nil {
		return nil, m.err
	}
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
	if m.err != nil {
		return nil, m.err
	}
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
	if m.err != nil {
		return m.err
	}
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
	if m.err != nil {
		return false, m.err
	}
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

func (m *mockNotifier) clarificationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clarifications)
}
