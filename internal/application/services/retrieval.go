package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evermind-ai/evermind/internal/adapters/metrics"
	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

const (
	// DefaultTopK caps how many memories a single retrieval returns.
	DefaultTopK = 20
	// DefaultTopKVec is how many candidates the vector index is asked for
	// before reranking narrows them down.
	DefaultTopKVec = 32
	// DefaultMaxHops bounds graph traversal depth.
	DefaultMaxHops = 3
	// DefaultBranchTimeout bounds each retrieval branch independently. A
	// branch that misses its deadline contributes nothing; the other branch
	// still counts.
	DefaultBranchTimeout = 2 * time.Second

	maxAnchors          = 3
	anchorOracleTimeout = 800 * time.Millisecond

	rerankCosineWeight   = 0.55
	rerankEdgeWeight     = 0.20
	rerankRecencyWeight  = 0.15
	rerankAffinityWeight = 0.10

	// recency(m) = exp(-age_days / recencyScaleDays)
	recencyScaleDays = 30.0

	// Memories from the last week get a flat boost on top of the smooth
	// recency term, unless the query is a question. A question mentioning
	// 沈阳 writes nothing, but the turn that did mention it yesterday must
	// not be outranked by its own echo.
	freshBoost      = 0.15
	freshWindowDays = 7.0
)

// coastalCities maps 海边/seaside style queries onto concrete LIVES_IN
// targets. Names, not ids, because FindEntities matches names.
var coastalCities = []string{
	"青岛", "厦门", "三亚", "大连", "珠海", "宁波", "威海", "烟台", "秦皇岛", "北海", "汕头",
	"qingdao", "xiamen", "sanya", "dalian", "zhuhai", "ningbo", "weihai", "yantai",
}

var coastalTriggers = []string{"海边", "海滨", "沿海", "seaside", "coastal", "by the sea", "beach"}

// RetrievalOptions tune the fan-out. Zero values fall back to defaults.
type RetrievalOptions struct {
	TopK          int
	TopKVec       int
	MaxHops       int
	BranchTimeout time.Duration
}

// RetrievalResult is the merged view the conversation path builds prompts
// from: reranked memories plus graph facts that may have no backing memory.
type RetrievalResult struct {
	Memories []models.ScoredMemory `json:"memories"`
	Facts    []models.GraphFact    `json:"facts"`
	Anchors  []string              `json:"anchors,omitempty"`
}

// RetrievalService answers "what do we already know that bears on this
// query". The vector index and the entity graph are searched concurrently
// and merged under a single rerank; either branch may time out without
// failing the whole retrieval.
type RetrievalService struct {
	embedding ports.EmbeddingService
	vectors   ports.VectorIndex
	graph     ports.GraphStore
	memories  ports.MemoryRepository
	llm       ports.LLMService
	emotion   *EmotionService

	topK          int
	topKVec       int
	maxHops       int
	branchTimeout time.Duration
}

// NewRetrievalService wires the fan-out. llm may be nil; it is only used as
// a fallback when deterministic anchor extraction finds nothing.
func NewRetrievalService(
	embedding ports.EmbeddingService,
	vectors ports.VectorIndex,
	graph ports.GraphStore,
	memories ports.MemoryRepository,
	llm ports.LLMService,
	emotion *EmotionService,
	opts RetrievalOptions,
) *RetrievalService {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.TopKVec <= 0 {
		opts.TopKVec = DefaultTopKVec
	}
	if opts.MaxHops <= 0 {
		opts.MaxHops = DefaultMaxHops
	}
	if opts.BranchTimeout <= 0 {
		opts.BranchTimeout = DefaultBranchTimeout
	}
	return &RetrievalService{
		embedding:     embedding,
		vectors:       vectors,
		graph:         graph,
		memories:      memories,
		llm:           llm,
		emotion:       emotion,
		topK:          opts.TopK,
		topKVec:       opts.TopKVec,
		maxHops:       opts.MaxHops,
		branchTimeout: opts.BranchTimeout,
	}
}

type vectorCandidate struct {
	memory *models.Memory
	cosine float64
}

// HybridRetrieve runs both branches as a fork-join and reranks the union.
// affinityScore feeds the valence bonus; mode graph_only skips the vector
// branch entirely.
func (s *RetrievalService) HybridRetrieve(ctx context.Context, userID, query string, affinityScore float64, mode models.RetrievalMode) (*RetrievalResult, error) {
	if mode == "" {
		mode = models.ModeHybrid
	}
	if !models.ValidRetrievalMode(mode) {
		return nil, domain.ErrInvalidMode
	}

	var (
		candidates []vectorCandidate
		edgeSums   map[string]float64
		facts      []models.GraphFact
		anchors    []string
	)

	g, gctx := errgroup.WithContext(ctx)

	if mode != models.ModeGraphOnly {
		g.Go(func() error {
			bctx, cancel := context.WithTimeout(gctx, s.branchTimeout)
			defer cancel()
			start := time.Now()
			cands, sums, err := s.vectorBranch(bctx, userID, query)
			metrics.RetrievalBranchDuration.WithLabelValues("vector").Observe(time.Since(start).Seconds())
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					metrics.RetrievalBranchTimeouts.WithLabelValues("vector").Inc()
				}
				log.Printf("warning: retrieval: vector branch degraded for user %s: %v", userID, err)
				return nil
			}
			candidates = cands
			edgeSums = sums
			return nil
		})
	}

	g.Go(func() error {
		bctx, cancel := context.WithTimeout(gctx, s.branchTimeout)
		defer cancel()
		start := time.Now()
		got, resolved, err := s.graphBranch(bctx, userID, query)
		metrics.RetrievalBranchDuration.WithLabelValues("graph").Observe(time.Since(start).Seconds())
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				metrics.RetrievalBranchTimeouts.WithLabelValues("graph").Inc()
			}
			log.Printf("warning: retrieval: graph branch degraded for user %s: %v", userID, err)
			return nil
		}
		facts = got
		anchors = resolved
		return nil
	})

	// Branches degrade to empty instead of erroring, so Wait only reports
	// a cancelled parent context.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scored := s.rerank(query, candidates, edgeSums, affinityScore)
	return &RetrievalResult{Memories: scored, Facts: facts, Anchors: anchors}, nil
}

// EntityFacts is the graph branch alone: anchors out of the query, BFS from
// the matched entities. Serves the facts endpoint and graph_only retrieval.
func (s *RetrievalService) EntityFacts(ctx context.Context, userID, query string, maxHops int) ([]models.GraphFact, []string, error) {
	if maxHops <= 0 || maxHops > s.maxHops {
		maxHops = s.maxHops
	}
	return s.entityFacts(ctx, userID, query, maxHops)
}

func (s *RetrievalService) vectorBranch(ctx context.Context, userID, query string) ([]vectorCandidate, map[string]float64, error) {
	result, err := s.embedding.Embed(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	hits, err := s.vectors.Search(ctx, userID, result.Embedding, s.topKVec)
	if err != nil {
		return nil, nil, err
	}
	if len(hits) == 0 {
		return nil, nil, nil
	}

	ids := make([]string, 0, len(hits))
	cosines := make(map[string]float64, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
		cosines[h.ID] = h.Cosine
	}

	// The index knows nothing about status. Deprecated and deleted rows
	// must not resurface, so the relational store is authoritative here.
	mems, err := s.memories.GetByIDs(ctx, userID, ids)
	if err != nil {
		return nil, nil, err
	}
	candidates := make([]vectorCandidate, 0, len(mems))
	liveIDs := make([]string, 0, len(mems))
	for _, m := range mems {
		if !m.IsRetrievable() {
			continue
		}
		candidates = append(candidates, vectorCandidate{memory: m, cosine: cosines[m.ID]})
		liveIDs = append(liveIDs, m.ID)
	}
	if len(liveIDs) == 0 {
		return nil, nil, nil
	}

	sums, err := s.graph.EdgeWeightSum(ctx, userID, liveIDs)
	if err != nil {
		// Rerank still works without the edge term.
		log.Printf("warning: retrieval: edge weight sum unavailable: %v", err)
		sums = nil
	}
	return candidates, sums, nil
}

func (s *RetrievalService) graphBranch(ctx context.Context, userID, query string) ([]models.GraphFact, []string, error) {
	return s.entityFacts(ctx, userID, query, s.maxHops)
}

func (s *RetrievalService) entityFacts(ctx context.Context, userID, query string, maxHops int) ([]models.GraphFact, []string, error) {
	anchors := s.extractAnchors(ctx, query)
	lookup := expandAnchorCandidates(anchors)
	lookup = append(lookup, coastalExpansion(query)...)
	if len(lookup) == 0 {
		return nil, nil, nil
	}

	entities, err := s.graph.FindEntities(ctx, userID, lookup)
	if err != nil {
		return nil, anchors, err
	}
	if len(entities) == 0 {
		return nil, anchors, nil
	}
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}

	facts, err := s.graph.QueryPaths(ctx, userID, ids, maxHops)
	if err != nil {
		return nil, anchors, err
	}
	return facts, anchors, nil
}

// extractAnchors pulls up to maxAnchors entity mentions out of the query.
// Deterministic signals first; the oracle is only consulted when they all
// come up empty, and its failure just means no graph branch.
func (s *RetrievalService) extractAnchors(ctx context.Context, query string) []string {
	anchors := deterministicAnchors(query)
	if len(anchors) > 0 || s.llm == nil {
		return anchors
	}
	return s.oracleAnchors(ctx, query)
}

func deterministicAnchors(query string) []string {
	var raw []string
	raw = append(raw, quotedSpans(query)...)
	raw = append(raw, capitalizedTokens(query)...)
	raw = append(raw, chineseRuns(query, 2, 8)...)

	seen := make(map[string]struct{}, len(raw))
	anchors := make([]string, 0, maxAnchors)
	for _, a := range raw {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		key := strings.ToLower(a)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		anchors = append(anchors, a)
		if len(anchors) == maxAnchors {
			break
		}
	}
	return anchors
}

// expandAnchorCandidates widens each multi-character Chinese anchor with its
// leading and trailing bigrams. Unsegmented runs like 沈阳旅游 often glue an
// entity to a verb phrase; the bigrams let 沈阳 match even though the full
// run does not name a node.
func expandAnchorCandidates(anchors []string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(c string) {
		key := strings.ToLower(c)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	for _, a := range anchors {
		add(a)
		runes := []rune(a)
		if len(runes) <= 2 || !isHan(runes[0]) {
			continue
		}
		add(string(runes[:2]))
		add(string(runes[len(runes)-2:]))
	}
	return out
}

func isHan(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

func coastalExpansion(query string) []string {
	lowered := strings.ToLower(query)
	for _, trigger := range coastalTriggers {
		if strings.Contains(lowered, trigger) {
			return coastalCities
		}
	}
	return nil
}

const anchorOraclePrompt = `Extract the entity names (people, places, organizations, things) mentioned in the user's message. Reply with a JSON array of strings, at most 3 entries, nothing else. Reply with [] if there are none.`

func (s *RetrievalService) oracleAnchors(ctx context.Context, query string) []string {
	octx, cancel := context.WithTimeout(ctx, anchorOracleTimeout)
	defer cancel()
	resp, err := s.llm.Generate(octx, []ports.LLMMessage{
		{Role: "system", Content: anchorOraclePrompt},
		{Role: "user", Content: query},
	}, &ports.GenerateOptions{MaxTokens: 128, Temperature: 0})
	if err != nil {
		log.Printf("warning: retrieval: anchor oracle unavailable: %v", err)
		return nil
	}
	payload := extractJSONArray(resp.Content)
	if payload == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(payload), &names); err != nil {
		log.Printf("warning: retrieval: anchor oracle returned malformed JSON: %v", err)
		return nil
	}
	anchors := make([]string, 0, maxAnchors)
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		anchors = append(anchors, n)
		if len(anchors) == maxAnchors {
			break
		}
	}
	return anchors
}

func extractJSONArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// rerank folds the signals into one score per memory:
//
//	0.55·cosine + 0.20·Σ effective edge weight + 0.15·exp(−age/30) + 0.10·affinity bonus
//
// plus the flat fresh-week boost when the query is not a question. The
// affinity bonus only rewards positive-valence memories; a close companion
// should resurface shared joys, not old complaints.
func (s *RetrievalService) rerank(query string, candidates []vectorCandidate, edgeSums map[string]float64, affinityScore float64) []models.ScoredMemory {
	if len(candidates) == 0 {
		return nil
	}
	isQuestion := s.emotion != nil && s.emotion.IsQuestion(query)
	now := time.Now()

	scored := make([]models.ScoredMemory, 0, len(candidates))
	for _, c := range candidates {
		ageDays := now.Sub(c.memory.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		recency := math.Exp(-ageDays / recencyScaleDays)
		edge := edgeSums[c.memory.ID]
		bonus := 0.0
		if c.memory.Valence > 0 {
			bonus = c.memory.Valence * affinityScore
		}
		score := rerankCosineWeight*c.cosine +
			rerankEdgeWeight*edge +
			rerankRecencyWeight*recency +
			rerankAffinityWeight*bonus
		if !isQuestion && ageDays <= freshWindowDays {
			score += freshBoost
		}
		scored = append(scored, models.ScoredMemory{
			Memory:    c.memory,
			Score:     score,
			Cosine:    c.cosine,
			EdgeBoost: edge,
			Recency:   recency,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Memory.CreatedAt.After(scored[j].Memory.CreatedAt)
	})
	if len(scored) > s.topK {
		scored = scored[:s.topK]
	}
	return scored
}
