package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/evermind-ai/evermind/internal/adapters/metrics"
	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// DefaultConflictWindow is how many recent committed memories a fresh commit
// is compared against.
const DefaultConflictWindow = 20

const conflictBaseConfidence = 0.75

// oppositePair is one stance dimension. Negative markers are checked first
// because they are usually superstrings of the positive ones (不喜欢 contains
// 喜欢, "don't like" contains "like").
type oppositePair struct {
	indicator string
	positive  []string
	negative  []string
}

var oppositePairs = []oppositePair{
	{
		indicator: "like/dislike",
		positive:  []string{"喜欢", "喜爱", "like", "likes", "liked", "enjoy", "enjoys"},
		negative:  []string{"不喜欢", "不太喜欢", "讨厌", "dislike", "dislikes", "don't like", "do not like", "can't stand"},
	},
	{
		indicator: "love/hate",
		positive:  []string{"爱", "热爱", "love", "loves"},
		negative:  []string{"不爱", "恨", "痛恨", "hate", "hates"},
	},
	{
		indicator: "is/is-not",
		positive:  []string{"是", "is", "am", "are", "was"},
		negative:  []string{"不是", "不再是", "is not", "isn't", "am not", "are not", "aren't", "wasn't", "no longer"},
	},
	{
		indicator: "want/not-want",
		positive:  []string{"想要", "想去", "想", "want", "wants", "want to", "wanted"},
		negative:  []string{"不想", "不要", "don't want", "do not want", "doesn't want"},
	},
	{
		indicator: "have/not-have",
		positive:  []string{"有", "have", "has", "got"},
		negative:  []string{"没有", "don't have", "do not have", "doesn't have", "no more"},
	},
}

// conflictSignal is one detected opposition between two texts.
type conflictSignal struct {
	Indicator  string
	Topic      string
	Overlap    float64
	Confidence float64
}

// ConflictService compares freshly committed memories against recent ones,
// looking for the user contradicting themselves. Contradictions a day or
// more apart are treated as life moving on: the older memory is deprecated.
// Same-day contradictions become a clarification question instead, because
// there is no time axis to arbitrate by.
type ConflictService struct {
	conflicts ports.ConflictRepository
	memories  ports.MemoryRepository
	ids       ports.IDGenerator
	notifier  ports.TurnNotifier
	window    int
}

func NewConflictService(conflicts ports.ConflictRepository, memories ports.MemoryRepository, ids ports.IDGenerator, notifier ports.TurnNotifier, window int) *ConflictService {
	if window <= 0 {
		window = DefaultConflictWindow
	}
	return &ConflictService{
		conflicts: conflicts,
		memories:  memories,
		ids:       ids,
		notifier:  notifier,
		window:    window,
	}
}

// DetectAndResolve runs after fresh has committed. Returns the conflict
// records it created, already resolved where the time axis allowed.
func (s *ConflictService) DetectAndResolve(ctx context.Context, userID string, fresh *models.Memory, sessionID string) ([]*models.ConflictRecord, error) {
	recent, err := s.memories.GetRecentCommitted(ctx, userID, s.window)
	if err != nil {
		return nil, fmt.Errorf("conflict: load recent memories: %w", err)
	}

	var records []*models.ConflictRecord
	for _, old := range recent {
		if old.ID == fresh.ID {
			continue
		}
		signal, ok := detectConflict(old.Content, fresh.Content)
		if !ok {
			continue
		}

		exists, err := s.conflicts.HasConflictBetween(ctx, userID, old.ID, fresh.ID)
		if err != nil {
			return records, fmt.Errorf("conflict: dedupe check: %w", err)
		}
		if exists {
			continue
		}

		older, newer := old, fresh
		if fresh.CreatedAt.Before(old.CreatedAt) {
			older, newer = fresh, old
		}
		record := models.NewConflictRecord(s.ids.GenerateConflictID(), userID, older.ID, newer.ID, signal.Topic, signal.Indicator, signal.Confidence)

		gap := newer.CreatedAt.Sub(older.CreatedAt)
		if gap >= 24*time.Hour {
			if err := s.supersede(ctx, older, newer, record); err != nil {
				return records, err
			}
		} else {
			if s.notifier != nil {
				s.notifier.NotifyClarification(userID, sessionID, clarificationText(older.Content, newer.Content))
			}
			log.Printf("info: conflict: clarification needed for user %s on %q (%s)", userID, signal.Topic, signal.Indicator)
		}

		if err := s.conflicts.Create(ctx, record); err != nil {
			return records, fmt.Errorf("conflict: create record: %w", err)
		}
		metrics.ConflictsTotal.WithLabelValues(string(record.Resolution)).Inc()
		records = append(records, record)
	}
	return records, nil
}

func (s *ConflictService) supersede(ctx context.Context, older, newer *models.Memory, record *models.ConflictRecord) error {
	if err := s.memories.UpdateStatus(ctx, older.ID, models.MemoryStatusDeprecated, nil); err != nil {
		return fmt.Errorf("conflict: deprecate %s: %w", older.ID, err)
	}
	meta := older.Metadata
	if meta == nil {
		meta = make(map[string]any)
	}
	meta["superseded_by"] = newer.ID
	if err := s.memories.UpdateMetadata(ctx, older.ID, meta); err != nil {
		return fmt.Errorf("conflict: annotate %s: %w", older.ID, err)
	}
	record.ResolveSuperseded(newer.ID)
	log.Printf("info: conflict: %s superseded by %s on %q (%s)", older.ID, newer.ID, record.Topic, record.Indicator)
	return nil
}

func clarificationText(a, b string) string {
	return fmt.Sprintf("之前你说过「%s」，刚刚又说「%s」，现在以哪个为准呢？", a, b)
}

// detectConflict reports whether a and b take opposite stances on a shared
// topic. The topic tokens are taken after the stance markers themselves are
// stripped, so 喜欢喝茶 and 不喜欢喝茶 share the topic 喝茶, not 喜欢.
func detectConflict(a, b string) (conflictSignal, bool) {
	normA := normalizeStanceText(a)
	normB := normalizeStanceText(b)

	for _, pair := range oppositePairs {
		sa := stance(a, normA, pair)
		sb := stance(b, normB, pair)
		if sa == 0 || sb == 0 || sa == sb {
			continue
		}

		tokensA := topicTokens(a, pair)
		tokensB := topicTokens(b, pair)
		overlap := tokenOverlapRatio(tokensA, tokensB)
		if overlap <= 0 {
			continue
		}

		confidence := conflictBaseConfidence + overlap*0.25
		if confidence > 1 {
			confidence = 1
		}
		return conflictSignal{
			Indicator:  pair.indicator,
			Topic:      sharedTopic(tokensA, tokensB),
			Overlap:    overlap,
			Confidence: confidence,
		}, true
	}
	return conflictSignal{}, false
}

// normalizeStanceText prepares a text for English marker matching: lowercase,
// punctuation to spaces, padded so every token has space boundaries.
func normalizeStanceText(text string) string {
	var b strings.Builder
	b.WriteByte(' ')
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '’':
			b.WriteByte('\'')
		case r < 128 && (r == '\'' || isAlnum(r)):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	b.WriteByte(' ')
	return b.String()
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func stance(raw, normalized string, pair oppositePair) int {
	if matchesAnyMarker(raw, normalized, pair.negative) {
		return -1
	}
	if matchesAnyMarker(raw, normalized, pair.positive) {
		return 1
	}
	return 0
}

func matchesAnyMarker(raw, normalized string, markers []string) bool {
	for _, m := range markers {
		if isChineseMarker(m) {
			if strings.Contains(raw, m) {
				return true
			}
			continue
		}
		if strings.Contains(normalized, " "+m+" ") {
			return true
		}
	}
	return false
}

func isChineseMarker(m string) bool {
	for _, r := range m {
		return isHan(r)
	}
	return false
}

// topicTokens tokenizes text with every marker of the matched pair removed,
// negatives first since they contain the positives.
func topicTokens(text string, pair oppositePair) []string {
	stripped := text
	lowered := strings.ToLower(text)
	for _, m := range pair.negative {
		if isChineseMarker(m) {
			stripped = strings.ReplaceAll(stripped, m, " ")
		} else {
			lowered = strings.ReplaceAll(lowered, m, " ")
		}
	}
	for _, m := range pair.positive {
		if isChineseMarker(m) {
			stripped = strings.ReplaceAll(stripped, m, " ")
		} else {
			lowered = strings.ReplaceAll(lowered, m, " ")
		}
	}
	tokens := chineseRuns(stripped, 2, 8)
	tokens = append(tokens, englishTokens(lowered, 3)...)
	return tokens
}

func sharedTopic(a, b []string) string {
	inB := make(map[string]struct{}, len(b))
	for _, t := range b {
		inB[t] = struct{}{}
	}
	topic := ""
	for _, t := range a {
		if _, ok := inB[t]; !ok {
			continue
		}
		if len(t) > len(topic) {
			topic = t
		}
	}
	return topic
}
