package services

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/evermind-ai/evermind/internal/domain/models"
)

func TestDetectConflict_TeaSwitch(t *testing.T) {
	signal, ok := detectConflict("我喜欢喝茶", "我不喜欢喝茶了，只喝咖啡")
	if !ok {
		t.Fatal("expected a conflict")
	}
	if signal.Indicator != "like/dislike" {
		t.Errorf("indicator = %q, want like/dislike", signal.Indicator)
	}
	if signal.Topic != "喝茶" {
		t.Errorf("topic = %q, want 喝茶", signal.Topic)
	}
	if signal.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", signal.Confidence)
	}
}

func TestDetectConflict_EnglishLoveHate(t *testing.T) {
	signal, ok := detectConflict("I love the beach", "honestly I hate the beach now")
	if !ok {
		t.Fatal("expected a conflict")
	}
	if signal.Indicator != "love/hate" {
		t.Errorf("indicator = %q, want love/hate", signal.Indicator)
	}
	if signal.Topic != "beach" {
		t.Errorf("topic = %q, want beach", signal.Topic)
	}
}

func TestDetectConflict_IsNot(t *testing.T) {
	signal, ok := detectConflict("我是北方人", "我不是北方人，我老家在南方")
	if !ok {
		t.Fatal("expected a conflict")
	}
	if signal.Indicator != "is/is-not" {
		t.Errorf("indicator = %q, want is/is-not", signal.Indicator)
	}
	if signal.Topic != "北方人" {
		t.Errorf("topic = %q, want 北方人", signal.Topic)
	}
}

func TestDetectConflict_NoTopicOverlap(t *testing.T) {
	if _, ok := detectConflict("我喜欢喝茶", "我不喜欢下雨"); ok {
		t.Error("opposition without topic overlap is not a conflict")
	}
}

func TestDetectConflict_SameStance(t *testing.T) {
	if _, ok := detectConflict("我喜欢喝茶", "我最喜欢喝茶了"); ok {
		t.Error("agreeing statements are not a conflict")
	}
}

func TestDetectConflict_PartialOverlapConfidence(t *testing.T) {
	signal, ok := detectConflict("我喜欢喝茶和看书", "我不喜欢喝茶和跑步")
	if !ok {
		t.Fatal("expected a conflict")
	}
	if math.Abs(signal.Overlap-0.5) > 1e-9 {
		t.Errorf("overlap = %v, want 0.5", signal.Overlap)
	}
	if math.Abs(signal.Confidence-0.875) > 1e-9 {
		t.Errorf("confidence = %v, want 0.875", signal.Confidence)
	}
}

func TestDetectConflict_NegationIsNotPositive(t *testing.T) {
	// 不喜欢 contains 喜欢; both texts disliking must not read as opposition.
	if _, ok := detectConflict("我不喜欢喝茶", "我不喜欢喝茶了"); ok {
		t.Error("two dislikes are the same stance")
	}
}

func committedMemory(id, content string, age time.Duration) *models.Memory {
	created := time.Now().Add(-age)
	committed := created
	return &models.Memory{
		ID:          id,
		UserID:      "user-1",
		Content:     content,
		Status:      models.MemoryStatusCommitted,
		CreatedAt:   created,
		CommittedAt: &committed,
	}
}

func TestDetectAndResolve_OldMemorySuperseded(t *testing.T) {
	memories := newMockMemoryRepo()
	conflicts := newMockConflictRepo()
	notifier := newMockNotifier()
	svc := NewConflictService(conflicts, memories, &mockIDGenerator{}, notifier, 0)

	old := committedMemory("mem-tea", "我喜欢喝茶", 10*24*time.Hour)
	fresh := committedMemory("mem-coffee", "我不喜欢喝茶了，只喝咖啡", 0)
	memories.put(old)
	memories.put(fresh)

	records, err := svc.DetectAndResolve(context.Background(), "user-1", fresh, "ses-1")
	if err != nil {
		t.Fatalf("DetectAndResolve: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 conflict record, got %d", len(records))
	}
	rec := records[0]
	if rec.Resolution != models.ConflictSupersededByNewer {
		t.Errorf("resolution = %s, want superseded_by_newer", rec.Resolution)
	}
	if rec.SupersededBy != "mem-coffee" {
		t.Errorf("superseded_by = %s, want mem-coffee", rec.SupersededBy)
	}
	if rec.MemoryIDA != "mem-tea" || rec.MemoryIDB != "mem-coffee" {
		t.Errorf("pair = (%s, %s), want (mem-tea, mem-coffee)", rec.MemoryIDA, rec.MemoryIDB)
	}
	if got := memories.statusOf("mem-tea"); got != models.MemoryStatusDeprecated {
		t.Errorf("old memory status = %s, want deprecated", got)
	}
	if got := memories.statusOf("mem-coffee"); got != models.MemoryStatusCommitted {
		t.Errorf("fresh memory status = %s, want committed", got)
	}
	if notifier.clarificationCount() != 0 {
		t.Errorf("supersession must not ask for clarification")
	}
}

func TestDetectAndResolve_SameDayAsksClarification(t *testing.T) {
	memories := newMockMemoryRepo()
	conflicts := newMockConflictRepo()
	notifier := newMockNotifier()
	svc := NewConflictService(conflicts, memories, &mockIDGenerator{}, notifier, 0)

	old := committedMemory("mem-a", "我喜欢喝茶", 2*time.Hour)
	fresh := committedMemory("mem-b", "我不喜欢喝茶了", 0)
	memories.put(old)
	memories.put(fresh)

	records, err := svc.DetectAndResolve(context.Background(), "user-1", fresh, "ses-1")
	if err != nil {
		t.Fatalf("DetectAndResolve: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 conflict record, got %d", len(records))
	}
	if records[0].Resolution != models.ConflictUnresolved {
		t.Errorf("resolution = %s, want unresolved", records[0].Resolution)
	}
	if got := memories.statusOf("mem-a"); got != models.MemoryStatusCommitted {
		t.Errorf("same-day conflict must not deprecate, status = %s", got)
	}
	if notifier.clarificationCount() != 1 {
		t.Fatalf("expected 1 clarification, got %d", notifier.clarificationCount())
	}
	notifier.mu.Lock()
	content := notifier.clarifications[0]
	notifier.mu.Unlock()
	if !strings.Contains(content, "我喜欢喝茶") || !strings.Contains(content, "我不喜欢喝茶了") {
		t.Errorf("clarification must quote both statements, got %q", content)
	}
}

func TestDetectAndResolve_DeduplicatesPairs(t *testing.T) {
	memories := newMockMemoryRepo()
	conflicts := newMockConflictRepo()
	svc := NewConflictService(conflicts, memories, &mockIDGenerator{}, newMockNotifier(), 0)

	old := committedMemory("mem-a", "我喜欢喝茶", 10*24*time.Hour)
	fresh := committedMemory("mem-b", "我不喜欢喝茶了", 0)
	memories.put(old)
	memories.put(fresh)
	conflicts.Create(context.Background(), models.NewConflictRecord("cfl-existing", "user-1", "mem-a", "mem-b", "喝茶", "like/dislike", 1.0))

	records, err := svc.DetectAndResolve(context.Background(), "user-1", fresh, "ses-1")
	if err != nil {
		t.Fatalf("DetectAndResolve: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no new records for an already-covered pair, got %d", len(records))
	}
	if conflicts.count() != 1 {
		t.Errorf("conflict count = %d, want 1", conflicts.count())
	}
}

func TestDetectAndResolve_IgnoresSelf(t *testing.T) {
	memories := newMockMemoryRepo()
	conflicts := newMockConflictRepo()
	svc := NewConflictService(conflicts, memories, &mockIDGenerator{}, newMockNotifier(), 0)

	fresh := committedMemory("mem-a", "我不喜欢喝茶了", 0)
	memories.put(fresh)

	records, err := svc.DetectAndResolve(context.Background(), "user-1", fresh, "ses-1")
	if err != nil {
		t.Fatalf("DetectAndResolve: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("a memory cannot conflict with itself, got %d records", len(records))
	}
}
