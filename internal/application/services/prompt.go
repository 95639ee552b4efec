package services

import (
	"fmt"
	"strings"

	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

const (
	// DefaultHistoryTurns is how many prior turns go into the prompt.
	DefaultHistoryTurns = 10
	// DefaultPromptMemories caps memory lines in the system prompt.
	DefaultPromptMemories = 10
	// DefaultPromptFacts caps graph fact lines in the system prompt.
	DefaultPromptFacts = 12
)

// MemorizeAck is the canned reply for memorize_only turns; the reply path is
// suppressed but the user still gets an acknowledgement.
const MemorizeAck = "好的，我记住了。"

// Tone labels returned in the reply envelope and injected into the prompt.
const (
	TonePolite     = "polite"
	ToneFriendly   = "friendly"
	ToneWarm       = "warm"
	ToneCaring     = "caring"
	ToneIntimate   = "intimate"
	ToneComforting = "comforting"
)

var personaByState = map[models.AffinityState]string{
	models.AffinityStranger:     "你们才刚认识，保持礼貌和分寸，不要自来熟。",
	models.AffinityAcquaintance: "你们认识不久，语气友好自然，可以适当表达好奇。",
	models.AffinityFriend:       "你们是朋友，语气轻松温暖，可以开开玩笑。",
	models.AffinityCloseFriend:  "你们是很熟的朋友，语气亲近随意，记得彼此的小事。",
	models.AffinityBestFriend:   "你们是最好的朋友，无话不谈，语气亲密自然，偶尔撒娇或打趣。",
}

var toneByState = map[models.AffinityState]string{
	models.AffinityStranger:     TonePolite,
	models.AffinityAcquaintance: ToneFriendly,
	models.AffinityFriend:       ToneWarm,
	models.AffinityCloseFriend:  ToneCaring,
	models.AffinityBestFriend:   ToneIntimate,
}

// SelectTone picks the reply tone from the relationship state, overridden
// when the user sounds down; comfort beats familiarity.
func SelectTone(state models.AffinityState, valence float64) string {
	if valence <= -0.3 {
		return ToneComforting
	}
	if tone, ok := toneByState[state]; ok {
		return tone
	}
	return ToneFriendly
}

// PromptInput is everything the builder folds into one generation request.
type PromptInput struct {
	UserText string
	Tone     string
	State    models.AffinityState
	Emotion  models.Emotion
	History  []*models.Turn
	Memories []models.ScoredMemory
	Facts    []models.GraphFact
}

// PromptBuilder renders the system prompt and conversation window for the
// generation oracle. Stateless; limits bound the prompt, not the retrieval.
type PromptBuilder struct {
	historyTurns int
	maxMemories  int
	maxFacts     int
}

func NewPromptBuilder(historyTurns, maxMemories, maxFacts int) *PromptBuilder {
	if historyTurns <= 0 {
		historyTurns = DefaultHistoryTurns
	}
	if maxMemories <= 0 {
		maxMemories = DefaultPromptMemories
	}
	if maxFacts <= 0 {
		maxFacts = DefaultPromptFacts
	}
	return &PromptBuilder{
		historyTurns: historyTurns,
		maxMemories:  maxMemories,
		maxFacts:     maxFacts,
	}
}

// Build returns the message list for one turn: system prompt, then the last
// N turns oldest-first, then the current user message.
func (b *PromptBuilder) Build(in PromptInput) []ports.LLMMessage {
	msgs := make([]ports.LLMMessage, 0, b.historyTurns+2)
	msgs = append(msgs, ports.LLMMessage{Role: "system", Content: b.systemPrompt(in)})

	history := in.History
	if len(history) > b.historyTurns {
		history = history[len(history)-b.historyTurns:]
	}
	for _, t := range history {
		if !models.ValidRole(t.Role) {
			continue
		}
		msgs = append(msgs, ports.LLMMessage{Role: string(t.Role), Content: t.Content})
	}

	msgs = append(msgs, ports.LLMMessage{Role: "user", Content: in.UserText})
	return msgs
}

func (b *PromptBuilder) systemPrompt(in PromptInput) string {
	var sb strings.Builder
	sb.WriteString("你是一个有长期记忆的中文陪伴助手。\n")
	if persona, ok := personaByState[in.State]; ok {
		sb.WriteString(persona)
		sb.WriteByte('\n')
	}
	if in.Tone != "" {
		fmt.Fprintf(&sb, "本轮语气：%s。\n", in.Tone)
	}
	if in.Emotion.Primary != "" && in.Emotion.Primary != models.EmotionNeutral {
		fmt.Fprintf(&sb, "用户当前情绪：%s。\n", in.Emotion.Primary)
	}

	if facts := in.Facts; len(facts) > 0 {
		if len(facts) > b.maxFacts {
			facts = facts[:b.maxFacts]
		}
		sb.WriteString("\n已知的事实（来自记忆图谱）：\n")
		for _, f := range facts {
			fmt.Fprintf(&sb, "- %s %s %s\n", factName(f.EntityID, f.EntityName), f.Relation, factName(f.TargetID, f.TargetName))
		}
	}

	if memories := in.Memories; len(memories) > 0 {
		if len(memories) > b.maxMemories {
			memories = memories[:b.maxMemories]
		}
		sb.WriteString("\n相关的过往记忆：\n")
		for _, m := range memories {
			fmt.Fprintf(&sb, "- [%s] %s\n", m.Memory.CreatedAt.Format("2006-01-02"), m.Memory.Content)
		}
	}

	sb.WriteString("\n回复要求：自然、简短、贴合语气；只使用上面给出的事实和记忆，不要编造用户没有说过的事。")
	return sb.String()
}

// factName prefers the display name, falling back to the graph id. The user
// node renders as 用户 so prompts read naturally.
func factName(id, name string) string {
	if id == models.UserEntityID {
		return "用户"
	}
	if name != "" {
		return name
	}
	return id
}
