package services

import (
	"strings"

	"github.com/evermind-ai/evermind/internal/domain/models"
)

// emotionKeyword maps a surface form to the label and valence it signals.
// Lookup is substring-based so Chinese phrases match without segmentation.
type emotionKeyword struct {
	label   string
	valence float64
}

var emotionKeywords = map[string]emotionKeyword{
	// positive
	"开心":        {models.EmotionHappy, 0.7},
	"高兴":        {models.EmotionHappy, 0.7},
	"快乐":        {models.EmotionHappy, 0.7},
	"喜欢":        {models.EmotionHappy, 0.5},
	"太好了":       {models.EmotionExcited, 0.8},
	"激动":        {models.EmotionExcited, 0.8},
	"期待":        {models.EmotionExcited, 0.6},
	"爱":         {models.EmotionHappy, 0.6},
	"happy":     {models.EmotionHappy, 0.7},
	"glad":      {models.EmotionHappy, 0.6},
	"great":     {models.EmotionHappy, 0.5},
	"love":      {models.EmotionHappy, 0.6},
	"excited":   {models.EmotionExcited, 0.8},
	"awesome":   {models.EmotionExcited, 0.7},
	"wonderful": {models.EmotionHappy, 0.7},

	// negative
	"难过":      {models.EmotionSad, -0.7},
	"伤心":      {models.EmotionSad, -0.7},
	"哭":       {models.EmotionSad, -0.6},
	"讨厌":      {models.EmotionAngry, -0.6},
	"生气":      {models.EmotionAngry, -0.7},
	"烦":       {models.EmotionAngry, -0.5},
	"气死":      {models.EmotionAngry, -0.8},
	"担心":      {models.EmotionAnxious, -0.5},
	"焦虑":      {models.EmotionAnxious, -0.6},
	"紧张":      {models.EmotionAnxious, -0.4},
	"害怕":      {models.EmotionAnxious, -0.6},
	"累":       {models.EmotionTired, -0.4},
	"疲惫":      {models.EmotionTired, -0.5},
	"困":       {models.EmotionTired, -0.3},
	"sad":     {models.EmotionSad, -0.7},
	"upset":   {models.EmotionSad, -0.6},
	"cry":     {models.EmotionSad, -0.6},
	"angry":   {models.EmotionAngry, -0.7},
	"hate":    {models.EmotionAngry, -0.6},
	"annoyed": {models.EmotionAngry, -0.5},
	"worried": {models.EmotionAnxious, -0.5},
	"anxious": {models.EmotionAnxious, -0.6},
	"nervous": {models.EmotionAnxious, -0.4},
	"scared":  {models.EmotionAnxious, -0.6},
	"tired":   {models.EmotionTired, -0.4},
	"晒":       {models.EmotionHappy, 0.3},
}

// questionWords are interrogative markers checked after punctuation. English
// entries match as whole leading words; Chinese as substrings.
var questionWordsEN = []string{
	"who ", "what ", "when ", "where ", "which ", "why ", "how ",
	"do ", "does ", "did ", "is ", "are ", "was ", "were ",
	"can ", "could ", "will ", "would ", "should ", "shall ",
}

var questionWordsCN = []string{
	"谁", "什么", "哪", "几", "多少", "为什么", "怎么", "怎样",
	"吗", "呢", "是不是", "有没有", "能不能", "好不好",
}

// EmotionService tags each turn with a cheap keyword-derived valence and
// primary label. It sees only the raw text; nothing here calls an oracle.
type EmotionService struct{}

func NewEmotionService() *EmotionService {
	return &EmotionService{}
}

// Analyze scans the text for emotion keywords. The strongest match wins the
// primary label; valence is the signed mean over all matches, clamped to
// [-1, 1]. No match returns the neutral tag.
func (s *EmotionService) Analyze(text string) models.Emotion {
	lowered := strings.ToLower(text)

	var sum float64
	var count int
	best := emotionKeyword{label: models.EmotionNeutral}
	for kw, e := range emotionKeywords {
		if !strings.Contains(lowered, kw) {
			continue
		}
		sum += e.valence
		count++
		if abs(e.valence) > abs(best.valence) {
			best = e
		}
	}
	if count == 0 {
		return models.NeutralEmotion()
	}

	valence := sum / float64(count)
	if valence > 1 {
		valence = 1
	}
	if valence < -1 {
		valence = -1
	}

	confidence := 0.5 + 0.1*float64(count)
	if confidence > 0.9 {
		confidence = 0.9
	}

	return models.Emotion{
		Primary:    best.label,
		Valence:    valence,
		Confidence: confidence,
	}
}

// IsQuestion classifies by terminal punctuation first, then by the
// wh-lexicon. Questions are read-only turns: they never extract facts and
// never touch the graph.
func (s *EmotionService) IsQuestion(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, "?") || strings.HasSuffix(trimmed, "？") {
		return true
	}

	lowered := strings.ToLower(trimmed) + " "
	for _, w := range questionWordsEN {
		if strings.HasPrefix(lowered, w) {
			return true
		}
	}
	for _, w := range questionWordsCN {
		if strings.Contains(trimmed, w) {
			return true
		}
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
