package models

// Emotion is the cheap per-turn tag computed from keyword heuristics. It
// feeds affinity updates and tone selection, never the stores directly.
type Emotion struct {
	Primary    string  `json:"primary_emotion" msgpack:"primary_emotion"`
	Valence    float64 `json:"valence" msgpack:"valence"`
	Confidence float64 `json:"confidence" msgpack:"confidence"`
}

// The fixed label set for Emotion.Primary.
const (
	EmotionNeutral = "neutral"
	EmotionHappy   = "happy"
	EmotionSad     = "sad"
	EmotionAngry   = "angry"
	EmotionAnxious = "anxious"
	EmotionExcited = "excited"
	EmotionTired   = "tired"
)

func NeutralEmotion() Emotion {
	return Emotion{Primary: EmotionNeutral, Valence: 0, Confidence: 0.5}
}
