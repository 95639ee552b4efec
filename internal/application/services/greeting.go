package services

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// Message classes served from the template cache instead of the generator.
const (
	ClassGreeting = "greeting"
	ClassAck      = "ack"
	ClassFarewell = "farewell"
)

// greetingMaxChars bounds the short-circuit: longer texts always carry
// enough content to deserve retrieval and a generated reply.
const greetingMaxChars = 20

var classPatterns = []struct {
	class   string
	pattern *regexp.Regexp
}{
	{ClassGreeting, regexp.MustCompile(`^(你好|您好|哈喽|嗨|早上好|中午好|下午好|晚上好|早安|hi|hello|hey|good (morning|afternoon|evening)|yo)[呀啊哦!！~。.\s]*$`)},
	{ClassFarewell, regexp.MustCompile(`^(再见|拜拜|晚安|回头见|下次聊|bye|goodbye|good ?night|see (you|ya)|cya)[呀啊哦!！~。.\s]*$`)},
	{ClassAck, regexp.MustCompile(`^(好的|好吧|好|嗯+|哦+|知道了|收到|明白|谢谢|多谢|ok|okay|sure|got it|thanks|thank you|thx)[呀啊哦!！~。.\s]*$`)},
}

// defaultTemplates is the built-in fallback keyed by class then affinity
// state. The cache may hold operator-tuned overrides; these seed it.
var defaultTemplates = map[string]map[models.AffinityState]string{
	ClassGreeting: {
		models.AffinityStranger:     "你好，有什么想聊的吗",
		models.AffinityAcquaintance: "你好呀，今天过得怎么样",
		models.AffinityFriend:       "嗨，又见面啦",
		models.AffinityCloseFriend:  "来啦！正想你什么时候出现呢",
		models.AffinityBestFriend:   "哈哈你可算来了，想死你了",
	},
	ClassAck: {
		models.AffinityStranger:     "好的",
		models.AffinityAcquaintance: "好的，收到",
		models.AffinityFriend:       "嗯嗯，明白",
		models.AffinityCloseFriend:  "好嘞，交给我",
		models.AffinityBestFriend:   "安排上了！",
	},
	ClassFarewell: {
		models.AffinityStranger:     "再见",
		models.AffinityAcquaintance: "再见，祝你今天顺利",
		models.AffinityFriend:       "拜拜，下次聊",
		models.AffinityCloseFriend:  "晚安，好梦",
		models.AffinityBestFriend:   "拜拜啦，记得想我",
	},
}

// GreetingService answers trivially short social messages from a template
// keyed by (class, affinity state), skipping retrieval and generation
// entirely. Template hits never touch the graph.
type GreetingService struct {
	cache ports.TemplateCache
	ttl   time.Duration
}

func NewGreetingService(cache ports.TemplateCache, ttl time.Duration) *GreetingService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &GreetingService{cache: cache, ttl: ttl}
}

// Classify reports the message class when text falls in the closed
// greeting/ack/farewell set and is at most 20 characters.
func (s *GreetingService) Classify(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > greetingMaxChars {
		return "", false
	}
	lowered := lowerASCII(text)
	for _, cp := range classPatterns {
		if cp.pattern.MatchString(lowered) {
			return cp.class, true
		}
	}
	return "", false
}

// Reply returns the template for (class, state), consulting the cache first
// and seeding it with the built-in default on a miss.
func (s *GreetingService) Reply(ctx context.Context, class string, state models.AffinityState) string {
	if s.cache != nil {
		if text, ok := s.cache.Get(ctx, class, state); ok {
			return text
		}
	}

	text := defaultTemplates[class][state]
	if text == "" {
		text = defaultTemplates[ClassGreeting][models.AffinityStranger]
	}
	if s.cache != nil {
		s.cache.Set(ctx, class, state, text, s.ttl)
	}
	return text
}

// lowerASCII lowers A-Z only, leaving multi-byte runes untouched so Chinese
// patterns match byte-exact.
func lowerASCII(s string) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}
