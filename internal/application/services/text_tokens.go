package services

import (
	"strings"
	"unicode"
)

// Function characters stripped before Chinese runs are taken as topic or
// anchor tokens. Interrogatives are included since questions carry them.
var cnStopChars = map[rune]struct{}{
	'的': {}, '了': {}, '着': {}, '是': {}, '不': {}, '在': {}, '去': {},
	'过': {}, '有': {}, '和': {}, '与': {}, '跟': {}, '都': {}, '很': {},
	'就': {}, '还': {}, '也': {}, '又': {}, '我': {}, '你': {}, '他': {},
	'她': {}, '它': {}, '们': {}, '吗': {}, '呢': {}, '吧': {}, '啊': {},
	'呀': {}, '哦': {}, '嗯': {}, '这': {}, '那': {}, '哪': {}, '谁': {},
	'什': {}, '么': {}, '多': {}, '少': {}, '怎': {}, '样': {}, '为': {},
	'个': {}, '只': {}, '把': {}, '被': {}, '给': {}, '对': {}, '从': {},
	'到': {}, '向': {}, '让': {}, '要': {}, '会': {}, '能': {}, '可': {},
	'以': {}, '没': {}, '再': {}, '最': {}, '更': {}, '太': {}, '真': {},
}

var enStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "his": {}, "has": {}, "had": {}, "how": {},
	"who": {}, "did": {}, "does": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "why": {}, "with": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "from": {}, "have": {}, "been": {}, "were": {}, "they": {},
	"them": {}, "then": {}, "than": {}, "some": {}, "very": {}, "just": {},
	"like": {}, "into": {}, "about": {}, "really": {}, "going": {},
	"went": {}, "want": {}, "dont": {}, "don't": {},
}

// chineseRuns returns maximal Han-character runs of length [minLen, maxLen],
// after dropping stop characters. Longer runs are truncated to maxLen.
func chineseRuns(text string, minLen, maxLen int) []string {
	var runs []string
	var current []rune
	flush := func() {
		if len(current) >= minLen {
			run := current
			if len(run) > maxLen {
				run = run[:maxLen]
			}
			runs = append(runs, string(run))
		}
		current = nil
	}
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			if _, stop := cnStopChars[r]; stop {
				flush()
				continue
			}
			current = append(current, r)
			continue
		}
		flush()
	}
	flush()
	return runs
}

// englishTokens returns lowercase alphabetic tokens of at least minLen
// characters, stopwords removed.
func englishTokens(text string, minLen int) []string {
	var tokens []string
	var current []rune
	flush := func() {
		if len(current) >= minLen {
			token := strings.ToLower(string(current))
			if _, stop := enStopwords[token]; !stop {
				tokens = append(tokens, token)
			}
		}
		current = nil
	}
	for _, r := range text {
		if r < 128 && (unicode.IsLetter(r) || r == '\'') {
			current = append(current, r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// capitalizedTokens returns English words starting with an uppercase letter,
// excluding the pronoun I and stopwords. Used for anchor extraction, where a
// capital usually marks a proper noun.
func capitalizedTokens(text string) []string {
	var tokens []string
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(r < 128 && (unicode.IsLetter(r) || r == '\''))
	})
	for _, w := range words {
		if len(w) < 2 {
			continue
		}
		r := rune(w[0])
		if r < 'A' || r > 'Z' {
			continue
		}
		if _, stop := enStopwords[strings.ToLower(w)]; stop {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// quotedSpans returns the contents of "...", “...”, 「...」, 『...』 and
// 《...》 pairs, the strongest anchor signal a query can carry.
func quotedSpans(text string) []string {
	pairs := []struct{ open, close rune }{
		{'"', '"'}, {'“', '”'}, {'「', '」'}, {'『', '』'}, {'《', '》'},
	}
	var spans []string
	for _, p := range pairs {
		runes := []rune(text)
		for i := 0; i < len(runes); i++ {
			if runes[i] != p.open {
				continue
			}
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == p.close {
					if j > i+1 {
						spans = append(spans, string(runes[i+1:j]))
					}
					i = j
					break
				}
			}
		}
	}
	return spans
}

// tokenOverlapRatio computes |A∩B| / min(|A|,|B|) over two token sets.
func tokenOverlapRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	shared := 0
	seen := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := setA[t]; ok {
			shared++
		}
	}
	smaller := len(setA)
	if len(seen) < smaller {
		smaller = len(seen)
	}
	if smaller == 0 {
		return 0
	}
	return float64(shared) / float64(smaller)
}
