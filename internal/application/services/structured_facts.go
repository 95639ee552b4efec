package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/evermind-ai/evermind/internal/domain/models"
)

// structuredFactConfidence is the score attached to deterministically parsed
// facts. High enough to clear the strict critic threshold.
const structuredFactConfidence = 0.9

var (
	reTimeRangeCN = regexp.MustCompile(`(?:从)?(\d{1,2})月(\d{1,2})[日号]到(\d{1,2})月(\d{1,2})[日号]`)
	reTimeRangeEN = regexp.MustCompile(`from (\d{4}-\d{2}-\d{2}) to (\d{4}-\d{2}-\d{2})`)

	reDateCN  = regexp.MustCompile(`(?:(\d{4})年)?(\d{1,2})月(\d{1,2})[日号]`)
	reDateISO = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	reDaysAgo = regexp.MustCompile(`(\d+)天(前|后)`)

	reDurationCN = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(小时|分钟|秒钟|秒|天|个月|周|星期|年)`)
	reDurationEN = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(hours?|hrs?|minutes?|mins?|seconds?|secs?|days?|weeks?|months?|years?)\b`)

	reMoneyCN   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:元|块钱|块|人民币)`)
	reMoneySign = regexp.MustCompile(`[¥￥]\s*(\d+(?:\.\d+)?)`)
	reDistance  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:公里|千米|km)`)
	rePercent   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[%％]|百分之(\d+(?:\.\d+)?)`)
	reCelsius   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:℃|°C|摄氏度)`)
)

// Relative day words resolved against the observation time. Ordered slices
// keep extraction output deterministic.
var relativeDaysCN = []struct {
	word   string
	offset int
}{
	{"前天", -2}, {"昨天", -1}, {"今天", 0}, {"明天", 1}, {"后天", 2},
}

var relativeDaysEN = []struct {
	word   string
	offset int
}{
	{"yesterday", -1}, {"today", 0}, {"tomorrow", 1},
}

var durationSeconds = map[string]int64{
	"秒": 1, "秒钟": 1, "分钟": 60, "小时": 3600, "天": 86400,
	"周": 604800, "星期": 604800, "个月": 2592000, "年": 31536000,
	"second": 1, "sec": 1, "minute": 60, "min": 60, "hour": 3600,
	"hr": 3600, "day": 86400, "week": 604800, "month": 2592000,
	"year": 31536000,
}

// StructuredFactExtractor turns surface time, duration, and quantity
// mentions into canonical-valued entities plus their anchoring relations.
// Purely lexical; relative dates resolve against observedAt.
type StructuredFactExtractor struct{}

func NewStructuredFactExtractor() *StructuredFactExtractor {
	return &StructuredFactExtractor{}
}

// Extract parses text and returns the synthesized entities and relations.
// anchorID is the node the facts attach to, normally the user or the main
// event entity of the utterance. Matched spans are masked before weaker
// patterns run, so "3天前" never leaks a bogus 3-day duration.
func (x *StructuredFactExtractor) Extract(text, anchorID string, observedAt time.Time) ([]models.IREntity, []models.IRRelation) {
	var entities []models.IREntity
	var relations []models.IRRelation

	addEntity := func(e models.IREntity) {
		for i := range entities {
			if entities[i].ID == e.ID {
				return
			}
		}
		entities = append(entities, e)
	}
	addRelation := func(targetID string, typ models.RelationType) {
		relations = append(relations, models.IRRelation{
			SourceID:   anchorID,
			TargetID:   targetID,
			Type:       typ,
			Confidence: structuredFactConfidence,
		})
	}

	remaining := text

	// Ranges first so the component dates do not match twice.
	remaining = maskMatches(remaining, reTimeRangeCN, func(m []string) {
		start := resolveMonthDay(observedAt, m[1], m[2])
		end := resolveMonthDay(observedAt, m[3], m[4])
		e := timeRangeEntity(m[0], start, end)
		addEntity(e)
		addRelation(e.ID, models.RelationHappenedBetween)
	})
	remaining = maskMatches(remaining, reTimeRangeEN, func(m []string) {
		e := timeRangeEntity(m[0], m[1], m[2])
		addEntity(e)
		addRelation(e.ID, models.RelationHappenedBetween)
	})

	remaining = maskMatches(remaining, reDateCN, func(m []string) {
		year := m[1]
		if year == "" {
			year = strconv.Itoa(observedAt.Year())
		}
		iso := year + "-" + pad2(m[2]) + "-" + pad2(m[3])
		e := timeEntity(m[0], iso)
		addEntity(e)
		addRelation(e.ID, models.RelationHappenedAt)
	})
	remaining = maskMatches(remaining, reDateISO, func(m []string) {
		e := timeEntity(m[0], m[0])
		addEntity(e)
		addRelation(e.ID, models.RelationHappenedAt)
	})
	remaining = maskMatches(remaining, reDaysAgo, func(m []string) {
		n, _ := strconv.Atoi(m[1])
		if m[2] == "前" {
			n = -n
		}
		iso := observedAt.AddDate(0, 0, n).Format("2006-01-02")
		e := timeEntity(m[0], iso)
		addEntity(e)
		addRelation(e.ID, models.RelationHappenedAt)
	})

	for _, rd := range relativeDaysCN {
		if strings.Contains(remaining, rd.word) {
			remaining = strings.ReplaceAll(remaining, rd.word, strings.Repeat(" ", len(rd.word)))
			iso := observedAt.AddDate(0, 0, rd.offset).Format("2006-01-02")
			e := timeEntity(rd.word, iso)
			addEntity(e)
			addRelation(e.ID, models.RelationHappenedAt)
		}
	}
	loweredRemaining := strings.ToLower(remaining)
	for _, rd := range relativeDaysEN {
		if idx := strings.Index(loweredRemaining, rd.word); idx >= 0 {
			remaining = remaining[:idx] + strings.Repeat(" ", len(rd.word)) + remaining[idx+len(rd.word):]
			loweredRemaining = strings.ToLower(remaining)
			iso := observedAt.AddDate(0, 0, rd.offset).Format("2006-01-02")
			e := timeEntity(rd.word, iso)
			addEntity(e)
			addRelation(e.ID, models.RelationHappenedAt)
		}
	}

	remaining = maskMatches(remaining, reDurationCN, func(m []string) {
		secs := durationToSeconds(m[1], m[2])
		if secs <= 0 {
			return
		}
		e := durationEntity(m[0], secs)
		addEntity(e)
		addRelation(e.ID, models.RelationLasted)
	})
	remaining = maskMatches(remaining, reDurationEN, func(m []string) {
		secs := durationToSeconds(m[1], normalizeUnitEN(m[2]))
		if secs <= 0 {
			return
		}
		e := durationEntity(m[0], secs)
		addEntity(e)
		addRelation(e.ID, models.RelationLasted)
	})

	remaining = maskMatches(remaining, reMoneyCN, func(m []string) {
		e := quantityEntity(m[0], m[1], "CNY")
		addEntity(e)
		addRelation(e.ID, models.RelationCost)
	})
	remaining = maskMatches(remaining, reMoneySign, func(m []string) {
		e := quantityEntity(m[0], m[1], "CNY")
		addEntity(e)
		addRelation(e.ID, models.RelationCost)
	})
	remaining = maskMatches(remaining, reDistance, func(m []string) {
		e := quantityEntity(m[0], m[1], "km")
		addEntity(e)
		addRelation(e.ID, models.RelationRelatedTo)
	})
	remaining = maskMatches(remaining, rePercent, func(m []string) {
		v := m[1]
		if v == "" {
			v = m[2]
		}
		e := quantityEntity(m[0], v, "%")
		addEntity(e)
		addRelation(e.ID, models.RelationRelatedTo)
	})
	_ = maskMatches(remaining, reCelsius, func(m []string) {
		e := quantityEntity(m[0], m[1], "°C")
		addEntity(e)
		addRelation(e.ID, models.RelationRelatedTo)
	})

	return entities, relations
}

// maskMatches invokes fn for each match and blanks the matched spans so
// later, weaker patterns cannot re-match inside them.
func maskMatches(text string, re *regexp.Regexp, fn func(m []string)) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text
	}
	out := []byte(text)
	for _, loc := range matches {
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = text[loc[2*i]:loc[2*i+1]]
			}
		}
		fn(groups)
		for i := loc[0]; i < loc[1]; i++ {
			out[i] = ' '
		}
	}
	return string(out)
}

func timeEntity(literal, iso string) models.IREntity {
	return models.IREntity{
		ID:         models.PrefixedEntityID("time", iso),
		Name:       literal,
		Type:       models.EntityTypeTimeExpression,
		Confidence: structuredFactConfidence,
		Attributes: map[string]any{"start": iso, "precision": "day"},
	}
}

func timeRangeEntity(literal, startISO, endISO string) models.IREntity {
	return models.IREntity{
		ID:         models.PrefixedEntityID("timerange", startISO+" "+endISO),
		Name:       literal,
		Type:       models.EntityTypeTimeExpression,
		Confidence: structuredFactConfidence,
		Attributes: map[string]any{"start": startISO, "end": endISO, "precision": "day"},
	}
}

func durationEntity(literal string, seconds int64) models.IREntity {
	return models.IREntity{
		ID:         models.PrefixedEntityID("duration", strconv.FormatInt(seconds, 10)+"s"),
		Name:       literal,
		Type:       models.EntityTypeDuration,
		Confidence: structuredFactConfidence,
		Attributes: map[string]any{"seconds": seconds},
	}
}

func quantityEntity(literal, value, unit string) models.IREntity {
	v, _ := strconv.ParseFloat(value, 64)
	idUnit := unit
	switch unit {
	case "%":
		idUnit = "pct"
	case "°C":
		idUnit = "c"
	}
	return models.IREntity{
		ID:         models.PrefixedEntityID("quantity", value+" "+idUnit),
		Name:       literal,
		Type:       models.EntityTypeQuantity,
		Confidence: structuredFactConfidence,
		Attributes: map[string]any{"value": v, "unit": unit},
	}
}

func durationToSeconds(value, unit string) int64 {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	per, ok := durationSeconds[unit]
	if !ok {
		return 0
	}
	return int64(v * float64(per))
}

// normalizeUnitEN strips plural/abbrev variance down to the table key.
func normalizeUnitEN(unit string) string {
	u := strings.ToLower(strings.TrimSuffix(unit, "s"))
	return u
}

func resolveMonthDay(observedAt time.Time, month, day string) string {
	return strconv.Itoa(observedAt.Year()) + "-" + pad2(month) + "-" + pad2(day)
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
