package services

import (
	"regexp"
	"strings"
	"time"

	"github.com/evermind-ai/evermind/internal/domain/models"
)

// ruleConfidence is deliberately between the default and strict critic
// thresholds: rule hits clear normal traffic but need oracle corroboration
// under strict evaluation.
const ruleConfidence = 0.55

// rulePattern binds a regexp to a relation emitter. Object group indexes are
// 1-based regexp groups.
type rulePattern struct {
	re      *regexp.Regexp
	relType models.RelationType
	objType models.EntityType
	objGrp  int
}

// cnWhen is the closed set of time adverbs tolerated between 我 and the
// verb, so "我昨天搬到了沈阳" extracts the same as "我搬到了沈阳". A generic
// wildcard would swallow other subjects ("我朋友搬到…"), so the set stays
// closed.
const cnWhen = `(?:昨天|今天|前天|上周|上个月|最近|刚刚|刚)?`

// Negated forms are listed ahead of their positive counterparts so
// "我不喜欢..." never emits LIKES.
var rulePatternsCN = []rulePattern{
	{regexp.MustCompile(`我(?:现在)?不喜欢(?:喝|吃|看|玩)?([\p{Han}A-Za-z0-9]{1,12})`), models.RelationDislikes, models.EntityTypePreference, 1},
	{regexp.MustCompile(`我讨厌([\p{Han}A-Za-z0-9]{1,12})`), models.RelationDislikes, models.EntityTypePreference, 1},
	{regexp.MustCompile(`我(?:很|特别|非常|最)?喜欢(?:喝|吃|看|玩)?([\p{Han}A-Za-z0-9]{1,12})`), models.RelationLikes, models.EntityTypePreference, 1},
	{regexp.MustCompile(`我(?:很|特别|非常|最)?爱(?:喝|吃|看|玩)([\p{Han}A-Za-z0-9]{1,12})`), models.RelationLikes, models.EntityTypePreference, 1},
	{regexp.MustCompile(`我(?:现在)?` + cnWhen + `住在([\p{Han}A-Za-z0-9]{1,12})`), models.RelationLivesIn, models.EntityTypeLocation, 1},
	{regexp.MustCompile(`我` + cnWhen + `搬到(?:了)?([\p{Han}A-Za-z0-9]{1,12})`), models.RelationLivesIn, models.EntityTypeLocation, 1},
	{regexp.MustCompile(`我来自([\p{Han}A-Za-z0-9]{1,12})`), models.RelationFrom, models.EntityTypeLocation, 1},
	{regexp.MustCompile(`我(?:的)?老家(?:在|是)([\p{Han}A-Za-z0-9]{1,12})`), models.RelationFrom, models.EntityTypeLocation, 1},
	{regexp.MustCompile(`我是([\p{Han}]{2,8})人`), models.RelationFrom, models.EntityTypeLocation, 1},
	{regexp.MustCompile(`我(?:的)?(?:儿子|女儿)(?:叫|是)([\p{Han}A-Za-z0-9]{1,8})`), models.RelationParentOf, models.EntityTypePerson, 1},
	{regexp.MustCompile(`我(?:的)?朋友(?:叫|是)([\p{Han}A-Za-z0-9]{1,8})`), models.RelationFriendOf, models.EntityTypePerson, 1},
	{regexp.MustCompile(`我和([\p{Han}A-Za-z0-9]{1,8})是朋友`), models.RelationFriendOf, models.EntityTypePerson, 1},
	{regexp.MustCompile(`我(?:的)?同事(?:叫|是)([\p{Han}A-Za-z0-9]{1,8})`), models.RelationColleagueOf, models.EntityTypePerson, 1},
	{regexp.MustCompile(`我在([\p{Han}A-Za-z0-9]{1,12})(?:工作|上班)`), models.RelationWorksAt, models.EntityTypeOrganization, 1},
}

var rulePatternsEN = []rulePattern{
	{regexp.MustCompile(`(?i)\bI (?:don't|do not|dont) like ([a-z0-9' ]{2,24})`), models.RelationDislikes, models.EntityTypePreference, 1},
	{regexp.MustCompile(`(?i)\bI hate ([a-z0-9' ]{2,24})`), models.RelationDislikes, models.EntityTypePreference, 1},
	{regexp.MustCompile(`(?i)\bI (?:really )?(?:like|love|enjoy) ([a-z0-9' ]{2,24})`), models.RelationLikes, models.EntityTypePreference, 1},
	{regexp.MustCompile(`(?i)\bI live in ([a-z0-9' ]{2,24})`), models.RelationLivesIn, models.EntityTypeLocation, 1},
	{regexp.MustCompile(`(?i)\bI moved to ([a-z0-9' ]{2,24})`), models.RelationLivesIn, models.EntityTypeLocation, 1},
	{regexp.MustCompile(`(?i)\bI (?:am|'m) from ([a-z0-9' ]{2,24})`), models.RelationFrom, models.EntityTypeLocation, 1},
	{regexp.MustCompile(`(?i)\bI come from ([a-z0-9' ]{2,24})`), models.RelationFrom, models.EntityTypeLocation, 1},
	{regexp.MustCompile(`(?i)\bmy (?:son|daughter) is (?:called |named )?([a-z0-9']{2,16})`), models.RelationParentOf, models.EntityTypePerson, 1},
	{regexp.MustCompile(`(?i)\bmy friend ([a-z0-9']{2,16})`), models.RelationFriendOf, models.EntityTypePerson, 1},
	{regexp.MustCompile(`(?i)\b([a-z0-9']{2,16}) is my friend`), models.RelationFriendOf, models.EntityTypePerson, 1},
	{regexp.MustCompile(`(?i)\bmy (?:coworker|colleague) ([a-z0-9']{2,16})`), models.RelationColleagueOf, models.EntityTypePerson, 1},
	{regexp.MustCompile(`(?i)\bI work (?:at|for) ([a-z0-9' ]{2,24})`), models.RelationWorksAt, models.EntityTypeOrganization, 1},
}

// Simple subject-verb-object travel/activity forms. The companion group, if
// present, becomes a Person with FRIEND_OF; the destination/object becomes
// RELATED_TO.
var (
	reTravelCN   = regexp.MustCompile(`我(?:和([\p{Han}A-Za-z0-9]{1,8}))?(?:一起)?去(?:过|了)?([\p{Han}A-Za-z0-9]{1,12}?)(?:旅游|旅行|玩|出差)`)
	reTravelEN   = regexp.MustCompile(`(?i)\bI went to ([a-z0-9' ]{2,24})`)
	reActivityEN = regexp.MustCompile(`(?i)\bI (?:ran|painted|watched|visited|bought) ([a-z0-9' ]{2,24})`)
)

// Trailing particles and punctuation stripped from captured objects.
var objectTrim = strings.NewReplacer(
	"了", "", "的", "", "。", "", "，", "", "！", "", "？", "",
	".", "", ",", "", "!", "", "?", "",
)

// RuleExtractor produces IR from locale-aware surface patterns, no oracle
// involved. It is the floor extraction quality the system degrades to when
// the oracle is down.
type RuleExtractor struct{}

func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{}
}

func (x *RuleExtractor) Extract(text string, observedAt time.Time) *models.IR {
	ir := &models.IR{
		Metadata: models.IRMetadata{
			Source:    models.IRSourceRules,
			Timestamp: observedAt,
		},
	}

	addEntity := func(name string, typ models.EntityType) string {
		id := models.CanonicalEntityID(name)
		if id == "" {
			return ""
		}
		if !ir.HasEntity(id) {
			ir.Entities = append(ir.Entities, models.IREntity{
				ID:         id,
				Name:       name,
				Type:       typ,
				Confidence: ruleConfidence,
			})
		}
		return id
	}
	addRelation := func(targetID string, typ models.RelationType) {
		if targetID == "" {
			return
		}
		ir.Relations = append(ir.Relations, models.IRRelation{
			SourceID:   models.UserEntityID,
			TargetID:   targetID,
			Type:       typ,
			Confidence: ruleConfidence,
		})
	}

	// Travel SVO runs first: its captures are the most structured and the
	// generic preference patterns would otherwise eat the sentence.
	consumed := text
	if m := reTravelCN.FindStringSubmatch(consumed); m != nil {
		if companion := cleanObject(m[1]); companion != "" {
			addRelation(addEntity(companion, models.EntityTypePerson), models.RelationFriendOf)
		}
		if place := cleanObject(m[2]); place != "" {
			addRelation(addEntity(place, models.EntityTypeLocation), models.RelationRelatedTo)
		}
		consumed = strings.Replace(consumed, m[0], " ", 1)
	}
	if m := reTravelEN.FindStringSubmatch(consumed); m != nil {
		if place := cleanObject(m[1]); place != "" {
			addRelation(addEntity(place, models.EntityTypeLocation), models.RelationRelatedTo)
		}
		consumed = strings.Replace(consumed, m[0], " ", 1)
	}
	if m := reActivityEN.FindStringSubmatch(consumed); m != nil {
		if obj := cleanObject(m[1]); obj != "" {
			addRelation(addEntity(obj, models.EntityTypeOther), models.RelationRelatedTo)
		}
		consumed = strings.Replace(consumed, m[0], " ", 1)
	}

	for _, p := range rulePatternsCN {
		m := p.re.FindStringSubmatch(consumed)
		if m == nil {
			continue
		}
		if obj := cleanObject(m[p.objGrp]); obj != "" {
			addRelation(addEntity(obj, p.objType), p.relType)
		}
		consumed = strings.Replace(consumed, m[0], " ", 1)
	}
	for _, p := range rulePatternsEN {
		m := p.re.FindStringSubmatch(consumed)
		if m == nil {
			continue
		}
		if obj := cleanObject(m[p.objGrp]); obj != "" {
			addRelation(addEntity(obj, p.objType), p.relType)
		}
		consumed = strings.Replace(consumed, m[0], " ", 1)
	}

	if len(ir.Relations) > 0 {
		ir.Metadata.OverallConfidence = ruleConfidence
	}
	return ir
}

func cleanObject(s string) string {
	s = objectTrim.Replace(s)
	return strings.TrimSpace(s)
}
