package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// DefaultOracleTimeout bounds the extraction call. The turn path cannot
// afford to wait on a slow oracle; rule output alone is an acceptable floor.
const DefaultOracleTimeout = 800 * time.Millisecond

const extractionSystemPrompt = `You are an information extraction engine. Extract entities and relations from the user message as JSON.

Entity types: Person, Location, Organization, Event, Preference, TimeExpression, Duration, Quantity, Other.
Relation types: FAMILY, PARENT_OF, CHILD_OF, SIBLING_OF, COUSIN_OF, FRIEND_OF, COLLEAGUE_OF, CLASSMATE_OF, FROM, LIVES_IN, WORKS_AT, LIKES, DISLIKES, HAPPENED_AT, HAPPENED_BETWEEN, LASTED, COST, IS, RESEARCHED, SHARES, PLANS_TO, RELATED_TO.

The speaker is always the entity with id "user". Respond with ONLY a JSON object:
{"entities":[{"id":"snake_case_slug","name":"surface form","type":"Person","confidence":0.8}],"relations":[{"source_id":"user","target_id":"slug","type":"LIKES","confidence":0.8}],"overall_confidence":0.8}

No prose, no markdown fences.`

// oracleIR matches the JSON the extraction prompt requests. Types arrive as
// free strings and are normalized into the closed vocabularies afterwards.
type oracleIR struct {
	Entities []struct {
		ID         string  `json:"id"`
		Name       string  `json:"name"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	} `json:"entities"`
	Relations []struct {
		SourceID   string  `json:"source_id"`
		TargetID   string  `json:"target_id"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
		Desc       string  `json:"desc"`
	} `json:"relations"`
	OverallConfidence float64 `json:"overall_confidence"`
}

// OracleExtractor asks the generation oracle for IR. Any failure, timeout,
// or unparseable answer degrades to a nil IR; the caller continues rule-only.
type OracleExtractor struct {
	llm     ports.LLMService
	timeout time.Duration
}

func NewOracleExtractor(llm ports.LLMService, timeout time.Duration) *OracleExtractor {
	if timeout <= 0 {
		timeout = DefaultOracleTimeout
	}
	return &OracleExtractor{llm: llm, timeout: timeout}
}

func (x *OracleExtractor) Extract(ctx context.Context, text string, observedAt time.Time) (*models.IR, error) {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	resp, err := x.llm.Generate(ctx, []ports.LLMMessage{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: text},
	}, &ports.GenerateOptions{
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle extraction failed: %w", err)
	}

	raw, err := extractJSONObject(resp.Content)
	if err != nil {
		return nil, err
	}

	var parsed oracleIR
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("oracle IR malformed: %w", err)
	}

	ir := &models.IR{
		Metadata: models.IRMetadata{
			Source:    models.IRSourceOracle,
			Timestamp: observedAt,
		},
	}

	maxConf := 0.0
	for _, e := range parsed.Entities {
		id := e.ID
		if id == "" {
			id = models.CanonicalEntityID(e.Name)
		}
		if id == "" {
			continue
		}
		conf := e.Confidence
		if conf <= 0 {
			conf = 0.6
		}
		ir.Entities = append(ir.Entities, models.IREntity{
			ID:         id,
			Name:       e.Name,
			Type:       normalizeEntityType(e.Type),
			Confidence: conf,
			IsUser:     id == models.UserEntityID,
		})
	}
	for _, r := range parsed.Relations {
		if r.SourceID == "" || r.TargetID == "" {
			continue
		}
		conf := r.Confidence
		if conf <= 0 {
			conf = 0.6
		}
		if conf > maxConf {
			maxConf = conf
		}
		ir.Relations = append(ir.Relations, models.IRRelation{
			SourceID:   r.SourceID,
			TargetID:   r.TargetID,
			Type:       normalizeRelationType(r.Type),
			Confidence: conf,
			Desc:       r.Desc,
		})
	}

	ir.Metadata.OverallConfidence = parsed.OverallConfidence
	if ir.Metadata.OverallConfidence <= 0 {
		ir.Metadata.OverallConfidence = maxConf
	}
	if ir.Metadata.OverallConfidence <= 0 && len(ir.Entities) > 0 {
		log.Printf("warning: extraction: oracle returned entities without confidence")
	}
	return ir, nil
}

// extractJSONObject cuts the outermost {...} out of a possibly chatty
// completion. Models occasionally wrap the object in fences or preamble
// despite the prompt.
func extractJSONObject(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in oracle response")
	}
	return s[start : end+1], nil
}

// normalizeEntityType maps free-form oracle type strings into the closed
// vocabulary. Unknown strings become Other rather than being dropped here;
// the critic owns rejection.
func normalizeEntityType(t string) models.EntityType {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "person", "people", "human", "人物":
		return models.EntityTypePerson
	case "location", "place", "city", "country", "地点":
		return models.EntityTypeLocation
	case "organization", "org", "company", "school", "机构":
		return models.EntityTypeOrganization
	case "event", "activity", "事件":
		return models.EntityTypeEvent
	case "preference", "hobby", "interest", "food", "drink", "偏好":
		return models.EntityTypePreference
	case "timeexpression", "time", "date", "时间":
		return models.EntityTypeTimeExpression
	case "duration", "时长":
		return models.EntityTypeDuration
	case "quantity", "amount", "money", "数量":
		return models.EntityTypeQuantity
	default:
		return models.EntityTypeOther
	}
}

// normalizeRelationType maps open relation strings into the closed
// vocabulary; unmappable types fall through unchanged so the critic counts
// them as bad_type.
func normalizeRelationType(t string) models.RelationType {
	cleaned := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(t), " ", "_"))
	if models.ValidRelationType(models.RelationType(cleaned)) {
		return models.RelationType(cleaned)
	}
	switch cleaned {
	case "LIKE", "LOVES", "LOVE", "ENJOYS":
		return models.RelationLikes
	case "DISLIKE", "HATES", "HATE":
		return models.RelationDislikes
	case "FRIEND", "FRIENDS", "FRIENDS_WITH":
		return models.RelationFriendOf
	case "COWORKER", "COWORKER_OF", "COLLEAGUE", "WORKS_WITH":
		return models.RelationColleagueOf
	case "PARENT", "FATHER_OF", "MOTHER_OF":
		return models.RelationParentOf
	case "CHILD", "SON_OF", "DAUGHTER_OF":
		return models.RelationChildOf
	case "SIBLING", "BROTHER_OF", "SISTER_OF":
		return models.RelationSiblingOf
	case "LIVE_IN", "LIVES_AT", "RESIDES_IN":
		return models.RelationLivesIn
	case "WORK_AT", "WORKS_FOR", "EMPLOYED_BY":
		return models.RelationWorksAt
	case "VISITED", "WENT_TO", "TRAVELED_TO":
		return models.RelationRelatedTo
	case "HOMETOWN", "COMES_FROM", "BORN_IN":
		return models.RelationFrom
	default:
		return models.RelationType(cleaned)
	}
}
