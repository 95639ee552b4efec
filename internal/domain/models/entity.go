package models

import (
	"strings"
	"time"
	"unicode"
)

type EntityType string

const (
	EntityTypePerson         EntityType = "Person"
	EntityTypeLocation       EntityType = "Location"
	EntityTypeOrganization   EntityType = "Organization"
	EntityTypeEvent          EntityType = "Event"
	EntityTypePreference     EntityType = "Preference"
	EntityTypeTimeExpression EntityType = "TimeExpression"
	EntityTypeDuration       EntityType = "Duration"
	EntityTypeQuantity       EntityType = "Quantity"
	EntityTypeOther          EntityType = "Other"
)

// UserEntityID is the distinguished graph node representing the user.
const UserEntityID = "user"

var allowedEntityTypes = map[EntityType]struct{}{
	EntityTypePerson:         {},
	EntityTypeLocation:       {},
	EntityTypeOrganization:   {},
	EntityTypeEvent:          {},
	EntityTypePreference:     {},
	EntityTypeTimeExpression: {},
	EntityTypeDuration:       {},
	EntityTypeQuantity:       {},
	EntityTypeOther:          {},
}

func ValidEntityType(t EntityType) bool {
	_, ok := allowedEntityTypes[t]
	return ok
}

// Entity is a typed graph node scoped by user. Entities are created on first
// mention and never destroyed; only edges decay.
type Entity struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	Name             string         `json:"name"`
	Type             EntityType     `json:"type"`
	MentionCount     int            `json:"mention_count"`
	Attributes       map[string]any `json:"attributes,omitempty"`
	FirstMentionedAt time.Time      `json:"first_mentioned_at"`
	LastMentionedAt  time.Time      `json:"last_mentioned_at"`
}

func NewEntity(userID, name string, entityType EntityType) *Entity {
	now := time.Now()
	return &Entity{
		ID:               CanonicalEntityID(name),
		UserID:           userID,
		Name:             name,
		Type:             entityType,
		MentionCount:     1,
		Attributes:       make(map[string]any),
		FirstMentionedAt: now,
		LastMentionedAt:  now,
	}
}

// UserEntity returns the distinguished "user" node for a user scope.
func UserEntity(userID string) *Entity {
	e := NewEntity(userID, "user", EntityTypePerson)
	e.ID = UserEntityID
	return e
}

func (e *Entity) IsUser() bool {
	return e.ID == UserEntityID
}

// CanonicalEntityID derives the deterministic slug used as the graph key:
// lowercase, punctuation stripped, whitespace runs collapsed to "_".
// CJK runs survive unchanged so Chinese names stay exact keys.
func CanonicalEntityID(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsSpace(r):
			pendingSep = b.Len() > 0
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep {
				b.WriteByte('_')
				pendingSep = false
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			// punctuation is dropped
		}
	}
	return b.String()
}

// PrefixedEntityID is used by the structured-fact extractors, which key
// synthesized entities by kind so that "3 days" the duration never collides
// with "3 days" the event name.
func PrefixedEntityID(prefix, name string) string {
	return prefix + "_" + CanonicalEntityID(name)
}
