package id

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) generate(prefix string) string {
	id, err := gonanoid.New(21)
	if err != nil {
		return prefix + "_fallback"
	}
	return prefix + "_" + id
}

// Session, turn and memory ids are UUIDs so they can double as vector
// store keys and foreign keys without translation.

func (g *Generator) GenerateSessionID() string {
	return uuid.NewString()
}

func (g *Generator) GenerateTurnID() string {
	return uuid.NewString()
}

func (g *Generator) GenerateMemoryID() string {
	return uuid.NewString()
}

func (g *Generator) GenerateEventID() string {
	return g.generate("evt")
}

func (g *Generator) GenerateConflictID() string {
	return g.generate("cfl")
}

func (g *Generator) GenerateAffinityID() string {
	return g.generate("aff")
}

func (g *Generator) GenerateRequestID() string {
	return g.generate("req")
}
