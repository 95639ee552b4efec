package usecases

import (
	"context"
	"strings"

	"github.com/evermind-ai/evermind/internal/application/services"
	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// QueryEntityFacts resolves anchor entities from free text and walks the
// user's graph around them. It is the read-only face of the graph branch.
type QueryEntityFacts struct {
	retrieval *services.RetrievalService
}

func NewQueryEntityFacts(retrieval *services.RetrievalService) *QueryEntityFacts {
	return &QueryEntityFacts{retrieval: retrieval}
}

func (uc *QueryEntityFacts) Execute(ctx context.Context, input *ports.EntityFactsInput) (*ports.EntityFactsOutput, error) {
	if input == nil || strings.TrimSpace(input.UserID) == "" {
		return nil, domain.NewDomainErrorWithCode(domain.ErrInvalidInput, "user_id is required", domain.CodeInvalidInput)
	}
	if strings.TrimSpace(input.Query) == "" {
		return nil, domain.NewDomainErrorWithCode(domain.ErrEmptyMessage, "query must not be empty", domain.CodeInvalidInput)
	}

	facts, anchors, err := uc.retrieval.EntityFacts(ctx, input.UserID, input.Query, input.MaxHops)
	if err != nil {
		return nil, err
	}
	if facts == nil {
		facts = []models.GraphFact{}
	}
	if anchors == nil {
		anchors = []string{}
	}
	return &ports.EntityFactsOutput{Anchors: anchors, Facts: facts}, nil
}
