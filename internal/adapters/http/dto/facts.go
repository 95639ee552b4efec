package dto

import "github.com/evermind-ai/evermind/internal/domain/models"

// EntityFactsResponse carries the graph traversal results for a free-text
// query: the entity names that anchored the search and the facts reached.
type EntityFactsResponse struct {
	Anchors []string           `json:"anchors" msgpack:"anchors"`
	Facts   []models.GraphFact `json:"facts" msgpack:"facts"`
}
