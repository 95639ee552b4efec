package postgres

import (
	"context"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evermind-ai/evermind/internal/domain"
	"github.com/evermind-ai/evermind/internal/domain/models"
)

const maxExpansionsPerHop = 50

// GraphStore keeps the entity graph in two relational tables and runs the
// bounded traversal hop by hop in Go. Edge weights decay exponentially;
// reads compute the decayed weight on the fly, while ApplyDecay rewrites
// stored weights in bulk so they do not drift too far from the read view.
type GraphStore struct {
	BaseRepository
}

func NewGraphStore(pool *pgxpool.Pool) *GraphStore {
	return &GraphStore{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (g *GraphStore) MergeEntity(ctx context.Context, entity *models.Entity) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	attributes, err := marshalMetadata(entity.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO evermind_graph_entities (
			user_id, id, name, type, mention_count, attributes,
			first_mentioned_at, last_mentioned_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (user_id, id) DO UPDATE
		SET mention_count = evermind_graph_entities.mention_count + 1,
			last_mentioned_at = EXCLUDED.last_mentioned_at,
			attributes = COALESCE(EXCLUDED.attributes, evermind_graph_entities.attributes)`

	_, err = g.conn(ctx).Exec(ctx, query,
		entity.UserID,
		entity.ID,
		entity.Name,
		string(entity.Type),
		entity.MentionCount,
		attributes,
		entity.FirstMentionedAt,
		entity.LastMentionedAt,
	)

	return err
}

// MergeRelation upserts an edge. On re-observation the weight is bumped by
// the new observation's weight (capped at 1.0), the decay clock resets, and
// the provenance list gains the new memory id.
func (g *GraphStore) MergeRelation(ctx context.Context, relation *models.Relation) error {
	if relation.IsSelfLoop() {
		return domain.ErrSelfLoop
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	provenance, err := marshalStringSlice(relation.Provenance)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO evermind_graph_edges (
			user_id, source_id, target_id, relation_type, weight, decay_rate,
			confidence, provenance, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (user_id, source_id, target_id, relation_type) DO UPDATE
		SET weight = LEAST(1.0, evermind_graph_edges.weight + EXCLUDED.weight),
			confidence = GREATEST(evermind_graph_edges.confidence, EXCLUDED.confidence),
			provenance = (
				SELECT jsonb_agg(DISTINCT elem)
				FROM jsonb_array_elements(
					COALESCE(evermind_graph_edges.provenance, '[]'::jsonb) || EXCLUDED.provenance
				) AS elem
			),
			updated_at = EXCLUDED.updated_at`

	_, err = g.conn(ctx).Exec(ctx, query,
		relation.UserID,
		relation.SourceID,
		relation.TargetID,
		string(relation.Type),
		relation.Weight,
		relation.DecayRate,
		relation.Confidence,
		provenance,
		relation.CreatedAt,
		relation.UpdatedAt,
	)

	return err
}

func (g *GraphStore) GetEntity(ctx context.Context, userID, id string) (*models.Entity, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT user_id, id, name, type, mention_count, attributes,
		       first_mentioned_at, last_mentioned_at
		FROM evermind_graph_entities
		WHERE user_id = $1 AND id = $2`

	return g.scanEntity(g.conn(ctx).QueryRow(ctx, query, userID, id))
}

// FindEntities resolves anchor strings to graph nodes. An anchor matches on
// canonical id, exact name, or case-insensitive substring, so both "二丫"
// and "shenyang" find their nodes.
func (g *GraphStore) FindEntities(ctx context.Context, userID string, anchors []string) ([]*models.Entity, error) {
	if len(anchors) == 0 {
		return []*models.Entity{}, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	ids := make([]string, 0, len(anchors))
	patterns := make([]string, 0, len(anchors))
	for _, a := range anchors {
		ids = append(ids, models.CanonicalEntityID(a))
		patterns = append(patterns, "%"+strings.ToLower(a)+"%")
	}

	query := `
		SELECT DISTINCT ON (id)
		       user_id, id, name, type, mention_count, attributes,
		       first_mentioned_at, last_mentioned_at
		FROM evermind_graph_entities
		WHERE user_id = $1
		  AND (id = ANY($2) OR lower(name) LIKE ANY($3))
		ORDER BY id, mention_count DESC`

	rows, err := g.conn(ctx).Query(ctx, query, userID, ids, patterns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities := make([]*models.Entity, 0)
	for rows.Next() {
		e, err := g.scanEntityRow(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}

	return entities, rows.Err()
}

type edgeRow struct {
	sourceID        string
	sourceName      string
	targetID        string
	targetName      string
	relationType    string
	effectiveWeight float64
	provenance      []string
}

// QueryPaths walks outward from the anchors breadth-first, both edge
// directions, at most maxHops hops and maxExpansionsPerHop edges per hop.
// Edges are ranked by decayed weight so the strongest facts win the
// per-hop budget. The weight reported for a fact at hop n is the decayed
// weight of its final edge.
func (g *GraphStore) QueryPaths(ctx context.Context, userID string, anchors []string, maxHops int) ([]models.GraphFact, error) {
	if len(anchors) == 0 || maxHops <= 0 {
		return []models.GraphFact{}, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	visited := make(map[string]bool, len(anchors))
	frontier := make([]string, 0, len(anchors))
	for _, id := range anchors {
		if !visited[id] {
			visited[id] = true
			frontier = append(frontier, id)
		}
	}

	facts := make([]models.GraphFact, 0)
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		edges, err := g.expandFrontier(ctx, userID, frontier)
		if err != nil {
			return nil, err
		}

		next := make([]string, 0, len(edges))
		for _, e := range edges {
			from, to := e.sourceID, e.targetID
			fromName, toName := e.sourceName, e.targetName
			if !visited[from] {
				// Edge was reached from its target side; flip so the fact
				// reads from the known node outward.
				from, to = to, from
				fromName, toName = toName, fromName
			}
			facts = append(facts, models.GraphFact{
				EntityID:   from,
				EntityName: fromName,
				Relation:   models.RelationType(e.relationType),
				TargetID:   to,
				TargetName: toName,
				Hop:        hop,
				Weight:     e.effectiveWeight,
				Provenance: e.provenance,
			})
			if !visited[to] {
				visited[to] = true
				next = append(next, to)
			}
		}
		frontier = next
	}

	sort.SliceStable(facts, func(i, j int) bool {
		if facts[i].Hop != facts[j].Hop {
			return facts[i].Hop < facts[j].Hop
		}
		return facts[i].Weight > facts[j].Weight
	})
	return facts, nil
}

// expandFrontier fetches the strongest edges touching any frontier node in
// either direction, with decayed weights computed in SQL.
func (g *GraphStore) expandFrontier(ctx context.Context, userID string, frontier []string) ([]edgeRow, error) {
	query := `
		SELECT e.source_id, src.name, e.target_id, tgt.name, e.relation_type,
		       GREATEST($3::float8,
		           e.weight * EXP(-e.decay_rate * EXTRACT(EPOCH FROM (NOW() - e.updated_at)) / 86400.0)
		       ) AS effective_weight,
		       e.provenance
		FROM evermind_graph_edges e
		JOIN evermind_graph_entities src ON src.user_id = e.user_id AND src.id = e.source_id
		JOIN evermind_graph_entities tgt ON tgt.user_id = e.user_id AND tgt.id = e.target_id
		WHERE e.user_id = $1
		  AND (e.source_id = ANY($2) OR e.target_id = ANY($2))
		ORDER BY effective_weight DESC
		LIMIT $4`

	rows, err := g.conn(ctx).Query(ctx, query, userID, frontier, models.MinEdgeWeight, maxExpansionsPerHop)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	edges := make([]edgeRow, 0, maxExpansionsPerHop)
	for rows.Next() {
		var e edgeRow
		var provenance []byte
		err := rows.Scan(
			&e.sourceID,
			&e.sourceName,
			&e.targetID,
			&e.targetName,
			&e.relationType,
			&e.effectiveWeight,
			&provenance,
		)
		if err != nil {
			return nil, err
		}
		e.provenance, err = unmarshalStringSlice(provenance)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}

	return edges, rows.Err()
}

// EdgeWeightSum aggregates decayed edge weight per memory id over all edges
// whose provenance contains that id. Memories with no edges are absent from
// the result.
func (g *GraphStore) EdgeWeightSum(ctx context.Context, userID string, memoryIDs []string) (map[string]float64, error) {
	if len(memoryIDs) == 0 {
		return map[string]float64{}, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT p.memory_id,
		       SUM(GREATEST($3::float8,
		           e.weight * EXP(-e.decay_rate * EXTRACT(EPOCH FROM (NOW() - e.updated_at)) / 86400.0)
		       ))
		FROM evermind_graph_edges e,
		     LATERAL jsonb_array_elements_text(e.provenance) AS p(memory_id)
		WHERE e.user_id = $1 AND p.memory_id = ANY($2)
		GROUP BY p.memory_id`

	rows, err := g.conn(ctx).Query(ctx, query, userID, memoryIDs, models.MinEdgeWeight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[string]float64, len(memoryIDs))
	for rows.Next() {
		var id string
		var sum float64
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		sums[id] = sum
	}

	return sums, rows.Err()
}

// ApplyDecay folds elapsed time into stored weights for edges last updated
// more than a day ago, one page at a time, and resets their decay clocks.
// Weights never drop below the retention floor.
func (g *GraphStore) ApplyDecay(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = 500
	}

	query := `
		UPDATE evermind_graph_edges e
		SET weight = GREATEST($1::float8,
				e.weight * EXP(-e.decay_rate * EXTRACT(EPOCH FROM (NOW() - e.updated_at)) / 86400.0)
			),
			updated_at = NOW()
		WHERE (e.user_id, e.source_id, e.target_id, e.relation_type) IN (
			SELECT user_id, source_id, target_id, relation_type
			FROM evermind_graph_edges
			WHERE updated_at < NOW() - INTERVAL '1 day'
			ORDER BY updated_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`

	total := 0
	for {
		ctxPage, cancel := withTimeout(ctx)
		tag, err := g.conn(ctxPage).Exec(ctxPage, query, models.MinEdgeWeight, pageSize)
		cancel()
		if err != nil {
			return total, err
		}
		n := int(tag.RowsAffected())
		total += n
		if n < pageSize {
			return total, nil
		}
	}
}

func (g *GraphStore) scanEntity(row pgx.Row) (*models.Entity, error) {
	var e models.Entity
	var entityType string
	var attributes []byte

	err := row.Scan(
		&e.UserID,
		&e.ID,
		&e.Name,
		&entityType,
		&e.MentionCount,
		&attributes,
		&e.FirstMentionedAt,
		&e.LastMentionedAt,
	)
	if err != nil {
		if checkNoRows(err) {
			return nil, domain.ErrEntityNotFound
		}
		return nil, err
	}

	e.Type = models.EntityType(entityType)
	e.Attributes, err = unmarshalMetadata(attributes)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

func (g *GraphStore) scanEntityRow(rows pgx.Rows) (*models.Entity, error) {
	var e models.Entity
	var entityType string
	var attributes []byte

	err := rows.Scan(
		&e.UserID,
		&e.ID,
		&e.Name,
		&entityType,
		&e.MentionCount,
		&attributes,
		&e.FirstMentionedAt,
		&e.LastMentionedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Type = models.EntityType(entityType)
	e.Attributes, err = unmarshalMetadata(attributes)
	if err != nil {
		return nil, err
	}

	return &e, nil
}
