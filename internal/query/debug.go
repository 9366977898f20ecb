package query

import (
	"context"
	"fmt"

	"github.com/yungbote/ddigraph/internal/data/graph"
	"github.com/yungbote/ddigraph/internal/observability"
)

type DebugResult struct {
	Query              string      `json:"query_entity"`
	Exists             bool        `json:"entity_exists"`
	Message            string      `json:"message,omitempty"`
	Entities           []Entity    `json:"found_entities"`
	ExactMatch         *Entity     `json:"exact_match,omitempty"`
	RelationshipTypes  []TypeCount `json:"relationship_summary"`
	TotalRelationships int64       `json:"total_relationships"`
}

// Debug reports how name resolves against the graph and what the best match
// is connected by.
func (s *Service) Debug(ctx context.Context, name string) (res *DebugResult, err error) {
	if s.graph == nil {
		return nil, storeError("debug", fmt.Errorf("no graph store configured"))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "query.debug")
	defer func() { observability.EndSpan(span, err) }()

	res = &DebugResult{Query: name, Entities: []Entity{}, RelationshipTypes: []TypeCount{}}
	q := graph.NormalizeQuery(name)
	if q == "" {
		res.Message = "empty entity name"
		return res, nil
	}
	cs, err := s.graph.Candidates(ctx, q, debugEntityLimit)
	if err != nil {
		return nil, storeError("candidates", err)
	}
	if len(cs) == 0 {
		res.Message = fmt.Sprintf("Entity '%s' not found in graph database", name)
		return res, nil
	}
	graph.SortCandidates(cs)
	res.Exists = true
	for _, c := range cs {
		res.Entities = append(res.Entities, entityOf(c.Drug))
	}
	best := res.Entities[0]
	res.ExactMatch = &best

	counts, err := s.graph.RelationshipTypeCounts(ctx, best.ID)
	if err != nil {
		return nil, storeError("relationship_counts", err)
	}
	res.RelationshipTypes, res.TotalRelationships = sortedTypeCounts(counts)
	return res, nil
}
