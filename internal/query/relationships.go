package query

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/ddigraph/internal/canon"
	"github.com/yungbote/ddigraph/internal/data/graph"
	"github.com/yungbote/ddigraph/internal/observability"
)

type ReactionInfo struct {
	ID                    string `json:"reaction_id"`
	NormalizedDescription string `json:"normalized_description"`
	ExampleDescription    string `json:"example_description"`
}

type Relationship struct {
	Entity1     Entity        `json:"entity1"`
	Entity2     Entity        `json:"entity2"`
	Type        string        `json:"relationship_type"`
	Direction   string        `json:"direction,omitempty"`
	Description string        `json:"interaction_description,omitempty"`
	Reaction    *ReactionInfo `json:"reaction,omitempty"`

	from, to string
}

type RelationshipResult struct {
	Found            bool           `json:"found"`
	Message          string         `json:"message,omitempty"`
	Query            string         `json:"query_entity,omitempty"`
	Queries          []string       `json:"query_entities,omitempty"`
	Resolved         *Entity        `json:"found_entity,omitempty"`
	ResolvedEntities []Entity       `json:"found_entities,omitempty"`
	Unresolved       []string       `json:"unresolved,omitempty"`
	TypeFilter       string         `json:"relationship_type_filter,omitempty"`
	Count            int            `json:"relationships_count"`
	Relationships    []Relationship `json:"relationships"`
}

// RelationshipsOf lists relationships touching the drug that best matches
// name, in either direction.
func (s *Service) RelationshipsOf(ctx context.Context, name, relType string, limit int) (res *RelationshipResult, err error) {
	if err := validRelType(relType); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRelationshipLimit
	}
	if s.graph == nil {
		return nil, storeError("relationships", fmt.Errorf("no graph store configured"))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "query.relationships_of",
		attribute.String("query.rel_type", relType), attribute.Int("query.limit", limit))
	defer func() { observability.EndSpan(span, err) }()

	res = &RelationshipResult{Query: name, TypeFilter: relType, Relationships: []Relationship{}}
	d, err := s.resolver.ResolveNode(ctx, name)
	if err != nil {
		return nil, storeError("resolve", err)
	}
	if d == nil {
		res.Message = fmt.Sprintf("Entity '%s' not found in graph database", name)
		return res, nil
	}
	res.Found = true
	found := entityOf(*d)
	res.Resolved = &found

	edges, err := s.graph.Neighbors(ctx, d.ID, relType, limit)
	if err != nil {
		return nil, storeError("neighbors", err)
	}
	for _, e := range edges {
		rel := Relationship{
			Entity1:     found,
			Type:        e.Type,
			Description: e.Description,
			from:        e.From.ID,
			to:          e.To.ID,
		}
		if e.From.ID == d.ID {
			rel.Entity2 = entityOf(e.To)
			rel.Direction = "outgoing"
		} else {
			rel.Entity2 = entityOf(e.From)
			rel.Direction = "incoming"
		}
		res.Relationships = append(res.Relationships, rel)
	}
	s.enrich(ctx, res.Relationships, edges)
	res.Count = len(res.Relationships)
	s.log.Debug("Relationships resolved", "query", name, "found", found.Name, "count", res.Count)
	return res, nil
}

// RelationshipsAmong lists relationships whose endpoints both resolve from
// names. A pair appears once whatever the stored direction.
func (s *Service) RelationshipsAmong(ctx context.Context, names []string, relType string, limit int) (res *RelationshipResult, err error) {
	if len(names) < 2 {
		return nil, fmt.Errorf("%w: at least two entity names required, got %d", ErrUsage, len(names))
	}
	if err := validRelType(relType); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRelationshipLimit
	}
	if s.graph == nil {
		return nil, storeError("relationships", fmt.Errorf("no graph store configured"))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "query.relationships_among",
		attribute.Int("query.names", len(names)), attribute.String("query.rel_type", relType))
	defer func() { observability.EndSpan(span, err) }()

	resolved := make([]*graph.Drug, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range names {
		g.Go(func() error {
			d, err := s.resolver.ResolveNode(gctx, n)
			resolved[i] = d
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storeError("resolve", err)
	}

	res = &RelationshipResult{Queries: names, TypeFilter: relType, Relationships: []Relationship{}}
	seen := map[string]struct{}{}
	var ids []string
	for i, d := range resolved {
		if d == nil {
			res.Unresolved = append(res.Unresolved, names[i])
			continue
		}
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		ids = append(ids, d.ID)
		res.ResolvedEntities = append(res.ResolvedEntities, entityOf(*d))
	}
	if len(ids) < 2 {
		res.Message = fmt.Sprintf("Need at least two entities in graph database, resolved %d of %d", len(ids), len(names))
		return res, nil
	}
	res.Found = true

	edges, err := s.graph.EdgesAmong(ctx, ids, relType, limit*2)
	if err != nil {
		return nil, storeError("edges_among", err)
	}
	pairs := map[[2]string]struct{}{}
	var kept []graph.Edge
	for _, e := range edges {
		a, b := e.From, e.To
		if a.Name > b.Name || (a.Name == b.Name && a.ID > b.ID) {
			a, b = b, a
		}
		key := [2]string{a.Name, b.Name}
		if _, dup := pairs[key]; dup {
			continue
		}
		pairs[key] = struct{}{}
		res.Relationships = append(res.Relationships, Relationship{
			Entity1:     entityOf(a),
			Entity2:     entityOf(b),
			Type:        e.Type,
			Description: e.Description,
			from:        e.From.ID,
			to:          e.To.ID,
		})
		kept = append(kept, e)
		if len(res.Relationships) == limit {
			break
		}
	}
	s.enrich(ctx, res.Relationships, kept)
	res.Count = len(res.Relationships)
	return res, nil
}

// enrich attaches the shared Reaction of each pair when one exists. Lookup
// failures are logged and leave the reaction empty.
func (s *Service) enrich(ctx context.Context, rels []Relationship, edges []graph.Edge) {
	if s.opts.SkipEnrichment || len(rels) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(enrichConcurrency)
	for i := range rels {
		e := edges[i]
		g.Go(func() error {
			preferred := canon.Canonicalize(e.Description, e.From.Name, e.To.Name)
			r, err := s.graph.SharedReaction(ctx, rels[i].from, rels[i].to, preferred)
			if err != nil {
				s.log.Warn("Reaction enrichment failed", "from", rels[i].from, "to", rels[i].to, "error", err)
				return nil
			}
			if r != nil {
				rels[i].Reaction = &ReactionInfo{
					ID:                    r.ID,
					NormalizedDescription: r.NormalizedDescription,
					ExampleDescription:    r.ExampleDescription,
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// TypeCount is one row of a relationship type summary.
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

func sortedTypeCounts(m map[string]int64) ([]TypeCount, int64) {
	out := make([]TypeCount, 0, len(m))
	var total int64
	for t, n := range m {
		out = append(out, TypeCount{Type: t, Count: n})
		total += n
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, total
}
