// Package resolve maps free-text drug names to graph nodes and stored
// embeddings.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/ddigraph/internal/data/graph"
	"github.com/yungbote/ddigraph/internal/platform/logger"
	"github.com/yungbote/ddigraph/internal/vectorindex"
)

// candidateLimit caps how many graph matches are ranked per query.
const candidateLimit = 25

type Resolver struct {
	log      *logger.Logger
	graph    graph.Reader
	vectors  vectorindex.Index
	pageSize int
}

// New accepts a nil graph or vector index when only one kind of lookup is
// needed.
func New(log *logger.Logger, g graph.Reader, vectors vectorindex.Index) *Resolver {
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{
		log:      log.With("service", "Resolver"),
		graph:    g,
		vectors:  vectors,
		pageSize: vectorindex.DefaultScrollPageSize,
	}
}

// ResolveNode returns the best matching drug, or nil when nothing matches.
func (r *Resolver) ResolveNode(ctx context.Context, query string) (*graph.Drug, error) {
	if r.graph == nil {
		return nil, errors.New("resolve: no graph store configured")
	}
	q := graph.NormalizeQuery(query)
	if q == "" {
		return nil, nil
	}
	cs, err := r.graph.Candidates(ctx, q, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("resolve: %q: %w", query, err)
	}
	if len(cs) == 0 {
		r.log.Debug("No graph match", "query", query)
		return nil, nil
	}
	graph.SortCandidates(cs)
	best := cs[0].Drug
	r.log.Debug("Resolved graph node", "query", query, "id", best.ID, "name", best.Name, "tier", cs[0].Tier, "candidates", len(cs))
	return &best, nil
}

// ResolveVector scans every stored payload: an exact case-insensitive name
// wins, otherwise the best substring match in either direction.
func (r *Resolver) ResolveVector(ctx context.Context, query string) (*vectorindex.Point, error) {
	if r.vectors == nil {
		return nil, errors.New("resolve: no vector index configured")
	}
	q := graph.NormalizeQuery(query)
	if q == "" {
		return nil, nil
	}
	var exact, partial *vectorindex.Point
	err := vectorindex.ScanAll(ctx, r.vectors, r.pageSize, true, func(p vectorindex.Point) bool {
		name := strings.ToLower(strings.TrimSpace(p.Payload.DrugName))
		if name == "" {
			return true
		}
		if name == q {
			if exact == nil || pointBefore(p, *exact) {
				cp := p
				exact = &cp
			}
			return true
		}
		if exact == nil && (strings.Contains(name, q) || strings.Contains(q, name)) {
			if partial == nil || pointBefore(p, *partial) {
				cp := p
				partial = &cp
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("resolve: vector %q: %w", query, err)
	}
	if exact != nil {
		return exact, nil
	}
	if partial == nil {
		r.log.Debug("No vector match", "query", query)
	}
	return partial, nil
}

// pointBefore applies the candidate tie-break: shortest name, then name,
// then id.
func pointBefore(a, b vectorindex.Point) bool {
	an, bn := strings.TrimSpace(a.Payload.DrugName), strings.TrimSpace(b.Payload.DrugName)
	if la, lb := utf8.RuneCountInString(an), utf8.RuneCountInString(bn); la != lb {
		return la < lb
	}
	if an != bn {
		return an < bn
	}
	return a.ID < b.ID
}
