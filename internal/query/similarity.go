package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/ddigraph/internal/observability"
	"github.com/yungbote/ddigraph/internal/vectorindex"
)

type Similar struct {
	Name    string              `json:"entity_name"`
	ID      string              `json:"entity_id"`
	Score   float64             `json:"similarity_score"`
	Payload vectorindex.Payload `json:"payload"`
}

type SimilarityResult struct {
	Found        bool      `json:"found"`
	Message      string    `json:"message,omitempty"`
	Query        string    `json:"query_entity"`
	ResolvedName string    `json:"found_entity,omitempty"`
	ResolvedID   string    `json:"found_entity_id,omitempty"`
	Limit        int       `json:"limit"`
	Count        int       `json:"results_count"`
	Results      []Similar `json:"results"`
}

// SimilarTo returns the stored drugs whose embeddings are nearest the one
// that best matches name, excluding the drug itself.
func (s *Service) SimilarTo(ctx context.Context, name string, limit int) (res *SimilarityResult, err error) {
	if limit <= 0 {
		limit = DefaultSimilarityLimit
	}
	if s.vectors == nil {
		return nil, storeError("similar", fmt.Errorf("no vector index configured"))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "query.similar_to", attribute.Int("query.limit", limit))
	defer func() { observability.EndSpan(span, err) }()

	res = &SimilarityResult{Query: name, Limit: limit, Results: []Similar{}}
	p, err := s.resolver.ResolveVector(ctx, name)
	if err != nil {
		return nil, storeError("resolve", err)
	}
	if p == nil {
		res.Message = fmt.Sprintf("Entity '%s' not found in vector database", name)
		return res, nil
	}
	res.Found = true
	res.ResolvedName = p.Payload.DrugName
	res.ResolvedID = p.Payload.DrugID

	matches, err := s.vectors.Search(ctx, vectorindex.SearchRequest{
		Vector:         p.Vector,
		Limit:          limit + s.opts.OverFetch,
		ScoreThreshold: s.opts.ScoreThreshold,
	})
	if err != nil {
		return nil, storeError("search", err)
	}

	exclude := map[string]struct{}{
		normName(p.Payload.DrugName): {},
		normName(name):               {},
	}
	seen := map[string]struct{}{}
	for _, m := range matches {
		key := normName(m.Payload.DrugName)
		if _, skip := exclude[key]; skip || key == "" {
			continue
		}
		if m.Score >= NearDuplicateScore {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		res.Results = append(res.Results, Similar{
			Name:    m.Payload.DrugName,
			ID:      m.Payload.DrugID,
			Score:   m.Score,
			Payload: m.Payload,
		})
	}
	sort.SliceStable(res.Results, func(i, j int) bool { return res.Results[i].Score > res.Results[j].Score })
	if len(res.Results) > limit {
		res.Results = res.Results[:limit]
	}
	res.Count = len(res.Results)
	s.log.Debug("Similarity search", "query", name, "found", res.ResolvedName, "candidates", len(matches), "results", res.Count)
	return res, nil
}

func normName(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
