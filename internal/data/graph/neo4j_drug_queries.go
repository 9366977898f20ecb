package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const candidatesCypher = `
MATCH (d:Drug)
WITH d, toLower(coalesce(d.name, '')) AS n, toLower(d.id) AS i
WHERE n = $q OR i = $q OR (n <> '' AND (n CONTAINS $q OR $q CONTAINS n))
WITH d, CASE WHEN n = $q THEN 0 WHEN i = $q THEN 1 ELSE 2 END AS tier
RETURN d.id AS id, d.name AS name, tier
ORDER BY tier, size(coalesce(d.name, '')), d.name, d.id
LIMIT $limit
`

const neighborsCypher = `
MATCH (d:Drug {id: $id})-[r]-(o:Drug)
WHERE o.id <> d.id AND ($type = '' OR type(r) = $type)
WITH r, o, startNode(r) AS s, endNode(r) AS e
RETURN s.id AS from_id, s.name AS from_name, e.id AS to_id, e.name AS to_name,
       type(r) AS type, r.description AS description
ORDER BY o.name, o.id, s.id
LIMIT $limit
`

const edgesAmongCypher = `
MATCH (a:Drug)-[r]->(b:Drug)
WHERE a.id IN $ids AND b.id IN $ids AND a.id <> b.id AND ($type = '' OR type(r) = $type)
RETURN a.id AS from_id, a.name AS from_name, b.id AS to_id, b.name AS to_name,
       type(r) AS type, r.description AS description
ORDER BY a.name, b.name, type(r)
LIMIT $limit
`

const sharedReactionCypher = `
MATCH (a:Drug {id: $a})-[:HAS_REACTION]->(r:Reaction)<-[:HAS_REACTION]-(b:Drug {id: $b})
RETURN r.id AS id, r.normalized_description AS normalized, r.example_description AS example
ORDER BY CASE WHEN r.normalized_description = $preferred THEN 0 ELSE 1 END, r.id
LIMIT 1
`

const typeCountsCypher = `
MATCH (d:Drug {id: $id})-[r]-()
RETURN type(r) AS type, count(r) AS n
`

func (s *Neo4jStore) Candidates(ctx context.Context, query string, limit int) ([]Candidate, error) {
	q := NormalizeQuery(query)
	if q == "" {
		return nil, nil
	}
	recs, err := s.read(ctx, candidatesCypher, map[string]any{"q": q, "limit": limitParam(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: candidates: %w", err)
	}
	out := make([]Candidate, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Candidate{
			Drug: Drug{ID: recordString(rec, "id"), Name: recordString(rec, "name")},
			Tier: int(recordInt(rec, "tier")),
		})
	}
	return out, nil
}

func (s *Neo4jStore) Neighbors(ctx context.Context, id, relType string, limit int) ([]Edge, error) {
	recs, err := s.read(ctx, neighborsCypher, map[string]any{"id": id, "type": relType, "limit": limitParam(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: neighbors: %w", err)
	}
	return edgesFromRecords(recs), nil
}

func (s *Neo4jStore) EdgesAmong(ctx context.Context, ids []string, relType string, limit int) ([]Edge, error) {
	if len(ids) < 2 {
		return nil, nil
	}
	recs, err := s.read(ctx, edgesAmongCypher, map[string]any{"ids": ids, "type": relType, "limit": limitParam(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: edges among: %w", err)
	}
	return edgesFromRecords(recs), nil
}

func (s *Neo4jStore) SharedReaction(ctx context.Context, a, b, preferred string) (*Reaction, error) {
	recs, err := s.read(ctx, sharedReactionCypher, map[string]any{"a": a, "b": b, "preferred": preferred})
	if err != nil {
		return nil, fmt.Errorf("graph: shared reaction: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	rec := recs[0]
	return &Reaction{
		ID:                    recordString(rec, "id"),
		NormalizedDescription: recordString(rec, "normalized"),
		ExampleDescription:    recordString(rec, "example"),
	}, nil
}

func (s *Neo4jStore) RelationshipTypeCounts(ctx context.Context, id string) (map[string]int64, error) {
	recs, err := s.read(ctx, typeCountsCypher, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("graph: relationship type counts: %w", err)
	}
	out := make(map[string]int64, len(recs))
	for _, rec := range recs {
		out[recordString(rec, "type")] = recordInt(rec, "n")
	}
	return out, nil
}

func (s *Neo4jStore) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.client.ReadSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	}, s.txConfig()...)
	if err != nil {
		return nil, err
	}
	return out.([]*neo4j.Record), nil
}

func edgesFromRecords(recs []*neo4j.Record) []Edge {
	out := make([]Edge, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Edge{
			From:        Drug{ID: recordString(rec, "from_id"), Name: recordString(rec, "from_name")},
			To:          Drug{ID: recordString(rec, "to_id"), Name: recordString(rec, "to_name")},
			Type:        recordString(rec, "type"),
			Description: recordString(rec, "description"),
		})
	}
	return out
}

// limitParam maps a non-positive limit to an effectively unbounded one.
func limitParam(limit int) int64 {
	if limit <= 0 {
		return 1 << 31
	}
	return int64(limit)
}
