package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/ddigraph/internal/platform/logger"
	"github.com/yungbote/ddigraph/internal/platform/neo4jdb"
)

const wipeChunk = 10000

type Neo4jOptions struct {
	// TxTimeout bounds each transaction on the server side. Zero uses the
	// server default.
	TxTimeout time.Duration
}

type Neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
	opts   Neo4jOptions
}

var _ Store = (*Neo4jStore)(nil)

func NewNeo4jStore(client *neo4jdb.Client, log *logger.Logger, opts Neo4jOptions) (*Neo4jStore, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("graph: neo4j client required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Neo4jStore{client: client, log: log.With("service", "Neo4jDrugGraph"), opts: opts}, nil
}

func (s *Neo4jStore) txConfig() []func(*neo4j.TransactionConfig) {
	if s.opts.TxTimeout <= 0 {
		return nil
	}
	return []func(*neo4j.TransactionConfig){neo4j.WithTxTimeout(s.opts.TxTimeout)}
}

// EnsureSchema creates uniqueness constraints. Failures are logged and
// ignored; restricted users may not be allowed to manage schema.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	session := s.client.WriteSession(ctx)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT drug_id_unique IF NOT EXISTS FOR (d:Drug) REQUIRE d.id IS UNIQUE`,
		`CREATE CONSTRAINT reaction_id_unique IF NOT EXISTS FOR (r:Reaction) REQUIRE r.id IS UNIQUE`,
		`CREATE INDEX drug_name_idx IF NOT EXISTS FOR (d:Drug) ON (d.name)`,
	}
	for _, stmt := range stmts {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			s.log.Warn("neo4j schema init failed (continuing)", "error", err)
			continue
		}
		if _, err := res.Consume(ctx); err != nil {
			s.log.Warn("neo4j schema init failed (continuing)", "error", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info("Schema constraints ensured")
	return nil
}

func (s *Neo4jStore) Counts(ctx context.Context) (Counts, error) {
	session := s.client.ReadSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var c Counts
		for _, q := range []struct {
			cypher string
			dst    *int64
		}{
			{`MATCH (d:Drug) RETURN count(d) AS n`, &c.Drugs},
			{`MATCH (r:Reaction) RETURN count(r) AS n`, &c.Reactions},
			{`MATCH ()-[r]->() RETURN count(r) AS n`, &c.Relationships},
		} {
			res, err := tx.Run(ctx, q.cypher, nil)
			if err != nil {
				return nil, err
			}
			rec, err := res.Single(ctx)
			if err != nil {
				return nil, err
			}
			*q.dst = recordInt(rec, "n")
		}
		return c, nil
	}, s.txConfig()...)
	if err != nil {
		return Counts{}, fmt.Errorf("graph: counts: %w", err)
	}
	return out.(Counts), nil
}

// Wipe deletes in chunks so large graphs do not exhaust transaction memory.
func (s *Neo4jStore) Wipe(ctx context.Context) (int64, error) {
	session := s.client.WriteSession(ctx)
	defer session.Close(ctx)

	var total int64
	for {
		out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, `
MATCH (n)
WITH n LIMIT $chunk
DETACH DELETE n
RETURN count(n) AS n
`, map[string]any{"chunk": int64(wipeChunk)})
			if err != nil {
				return nil, err
			}
			rec, err := res.Single(ctx)
			if err != nil {
				return nil, err
			}
			return recordInt(rec, "n"), nil
		}, s.txConfig()...)
		if err != nil {
			return total, fmt.Errorf("graph: wipe: %w", err)
		}
		n := out.(int64)
		total += n
		if n == 0 {
			break
		}
		s.log.Debug("Wipe chunk deleted", "nodes", n, "total", total)
	}
	s.log.Info("Graph wiped", "nodes_deleted", total)
	return total, nil
}

func (s *Neo4jStore) Reactions(ctx context.Context) ([]Reaction, error) {
	session := s.client.ReadSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (r:Reaction)
RETURN r.id AS id, r.normalized_description AS normalized, r.example_description AS example
ORDER BY r.id
`, nil)
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]Reaction, 0, len(recs))
		for _, rec := range recs {
			rows = append(rows, Reaction{
				ID:                    recordString(rec, "id"),
				NormalizedDescription: recordString(rec, "normalized"),
				ExampleDescription:    recordString(rec, "example"),
			})
		}
		return rows, nil
	}, s.txConfig()...)
	if err != nil {
		return nil, fmt.Errorf("graph: list reactions: %w", err)
	}
	return out.([]Reaction), nil
}

// WriteBatch runs fn inside one managed write transaction. The driver
// retries transient failures by calling fn again.
func (s *Neo4jStore) WriteBatch(ctx context.Context, fn func(ctx context.Context, tx BatchTx) error) error {
	session := s.client.WriteSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(ctx, &neo4jBatchTx{tx: tx})
	}, s.txConfig()...)
	return err
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

type neo4jBatchTx struct {
	tx neo4j.ManagedTransaction
}

func (b *neo4jBatchTx) MergeDrug(ctx context.Context, id, name string) (bool, string, error) {
	res, err := b.tx.Run(ctx, `
OPTIONAL MATCH (existing:Drug {id: $id})
WITH existing.name AS previous, existing IS NULL AS created
MERGE (d:Drug {id: $id})
SET d.name = $name
RETURN previous, created
`, map[string]any{"id": id, "name": name})
	if err != nil {
		return false, "", err
	}
	rec, err := res.Single(ctx)
	if err != nil {
		return false, "", err
	}
	created, _ := rec.AsMap()["created"].(bool)
	return created, recordString(rec, "previous"), nil
}

func (b *neo4jBatchTx) CreateInteractionIfAbsent(ctx context.Context, fromID, toID, description string) (bool, error) {
	return b.createdRels(ctx, `
MATCH (a:Drug {id: $from_id})
MATCH (b:Drug {id: $to_id})
MERGE (a)-[r:INTERACTS_WITH]->(b)
ON CREATE SET r.description = $description
`, map[string]any{"from_id": fromID, "to_id": toID, "description": description})
}

func (b *neo4jBatchTx) CreateReaction(ctx context.Context, r Reaction) error {
	res, err := b.tx.Run(ctx, `
MERGE (r:Reaction {id: $id})
ON CREATE SET r.normalized_description = $normalized,
              r.example_description = $example
`, map[string]any{"id": r.ID, "normalized": r.NormalizedDescription, "example": r.ExampleDescription})
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func (b *neo4jBatchTx) LinkReactionIfAbsent(ctx context.Context, drugID, reactionID string) (bool, error) {
	return b.createdRels(ctx, `
MATCH (d:Drug {id: $drug_id})
MATCH (r:Reaction {id: $reaction_id})
MERGE (d)-[:HAS_REACTION]->(r)
`, map[string]any{"drug_id": drugID, "reaction_id": reactionID})
}

func (b *neo4jBatchTx) createdRels(ctx context.Context, cypher string, params map[string]any) (bool, error) {
	res, err := b.tx.Run(ctx, cypher, params)
	if err != nil {
		return false, err
	}
	summary, err := res.Consume(ctx)
	if err != nil {
		return false, err
	}
	return summary.Counters().RelationshipsCreated() > 0, nil
}

func recordString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func recordInt(rec *neo4j.Record, key string) int64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}
