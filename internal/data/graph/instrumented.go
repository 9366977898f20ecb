package graph

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/ddigraph/internal/observability"
	"github.com/yungbote/ddigraph/internal/platform/logger"
)

type instrumentedStore struct {
	backend string
	inner   Store
	log     *logger.Logger
}

// Instrument wraps inner so every call opens a span and logs its latency.
func Instrument(backend string, inner Store, log *logger.Logger) Store {
	if inner == nil {
		return nil
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &instrumentedStore{
		backend: backend,
		inner:   inner,
		log:     log.With("service", "GraphStore", "backend", backend),
	}
}

func (s *instrumentedStore) EnsureSchema(ctx context.Context) error {
	ctx, done := s.start(ctx, "ensure_schema")
	err := s.inner.EnsureSchema(ctx)
	done(err)
	return err
}

func (s *instrumentedStore) Counts(ctx context.Context) (Counts, error) {
	ctx, done := s.start(ctx, "counts")
	c, err := s.inner.Counts(ctx)
	done(err)
	return c, err
}

func (s *instrumentedStore) Wipe(ctx context.Context) (int64, error) {
	ctx, done := s.start(ctx, "wipe")
	n, err := s.inner.Wipe(ctx)
	done(err)
	return n, err
}

func (s *instrumentedStore) Reactions(ctx context.Context) ([]Reaction, error) {
	ctx, done := s.start(ctx, "reactions")
	out, err := s.inner.Reactions(ctx)
	done(err)
	return out, err
}

func (s *instrumentedStore) WriteBatch(ctx context.Context, fn func(ctx context.Context, tx BatchTx) error) error {
	ctx, done := s.start(ctx, "write_batch")
	err := s.inner.WriteBatch(ctx, fn)
	done(err)
	return err
}

func (s *instrumentedStore) Candidates(ctx context.Context, query string, limit int) ([]Candidate, error) {
	ctx, done := s.start(ctx, "candidates", attribute.Int("graph.limit", limit))
	out, err := s.inner.Candidates(ctx, query, limit)
	done(err)
	return out, err
}

func (s *instrumentedStore) Neighbors(ctx context.Context, id, relType string, limit int) ([]Edge, error) {
	ctx, done := s.start(ctx, "neighbors", attribute.String("graph.rel_type", relType), attribute.Int("graph.limit", limit))
	out, err := s.inner.Neighbors(ctx, id, relType, limit)
	done(err)
	return out, err
}

func (s *instrumentedStore) EdgesAmong(ctx context.Context, ids []string, relType string, limit int) ([]Edge, error) {
	ctx, done := s.start(ctx, "edges_among", attribute.Int("graph.ids", len(ids)), attribute.String("graph.rel_type", relType))
	out, err := s.inner.EdgesAmong(ctx, ids, relType, limit)
	done(err)
	return out, err
}

func (s *instrumentedStore) SharedReaction(ctx context.Context, a, b, preferred string) (*Reaction, error) {
	ctx, done := s.start(ctx, "shared_reaction")
	out, err := s.inner.SharedReaction(ctx, a, b, preferred)
	done(err)
	return out, err
}

func (s *instrumentedStore) RelationshipTypeCounts(ctx context.Context, id string) (map[string]int64, error) {
	ctx, done := s.start(ctx, "relationship_type_counts")
	out, err := s.inner.RelationshipTypeCounts(ctx, id)
	done(err)
	return out, err
}

func (s *instrumentedStore) Close(ctx context.Context) error {
	return s.inner.Close(ctx)
}

func (s *instrumentedStore) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	began := time.Now()
	attrs = append(attrs, attribute.String("graph.backend", s.backend), attribute.String("graph.operation", op))
	ctx, span := observability.StartSpan(ctx, "graph."+op, attrs...)
	return ctx, func(err error) {
		status := "success"
		if err != nil {
			status = "error"
		}
		span.SetAttributes(attribute.String("graph.status", status))
		observability.EndSpan(span, err)
		s.log.Debug("graph store call", "operation", op, "status", status, "duration_ms", time.Since(began).Milliseconds())
	}
}
