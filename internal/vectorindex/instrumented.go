package vectorindex

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/ddigraph/internal/observability"
	"github.com/yungbote/ddigraph/internal/platform/logger"
)

type instrumentedIndex struct {
	provider string
	inner    Index
	log      *logger.Logger
}

// Instrument wraps inner so every call opens a span and logs its latency.
func Instrument(provider string, inner Index, log *logger.Logger) Index {
	if inner == nil {
		return nil
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &instrumentedIndex{
		provider: provider,
		inner:    inner,
		log:      log.With("service", "VectorIndex", "provider", provider),
	}
}

func (s *instrumentedIndex) EnsureCollection(ctx context.Context, dim int, recreate bool) (bool, error) {
	ctx, done := s.start(ctx, "ensure_collection", attribute.Int("vector.dim", dim), attribute.Bool("vector.recreate", recreate))
	created, err := s.inner.EnsureCollection(ctx, dim, recreate)
	done(err)
	return created, err
}

func (s *instrumentedIndex) Upsert(ctx context.Context, points []Point) error {
	ctx, done := s.start(ctx, "upsert", attribute.Int("vector.points", len(points)))
	err := s.inner.Upsert(ctx, points)
	done(err)
	return err
}

func (s *instrumentedIndex) Search(ctx context.Context, req SearchRequest) ([]Match, error) {
	ctx, done := s.start(ctx, "search", attribute.Int("vector.limit", req.Limit))
	out, err := s.inner.Search(ctx, req)
	done(err)
	return out, err
}

func (s *instrumentedIndex) Scroll(ctx context.Context, req ScrollRequest) (ScrollPage, error) {
	ctx, done := s.start(ctx, "scroll", attribute.Int("vector.limit", req.Limit))
	page, err := s.inner.Scroll(ctx, req)
	done(err)
	return page, err
}

func (s *instrumentedIndex) Count(ctx context.Context) (int64, error) {
	ctx, done := s.start(ctx, "count")
	n, err := s.inner.Count(ctx)
	done(err)
	return n, err
}

func (s *instrumentedIndex) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	began := time.Now()
	attrs = append(attrs, attribute.String("vector.provider", s.provider), attribute.String("vector.operation", op))
	ctx, span := observability.StartSpan(ctx, "vectorindex."+op, attrs...)
	return ctx, func(err error) {
		status := "success"
		if err != nil {
			status = "error"
		}
		span.SetAttributes(attribute.String("vector.status", status))
		observability.EndSpan(span, err)
		s.log.Debug("vector index call", "operation", op, "status", status, "duration_ms", time.Since(began).Milliseconds())
	}
}
