// Package vectorload uploads a drug embedding set into a vector index.
package vectorload

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/ddigraph/internal/ingest"
	"github.com/yungbote/ddigraph/internal/observability"
	"github.com/yungbote/ddigraph/internal/platform/logger"
	"github.com/yungbote/ddigraph/internal/source"
	"github.com/yungbote/ddigraph/internal/vectorindex"
)

const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 4
	DefaultSmokeLimit  = 5
)

var ErrIncomplete = errors.New("vectorload: upload incomplete")

type Options struct {
	BatchSize   int
	Concurrency int
	// Recreate drops an existing collection before uploading.
	Recreate bool
	// ExpectedDim only produces a warning when the data disagrees; the
	// collection is always sized to the data.
	ExpectedDim  int
	BatchRetries int
	SmokeLimit   int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.BatchRetries < 0 {
		o.BatchRetries = 0
	}
	if o.SmokeLimit <= 0 {
		o.SmokeLimit = DefaultSmokeLimit
	}
	return o
}

type BatchError struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Error string `json:"error"`
}

type Result struct {
	Total             int                 `json:"total"`
	Dim               int                 `json:"dim"`
	CollectionCreated bool                `json:"collection_created"`
	Uploaded          int                 `json:"uploaded"`
	FailedBatches     []BatchError        `json:"failed_batches,omitempty"`
	Stored            int64               `json:"stored"`
	Verified          bool                `json:"verified"`
	Smoke             []vectorindex.Match `json:"smoke,omitempty"`
	Duration          time.Duration       `json:"duration_ns"`
}

type Loader struct {
	log  *logger.Logger
	idx  vectorindex.Index
	opts Options
	now  func() time.Time
}

func New(log *logger.Logger, idx vectorindex.Index, opts Options) (*Loader, error) {
	if idx == nil {
		return nil, errors.New("vectorload: vector index required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Loader{
		log:  log.With("service", "VectorLoader"),
		idx:  idx,
		opts: opts.withDefaults(),
		now:  time.Now,
	}, nil
}

// Load uploads every embedding with id = position. Batches that keep failing
// are recorded and skipped; the call then returns ErrIncomplete alongside the
// result.
func (l *Loader) Load(ctx context.Context, set *source.EmbeddingSet) (*Result, error) {
	if set == nil || set.Len() == 0 {
		return nil, errors.New("vectorload: empty embedding set")
	}
	began := time.Now()
	ctx, span := observability.StartSpan(ctx, "vectorload.load",
		attribute.Int("vector.total", set.Len()), attribute.Int("vector.dim", set.Dim))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	res := &Result{Total: set.Len(), Dim: set.Dim}
	if l.opts.ExpectedDim > 0 && l.opts.ExpectedDim != set.Dim {
		l.log.Warn("Embedding dimension differs from configuration, using data dimension",
			"expected", l.opts.ExpectedDim, "actual", set.Dim)
	}

	res.CollectionCreated, err = l.idx.EnsureCollection(ctx, set.Dim, l.opts.Recreate)
	if err != nil {
		err = fmt.Errorf("vectorload: ensure collection: %w", err)
		return res, err
	}
	l.log.Info("Collection ready", "created", res.CollectionCreated, "recreate", l.opts.Recreate, "dim", set.Dim)

	if err = l.upload(ctx, set, res, began); err != nil {
		return res, err
	}
	res.Duration = time.Since(began)
	l.log.Info("Upload finished",
		"uploaded", res.Uploaded, "total", res.Total,
		"failed_batches", len(res.FailedBatches),
		"avg_rate", fmt.Sprintf("%.1f", float64(res.Uploaded)/res.Duration.Seconds()))

	l.verify(ctx, set, res)

	if len(res.FailedBatches) > 0 {
		err = fmt.Errorf("%w: %d batches failed, %d of %d vectors uploaded", ErrIncomplete, len(res.FailedBatches), res.Uploaded, res.Total)
		return res, err
	}
	return res, nil
}

func (l *Loader) upload(ctx context.Context, set *source.EmbeddingSet, res *Result, began time.Time) error {
	stamp := l.now().UTC().Format(time.RFC3339)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Concurrency)
	for start := 0; start < set.Len(); start += l.opts.BatchSize {
		end := start + l.opts.BatchSize
		if end > set.Len() {
			end = set.Len()
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			points := buildPoints(set, start, end, stamp)
			err := l.upsertBatch(gctx, points, start)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				l.log.Error("Batch upload failed", "start", start, "end", end, "error", err)
				res.FailedBatches = append(res.FailedBatches, BatchError{Start: start, End: end, Error: err.Error()})
				return nil
			}
			res.Uploaded += len(points)
			elapsed := time.Since(began)
			rate := float64(res.Uploaded) / elapsed.Seconds()
			eta := time.Duration(0)
			if rate > 0 {
				eta = time.Duration(float64(res.Total-res.Uploaded) / rate * float64(time.Second))
			}
			l.log.Info("Batch uploaded",
				"uploaded", res.Uploaded, "total", res.Total,
				"percent", fmt.Sprintf("%.1f", float64(res.Uploaded)/float64(res.Total)*100),
				"rate_per_sec", fmt.Sprintf("%.1f", rate),
				"eta", eta.Round(time.Second).String())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("vectorload: upload interrupted after %d vectors: %w", res.Uploaded, err)
	}
	return nil
}

func (l *Loader) upsertBatch(ctx context.Context, points []vectorindex.Point, start int) error {
	ctx, span := observability.StartSpan(ctx, "vectorload.batch",
		attribute.Int("batch.start", start), attribute.Int("batch.size", len(points)))
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := l.idx.Upsert(ctx, points)
		if err != nil && !ingest.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(uint(l.opts.BatchRetries+1)))
	observability.EndSpan(span, err)
	return err
}

// verify compares the stored count and runs a similarity search with the
// first vector. Failures are logged, not returned.
func (l *Loader) verify(ctx context.Context, set *source.EmbeddingSet, res *Result) {
	stored, err := l.idx.Count(ctx)
	if err != nil {
		l.log.Warn("Could not verify collection count", "error", err)
	} else {
		res.Stored = stored
		res.Verified = stored >= int64(res.Total)
		if res.Verified {
			l.log.Info("Upload verified", "stored", stored)
		} else {
			l.log.Warn("Collection holds fewer vectors than uploaded", "stored", stored, "expected", res.Total)
		}
	}

	matches, err := l.idx.Search(ctx, vectorindex.SearchRequest{Vector: set.Vectors[0], Limit: l.opts.SmokeLimit})
	if err != nil {
		l.log.Warn("Smoke search failed", "error", err)
		return
	}
	res.Smoke = matches
	for i, m := range matches {
		l.log.Info("Smoke search match", "rank", i+1, "drug_name", m.Payload.DrugName, "score", fmt.Sprintf("%.4f", m.Score))
	}
}

func buildPoints(set *source.EmbeddingSet, start, end int, stamp string) []vectorindex.Point {
	points := make([]vectorindex.Point, 0, end-start)
	for i := start; i < end; i++ {
		points = append(points, vectorindex.Point{
			ID:     uint64(i),
			Vector: set.Vectors[i],
			Payload: vectorindex.Payload{
				DrugName:        set.Names[i],
				DrugID:          strconv.Itoa(i),
				UploadTimestamp: stamp,
			},
		})
	}
	return points
}
