// Package query answers relationship and similarity questions about drugs
// by name.
package query

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/yungbote/ddigraph/internal/data/graph"
	"github.com/yungbote/ddigraph/internal/platform/logger"
	"github.com/yungbote/ddigraph/internal/platform/qdrant"
	"github.com/yungbote/ddigraph/internal/resolve"
	"github.com/yungbote/ddigraph/internal/vectorindex"
)

const (
	DefaultRelationshipLimit = 20
	DefaultSimilarityLimit   = 10
	DefaultOverFetch         = 10
	// NearDuplicateScore marks a neighbour as the query entity under another
	// embedding.
	NearDuplicateScore = 0.98

	debugEntityLimit  = 10
	enrichConcurrency = 8
)

var ErrUsage = errors.New("query: usage")

var relTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

type ErrorCode string

const (
	CodeStoreUnavailable ErrorCode = "store_unavailable"
	CodeTimeout          ErrorCode = "timeout"
)

// Error reports a failed store call. Queries never retry.
type Error struct {
	Op   string
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("query: %s failed (%s): %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func storeError(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	code := CodeStoreUnavailable
	if errors.Is(err, context.DeadlineExceeded) || qdrant.IsTimeout(err) {
		code = CodeTimeout
	}
	return &Error{Op: op, Code: code, Err: err}
}

type Options struct {
	// Timeout bounds one whole query. Zero disables it.
	Timeout time.Duration
	// ScoreThreshold is passed to the vector index. Nil disables it.
	ScoreThreshold *float64
	// OverFetch is how many extra neighbours to request so post-filtering
	// can still fill the limit.
	OverFetch int
	// SkipEnrichment leaves Relationship.Reaction empty.
	SkipEnrichment bool
}

type Service struct {
	log      *logger.Logger
	graph    graph.Reader
	vectors  vectorindex.Index
	resolver *resolve.Resolver
	opts     Options
}

// New accepts a nil graph or vector index; the queries that need the
// missing backend then fail with store_unavailable.
func New(log *logger.Logger, g graph.Reader, vectors vectorindex.Index, opts Options) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.OverFetch <= 0 {
		opts.OverFetch = DefaultOverFetch
	}
	return &Service{
		log:      log.With("service", "QueryService"),
		graph:    g,
		vectors:  vectors,
		resolver: resolve.New(log, g, vectors),
		opts:     opts,
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

// Entity is a drug as reported to callers.
type Entity struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

func entityOf(d graph.Drug) Entity { return Entity{Name: d.Name, ID: d.ID} }

func validRelType(relType string) error {
	if relType == "" || relTypePattern.MatchString(relType) {
		return nil
	}
	return fmt.Errorf("%w: invalid relationship type %q", ErrUsage, relType)
}
