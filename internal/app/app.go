package app

import (
	"context"
	"fmt"
	"io"

	"github.com/yungbote/ddigraph/internal/checkpoint"
	"github.com/yungbote/ddigraph/internal/data/graph"
	"github.com/yungbote/ddigraph/internal/ingest"
	"github.com/yungbote/ddigraph/internal/observability"
	"github.com/yungbote/ddigraph/internal/platform/logger"
	"github.com/yungbote/ddigraph/internal/query"
	"github.com/yungbote/ddigraph/internal/vectorindex"
	"github.com/yungbote/ddigraph/internal/vectorload"
)

// Needs selects which backends New opens. Commands only connect to what
// they use.
type Needs struct {
	Graph      bool
	Vectors    bool
	Checkpoint bool
}

type App struct {
	Log         *logger.Logger
	Cfg         Config
	Graph       graph.Store
	Vectors     vectorindex.Index
	Checkpoints checkpoint.Store

	closers  []func()
	shutdown func(context.Context) error
}

func New(ctx context.Context, cfg Config, needs Needs) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return NewWithLogger(ctx, log, cfg, needs)
}

func NewWithLogger(ctx context.Context, log *logger.Logger, cfg Config, needs Needs) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Log: log, Cfg: cfg}
	a.shutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	})

	if needs.Graph {
		g, err := openGraph(log, cfg)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.Graph = g
	}
	if needs.Vectors {
		idx, closeFn, err := openVectorIndex(ctx, log, cfg.Vector)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.Vectors = idx
		a.addCloser(closeFn)
	}
	if needs.Checkpoint {
		store, closeFn, err := openCheckpointStore(log, cfg.Checkpoint)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.Checkpoints = store
		a.addCloser(closeFn)
	}
	return a, nil
}

func (a *App) addCloser(fn func()) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Ingestion builds a pipeline whose resume policy reads answers from in.
func (a *App) Ingestion(policyMode string, in io.Reader, out io.Writer, overrides ingest.Options) (*ingest.Pipeline, error) {
	if a.Graph == nil || a.Checkpoints == nil {
		return nil, fmt.Errorf("app: ingestion needs graph and checkpoint backends")
	}
	if policyMode == "" {
		policyMode = a.Cfg.Ingest.Resume
	}
	policy, err := ingest.ParsePolicy(policyMode, in, out)
	if err != nil {
		return nil, err
	}
	opts := a.Cfg.IngestOptions()
	opts.Wipe = overrides.Wipe
	if overrides.BatchSize > 0 {
		opts.BatchSize = overrides.BatchSize
	}
	return ingest.New(a.Log, a.Graph, a.Checkpoints, policy, opts)
}

func (a *App) VectorLoader(recreate bool) (*vectorload.Loader, error) {
	if a.Vectors == nil {
		return nil, fmt.Errorf("app: vector loading needs a vector backend")
	}
	opts := a.Cfg.LoaderOptions()
	opts.Recreate = recreate
	return vectorload.New(a.Log, a.Vectors, opts)
}

// Queries works with whichever backends were opened.
func (a *App) Queries() *query.Service {
	var g graph.Reader
	if a.Graph != nil {
		g = a.Graph
	}
	return query.New(a.Log, g, a.Vectors, query.Options{
		Timeout:        a.Cfg.Query.Timeout,
		ScoreThreshold: a.Cfg.Query.ScoreThreshold,
		OverFetch:      a.Cfg.Query.OverFetch,
		SkipEnrichment: a.Cfg.Query.SkipEnrichment,
	})
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Graph != nil {
		if err := a.Graph.Close(ctx); err != nil {
			a.Log.Warn("Graph close failed", "error", err)
		}
		a.Graph = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		a.shutdown = nil
	}
	a.Log.Sync()
}
