package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/ddigraph/internal/app"
	"github.com/yungbote/ddigraph/internal/ingest"
	"github.com/yungbote/ddigraph/internal/platform/ctxutil"
	"github.com/yungbote/ddigraph/internal/query"
	"github.com/yungbote/ddigraph/internal/resolve"
	"github.com/yungbote/ddigraph/internal/source"
	"github.com/yungbote/ddigraph/internal/vectorload"
)

const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2
	exitInterrupted = 130

	shutdownTimeout = 10 * time.Second
)

const usage = `usage: ddigraph <command> [flags] [args]

commands:
  ingest         load a drug-interaction TSV into the graph
  embed-load     upload drug embeddings into the vector index
  resolve        show the graph node and vector point a name resolves to
  relationships  list relationships of one drug
  among          list relationships among several drugs
  similar        list drugs with the nearest embeddings
  debug          show matching drugs and relationship counts for a name
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	needs app.Needs
	flags func(fs *flag.FlagSet) func(ctx context.Context, a *app.App, args []string, env cmdEnv) error
}

type cmdEnv struct {
	in  io.Reader
	out io.Writer
}

var commands = map[string]command{
	"ingest":        {needs: app.Needs{Graph: true, Checkpoint: true}, flags: ingestCmd},
	"embed-load":    {needs: app.Needs{Vectors: true}, flags: embedLoadCmd},
	"resolve":       {needs: app.Needs{Graph: true, Vectors: true}, flags: resolveCmd},
	"relationships": {needs: app.Needs{Graph: true}, flags: relationshipsCmd},
	"among":         {needs: app.Needs{Graph: true}, flags: amongCmd},
	"similar":       {needs: app.Needs{Vectors: true}, flags: similarCmd},
	"debug":         {needs: app.Needs{Graph: true}, flags: debugCmd},
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", name, usage)
		return exitUsage
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "optional YAML config file")
	exec := cmd.flags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return exitUsage
	}

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return exitError
	}
	a, err := app.New(ctx, cfg, cmd.needs)
	if err != nil {
		fmt.Fprintf(stderr, "init app: %v\n", err)
		return exitError
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		a.Close(closeCtx)
	}()

	runID := uuid.NewString()
	ctx = ctxutil.WithRunData(ctx, &ctxutil.RunData{RunID: runID, Command: name})
	a.Log = a.Log.With("run_id", runID, "command", name)

	err = exec(ctx, a, fs.Args(), cmdEnv{in: stdin, out: stdout})
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, query.ErrUsage), errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "%v\n", err)
		fs.Usage()
		return exitUsage
	case errors.Is(err, ingest.ErrInterrupted), errors.Is(err, context.Canceled):
		a.Log.Warn("Interrupted", "error", err)
		return exitInterrupted
	default:
		a.Log.Error("Command failed", "error", err)
		return exitError
	}
}

var errUsage = errors.New("usage")

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneName(args []string) (string, error) {
	name := strings.TrimSpace(strings.Join(args, " "))
	if name == "" {
		return "", fmt.Errorf("%w: entity name required", errUsage)
	}
	return name, nil
}

func ingestCmd(fs *flag.FlagSet) func(context.Context, *app.App, []string, cmdEnv) error {
	input := fs.String("input", "ddi.tsv", "interaction TSV file")
	resume := fs.String("resume", "", "checkpoint policy: ask|yes|no|abort (default from INGEST_RESUME)")
	wipe := fs.Bool("wipe", false, "delete existing graph data and checkpoint first")
	limit := fs.Int("limit", 0, "read at most this many data rows")
	batchSize := fs.Int("batch-size", 0, "records per transaction (default from INGEST_BATCH_SIZE)")

	return func(ctx context.Context, a *app.App, _ []string, env cmdEnv) error {
		in, err := source.ReadTSVFile(ctx, a.Log, *input, source.TSVOptions{Limit: *limit})
		if err != nil {
			return err
		}
		p, err := a.Ingestion(*resume, env.in, env.out, ingest.Options{Wipe: *wipe, BatchSize: *batchSize})
		if err != nil {
			return err
		}
		res, err := p.Run(ctx, in.Records)
		if werr := writeJSON(env.out, res); werr != nil && err == nil {
			err = werr
		}
		return err
	}
}

func embedLoadCmd(fs *flag.FlagSet) func(context.Context, *app.App, []string, cmdEnv) error {
	input := fs.String("input", "drug_embeddings.json", "embeddings JSON or JSON-lines file")
	recreate := fs.Bool("recreate", false, "drop and recreate the collection first")

	return func(ctx context.Context, a *app.App, _ []string, env cmdEnv) error {
		set, err := source.LoadEmbeddingsFile(*input)
		if err != nil {
			return err
		}
		if set.Duplicates > 0 {
			a.Log.Warn("Repeated drug names folded into one embedding", "duplicates", set.Duplicates, "kept", set.Len())
		}
		loader, err := a.VectorLoader(*recreate)
		if err != nil {
			return err
		}
		res, err := loader.Load(ctx, set)
		if res != nil {
			if werr := writeJSON(env.out, res); werr != nil && err == nil {
				err = werr
			}
		}
		if errors.Is(err, vectorload.ErrIncomplete) {
			a.Log.Warn("Some batches failed", "failed_batches", len(res.FailedBatches))
		}
		return err
	}
}

func resolveCmd(fs *flag.FlagSet) func(context.Context, *app.App, []string, cmdEnv) error {
	return func(ctx context.Context, a *app.App, args []string, env cmdEnv) error {
		name, err := oneName(args)
		if err != nil {
			return err
		}
		r := resolve.New(a.Log, a.Graph, a.Vectors)
		node, err := r.ResolveNode(ctx, name)
		if err != nil {
			return err
		}
		out := map[string]any{"query_entity": name, "graph_node": node}
		p, err := r.ResolveVector(ctx, name)
		if err != nil {
			a.Log.Warn("Vector resolution failed", "error", err)
		} else if p != nil {
			out["vector_point"] = map[string]any{"id": p.ID, "payload": p.Payload}
		}
		return writeJSON(env.out, out)
	}
}

func relationshipsCmd(fs *flag.FlagSet) func(context.Context, *app.App, []string, cmdEnv) error {
	relType := fs.String("type", "", "relationship type filter, e.g. INTERACTS_WITH")
	limit := fs.Int("limit", query.DefaultRelationshipLimit, "maximum relationships")

	return func(ctx context.Context, a *app.App, args []string, env cmdEnv) error {
		name, err := oneName(args)
		if err != nil {
			return err
		}
		res, err := a.Queries().RelationshipsOf(ctx, name, *relType, *limit)
		if err != nil {
			return err
		}
		return writeJSON(env.out, res)
	}
}

func amongCmd(fs *flag.FlagSet) func(context.Context, *app.App, []string, cmdEnv) error {
	relType := fs.String("type", "", "relationship type filter")
	limit := fs.Int("limit", query.DefaultRelationshipLimit, "maximum relationships")

	return func(ctx context.Context, a *app.App, args []string, env cmdEnv) error {
		res, err := a.Queries().RelationshipsAmong(ctx, args, *relType, *limit)
		if err != nil {
			return err
		}
		return writeJSON(env.out, res)
	}
}

func similarCmd(fs *flag.FlagSet) func(context.Context, *app.App, []string, cmdEnv) error {
	limit := fs.Int("limit", query.DefaultSimilarityLimit, "maximum results")

	return func(ctx context.Context, a *app.App, args []string, env cmdEnv) error {
		name, err := oneName(args)
		if err != nil {
			return err
		}
		res, err := a.Queries().SimilarTo(ctx, name, *limit)
		if err != nil {
			return err
		}
		return writeJSON(env.out, res)
	}
}

func debugCmd(fs *flag.FlagSet) func(context.Context, *app.App, []string, cmdEnv) error {
	return func(ctx context.Context, a *app.App, args []string, env cmdEnv) error {
		name, err := oneName(args)
		if err != nil {
			return err
		}
		res, err := a.Queries().Debug(ctx, name)
		if err != nil {
			return err
		}
		return writeJSON(env.out, res)
	}
}
