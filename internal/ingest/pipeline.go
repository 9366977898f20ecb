// Package ingest writes interaction records into the graph in checkpointed,
// idempotent batches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/ddigraph/internal/canon"
	"github.com/yungbote/ddigraph/internal/checkpoint"
	"github.com/yungbote/ddigraph/internal/data/graph"
	"github.com/yungbote/ddigraph/internal/observability"
	"github.com/yungbote/ddigraph/internal/platform/logger"
	"github.com/yungbote/ddigraph/internal/source"
)

const (
	DefaultBatchSize    = 5000
	DefaultBatchRetries = 3
	DefaultErrorLog     = "ingestion_errors.log"

	checkpointSaveTimeout = 30 * time.Second
)

type Options struct {
	BatchSize    int
	BatchRetries int
	// TxTimeout bounds one batch attempt. Zero leaves it to the store.
	TxTimeout time.Duration
	// RetryInitialInterval seeds the exponential backoff between attempts.
	RetryInitialInterval time.Duration
	// Wipe deletes all graph data and any checkpoint before importing.
	Wipe         bool
	ErrorLogPath string
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchRetries < 0 {
		o.BatchRetries = 0
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 500 * time.Millisecond
	}
	return o
}

type Result struct {
	Stats      checkpoint.Stats `json:"stats"`
	Total      int              `json:"total_records"`
	Processed  int              `json:"processed_count"`
	StartIndex int              `json:"start_index"`
	Resumed    bool             `json:"resumed"`
	Completed  bool             `json:"completed"`
	Errors     []RecordError    `json:"errors,omitempty"`
	Duration   time.Duration    `json:"duration_ns"`
}

type Pipeline struct {
	log    *logger.Logger
	graph  graph.Writer
	store  checkpoint.Store
	policy Policy
	opts   Options
}

func New(log *logger.Logger, g graph.Writer, store checkpoint.Store, policy Policy, opts Options) (*Pipeline, error) {
	if g == nil {
		return nil, errors.New("ingest: graph writer required")
	}
	if store == nil {
		return nil, errors.New("ingest: checkpoint store required")
	}
	if policy == nil {
		policy = StaticPolicy(Resume)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Pipeline{
		log:    log.With("service", "IngestPipeline"),
		graph:  g,
		store:  store,
		policy: policy,
		opts:   opts.withDefaults(),
	}, nil
}

// Run imports records from the last checkpoint onward. The returned Result
// is meaningful even when err is non-nil.
func (p *Pipeline) Run(ctx context.Context, records []source.Record) (res Result, err error) {
	began := time.Now()
	ctx, span := observability.StartSpan(ctx, "ingest.run", attribute.Int("ingest.records", len(records)))
	res.Total = len(records)
	defer func() {
		res.Duration = time.Since(began)
		if werr := WriteErrorLog(p.opts.ErrorLogPath, res.Errors); werr != nil {
			p.log.Warn("Failed to write error log", "path", p.opts.ErrorLogPath, "error", werr)
		} else if len(res.Errors) > 0 && p.opts.ErrorLogPath != "" {
			p.log.Info("Record errors saved", "path", p.opts.ErrorLogPath, "errors", len(res.Errors))
		}
		observability.EndSpan(span, err)
	}()

	st, resumed, err := p.prepare(ctx, len(records))
	if err != nil {
		return res, err
	}
	res.Resumed = resumed
	res.StartIndex = st.ProcessedCount
	res.Stats = st.Stats
	res.Processed = st.ProcessedCount

	if len(records) == 0 {
		p.log.Warn("No records to process")
	}

	total := len(records)
	for start := st.ProcessedCount; start < total; start += p.opts.BatchSize {
		if cerr := ctx.Err(); cerr != nil {
			return res, p.interrupted(st, cerr)
		}
		end := start + p.opts.BatchSize
		if end > total {
			end = total
		}
		next, recErrs, berr := p.commitBatch(ctx, records[start:end], start, st)
		if berr != nil {
			if cerr := ctx.Err(); cerr != nil {
				return res, p.interrupted(st, cerr)
			}
			p.log.Error("Batch failed, stopping with last checkpoint intact",
				"batch_start", start, "batch_end", end, "processed", st.ProcessedCount, "error", berr)
			return res, fmt.Errorf("ingest: batch %d-%d: %w", start, end, berr)
		}
		next.ProcessedCount = end
		if serr := p.saveCheckpoint(ctx, next); serr != nil {
			return res, serr
		}
		st = next
		res.Stats = st.Stats
		res.Processed = st.ProcessedCount
		res.Errors = append(res.Errors, recErrs...)
		p.logProgress(began, res.StartIndex, st, total, len(recErrs))
	}

	if err := p.store.Clear(ctx); err != nil {
		p.log.Warn("Failed to clear checkpoint", "error", err)
	}
	res.Completed = true
	elapsed := time.Since(began)
	p.log.Info("Import complete",
		"processed", st.ProcessedCount,
		"elapsed", elapsed.Round(time.Millisecond).String(),
		"avg_rate", rate(st.ProcessedCount-res.StartIndex, elapsed),
		"drugs_created", st.Stats.DrugsCreated,
		"interactions_created", st.Stats.InteractionsCreated,
		"interactions_skipped", st.Stats.InteractionsSkipped,
		"reactions_created", st.Stats.ReactionsCreated,
		"drug_reaction_links", st.Stats.DrugReactionLinks,
		"drug_reaction_links_skipped", st.Stats.DrugReactionLinksSkipped,
		"drug_renames", st.Stats.DrugRenames,
		"errors", len(res.Errors),
	)
	return res, nil
}

// prepare applies the wipe option, consults the checkpoint policy and
// returns the state the first batch starts from.
func (p *Pipeline) prepare(ctx context.Context, total int) (State, bool, error) {
	counts, err := p.graph.Counts(ctx)
	if err != nil {
		return State{}, false, fmt.Errorf("ingest: inspect graph: %w", err)
	}
	if !counts.Empty() {
		p.log.Info("Existing data found", "drugs", counts.Drugs, "reactions", counts.Reactions, "relationships", counts.Relationships)
		if p.opts.Wipe {
			if _, err := p.graph.Wipe(ctx); err != nil {
				return State{}, false, fmt.Errorf("ingest: wipe: %w", err)
			}
			if err := p.store.Clear(ctx); err != nil {
				return State{}, false, fmt.Errorf("ingest: clear checkpoint: %w", err)
			}
			counts = graph.Counts{}
		} else {
			p.log.Info("Continuing with existing data, duplicates will be skipped")
		}
	} else if p.opts.Wipe {
		if err := p.store.Clear(ctx); err != nil {
			return State{}, false, fmt.Errorf("ingest: clear checkpoint: %w", err)
		}
	}

	if err := p.graph.EnsureSchema(ctx); err != nil {
		return State{}, false, fmt.Errorf("ingest: ensure schema: %w", err)
	}

	snap, err := p.store.Load(ctx)
	if errors.Is(err, checkpoint.ErrCorrupt) {
		p.log.Warn("Ignoring unreadable checkpoint", "error", err)
		snap, err = nil, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("ingest: load checkpoint: %w", err)
	}

	if snap != nil {
		p.log.Info("Found checkpoint", "timestamp", snap.Timestamp, "processed_count", snap.ProcessedCount)
		decision, err := p.policy.Decide(ctx, *snap)
		if err != nil {
			return State{}, false, fmt.Errorf("ingest: checkpoint policy: %w", err)
		}
		switch decision {
		case Abort:
			return State{}, false, ErrAborted
		case Resume:
			if snap.ProcessedCount > total {
				return State{}, false, fmt.Errorf("ingest: checkpoint offset %d exceeds %d input records", snap.ProcessedCount, total)
			}
			p.log.Info("Resuming from checkpoint", "start_index", snap.ProcessedCount, "reactions", len(snap.ReactionMap))
			return StateFromSnapshot(*snap), true, nil
		case Restart:
			p.log.Info("Discarding checkpoint and starting fresh")
			if err := p.store.Clear(ctx); err != nil {
				return State{}, false, fmt.Errorf("ingest: clear checkpoint: %w", err)
			}
		}
	}

	if counts.Reactions == 0 {
		return NewState(), false, nil
	}
	existing, err := p.graph.Reactions(ctx)
	if err != nil {
		return State{}, false, fmt.Errorf("ingest: seed reactions: %w", err)
	}
	st := seededState(existing)
	p.log.Info("Seeded reaction map from graph", "reactions", len(st.ReactionMap), "next_id", FormatReactionID(st.ReactionCounter))
	return st, false, nil
}

// commitBatch writes one batch atomically, retrying transient failures with
// exponential backoff.
func (p *Pipeline) commitBatch(ctx context.Context, batch []source.Record, start int, committed State) (State, []RecordError, error) {
	ctx, span := observability.StartSpan(ctx, "ingest.batch",
		attribute.Int("batch.start", start), attribute.Int("batch.size", len(batch)))

	type outcome struct {
		state State
		errs  []RecordError
	}
	attempt := 0
	op := func() (outcome, error) {
		attempt++
		actx := ctx
		if p.opts.TxTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.opts.TxTimeout)
			defer cancel()
		}
		var out outcome
		err := p.graph.WriteBatch(actx, func(ctx context.Context, tx graph.BatchTx) error {
			// The callback may run again on a driver retry; start clean each time.
			out = outcome{state: committed.Clone()}
			errs, err := p.writeRecords(ctx, tx, batch, start, &out.state)
			out.errs = errs
			return err
		})
		if err == nil {
			return out, nil
		}
		if IsTransient(err) && ctx.Err() == nil {
			return outcome{}, err
		}
		return outcome{}, backoff.Permanent(err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.opts.RetryInitialInterval
	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(p.opts.BatchRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			p.log.Warn("Batch attempt failed, retrying", "batch_start", start, "attempt", attempt, "wait", wait.String(), "error", err)
		}),
	)
	span.SetAttributes(attribute.Int("batch.attempts", attempt))
	observability.EndSpan(span, err)
	if err != nil {
		return State{}, nil, err
	}
	return out.state, out.errs, nil
}

func (p *Pipeline) writeRecords(ctx context.Context, tx graph.BatchTx, batch []source.Record, start int, st *State) ([]RecordError, error) {
	var errs []RecordError
	for i, rec := range batch {
		idx := start + i
		if msg := validateRecord(rec); msg != "" {
			st.Stats.MalformedRecords++
			errs = append(errs, RecordError{Index: idx, Line: rec.Line, Message: msg})
			continue
		}
		if err := p.writeRecord(ctx, tx, rec, st); err != nil {
			return errs, fmt.Errorf("record %d: %w", idx, err)
		}
		st.Stats.ProcessedRecords++
	}
	return errs, nil
}

func (p *Pipeline) writeRecord(ctx context.Context, tx graph.BatchTx, rec source.Record, st *State) error {
	f := rec.Fields
	aID, aName, bID, bName, desc := f[0], f[1], f[2], f[3], f[4]

	for _, d := range [2][2]string{{aID, aName}, {bID, bName}} {
		created, previous, err := tx.MergeDrug(ctx, d[0], d[1])
		if err != nil {
			return fmt.Errorf("merge drug %s: %w", d[0], err)
		}
		if created {
			st.Stats.DrugsCreated++
		} else if previous != d[1] {
			st.Stats.DrugRenames++
			p.log.Debug("Drug renamed", "id", d[0], "previous", previous, "name", d[1])
		}
	}

	created, err := tx.CreateInteractionIfAbsent(ctx, aID, bID, desc)
	if err != nil {
		return fmt.Errorf("interaction %s->%s: %w", aID, bID, err)
	}
	if created {
		st.Stats.InteractionsCreated++
	} else {
		st.Stats.InteractionsSkipped++
	}

	canonical := canon.Canonicalize(desc, aName, bName)
	reactionID, minted := st.reactionID(canonical)
	if minted {
		err := tx.CreateReaction(ctx, graph.Reaction{
			ID:                    reactionID,
			NormalizedDescription: canonical,
			ExampleDescription:    desc,
		})
		if err != nil {
			return fmt.Errorf("reaction %s: %w", reactionID, err)
		}
		st.Stats.ReactionsCreated++
	}

	for _, id := range [2]string{aID, bID} {
		linked, err := tx.LinkReactionIfAbsent(ctx, id, reactionID)
		if err != nil {
			return fmt.Errorf("link %s->%s: %w", id, reactionID, err)
		}
		if linked {
			st.Stats.DrugReactionLinks++
		} else {
			st.Stats.DrugReactionLinksSkipped++
		}
	}
	return nil
}

func validateRecord(rec source.Record) string {
	if len(rec.Fields) != source.RecordFields {
		return fmt.Sprintf("column count mismatch: expected %d fields, got %d", source.RecordFields, len(rec.Fields))
	}
	if strings.TrimSpace(rec.Fields[0]) == "" || strings.TrimSpace(rec.Fields[2]) == "" {
		return "empty drug id"
	}
	return ""
}

// saveCheckpoint runs detached from cancellation: the batch it records has
// already committed.
func (p *Pipeline) saveCheckpoint(ctx context.Context, st State) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointSaveTimeout)
	defer cancel()
	if err := p.store.Save(sctx, st.Snapshot()); err != nil {
		p.log.Error("Failed to save checkpoint", "processed", st.ProcessedCount, "error", err)
		return fmt.Errorf("ingest: save checkpoint at %d: %w", st.ProcessedCount, err)
	}
	return nil
}

func (p *Pipeline) interrupted(st State, cause error) error {
	p.log.Warn("Import interrupted, checkpoint kept", "processed", st.ProcessedCount, "cause", cause)
	return fmt.Errorf("%w at record %d: %w", ErrInterrupted, st.ProcessedCount, cause)
}

func (p *Pipeline) logProgress(began time.Time, startIndex int, st State, total, batchErrors int) {
	elapsed := time.Since(began)
	done := st.ProcessedCount - startIndex
	r := rate(done, elapsed)
	eta := time.Duration(0)
	if r > 0 {
		eta = time.Duration(float64(total-st.ProcessedCount) / r * float64(time.Second))
	}
	pct := 0.0
	if total > 0 {
		pct = float64(st.ProcessedCount) / float64(total) * 100
	}
	p.log.Info("Batch committed",
		"processed", st.ProcessedCount,
		"total", total,
		"percent", fmt.Sprintf("%.1f", pct),
		"rate_per_sec", fmt.Sprintf("%.1f", r),
		"elapsed", elapsed.Round(time.Millisecond).String(),
		"eta", eta.Round(time.Second).String(),
		"drugs_created", st.Stats.DrugsCreated,
		"interactions_created", st.Stats.InteractionsCreated,
		"reactions_created", st.Stats.ReactionsCreated,
		"batch_errors", batchErrors,
	)
}

func rate(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
