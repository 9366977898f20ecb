package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/yungbote/ddigraph/internal/checkpoint"
)

type Decision int

const (
	Resume Decision = iota
	Restart
	Abort
)

func (d Decision) String() string {
	switch d {
	case Resume:
		return "resume"
	case Restart:
		return "restart"
	case Abort:
		return "abort"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Policy decides what to do with a checkpoint left by an earlier run.
type Policy interface {
	Decide(ctx context.Context, snap checkpoint.Snapshot) (Decision, error)
}

type StaticPolicy Decision

func (p StaticPolicy) Decide(context.Context, checkpoint.Snapshot) (Decision, error) {
	return Decision(p), nil
}

// PromptPolicy asks an operator on In and echoes the question to Out.
type PromptPolicy struct {
	In  io.Reader
	Out io.Writer
}

func (p PromptPolicy) Decide(ctx context.Context, snap checkpoint.Snapshot) (Decision, error) {
	fmt.Fprintf(p.Out, "Found checkpoint from %s: %d records processed.\n",
		snap.Timestamp.Format("2006-01-02 15:04:05"), snap.ProcessedCount)
	sc := bufio.NewScanner(p.In)
	for {
		if err := ctx.Err(); err != nil {
			return Abort, err
		}
		fmt.Fprint(p.Out, "Resume from checkpoint? (y/n/abort): ")
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return Abort, fmt.Errorf("ingest: read answer: %w", err)
			}
			return Abort, fmt.Errorf("ingest: no answer on input")
		}
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "y", "yes":
			return Resume, nil
		case "n", "no":
			return Restart, nil
		case "a", "abort", "q", "quit":
			return Abort, nil
		}
		fmt.Fprintln(p.Out, "Please enter 'y' to resume, 'n' to start over or 'abort'.")
	}
}

// ParsePolicy maps the -resume flag value to a Policy.
func ParsePolicy(mode string, in io.Reader, out io.Writer) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "ask":
		return PromptPolicy{In: in, Out: out}, nil
	case "yes", "y", "resume":
		return StaticPolicy(Resume), nil
	case "no", "n", "restart":
		return StaticPolicy(Restart), nil
	case "abort":
		return StaticPolicy(Abort), nil
	}
	return nil, fmt.Errorf("ingest: unknown resume mode %q (want ask|yes|no|abort)", mode)
}
