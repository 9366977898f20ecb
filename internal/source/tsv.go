// Package source reads the raw inputs of an ingestion run: the drug
// interaction TSV and the drug name embedding dumps.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/yungbote/ddigraph/internal/platform/logger"
)

// RecordFields is the number of leading columns an interaction row carries:
// drug_a_id, drug_a_name, drug_b_id, drug_b_name, description.
const RecordFields = 5

const (
	maxLineBytes     = 16 << 20
	malformedShown   = 10
	readProgressStep = 50000
)

// Record is one data row. Fields holds at most the first RecordFields
// trimmed columns; a short row keeps every column it had so the pipeline can
// report it.
type Record struct {
	Line   int
	Fields []string
}

type TSVOptions struct {
	// Limit stops after this many data rows. Zero reads everything.
	Limit int
}

type TSVResult struct {
	Header  []string
	Records []Record
	// Malformed counts rows with fewer than RecordFields columns. They stay
	// in Records.
	Malformed int
}

func ReadTSVFile(ctx context.Context, log *logger.Logger, path string, opts TSVOptions) (*TSVResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadTSV(ctx, log, f, opts)
}

// ReadTSV splits on tabs only; descriptions contain quotes and commas that a
// CSV reader would reinterpret.
func ReadTSV(ctx context.Context, log *logger.Logger, r io.Reader, opts TSVOptions) (*TSVResult, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With("service", "TSVReader")

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	out := &TSVResult{}
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("source: read header: %w", err)
		}
		return nil, fmt.Errorf("source: empty input, header line missing")
	}
	out.Header = strings.Split(strings.TrimRight(sc.Text(), "\r\n"), "\t")
	log.Info("TSV header", "columns", len(out.Header), "header", out.Header)
	if len(out.Header) < RecordFields {
		log.Warn("Header has fewer columns than an interaction record", "columns", len(out.Header), "expected", RecordFields)
	}

	line := 1
	for sc.Scan() {
		line++
		if opts.Limit > 0 && len(out.Records) >= opts.Limit {
			log.Info("Reached reading limit", "limit", opts.Limit)
			break
		}
		if line%readProgressStep == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, "\t")
		n := RecordFields
		if len(parts) < RecordFields {
			n = len(parts)
			out.Malformed++
			if out.Malformed <= malformedShown {
				log.Warn("Malformed line", "line", line, "columns", len(parts), "expected", RecordFields)
			}
		}
		fields := make([]string, n)
		for i := 0; i < n; i++ {
			fields[i] = strings.TrimSpace(parts[i])
		}
		out.Records = append(out.Records, Record{Line: line, Fields: fields})
		if len(out.Records)%readProgressStep == 0 {
			log.Info("Reading TSV records", "records", len(out.Records))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("source: read line %d: %w", line+1, err)
	}
	if out.Malformed > malformedShown {
		log.Warn("Further malformed lines suppressed", "suppressed", out.Malformed-malformedShown)
	}
	log.Info("TSV read complete", "records", len(out.Records), "malformed", out.Malformed)
	return out, nil
}
