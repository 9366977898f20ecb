package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/ddigraph/internal/platform/qdrant"
)

var (
	ErrAborted     = errors.New("ingest: aborted by checkpoint policy")
	ErrInterrupted = errors.New("ingest: interrupted")
)

// RecordError is one skipped input row.
type RecordError struct {
	Index   int    `json:"index"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

func (e RecordError) String() string {
	if e.Line > 0 {
		return fmt.Sprintf("Error processing record %d (line %d): %s", e.Index, e.Line, e.Message)
	}
	return fmt.Sprintf("Error processing record %d: %s", e.Index, e.Message)
}

// IsTransient reports whether retrying the same work may succeed.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if neo4j.IsRetryable(err) {
		return true
	}
	if qdrant.IsTimeout(err) || qdrant.IsUnavailable(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// WriteErrorLog writes one line per record error. Nothing is written for
// an empty list.
func WriteErrorLog(path string, errs []RecordError) error {
	if path == "" || len(errs) == 0 {
		return nil
	}
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = e.String()
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("ingest: write error log: %w", err)
	}
	return nil
}
