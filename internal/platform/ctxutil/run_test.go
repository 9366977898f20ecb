package ctxutil

import (
	"context"
	"testing"
)

func TestRunDataRoundTrip(t *testing.T) {
	ctx := WithRunData(context.Background(), &RunData{RunID: "run-1", Command: "ingest"})
	if got := RunID(ctx); got != "run-1" {
		t.Fatalf("RunID: want=%q got=%q", "run-1", got)
	}
	if got := RunID(context.Background()); got != "" {
		t.Fatalf("RunID empty ctx: want=%q got=%q", "", got)
	}
}
