package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func memoryEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LOG_MODE", "test")
	t.Setenv("GRAPH_BACKEND", "memory")
	t.Setenv("VECTOR_BACKEND", "memory")
	t.Setenv("CHECKPOINT_BACKEND", "file")
	t.Setenv("CHECKPOINT_FILE", filepath.Join(dir, "ckpt.json"))
	t.Setenv("INGEST_ERROR_LOG", filepath.Join(dir, "errors.log"))
	return dir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestIngestCommand(t *testing.T) {
	dir := memoryEnv(t)
	input := filepath.Join(dir, "ddi.tsv")
	tsv := "drug_a_id\tdrug_a_name\tdrug_b_id\tdrug_b_name\tdescription\n" +
		"DB06605\tApixaban\tDB00001\tLepirudin\tApixaban may increase the anticoagulant activities of Lepirudin.\n" +
		"DB00001\tLepirudin\tDB06605\tApixaban\tLepirudin may increase the anticoagulant activities of Apixaban.\n" +
		"broken\trow\n"
	if err := os.WriteFile(input, []byte(tsv), 0o644); err != nil {
		t.Fatalf("write tsv: %v", err)
	}

	code, out, stderr := runCLI(t, "ingest", "-input", input, "-batch-size", "1")
	if code != exitOK {
		t.Fatalf("ingest exit: want=%d got=%d stderr=%s", exitOK, code, stderr)
	}
	var res struct {
		Completed bool `json:"completed"`
		Stats     struct {
			DrugsCreated        int `json:"drugs_created"`
			InteractionsCreated int `json:"interactions_created"`
			MalformedRecords    int `json:"malformed_records"`
		} `json:"stats"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if !res.Completed || res.Stats.DrugsCreated != 2 || res.Stats.InteractionsCreated != 2 {
		t.Fatalf("ingest result: got=%+v", res)
	}
	if res.Stats.MalformedRecords != 1 {
		t.Fatalf("malformed records: want=1 got=%d", res.Stats.MalformedRecords)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "errors.log"))
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if !strings.Contains(string(raw), "line 4") || !strings.Contains(string(raw), "column count mismatch") {
		t.Fatalf("error log: want short row on line 4 got=%q", raw)
	}
}

func TestDebugCommandOnEmptyGraph(t *testing.T) {
	memoryEnv(t)
	code, out, stderr := runCLI(t, "debug", "aspirin")
	if code != exitOK {
		t.Fatalf("debug exit: want=%d got=%d stderr=%s", exitOK, code, stderr)
	}
	if !strings.Contains(out, `"entity_exists": false`) {
		t.Fatalf("debug output: %s", out)
	}
}

func TestUsageErrors(t *testing.T) {
	memoryEnv(t)
	cases := [][]string{
		nil,
		{"frobnicate"},
		{"relationships"},
		{"among", "aspirin"},
		{"relationships", "-type", "bad type", "aspirin"},
		{"ingest", "-no-such-flag"},
	}
	for _, args := range cases {
		if code, _, _ := runCLI(t, args...); code != exitUsage {
			t.Fatalf("%v: exit want=%d got=%d", args, exitUsage, code)
		}
	}
}

func TestCommandFailure(t *testing.T) {
	memoryEnv(t)
	if code, _, _ := runCLI(t, "ingest", "-input", filepath.Join(t.TempDir(), "missing.tsv")); code != exitError {
		t.Fatalf("missing input: exit want=%d got=%d", exitError, code)
	}
	t.Setenv("GRAPH_BACKEND", "dgraph")
	if code, _, _ := runCLI(t, "debug", "aspirin"); code != exitError {
		t.Fatalf("bad backend: exit want=%d got=%d", exitError, code)
	}
}
