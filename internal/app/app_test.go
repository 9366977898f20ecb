package app

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/ddigraph/internal/ingest"
	"github.com/yungbote/ddigraph/internal/source"
)

func memoryConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LogMode = "test"
	cfg.Graph.Backend = BackendMemory
	cfg.Vector.Backend = BackendMemory
	cfg.Checkpoint.File = filepath.Join(t.TempDir(), "ckpt.json")
	cfg.Ingest.ErrorLog = filepath.Join(t.TempDir(), "errors.log")
	return cfg
}

func TestAppIngestThenQuery(t *testing.T) {
	ctx := context.Background()
	a, err := NewWithLogger(ctx, testLogger(t), memoryConfig(t), Needs{Graph: true, Vectors: true, Checkpoint: true})
	if err != nil {
		t.Fatalf("NewWithLogger: %v", err)
	}
	defer a.Close(ctx)

	tsv := "drug_a_id\tdrug_a_name\tdrug_b_id\tdrug_b_name\tdescription\n" +
		"DB06605\tApixaban\tDB00001\tLepirudin\tApixaban may increase the anticoagulant activities of Lepirudin.\n" +
		"DB00001\tLepirudin\tDB06605\tApixaban\tLepirudin may increase the anticoagulant activities of Apixaban.\n"
	in, err := source.ReadTSV(ctx, a.Log, strings.NewReader(tsv), source.TSVOptions{})
	if err != nil {
		t.Fatalf("ReadTSV: %v", err)
	}

	p, err := a.Ingestion("no", strings.NewReader(""), &bytes.Buffer{}, ingest.Options{BatchSize: 1})
	if err != nil {
		t.Fatalf("Ingestion: %v", err)
	}
	res, err := p.Run(ctx, in.Records)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Completed || res.Stats.DrugsCreated != 2 || res.Stats.ReactionsCreated != 1 {
		t.Fatalf("ingest result: got=%+v", res)
	}

	rel, err := a.Queries().RelationshipsOf(ctx, "apixaban", "", 10)
	if err != nil {
		t.Fatalf("RelationshipsOf: %v", err)
	}
	if !rel.Found || rel.Count != 2 {
		t.Fatalf("relationships: want found with 2 got=%+v", rel)
	}
	for _, r := range rel.Relationships {
		if r.Reaction == nil || r.Reaction.ID != "R0001" {
			t.Fatalf("reaction enrichment: want R0001 got=%+v", r.Reaction)
		}
	}

	loader, err := a.VectorLoader(false)
	if err != nil {
		t.Fatalf("VectorLoader: %v", err)
	}
	set := &source.EmbeddingSet{
		Names:   []string{"Apixaban", "Lepirudin", "Warfarin"},
		Vectors: [][]float32{{1, 0}, {0.8, 0.6}, {0, 1}},
		Dim:     2,
	}
	if _, err := loader.Load(ctx, set); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sim, err := a.Queries().SimilarTo(ctx, "apixaban", 5)
	if err != nil {
		t.Fatalf("SimilarTo: %v", err)
	}
	if sim.Count != 2 || sim.Results[0].Name != "Lepirudin" {
		t.Fatalf("similar: got=%+v", sim)
	}
}

func TestAppOpensOnlyWhatIsNeeded(t *testing.T) {
	ctx := context.Background()
	a, err := NewWithLogger(ctx, testLogger(t), memoryConfig(t), Needs{Graph: true})
	if err != nil {
		t.Fatalf("NewWithLogger: %v", err)
	}
	defer a.Close(ctx)
	if a.Vectors != nil || a.Checkpoints != nil {
		t.Fatalf("unexpected backends opened: vectors=%v checkpoints=%v", a.Vectors, a.Checkpoints)
	}
	if _, err := a.Ingestion("yes", nil, nil, ingest.Options{}); err == nil {
		t.Fatalf("Ingestion without checkpoint backend: expected error")
	}
	if _, err := a.VectorLoader(false); err == nil {
		t.Fatalf("VectorLoader without vector backend: expected error")
	}
}

func TestAppRejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Graph.Backend = "dgraph"
	if _, err := NewWithLogger(context.Background(), testLogger(t), cfg, Needs{Graph: true}); err == nil {
		t.Fatalf("expected invalid config error")
	}
}
