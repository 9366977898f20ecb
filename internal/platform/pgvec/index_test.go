package pgvec

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/ddigraph/internal/platform/logger"
	"github.com/yungbote/ddigraph/internal/vectorindex"
)

func TestConfigValidate(t *testing.T) {
	if err := (Config{DSN: "postgres://localhost/ddi", Table: "drug_embeddings"}).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := (Config{Table: "drug_embeddings"}).Validate(); err == nil {
		t.Fatalf("Validate: expected error for missing DSN")
	}
	for _, bad := range []string{"", "Drug", "drugs;drop", "1drugs", "drug-embeddings"} {
		if err := (Config{DSN: "postgres://x", Table: bad}).Validate(); err == nil {
			t.Fatalf("Validate: expected error for table %q", bad)
		}
	}
}

func TestSearchSQLThreshold(t *testing.T) {
	plain := searchSQL(`"t"`, false)
	if strings.Contains(plain, "$3") {
		t.Fatalf("searchSQL without threshold references $3: %s", plain)
	}
	withCut := searchSQL(`"t"`, true)
	if !strings.Contains(withCut, ">= $3") {
		t.Fatalf("searchSQL with threshold missing cut: %s", withCut)
	}
	if !strings.Contains(withCut, "ORDER BY embedding <=> $1, id") {
		t.Fatalf("searchSQL ordering: %s", withCut)
	}
}

func TestScrollSQLColumns(t *testing.T) {
	if strings.Contains(scrollSQL(`"t"`, false), "embedding") {
		t.Fatalf("scrollSQL without vectors selects embedding")
	}
	if !strings.Contains(scrollSQL(`"t"`, true), ", embedding FROM") {
		t.Fatalf("scrollSQL with vectors does not select embedding")
	}
}

func TestIndexIntegrationAgainstPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("PGVECTOR_INTEGRATION_DSN"))
	if dsn == "" {
		t.Skip("set PGVECTOR_INTEGRATION_DSN to run pgvector integration tests")
	}
	ctx := context.Background()
	table := "ddi_it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	idx, err := Open(ctx, logger.NewNop(), Config{DSN: dsn, Table: table})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_, _ = idx.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+idx.table)
		idx.Close()
	})

	created, err := idx.EnsureCollection(ctx, 3, false)
	if err != nil || !created {
		t.Fatalf("EnsureCollection: created=%v err=%v", created, err)
	}
	if err := idx.Upsert(ctx, []vectorindex.Point{
		{ID: 0, Vector: []float32{1, 0, 0}, Payload: vectorindex.Payload{DrugName: "Lepirudin", DrugID: "0"}},
		{ID: 1, Vector: []float32{0, 1, 0}, Payload: vectorindex.Payload{DrugName: "Apixaban", DrugID: "1"}},
		{ID: 2, Vector: []float32{0.9, 0.1, 0}, Payload: vectorindex.Payload{DrugName: "Bivalirudin", DrugID: "2"}},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := idx.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Count: want=3 got=%d err=%v", n, err)
	}

	matches, err := idx.Search(ctx, vectorindex.SearchRequest{Vector: []float32{1, 0, 0}, Limit: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 || matches[0].Payload.DrugName != "Lepirudin" {
		t.Fatalf("Search: got=%+v", matches)
	}

	page, err := idx.Scroll(ctx, vectorindex.ScrollRequest{Limit: 2, WithVector: true})
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(page.Points) != 2 || page.NextOffset == nil || *page.NextOffset != 2 {
		t.Fatalf("Scroll: got points=%d next=%v", len(page.Points), page.NextOffset)
	}
	if len(page.Points[0].Vector) != 3 {
		t.Fatalf("Scroll vector: got=%v", page.Points[0].Vector)
	}
}
