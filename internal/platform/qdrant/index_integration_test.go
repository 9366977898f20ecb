package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/ddigraph/internal/vectorindex"
)

func TestIndexIntegrationAgainstLocalQdrant(t *testing.T) {
	if !qdrantIntegrationEnabled() {
		t.Skip("set QDRANT_INTEGRATION=1 to run Qdrant integration tests")
	}

	baseURL := qdrantIntegrationURL()
	if err := waitForQdrantReady(baseURL); err != nil {
		t.Fatalf("qdrant not ready: %v", err)
	}

	collection := "ddi_it_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	idx, err := NewIndex(newTestLogger(t), Config{URL: baseURL, Collection: collection})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	raw := idx.(*index)
	t.Cleanup(func() {
		_ = raw.doJSON(context.Background(), "cleanup", http.MethodDelete, raw.collectionPath(""), nil, nil)
	})

	ctx := context.Background()
	created, err := idx.EnsureCollection(ctx, 3, false)
	if err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if !created {
		t.Fatalf("EnsureCollection: expected a new collection")
	}

	points := []vectorindex.Point{
		{ID: 0, Vector: []float32{1, 0, 0}, Payload: vectorindex.Payload{DrugName: "Lepirudin", DrugID: "0"}},
		{ID: 1, Vector: []float32{0.9, 0.1, 0}, Payload: vectorindex.Payload{DrugName: "Bivalirudin", DrugID: "1"}},
		{ID: 2, Vector: []float32{0, 1, 0}, Payload: vectorindex.Payload{DrugName: "Apixaban", DrugID: "2"}},
	}
	if err := idx.Upsert(ctx, points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != int64(len(points)) {
		t.Fatalf("Count: want=%d got=%d", len(points), n)
	}

	matches, err := idx.Search(ctx, vectorindex.SearchRequest{Vector: []float32{1, 0, 0}, Limit: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 || matches[0].Payload.DrugName != "Lepirudin" || matches[1].Payload.DrugName != "Bivalirudin" {
		t.Fatalf("Search: got=%+v", matches)
	}

	var names []string
	err = vectorindex.ScanAll(ctx, idx, 2, true, func(p vectorindex.Point) bool {
		if len(p.Vector) != 3 {
			t.Fatalf("scroll vector: got=%v", p.Vector)
		}
		names = append(names, p.Payload.DrugName)
		return true
	})
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("ScanAll: want=3 names got=%v", names)
	}
}

func qdrantIntegrationEnabled() bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv("QDRANT_INTEGRATION")))
	return raw == "1" || raw == "true" || raw == "yes"
}

func qdrantIntegrationURL() string {
	if url := strings.TrimSpace(os.Getenv("QDRANT_INTEGRATION_URL")); url != "" {
		return strings.TrimRight(url, "/")
	}
	if url := strings.TrimSpace(os.Getenv("QDRANT_URL")); url != "" {
		return strings.TrimRight(url, "/")
	}
	return "http://127.0.0.1:6333"
}

func waitForQdrantReady(baseURL string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	readyURL := baseURL + "/readyz"
	var lastErr error
	for i := 0; i < 20; i++ {
		resp, err := client.Get(readyURL)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("status=%d", resp.StatusCode)
		} else {
			lastErr = err
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("ready check failed for %s: %w", readyURL, lastErr)
}
