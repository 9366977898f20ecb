package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/yungbote/ddigraph/internal/checkpoint"
	"github.com/yungbote/ddigraph/internal/platform/logger"
	"github.com/yungbote/ddigraph/internal/platform/neo4jdb"
)

func roundTrip(t *testing.T, store checkpoint.Store) {
	t.Helper()
	ctx := context.Background()
	snap := checkpoint.Snapshot{
		ProcessedCount:  5000,
		Stats:           checkpoint.Stats{ProcessedRecords: 5000, DrugsCreated: 12},
		ReactionMap:     map[string]string{"<drugA> x <drugB>": "R0001"},
		ReactionCounter: 2,
		Timestamp:       time.Date(2025, 7, 1, 22, 16, 30, 0, time.UTC),
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.ProcessedCount != 5000 || got.ReactionMap["<drugA> x <drugB>"] != "R0001" {
		t.Fatalf("Load: want processed=5000 got=%+v", got)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
}

func TestOpenCheckpointStoreFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt.json")
	store, closeFn, err := openCheckpointStore(testLogger(t), CheckpointConfig{Backend: CheckpointFile, File: path})
	if err != nil {
		t.Fatalf("openCheckpointStore: %v", err)
	}
	if closeFn != nil {
		t.Fatalf("file store: expected no close func")
	}
	if fs, ok := store.(*checkpoint.FileStore); !ok || fs.Path() != path {
		t.Fatalf("file store path: want=%q got=%T", path, store)
	}
	roundTrip(t, store)
}

func TestOpenCheckpointStoreRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	store, closeFn, err := openCheckpointStore(testLogger(t), CheckpointConfig{
		Backend:   CheckpointRedis,
		RedisAddr: mr.Addr(),
		Key:       "test:ckpt",
	})
	if err != nil {
		t.Fatalf("openCheckpointStore: %v", err)
	}
	defer closeFn()
	roundTrip(t, store)
}

func TestOpenCheckpointStoreSQLite(t *testing.T) {
	store, closeFn, err := openCheckpointStore(testLogger(t), CheckpointConfig{
		Backend: CheckpointSQLite,
		DSN:     filepath.Join(t.TempDir(), "ckpt.db"),
	})
	if err != nil {
		t.Fatalf("openCheckpointStore: %v", err)
	}
	defer closeFn()
	roundTrip(t, store)
}

func TestOpenCheckpointStoreFailures(t *testing.T) {
	_, _, err := openCheckpointStore(testLogger(t), CheckpointConfig{Backend: "s3"})
	if code := bootstrapErrorCode(err); code != BootstrapErrorInvalidBackend {
		t.Fatalf("invalid backend code: want=%s got=%s", BootstrapErrorInvalidBackend, code)
	}
	_, _, err = openCheckpointStore(testLogger(t), CheckpointConfig{Backend: CheckpointRedis})
	var be *BootstrapError
	if !errors.As(err, &be) || be.Concern != "checkpoint" {
		t.Fatalf("missing redis addr: want checkpoint BootstrapError got=%v", err)
	}
}

func TestOpenGraph(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Graph.Backend = BackendMemory
	g, err := openGraph(testLogger(t), cfg)
	if err != nil {
		t.Fatalf("openGraph memory: %v", err)
	}
	if err := g.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	orig := newNeo4jClient
	t.Cleanup(func() { newNeo4jClient = orig })
	var captured neo4jdb.Config
	newNeo4jClient = func(_ *logger.Logger, c neo4jdb.Config) (*neo4jdb.Client, error) {
		captured = c
		return nil, errors.New("neo4jdb: verify connectivity: connection refused")
	}
	cfg.Graph.Backend = BackendNeo4j
	cfg.Graph.Database = "drugs"
	_, err = openGraph(testLogger(t), cfg)
	if code := bootstrapErrorCode(err); code != BootstrapErrorConnectFailed {
		t.Fatalf("neo4j code: want=%s got=%s", BootstrapErrorConnectFailed, code)
	}
	if captured.Database != "drugs" || captured.URI != "bolt://localhost:7687" {
		t.Fatalf("neo4j config not passed through: %+v", captured)
	}
}
