package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/ddigraph/internal/checkpoint"
	redisclient "github.com/yungbote/ddigraph/internal/clients/redis"
	"github.com/yungbote/ddigraph/internal/data/db"
	"github.com/yungbote/ddigraph/internal/data/graph"
	"github.com/yungbote/ddigraph/internal/platform/logger"
	"github.com/yungbote/ddigraph/internal/platform/neo4jdb"
)

const (
	CheckpointFile     = "file"
	CheckpointRedis    = "redis"
	CheckpointSQLite   = "sqlite"
	CheckpointPostgres = "postgres"
)

var newNeo4jClient = neo4jdb.New

func openGraph(log *logger.Logger, cfg Config) (graph.Store, error) {
	backend := strings.TrimSpace(strings.ToLower(cfg.Graph.Backend))
	switch backend {
	case BackendNeo4j:
		log.Info("Selecting graph backend", "backend", backend, "uri", cfg.Graph.URI, "database", cfg.Graph.Database)
		client, err := newNeo4jClient(log, neo4jdb.Config{
			URI:         cfg.Graph.URI,
			User:        cfg.Graph.User,
			Password:    cfg.Graph.Password,
			Database:    cfg.Graph.Database,
			Timeout:     cfg.Graph.Timeout,
			MaxPoolSize: cfg.Graph.MaxPoolSize,
		})
		if err != nil {
			classified := classifyBootstrapError("graph", backend, err)
			log.Error("Graph backend bootstrap failed", "backend", backend, "error_code", bootstrapErrorCode(classified), "error", classified)
			return nil, classified
		}
		store, err := graph.NewNeo4jStore(client, log, cfg.Neo4jOptions())
		if err != nil {
			_ = client.Close(context.Background())
			return nil, classifyBootstrapError("graph", backend, err)
		}
		return graph.Instrument(backend, store, log), nil

	case BackendMemory:
		log.Warn("Using in-memory graph store; data is lost on exit")
		return graph.Instrument(backend, graph.NewMemoryStore(), log), nil

	default:
		return nil, &BootstrapError{
			Code:    BootstrapErrorInvalidBackend,
			Concern: "graph",
			Backend: backend,
			Cause:   fmt.Errorf("unsupported graph backend %q", backend),
		}
	}
}

// openCheckpointStore returns the configured snapshot store and an optional
// close func for the connection behind it.
func openCheckpointStore(log *logger.Logger, cfg CheckpointConfig) (checkpoint.Store, func(), error) {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	log.Info("Selecting checkpoint backend", "backend", backend, "key", cfg.Key)

	switch backend {
	case CheckpointFile:
		path := cfg.File
		if path == "" {
			path = DefaultConfig().Checkpoint.File
		}
		return checkpoint.NewFileStore(path), nil, nil

	case CheckpointRedis:
		rdb, err := redisclient.NewClient(log, redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, classifyBootstrapError("checkpoint", backend, err)
		}
		return checkpoint.NewRedisStore(rdb, cfg.Key), func() { _ = rdb.Close() }, nil

	case CheckpointSQLite, CheckpointPostgres:
		gdb, err := db.Open(log, db.Config{Driver: backend, DSN: cfg.DSN})
		if err != nil {
			return nil, nil, classifyBootstrapError("checkpoint", backend, err)
		}
		closeFn := func() {
			if sqlDB, err := gdb.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		store, err := checkpoint.NewGormStore(gdb, cfg.Key)
		if err != nil {
			closeFn()
			return nil, nil, classifyBootstrapError("checkpoint", backend, err)
		}
		return store, closeFn, nil

	default:
		return nil, nil, &BootstrapError{
			Code:    BootstrapErrorInvalidBackend,
			Concern: "checkpoint",
			Backend: backend,
			Cause:   fmt.Errorf("unsupported checkpoint backend %q", backend),
		}
	}
}
