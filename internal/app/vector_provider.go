package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	neturl "net/url"
	"strings"

	"github.com/yungbote/ddigraph/internal/platform/logger"
	"github.com/yungbote/ddigraph/internal/platform/pgvec"
	"github.com/yungbote/ddigraph/internal/platform/qdrant"
	"github.com/yungbote/ddigraph/internal/vectorindex"
)

const (
	BackendNeo4j    = "neo4j"
	BackendMemory   = "memory"
	BackendQdrant   = "qdrant"
	BackendPgvector = "pgvector"
)

var (
	newQdrantIndex   = qdrant.NewIndex
	newPgvectorIndex = func(ctx context.Context, log *logger.Logger, cfg pgvec.Config) (vectorindex.Index, func(), error) {
		idx, err := pgvec.Open(ctx, log, cfg)
		if err != nil {
			return nil, nil, err
		}
		return idx, idx.Close, nil
	}
)

type BootstrapErrorCode string

const (
	BootstrapErrorInvalidBackend      BootstrapErrorCode = "invalid_backend"
	BootstrapErrorMissingQdrantURL    BootstrapErrorCode = "missing_qdrant_url"
	BootstrapErrorInvalidQdrantURL    BootstrapErrorCode = "invalid_qdrant_url"
	BootstrapErrorMissingQdrantColl   BootstrapErrorCode = "missing_qdrant_collection"
	BootstrapErrorInvalidQdrantVector BootstrapErrorCode = "invalid_qdrant_vector_dim"
	BootstrapErrorQdrantConfigFailed  BootstrapErrorCode = "qdrant_config_failed"
	BootstrapErrorConnectFailed       BootstrapErrorCode = "connect_failed"
	BootstrapErrorProviderInitFailed  BootstrapErrorCode = "provider_init_failed"
)

// BootstrapError reports a backend that could not be selected or opened.
type BootstrapError struct {
	Code    BootstrapErrorCode
	Concern string
	Backend string
	Cause   error
}

func (e *BootstrapError) Error() string {
	if e == nil {
		return "backend bootstrap failed"
	}
	return fmt.Sprintf(
		"%s backend bootstrap failed (code=%s backend=%q): %v",
		e.Concern,
		e.Code,
		e.Backend,
		e.Cause,
	)
}

func (e *BootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// openVectorIndex returns the configured index wrapped for tracing and an
// optional close func.
func openVectorIndex(ctx context.Context, log *logger.Logger, cfg VectorConfig) (vectorindex.Index, func(), error) {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))

	switch backend {
	case BackendQdrant:
		log.Info(
			"Selecting vector index backend",
			"backend", backend,
			"qdrant_url", cfg.QdrantURL,
			"qdrant_collection", cfg.QdrantCollection,
			"qdrant_vector_dim", cfg.QdrantVectorDim,
		)
		idx, err := newQdrantIndex(log, qdrant.Config{
			URL:        strings.TrimSpace(cfg.QdrantURL),
			Collection: strings.TrimSpace(cfg.QdrantCollection),
			VectorDim:  cfg.QdrantVectorDim,
			Timeout:    cfg.QdrantTimeout,
		})
		if err != nil {
			classified := classifyBootstrapError("vector", backend, err)
			log.Error("Vector index bootstrap failed", "backend", backend, "error_code", bootstrapErrorCode(classified), "error", classified)
			return nil, nil, classified
		}
		return vectorindex.Instrument(backend, idx, log), nil, nil

	case BackendPgvector:
		log.Info("Selecting vector index backend", "backend", backend, "table", cfg.PgvectorTable, "dsn", cfg.PgvectorDSN)
		idx, closeFn, err := newPgvectorIndex(ctx, log, pgvec.Config{
			DSN:       strings.TrimSpace(cfg.PgvectorDSN),
			Table:     strings.TrimSpace(cfg.PgvectorTable),
			VectorDim: cfg.PgvectorDim,
		})
		if err != nil {
			classified := classifyBootstrapError("vector", backend, err)
			log.Error("Vector index bootstrap failed", "backend", backend, "error_code", bootstrapErrorCode(classified), "error", classified)
			return nil, nil, classified
		}
		return vectorindex.Instrument(backend, idx, log), closeFn, nil

	case BackendMemory:
		log.Warn("Using in-memory vector index; data is lost on exit")
		return vectorindex.Instrument(backend, vectorindex.NewMemory(), log), nil, nil

	default:
		err := &BootstrapError{
			Code:    BootstrapErrorInvalidBackend,
			Concern: "vector",
			Backend: backend,
			Cause:   fmt.Errorf("unsupported vector backend %q", backend),
		}
		log.Error("Vector index selection failed", "backend", backend, "error_code", err.Code, "error", err)
		return nil, nil, err
	}
}

func classifyBootstrapError(concern, backend string, err error) error {
	code := BootstrapErrorProviderInitFailed

	var urlErr *neturl.Error
	var netErr net.Error
	var cfgErr *qdrant.ConfigError
	errLower := strings.ToLower(err.Error())
	switch {
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		code = BootstrapErrorConnectFailed
	case strings.Contains(errLower, "ready check failed"), strings.Contains(errLower, "connection refused"):
		code = BootstrapErrorConnectFailed
	case errors.As(err, &cfgErr):
		switch cfgErr.Code {
		case qdrant.ConfigErrorMissingURL:
			code = BootstrapErrorMissingQdrantURL
		case qdrant.ConfigErrorInvalidURL:
			code = BootstrapErrorInvalidQdrantURL
		case qdrant.ConfigErrorMissingCollection:
			code = BootstrapErrorMissingQdrantColl
		case qdrant.ConfigErrorInvalidVectorDim:
			code = BootstrapErrorInvalidQdrantVector
		default:
			code = BootstrapErrorQdrantConfigFailed
		}
	}
	return &BootstrapError{Code: code, Concern: concern, Backend: backend, Cause: err}
}

func bootstrapErrorCode(err error) BootstrapErrorCode {
	var bootstrapErr *BootstrapError
	if errors.As(err, &bootstrapErr) {
		if bootstrapErr.Code != "" {
			return bootstrapErr.Code
		}
	}
	return BootstrapErrorConnectFailed
}
