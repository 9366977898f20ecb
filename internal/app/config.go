package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/ddigraph/internal/data/graph"
	"github.com/yungbote/ddigraph/internal/ingest"
	"github.com/yungbote/ddigraph/internal/platform/envutil"
	"github.com/yungbote/ddigraph/internal/vectorload"
)

type GraphConfig struct {
	Backend     string        `yaml:"backend"`
	URI         string        `yaml:"uri"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	Database    string        `yaml:"database"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxPoolSize int           `yaml:"max_pool_size"`
	TxTimeout   time.Duration `yaml:"tx_timeout"`
}

type VectorConfig struct {
	Backend           string        `yaml:"backend"`
	QdrantURL         string        `yaml:"qdrant_url"`
	QdrantCollection  string        `yaml:"qdrant_collection"`
	QdrantVectorDim   int           `yaml:"qdrant_vector_dim"`
	QdrantTimeout     time.Duration `yaml:"qdrant_timeout"`
	PgvectorDSN       string        `yaml:"pgvector_dsn"`
	PgvectorTable     string        `yaml:"pgvector_table"`
	PgvectorDim       int           `yaml:"pgvector_dim"`
	UploadBatchSize   int           `yaml:"upload_batch_size"`
	UploadConcurrency int           `yaml:"upload_concurrency"`
	UploadRetries     int           `yaml:"upload_retries"`
}

type CheckpointConfig struct {
	Backend       string `yaml:"backend"`
	File          string `yaml:"file"`
	Key           string `yaml:"key"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	DSN           string `yaml:"dsn"`
}

type IngestConfig struct {
	BatchSize    int    `yaml:"batch_size"`
	BatchRetries int    `yaml:"batch_retries"`
	ErrorLog     string `yaml:"error_log"`
	// Resume is ask, yes, no or abort.
	Resume string `yaml:"resume"`
}

type QueryConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	ScoreThreshold *float64      `yaml:"score_threshold"`
	OverFetch      int           `yaml:"over_fetch"`
	SkipEnrichment bool          `yaml:"skip_enrichment"`
}

type Config struct {
	LogMode     string           `yaml:"log_mode"`
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	Graph       GraphConfig      `yaml:"graph"`
	Vector      VectorConfig     `yaml:"vector"`
	Checkpoint  CheckpointConfig `yaml:"checkpoint"`
	Ingest      IngestConfig     `yaml:"ingest"`
	Query       QueryConfig      `yaml:"query"`
}

func DefaultConfig() Config {
	return Config{
		LogMode:     "development",
		ServiceName: "ddigraph",
		Environment: "local",
		Graph: GraphConfig{
			Backend:     "neo4j",
			URI:         "bolt://localhost:7687",
			User:        "neo4j",
			Timeout:     10 * time.Second,
			MaxPoolSize: 50,
		},
		Vector: VectorConfig{
			Backend:           "qdrant",
			QdrantURL:         "http://localhost:6333",
			QdrantCollection:  "drug_embeddings",
			QdrantTimeout:     30 * time.Second,
			PgvectorTable:     "drug_embeddings",
			UploadBatchSize:   vectorload.DefaultBatchSize,
			UploadConcurrency: vectorload.DefaultConcurrency,
			UploadRetries:     2,
		},
		Checkpoint: CheckpointConfig{
			Backend: "file",
			File:    "ingestion_checkpoint.json",
			Key:     "ddigraph:ingest:checkpoint",
		},
		Ingest: IngestConfig{
			BatchSize:    ingest.DefaultBatchSize,
			BatchRetries: ingest.DefaultBatchRetries,
			ErrorLog:     ingest.DefaultErrorLog,
			Resume:       "ask",
		},
	}
}

// LoadConfig layers defaults, an optional YAML file, a .env file when one
// exists, then the process environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("app: read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("app: parse config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("app: load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.LogMode = envutil.String("LOG_MODE", c.LogMode)
	c.ServiceName = envutil.String("OTEL_SERVICE_NAME", c.ServiceName)
	c.Environment = envutil.String("APP_ENV", c.Environment)

	g := &c.Graph
	g.Backend = strings.ToLower(envutil.String("GRAPH_BACKEND", g.Backend))
	g.URI = envutil.String("NEO4J_URI", g.URI)
	g.User = envutil.String("NEO4J_USER", g.User)
	g.Password = envutil.String("NEO4J_PASSWORD", g.Password)
	g.Database = envutil.String("NEO4J_DATABASE", g.Database)
	g.Timeout = envutil.Duration("NEO4J_TIMEOUT_SECONDS", g.Timeout)
	g.MaxPoolSize = envutil.Int("NEO4J_MAX_POOL_SIZE", g.MaxPoolSize)
	g.TxTimeout = envutil.Duration("GRAPH_TX_TIMEOUT", g.TxTimeout)

	v := &c.Vector
	v.Backend = strings.ToLower(envutil.String("VECTOR_BACKEND", v.Backend))
	v.QdrantURL = envutil.String("QDRANT_URL", v.QdrantURL)
	v.QdrantCollection = envutil.String("QDRANT_COLLECTION", v.QdrantCollection)
	v.QdrantVectorDim = envutil.Int("QDRANT_VECTOR_DIM", v.QdrantVectorDim)
	v.QdrantTimeout = envutil.Duration("QDRANT_TIMEOUT", v.QdrantTimeout)
	v.PgvectorDSN = envutil.String("PGVECTOR_DSN", v.PgvectorDSN)
	v.PgvectorTable = envutil.String("PGVECTOR_TABLE", v.PgvectorTable)
	v.PgvectorDim = envutil.Int("PGVECTOR_DIM", v.PgvectorDim)
	v.UploadBatchSize = envutil.Int("VECTOR_UPLOAD_BATCH_SIZE", v.UploadBatchSize)
	v.UploadConcurrency = envutil.Int("VECTOR_UPLOAD_CONCURRENCY", v.UploadConcurrency)
	v.UploadRetries = envutil.Int("VECTOR_UPLOAD_RETRIES", v.UploadRetries)

	cp := &c.Checkpoint
	cp.Backend = strings.ToLower(envutil.String("CHECKPOINT_BACKEND", cp.Backend))
	cp.File = envutil.String("CHECKPOINT_FILE", cp.File)
	cp.Key = envutil.String("CHECKPOINT_KEY", cp.Key)
	cp.RedisAddr = envutil.String("REDIS_ADDR", cp.RedisAddr)
	cp.RedisPassword = envutil.String("REDIS_PASSWORD", cp.RedisPassword)
	cp.RedisDB = envutil.Int("REDIS_DB", cp.RedisDB)
	cp.DSN = envutil.String("CHECKPOINT_DSN", cp.DSN)

	in := &c.Ingest
	in.BatchSize = envutil.Int("INGEST_BATCH_SIZE", in.BatchSize)
	in.BatchRetries = envutil.Int("INGEST_BATCH_RETRIES", in.BatchRetries)
	in.ErrorLog = envutil.String("INGEST_ERROR_LOG", in.ErrorLog)
	in.Resume = strings.ToLower(envutil.String("INGEST_RESUME", in.Resume))

	q := &c.Query
	q.Timeout = envutil.Duration("QUERY_TIMEOUT", q.Timeout)
	q.OverFetch = envutil.Int("SIMILARITY_OVER_FETCH", q.OverFetch)
	q.SkipEnrichment = envutil.Bool("QUERY_SKIP_ENRICHMENT", q.SkipEnrichment)
	if raw := envutil.String("SIMILARITY_SCORE_THRESHOLD", ""); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("app: invalid SIMILARITY_SCORE_THRESHOLD=%q", raw)
		}
		q.ScoreThreshold = &f
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Graph.Backend {
	case BackendNeo4j, BackendMemory:
	default:
		return fmt.Errorf("app: unsupported GRAPH_BACKEND %q", c.Graph.Backend)
	}
	switch c.Vector.Backend {
	case BackendQdrant, BackendPgvector, BackendMemory:
	default:
		return fmt.Errorf("app: unsupported VECTOR_BACKEND %q", c.Vector.Backend)
	}
	switch c.Checkpoint.Backend {
	case CheckpointFile, CheckpointRedis, CheckpointSQLite, CheckpointPostgres:
	default:
		return fmt.Errorf("app: unsupported CHECKPOINT_BACKEND %q", c.Checkpoint.Backend)
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("app: INGEST_BATCH_SIZE must be positive, got %d", c.Ingest.BatchSize)
	}
	return nil
}

func (c Config) IngestOptions() ingest.Options {
	return ingest.Options{
		BatchSize:    c.Ingest.BatchSize,
		BatchRetries: c.Ingest.BatchRetries,
		TxTimeout:    c.Graph.TxTimeout,
		ErrorLogPath: c.Ingest.ErrorLog,
	}
}

func (c Config) Neo4jOptions() graph.Neo4jOptions {
	return graph.Neo4jOptions{TxTimeout: c.Graph.TxTimeout}
}

func (c Config) LoaderOptions() vectorload.Options {
	dim := c.Vector.QdrantVectorDim
	if c.Vector.Backend == BackendPgvector {
		dim = c.Vector.PgvectorDim
	}
	return vectorload.Options{
		BatchSize:    c.Vector.UploadBatchSize,
		Concurrency:  c.Vector.UploadConcurrency,
		ExpectedDim:  dim,
		BatchRetries: c.Vector.UploadRetries,
	}
}
