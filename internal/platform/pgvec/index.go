// Package pgvec stores drug embeddings in a Postgres table using the
// pgvector extension.
package pgvec

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/yungbote/ddigraph/internal/platform/envutil"
	"github.com/yungbote/ddigraph/internal/platform/logger"
	"github.com/yungbote/ddigraph/internal/vectorindex"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type Config struct {
	DSN       string
	Table     string
	VectorDim int
}

func ResolveConfigFromEnv() Config {
	return Config{
		DSN:       envutil.String("PGVECTOR_DSN", ""),
		Table:     envutil.String("PGVECTOR_TABLE", "drug_embeddings"),
		VectorDim: envutil.Int("PGVECTOR_DIM", 0),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return errors.New("pgvec: PGVECTOR_DSN is required")
	}
	if !tableNamePattern.MatchString(c.Table) {
		return fmt.Errorf("pgvec: invalid table name %q", c.Table)
	}
	if c.VectorDim < 0 {
		return fmt.Errorf("pgvec: invalid vector dimension %d", c.VectorDim)
	}
	return nil
}

var _ vectorindex.Index = (*Index)(nil)

type Index struct {
	log   *logger.Logger
	pool  *pgxpool.Pool
	table string
	dim   int
}

// Open makes sure the vector extension exists, then opens a pool whose
// connections have the pgvector types registered.
func Open(ctx context.Context, log *logger.Logger, cfg Config) (*Index, error) {
	if log == nil {
		return nil, errors.New("pgvec: logger required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bootstrap, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvec: connect: %w", err)
	}
	_, err = bootstrap.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	_ = bootstrap.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgvec: create extension: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvec: parse dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgvec: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvec: ping: %w", err)
	}

	idx := &Index{
		log:   log.With("service", "PgvectorIndex"),
		pool:  pool,
		table: pgx.Identifier{cfg.Table}.Sanitize(),
		dim:   cfg.VectorDim,
	}
	if dim, ok, err := idx.tableDim(ctx); err != nil {
		pool.Close()
		return nil, err
	} else if ok {
		if cfg.VectorDim > 0 && dim != cfg.VectorDim {
			pool.Close()
			return nil, fmt.Errorf("%w: table %s dim=%d configured=%d", vectorindex.ErrDimensionMismatch, cfg.Table, dim, cfg.VectorDim)
		}
		idx.dim = dim
	}
	log.Info("pgvector index selected", "provider", "pgvector", "table", cfg.Table, "vector_dim", idx.dim)
	return idx, nil
}

func (i *Index) Close() {
	if i != nil && i.pool != nil {
		i.pool.Close()
	}
}

func (i *Index) EnsureCollection(ctx context.Context, dim int, recreate bool) (bool, error) {
	if dim <= 0 {
		return false, fmt.Errorf("pgvec: dimension must be positive, got %d", dim)
	}
	if recreate {
		i.log.Warn("Dropping existing embeddings table", "table", i.table)
		if _, err := i.pool.Exec(ctx, "DROP TABLE IF EXISTS "+i.table); err != nil {
			return false, fmt.Errorf("pgvec: drop table: %w", err)
		}
	}
	existing, ok, err := i.tableDim(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		if existing != dim {
			return false, fmt.Errorf("%w: table %s dim=%d requested=%d", vectorindex.ErrDimensionMismatch, i.table, existing, dim)
		}
		i.dim = dim
		return false, nil
	}
	if _, err := i.pool.Exec(ctx, createTableSQL(i.table, dim)); err != nil {
		return false, fmt.Errorf("pgvec: create table: %w", err)
	}
	i.dim = dim
	i.log.Info("Created embeddings table", "table", i.table, "vector_dim", dim)
	return true, nil
}

func (i *Index) Upsert(ctx context.Context, points []vectorindex.Point) error {
	if len(points) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	stmt := upsertSQL(i.table)
	for _, p := range points {
		if i.dim > 0 && len(p.Vector) != i.dim {
			return fmt.Errorf("%w: point %d expected=%d got=%d", vectorindex.ErrDimensionMismatch, p.ID, i.dim, len(p.Vector))
		}
		batch.Queue(stmt, int64(p.ID), pgvector.NewVector(p.Vector), p.Payload.DrugName, p.Payload.DrugID, p.Payload.UploadTimestamp)
	}
	br := i.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range points {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("pgvec: upsert: %w", err)
		}
	}
	return nil
}

func (i *Index) Search(ctx context.Context, req vectorindex.SearchRequest) ([]vectorindex.Match, error) {
	if i.dim > 0 && len(req.Vector) != i.dim {
		return nil, fmt.Errorf("%w: query expected=%d got=%d", vectorindex.ErrDimensionMismatch, i.dim, len(req.Vector))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	args := []any{pgvector.NewVector(req.Vector), limit}
	if req.ScoreThreshold != nil {
		args = append(args, *req.ScoreThreshold)
	}
	rows, err := i.pool.Query(ctx, searchSQL(i.table, req.ScoreThreshold != nil), args...)
	if err != nil {
		return nil, fmt.Errorf("pgvec: search: %w", err)
	}
	defer rows.Close()

	var out []vectorindex.Match
	for rows.Next() {
		var (
			id    int64
			m     vectorindex.Match
			stamp *string
		)
		if err := rows.Scan(&id, &m.Payload.DrugName, &m.Payload.DrugID, &stamp, &m.Score); err != nil {
			return nil, fmt.Errorf("pgvec: scan match: %w", err)
		}
		m.ID = uint64(id)
		if stamp != nil {
			m.Payload.UploadTimestamp = *stamp
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (i *Index) Scroll(ctx context.Context, req vectorindex.ScrollRequest) (vectorindex.ScrollPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = vectorindex.DefaultScrollPageSize
	}
	var from int64
	if req.Offset != nil {
		from = int64(*req.Offset)
	}
	rows, err := i.pool.Query(ctx, scrollSQL(i.table, req.WithVector), from, limit+1)
	if err != nil {
		return vectorindex.ScrollPage{}, fmt.Errorf("pgvec: scroll: %w", err)
	}
	defer rows.Close()

	var page vectorindex.ScrollPage
	for rows.Next() {
		var (
			id    int64
			p     vectorindex.Point
			stamp *string
			vec   pgvector.Vector
		)
		dest := []any{&id, &p.Payload.DrugName, &p.Payload.DrugID, &stamp}
		if req.WithVector {
			dest = append(dest, &vec)
		}
		if err := rows.Scan(dest...); err != nil {
			return vectorindex.ScrollPage{}, fmt.Errorf("pgvec: scan point: %w", err)
		}
		if len(page.Points) == limit {
			next := uint64(id)
			page.NextOffset = &next
			break
		}
		p.ID = uint64(id)
		if stamp != nil {
			p.Payload.UploadTimestamp = *stamp
		}
		if req.WithVector {
			p.Vector = vec.Slice()
		}
		page.Points = append(page.Points, p)
	}
	return page, rows.Err()
}

func (i *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := i.pool.QueryRow(ctx, "SELECT count(*) FROM "+i.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgvec: count: %w", err)
	}
	return n, nil
}

// tableDim reads the declared vector(N) width of the embedding column.
func (i *Index) tableDim(ctx context.Context) (int, bool, error) {
	var dim *int
	err := i.pool.QueryRow(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		WHERE a.attrelid = to_regclass($1) AND a.attname = 'embedding' AND NOT a.attisdropped
	`, i.table).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("pgvec: inspect table: %w", err)
	}
	if dim == nil {
		return 0, false, nil
	}
	return *dim, true, nil
}

func createTableSQL(table string, dim int) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGINT PRIMARY KEY,
	embedding vector(%d) NOT NULL,
	drug_name TEXT NOT NULL,
	drug_id TEXT NOT NULL,
	upload_timestamp TEXT
)`, table, dim)
}

func upsertSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (id, embedding, drug_name, drug_id, upload_timestamp)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	embedding = EXCLUDED.embedding,
	drug_name = EXCLUDED.drug_name,
	drug_id = EXCLUDED.drug_id,
	upload_timestamp = EXCLUDED.upload_timestamp`, table)
}

func searchSQL(table string, withThreshold bool) string {
	where := ""
	if withThreshold {
		where = "WHERE 1 - (embedding <=> $1) >= $3\n"
	}
	return fmt.Sprintf(`SELECT id, drug_name, drug_id, upload_timestamp, 1 - (embedding <=> $1) AS score
FROM %s
%sORDER BY embedding <=> $1, id
LIMIT $2`, table, where)
}

func scrollSQL(table string, withVector bool) string {
	cols := "id, drug_name, drug_id, upload_timestamp"
	if withVector {
		cols += ", embedding"
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE id >= $1 ORDER BY id LIMIT $2", cols, table)
}
