// Package postgres implements the comprice vector and structured stores using
// PostgreSQL with pgvector for native vector similarity search.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection.
// The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/comprice"
	"github.com/nevindra/comprice/internal/sqlgen"
)

// Store implements comprice.VectorStore and comprice.StructuredStore backed
// by PostgreSQL with pgvector. Vector search uses an HNSW index with cosine
// distance.
type Store struct {
	pool   *pgxpool.Pool
	cfg    pgConfig
	logger *slog.Logger
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	collection         string
	logger             *slog.Logger
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, catching
// dimension mismatches at insert time. Only affects new table creation.
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter.
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithCollection scopes vector search to one document collection
// (default "comprice_docs").
func WithCollection(name string) Option {
	return func(c *pgConfig) { c.collection = name }
}

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(c *pgConfig) { c.logger = l }
}

var (
	_ comprice.VectorStore     = (*Store)(nil)
	_ comprice.StructuredStore = (*Store)(nil)
)

var nopLogger = slog.New(slog.DiscardHandler)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	cfg := pgConfig{collection: "comprice_docs", logger: nopLogger}
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg, logger: cfg.logger}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

func pgType(t comprice.ColumnType) string {
	switch t {
	case comprice.ColumnInt:
		return "BIGINT"
	case comprice.ColumnFloat:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// Init creates the pgvector extension, the devices and device_docs tables,
// and indexes. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		sqlgen.CreateDevicesTable(comprice.DeviceSchema, pgType, "BIGSERIAL PRIMARY KEY"),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS device_docs (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding %s
		)`, s.vectorType()),
		`CREATE INDEX IF NOT EXISTS device_docs_collection_idx ON device_docs(collection)`,
	}
	// HNSW indexes need a fixed dimension.
	if s.cfg.embeddingDimension > 0 {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS device_docs_embedding_idx ON device_docs USING hnsw (embedding vector_cosine_ops)%s`,
			s.hnswWithClause()))
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// UpsertDocs stores docs in the store's collection, replacing any with the
// same ID.
func (s *Store) UpsertDocs(ctx context.Context, docs []comprice.DeviceDoc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &comprice.StoreError{Store: "postgres", Op: "upsert docs", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, d := range docs {
		var metaJSON *string
		if len(d.Metadata) > 0 {
			data, _ := json.Marshal(d.Metadata)
			v := string(data)
			metaJSON = &v
		}
		var emb *string
		if len(d.Embedding) > 0 {
			v := serializeEmbedding(d.Embedding)
			emb = &v
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO device_docs (id, collection, content, metadata, embedding)
			 VALUES ($1, $2, $3, $4::jsonb, $5::vector)
			 ON CONFLICT (id) DO UPDATE SET
			   collection = EXCLUDED.collection,
			   content = EXCLUDED.content,
			   metadata = EXCLUDED.metadata,
			   embedding = EXCLUDED.embedding`,
			d.ID, s.cfg.collection, d.Content, metaJSON, emb)
		if err != nil {
			return &comprice.StoreError{Store: "postgres", Op: "upsert docs", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &comprice.StoreError{Store: "postgres", Op: "upsert docs", Err: err}
	}
	return nil
}

// InsertDevices appends rows to the devices table using COPY.
func (s *Store) InsertDevices(ctx context.Context, rows []comprice.Row) error {
	if len(rows) == 0 {
		return nil
	}
	cols, err := sqlgen.InsertColumns(comprice.DeviceSchema, rows)
	if err != nil {
		return err
	}
	src := make([][]any, len(rows))
	for i, r := range rows {
		src[i] = sqlgen.Values(r, cols)
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{comprice.DeviceSchema.Table}, cols, pgx.CopyFromRows(src))
	if err != nil {
		return &comprice.StoreError{Store: "postgres", Op: "insert devices", Err: err}
	}
	s.logger.Debug("postgres: insert devices ok", "count", n)
	return nil
}

// Search returns the topK documents nearest to embedding by cosine distance.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]comprice.VectorHit, error) {
	start := time.Now()
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, &comprice.StoreError{Store: "postgres", Op: "search", Err: err}
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
		`SELECT id, content, 1 - (embedding <=> $1::vector) AS score
		 FROM device_docs
		 WHERE collection = $2 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector, id
		 LIMIT $3`,
		serializeEmbedding(embedding), s.cfg.collection, topK)
	if err != nil {
		return nil, &comprice.StoreError{Store: "postgres", Op: "search", Err: err}
	}
	defer rows.Close()

	var hits []comprice.VectorHit
	for rows.Next() {
		var h comprice.VectorHit
		var score float64
		if err := rows.Scan(&h.ID, &h.Content, &score); err != nil {
			return nil, &comprice.StoreError{Store: "postgres", Op: "search", Err: fmt.Errorf("scan doc: %w", err)}
		}
		h.Score = float32(score)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, &comprice.StoreError{Store: "postgres", Op: "search", Err: err}
	}
	comprice.SortHits(hits)
	s.logger.Debug("postgres: search ok", "returned", len(hits), "duration", time.Since(start))
	return hits, nil
}

// QueryDevices runs an allow-listed query against the devices table.
func (s *Store) QueryDevices(ctx context.Context, q comprice.DeviceQuery) ([]comprice.Row, error) {
	query, args, cols, err := sqlgen.Select(sqlgen.Postgres, comprice.DeviceSchema, q)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, &comprice.StoreError{Store: "postgres", Op: "query devices", Err: err}
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, &comprice.StoreError{Store: "postgres", Op: "query devices", Err: err}
	}
	defer rows.Close()

	var out []comprice.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, &comprice.StoreError{Store: "postgres", Op: "query devices", Err: fmt.Errorf("scan row: %w", err)}
		}
		out = append(out, sqlgen.MakeRow(comprice.DeviceSchema, cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, &comprice.StoreError{Store: "postgres", Op: "query devices", Err: err}
	}
	s.logger.Debug("postgres: query devices ok", "rows", len(out), "duration", time.Since(start))
	return out, nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
