// Package sqlite implements the comprice vector and structured stores using
// pure-Go SQLite with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nevindra/comprice"
	"github.com/nevindra/comprice/internal/sqlgen"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and row counts. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithCollection scopes vector search to one document collection
// (default "comprice_docs").
func WithCollection(name string) StoreOption {
	return func(s *Store) { s.collection = name }
}

// Store is a VectorStore and StructuredStore backed by a local SQLite file.
// Embeddings are stored as JSON text and vector search is done in-process
// using brute-force cosine similarity.
type Store struct {
	db         *sql.DB
	collection string
	logger     *slog.Logger
}

var (
	_ comprice.VectorStore     = (*Store)(nil)
	_ comprice.StructuredStore = (*Store)(nil)
)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(slog.DiscardHandler)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, collection: "comprice_docs", logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath, "collection", s.collection)
	return s
}

func sqliteType(t comprice.ColumnType) string {
	switch t {
	case comprice.ColumnInt:
		return "INTEGER"
	case comprice.ColumnFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

// Init creates the devices and device_docs tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	stmts := []string{
		sqlgen.CreateDevicesTable(comprice.DeviceSchema, sqliteType, "INTEGER PRIMARY KEY AUTOINCREMENT"),
		`CREATE TABLE IF NOT EXISTS device_docs (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS device_docs_collection ON device_docs(collection)`,
	}
	for _, ddl := range stmts {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	s.logger.Debug("sqlite: init ok", "duration", time.Since(start))
	return nil
}

// UpsertDocs stores docs in the store's collection, replacing any with the
// same ID.
func (s *Store) UpsertDocs(ctx context.Context, docs []comprice.DeviceDoc) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &comprice.StoreError{Store: "sqlite", Op: "upsert docs", Err: err}
	}
	defer tx.Rollback()

	for _, d := range docs {
		var meta any
		if len(d.Metadata) > 0 {
			b, _ := json.Marshal(d.Metadata)
			meta = string(b)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO device_docs (id, collection, content, metadata, embedding) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET collection = excluded.collection, content = excluded.content,
			 metadata = excluded.metadata, embedding = excluded.embedding`,
			d.ID, s.collection, d.Content, meta, serializeEmbedding(d.Embedding))
		if err != nil {
			return &comprice.StoreError{Store: "sqlite", Op: "upsert docs", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &comprice.StoreError{Store: "sqlite", Op: "upsert docs", Err: err}
	}
	s.logger.Debug("sqlite: upsert docs ok", "count", len(docs), "duration", time.Since(start))
	return nil
}

// InsertDevices appends rows to the devices table.
func (s *Store) InsertDevices(ctx context.Context, rows []comprice.Row) error {
	if len(rows) == 0 {
		return nil
	}
	cols, err := sqlgen.InsertColumns(comprice.DeviceSchema, rows)
	if err != nil {
		return err
	}
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &comprice.StoreError{Store: "sqlite", Op: "insert devices", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqlgen.Insert(sqlgen.SQLite, comprice.DeviceSchema.Table, cols))
	if err != nil {
		return &comprice.StoreError{Store: "sqlite", Op: "insert devices", Err: err}
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, sqlgen.Values(r, cols)...); err != nil {
			return &comprice.StoreError{Store: "sqlite", Op: "insert devices", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &comprice.StoreError{Store: "sqlite", Op: "insert devices", Err: err}
	}
	s.logger.Debug("sqlite: insert devices ok", "count", len(rows), "duration", time.Since(start))
	return nil
}

// Search returns the topK documents most similar to embedding.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]comprice.VectorHit, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search", "top_k", topK, "embedding_dim", len(embedding))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, &comprice.StoreError{Store: "sqlite", Op: "search", Err: err}
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx,
		`SELECT id, content, embedding FROM device_docs WHERE collection = ? AND embedding IS NOT NULL`,
		s.collection)
	if err != nil {
		return nil, &comprice.StoreError{Store: "sqlite", Op: "search", Err: err}
	}
	defer rows.Close()

	var hits []comprice.VectorHit
	scanned := 0
	for rows.Next() {
		var h comprice.VectorHit
		var embJSON string
		if err := rows.Scan(&h.ID, &h.Content, &embJSON); err != nil {
			return nil, &comprice.StoreError{Store: "sqlite", Op: "search", Err: fmt.Errorf("scan doc: %w", err)}
		}
		scanned++
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		h.Score = cosineSimilarity(embedding, stored)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, &comprice.StoreError{Store: "sqlite", Op: "search", Err: err}
	}

	comprice.SortHits(hits)
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	s.logger.Debug("sqlite: search ok", "scanned", scanned, "returned", len(hits), "duration", time.Since(start))
	return hits, nil
}

// QueryDevices runs an allow-listed query against the devices table.
func (s *Store) QueryDevices(ctx context.Context, q comprice.DeviceQuery) ([]comprice.Row, error) {
	query, args, cols, err := sqlgen.Select(sqlgen.SQLite, comprice.DeviceSchema, q)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	s.logger.Debug("sqlite: query devices", "sql", query, "args", len(args))

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, &comprice.StoreError{Store: "sqlite", Op: "query devices", Err: err}
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &comprice.StoreError{Store: "sqlite", Op: "query devices", Err: err}
	}
	defer rows.Close()

	out, err := sqlgen.ScanRows(rows, comprice.DeviceSchema, cols)
	if err != nil {
		return nil, &comprice.StoreError{Store: "sqlite", Op: "query devices", Err: err}
	}
	s.logger.Debug("sqlite: query devices ok", "rows", len(out), "duration", time.Since(start))
	return out, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when the vectors differ in length or either is zero.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding converts []float32 to a JSON array string. A nil
// embedding is stored as NULL.
func serializeEmbedding(embedding []float32) any {
	if embedding == nil {
		return nil
	}
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
