// Package duckdb implements comprice.StructuredStore on an embedded DuckDB
// database. It suits read-mostly device catalogues that are bulk loaded
// from CSV exports.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"github.com/nevindra/comprice"
	"github.com/nevindra/comprice/internal/sqlgen"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is a StructuredStore backed by DuckDB.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ comprice.StructuredStore = (*Store)(nil)

var nopLogger = slog.New(slog.DiscardHandler)

// Open opens the DuckDB database at dsn (a file path or ":memory:") and
// verifies it responds.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("duckdb: ping: %w", err)
	}
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func duckType(t comprice.ColumnType) string {
	switch t {
	case comprice.ColumnInt:
		return "BIGINT"
	case comprice.ColumnFloat:
		return "DOUBLE"
	default:
		return "VARCHAR"
	}
}

// Init creates the devices table and its id sequence.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS devices_id_seq START 1`,
		sqlgen.CreateDevicesTable(comprice.DeviceSchema, duckType, "BIGINT PRIMARY KEY DEFAULT nextval('devices_id_seq')"),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("duckdb: init: %w", err)
		}
	}
	return nil
}

// InsertDevices appends rows to the devices table in one transaction.
func (s *Store) InsertDevices(ctx context.Context, rows []comprice.Row) error {
	if len(rows) == 0 {
		return nil
	}
	cols, err := sqlgen.InsertColumns(comprice.DeviceSchema, rows)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &comprice.StoreError{Store: "duckdb", Op: "insert devices", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqlgen.Insert(sqlgen.DuckDB, comprice.DeviceSchema.Table, cols))
	if err != nil {
		return &comprice.StoreError{Store: "duckdb", Op: "insert devices", Err: err}
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, sqlgen.Values(r, cols)...); err != nil {
			return &comprice.StoreError{Store: "duckdb", Op: "insert devices", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &comprice.StoreError{Store: "duckdb", Op: "insert devices", Err: err}
	}
	return nil
}

// ImportCSV loads a CSV file whose header names device columns. Columns in
// the file that are not part of the device schema are ignored. It returns
// the number of rows imported.
func (s *Store) ImportCSV(ctx context.Context, path string) (int64, error) {
	start := time.Now()
	header, err := s.csvColumns(ctx, path)
	if err != nil {
		return 0, &comprice.StoreError{Store: "duckdb", Op: "import csv", Err: err}
	}
	var cols []string
	for _, c := range header {
		if c == "id" {
			continue
		}
		if _, ok := comprice.DeviceSchema.Column(c); ok {
			cols = append(cols, sqlgen.Quote(c))
		}
	}
	if len(cols) == 0 {
		return 0, &comprice.SchemaError{Column: path, Message: "csv has no device columns"}
	}
	list := strings.Join(cols, ", ")
	query := fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM read_csv_auto(?, header = true)`,
		sqlgen.Quote(comprice.DeviceSchema.Table), list, list)
	res, err := s.db.ExecContext(ctx, query, path)
	if err != nil {
		return 0, &comprice.StoreError{Store: "duckdb", Op: "import csv", Err: err}
	}
	n, _ := res.RowsAffected()
	s.logger.Info("duckdb: csv imported", "path", path, "rows", n, "columns", len(cols), "duration", time.Since(start))
	return n, nil
}

func (s *Store) csvColumns(ctx context.Context, path string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT * FROM read_csv_auto(?, header = true) LIMIT 0`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Columns()
}

// QueryDevices runs an allow-listed query against the devices table.
func (s *Store) QueryDevices(ctx context.Context, q comprice.DeviceQuery) ([]comprice.Row, error) {
	query, args, cols, err := sqlgen.Select(sqlgen.DuckDB, comprice.DeviceSchema, q)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &comprice.StoreError{Store: "duckdb", Op: "query devices", Err: err}
	}
	defer rows.Close()

	out, err := sqlgen.ScanRows(rows, comprice.DeviceSchema, cols)
	if err != nil {
		return nil, &comprice.StoreError{Store: "duckdb", Op: "query devices", Err: err}
	}
	s.logger.Debug("duckdb: query devices ok", "rows", len(out), "duration", time.Since(start))
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
