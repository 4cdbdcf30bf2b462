// Package warehouse wraps an embedded DuckDB database used by the ingest and
// preprocess stages to load, reshape and export tabular data.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Column describes a column of a warehouse table.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// DB is a DuckDB connection.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to DuckDB at path. An empty path or ":memory:" opens an
// in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create warehouse directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	return New(db, logger), nil
}

// New wraps an existing connection.
func New(db *sql.DB, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DB{db: db, logger: logger}
}

// Close closes the connection.
func (w *DB) Close() error {
	if w.db != nil {
		return w.db.Close()
	}
	return nil
}

// Exec executes a statement that doesn't return rows.
func (w *DB) Exec(ctx context.Context, query string, args ...any) error {
	if w.db == nil {
		return fmt.Errorf("database connection not established")
	}
	w.logger.Debug("warehouse exec", "sql", query)
	if _, err := w.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Query executes a statement that returns rows. The caller closes the rows
// and checks rows.Err.
func (w *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if w.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	w.logger.Debug("warehouse query", "sql", query)
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return rows, nil
}

// LoadCSV replaces table with the contents of a CSV file with a header row.
// Column types are inferred by DuckDB.
func (w *DB) LoadCSV(ctx context.Context, table, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s, header=true)",
		QuoteIdent(table), quoteLiteral(absPath),
	)
	if err := w.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to load CSV %s: %w", path, err)
	}
	return nil
}

// ExportCSV writes the result of query to path as CSV with a header row,
// creating parent directories.
func (w *DB) ExportCSV(ctx context.Context, query, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	stmt := fmt.Sprintf("COPY (%s) TO %s (HEADER, DELIMITER ',')", query, quoteLiteral(absPath))
	if err := w.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to export CSV %s: %w", path, err)
	}
	return nil
}

// Columns returns the columns of table in ordinal order.
func (w *DB) Columns(ctx context.Context, table string) ([]Column, error) {
	schema := "main"
	name := table
	if parts := strings.Split(table, "."); len(parts) == 2 {
		schema, name = parts[0], parts[1]
	}

	rows, err := w.Query(ctx, `
		SELECT column_name, data_type, is_nullable, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return columns, nil
}

// RowCount returns the number of rows in table.
func (w *DB) RowCount(ctx context.Context, table string) (int64, error) {
	if w.db == nil {
		return 0, fmt.Errorf("database connection not established")
	}
	var n int64
	//nolint:gosec // table names come from stage configuration
	if err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+QuoteIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return n, nil
}

// QuoteIdent quotes an identifier for use in SQL.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
