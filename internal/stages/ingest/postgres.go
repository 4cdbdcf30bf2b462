package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultQuery = `SELECT "Date", "Open", "High", "Low", "Close", "Adj Close", "Volume" FROM stock_prices ORDER BY "Date"`

// fetchPostgres runs the configured query and writes the result to a CSV
// in the work directory.
func (s *Stage) fetchPostgres(ctx context.Context) (string, error) {
	if s.cfg.DSN == "" {
		return "", fmt.Errorf("postgres source requires ingest.dsn")
	}
	query := s.cfg.Query
	if query == "" {
		query = defaultQuery
	}

	pool, err := pgxpool.New(ctx, s.cfg.DSN)
	if err != nil {
		return "", fmt.Errorf("failed to create postgres pool: %w", err)
	}
	defer pool.Close()

	s.logger.Info("querying postgres", slog.String("query", query))

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to query postgres: %w", err)
	}
	defer rows.Close()

	local := filepath.Join(s.cfg.WorkDir, "postgres_export.csv")
	if err := os.MkdirAll(filepath.Dir(local), 0o750); err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", local, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	fields := rows.FieldDescriptions()
	header := make([]string, len(fields))
	for i, fd := range fields {
		header[i] = fd.Name
	}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(fields))
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return "", fmt.Errorf("failed to read row: %w", err)
		}
		for i, v := range values {
			record[i] = formatValue(v)
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("failed to write row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to read rows: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush %s: %w", local, err)
	}
	return local, f.Close()
}

// formatValue renders a decoded Postgres value as a CSV cell. NULL becomes
// an empty cell.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case pgtype.Numeric:
		if !x.Valid {
			return ""
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return ""
		}
		return strconv.FormatFloat(f.Float64, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
