package warehouse

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapml/internal/testutil"
)

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"Adj Close"`, QuoteIdent("Adj Close"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
}

func TestLoadCSV_StatementShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	w := New(db, testutil.NewTestLogger(t))
	defer func() { _ = w.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`CREATE OR REPLACE TABLE "raw_prices" AS SELECT * FROM read_csv_auto('`)).
		WillReturnResult(sqlmock.NewResult(0, 12))

	require.NoError(t, w.LoadCSV(context.Background(), "raw_prices", "data/prices.csv"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportCSV_WrapsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	w := New(db, nil)
	defer func() { _ = w.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`COPY (SELECT 1) TO '`)).
		WillReturnError(errors.New("disk full"))

	err = w.ExportCSV(context.Background(), "SELECT 1", filepath.Join(t.TempDir(), "out.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	w := New(db, nil)
	defer func() { _ = w.Close() }()

	rows := sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"}).
		AddRow("Date", "DATE", "YES", 1).
		AddRow("Close", "DOUBLE", "NO", 2)
	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("main", "raw_prices").
		WillReturnRows(rows)

	cols, err := w.Columns(context.Background(), "raw_prices")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "Date", cols[0].Name)
	assert.True(t, cols[0].Nullable)
	assert.False(t, cols[1].Nullable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestColumns_MissingTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	w := New(db, nil)
	defer func() { _ = w.Close() }()

	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("staging", "nope").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"}))

	_, err = w.Columns(context.Background(), "staging.nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDuckDB_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := testutil.WriteFile(t, dir, "prices.csv", testutil.PricesCSV)

	w, err := Open(ctx, "", testutil.NewTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, w.LoadCSV(ctx, "raw_prices", src))

	n, err := w.RowCount(ctx, "raw_prices")
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	cols, err := w.Columns(ctx, "raw_prices")
	require.NoError(t, err)
	assert.Equal(t, "Adj Close", cols[5].Name)

	out := filepath.Join(dir, "export", "close.csv")
	require.NoError(t, w.ExportCSV(ctx, `SELECT "Close" FROM raw_prices ORDER BY "Date" LIMIT 2`, out))
	assert.FileExists(t, out)
}
