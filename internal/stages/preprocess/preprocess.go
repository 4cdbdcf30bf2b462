// Package preprocess turns the feature store into model-ready data: date
// parts are derived, gaps are filled with column medians, and the rows are
// split into train and test sets.
package preprocess

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapml/internal/dataset"
	"github.com/leapstack-labs/leapml/internal/model"
	"github.com/leapstack-labs/leapml/internal/objectstore"
	"github.com/leapstack-labs/leapml/internal/pipeline"
	"github.com/leapstack-labs/leapml/internal/warehouse"
)

// ProcessedColumns is the column order of the processed CSV.
var ProcessedColumns = []string{"Open", "High", "Low", "Close", "Adj_Close", "Volume", "year", "month", "day"}

// priceColumns are numeric inputs whose gaps are filled with the median.
var priceColumns = []string{"Open", "High", "Low", "Close", "Adj_Close", "Volume"}

// Config configures the preprocess stage.
type Config struct {
	FeatureStore  string  `koanf:"feature_store"`
	ProcessedPath string  `koanf:"processed_data_path"`
	ProcessedKey  string  `koanf:"processed_key"`
	SplitDir      string  `koanf:"split_dir"`
	SplitPrefix   string  `koanf:"split_prefix"`
	TestSize      float64 `koanf:"test_size"`
	Seed          uint64  `koanf:"seed"`
	Warehouse     string  `koanf:"warehouse"`
}

// Stage implements pipeline.Stage for the preprocess step.
type Stage struct {
	cfg    Config
	store  objectstore.Store
	logger *slog.Logger
}

var _ pipeline.Stage = (*Stage)(nil)

// New creates the preprocess stage.
func New(cfg Config, store objectstore.Store, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.TestSize == 0 {
		cfg.TestSize = 0.25
	}
	return &Stage{cfg: cfg, store: store, logger: logger.With(slog.String("stage", pipeline.StagePreprocess))}
}

// Name returns the stage name.
func (s *Stage) Name() string { return pipeline.StagePreprocess }

// Run processes the feature store, splits it and uploads every output.
func (s *Stage) Run(ctx context.Context) (pipeline.Result, error) {
	frame, err := s.Process(ctx)
	if err != nil {
		return pipeline.Result{}, err
	}
	if err := objectstore.PutFile(ctx, s.store, s.cfg.ProcessedKey, s.cfg.ProcessedPath); err != nil {
		return pipeline.Result{}, err
	}

	paths, err := s.Split(frame)
	if err != nil {
		return pipeline.Result{}, err
	}
	for _, name := range dataset.SplitFiles {
		key := objectstore.Join(s.cfg.SplitPrefix, name)
		if err := objectstore.PutFile(ctx, s.store, key, paths[name]); err != nil {
			return pipeline.Result{}, err
		}
	}

	return pipeline.Result{
		Detail: fmt.Sprintf("processed %d rows, split into %s", frame.Len(), s.store.URI(s.cfg.SplitPrefix)),
		Count:  frame.Len(),
	}, nil
}

// Process cleans the feature store with DuckDB, writes the processed CSV
// and returns it as a frame.
func (s *Stage) Process(ctx context.Context) (*dataset.Frame, error) {
	wh, err := warehouse.Open(ctx, s.cfg.Warehouse, s.logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = wh.Close() }()

	if err := wh.LoadCSV(ctx, "feature_store", s.cfg.FeatureStore); err != nil {
		return nil, err
	}
	cols, err := wh.Columns(ctx, "feature_store")
	if err != nil {
		return nil, err
	}
	query, err := processQuery(cols)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.cfg.FeatureStore, err)
	}

	if err := wh.Exec(ctx, "CREATE OR REPLACE TABLE processed AS "+query); err != nil {
		return nil, fmt.Errorf("failed to process feature store: %w", err)
	}
	n, err := wh.RowCount(ctx, "processed")
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 dated rows to split, got %d", n)
	}

	selectCols := make([]string, len(ProcessedColumns))
	for i, c := range ProcessedColumns {
		selectCols[i] = warehouse.QuoteIdent(c)
	}
	export := fmt.Sprintf("SELECT %s FROM processed ORDER BY row_id", strings.Join(selectCols, ", "))
	if err := wh.ExportCSV(ctx, export, s.cfg.ProcessedPath); err != nil {
		return nil, err
	}

	frame, err := dataset.ReadCSV(s.cfg.ProcessedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read processed data: %w", err)
	}
	s.logger.Info("processed data written", slog.String("path", s.cfg.ProcessedPath), slog.Int("rows", frame.Len()))
	return frame, nil
}

// Split shuffles and splits the processed frame and writes the four split
// files. It returns their paths keyed by file name.
func (s *Stage) Split(frame *dataset.Frame) (map[string]string, error) {
	train, test, err := frame.Split(s.cfg.TestSize, s.cfg.Seed)
	if err != nil {
		return nil, err
	}

	paths := dataset.SplitPaths(s.cfg.SplitDir)
	parts := []struct {
		file string
		src  *dataset.Frame
		cols []string
	}{
		{dataset.XTrainFile, train, model.FeatureColumns},
		{dataset.XTestFile, test, model.FeatureColumns},
		{dataset.YTrainFile, train, []string{model.TargetColumn}},
		{dataset.YTestFile, test, []string{model.TargetColumn}},
	}
	for _, p := range parts {
		sel, err := p.src.Select(p.cols...)
		if err != nil {
			return nil, err
		}
		if err := sel.WriteCSV(paths[p.file]); err != nil {
			return nil, err
		}
	}

	s.logger.Info("split written",
		slog.Int("train_rows", train.Len()),
		slog.Int("test_rows", test.Len()),
		slog.String("dir", filepath.Clean(s.cfg.SplitDir)),
	)
	return paths, nil
}

// processQuery builds the cleaning query for a feature store with the given
// columns. Rows whose Date does not parse are dropped; other gaps take the
// column median over the remaining rows. Rows are numbered by date, then by
// their position in the source file.
func processQuery(cols []warehouse.Column) (string, error) {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	if !slices.Contains(names, "Date") {
		return "", fmt.Errorf("missing Date column")
	}

	source := map[string]string{}
	for _, c := range priceColumns {
		switch {
		case slices.Contains(names, c):
			source[c] = c
		case c == "Adj_Close" && slices.Contains(names, "Adj Close"):
			source[c] = "Adj Close"
		default:
			return "", fmt.Errorf("missing %s column", c)
		}
	}

	var typed, filled []string
	for _, c := range priceColumns {
		q := warehouse.QuoteIdent(c)
		typed = append(typed, fmt.Sprintf("TRY_CAST(%s AS DOUBLE) AS %s", warehouse.QuoteIdent(source[c]), q))
		filled = append(filled, fmt.Sprintf("COALESCE(%s, median(%s) OVER ()) AS %s", q, q, q))
	}

	return fmt.Sprintf(`WITH typed AS (
	SELECT rowid AS src_row, TRY_CAST(CAST("Date" AS VARCHAR) AS DATE) AS d, %s
	FROM feature_store
), dated AS (
	SELECT * FROM typed WHERE d IS NOT NULL
)
SELECT
	row_number() OVER (ORDER BY d, src_row) AS row_id,
	%s,
	CAST(year(d) AS INTEGER) AS "year",
	CAST(month(d) AS INTEGER) AS "month",
	CAST(day(d) AS INTEGER) AS "day"
FROM dated`, strings.Join(typed, ", "), strings.Join(filled, ",\n\t")), nil
}
