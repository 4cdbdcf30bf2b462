// Package ingest pulls the raw price table into the local feature store.
//
// The raw CSV is taken from object storage (or exported from Postgres),
// loaded into DuckDB, checked for the expected columns and written back out
// as the feature store CSV.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapml/internal/objectstore"
	"github.com/leapstack-labs/leapml/internal/pipeline"
	"github.com/leapstack-labs/leapml/internal/warehouse"
)

// Sources.
const (
	SourceObject   = "object"
	SourcePostgres = "postgres"
)

const rawTable = "raw_prices"

// RequiredColumns must be present in the raw table. The adjusted close may
// be spelled with a space or an underscore.
var RequiredColumns = []string{"Date", "Open", "High", "Low", "Close", "Volume"}

// Config configures the ingest stage.
type Config struct {
	Source       string `koanf:"source"`
	RawKey       string `koanf:"raw_key"`
	RawPrefix    string `koanf:"raw_prefix"`
	WorkDir      string `koanf:"work_dir"`
	FeatureStore string `koanf:"feature_store"`
	Warehouse    string `koanf:"warehouse"`
	DSN          string `koanf:"dsn"`
	Query        string `koanf:"query"`
}

// Stage implements pipeline.Stage for the ingest step.
type Stage struct {
	cfg    Config
	store  objectstore.Store
	logger *slog.Logger
}

var _ pipeline.Stage = (*Stage)(nil)

// New creates the ingest stage.
func New(cfg Config, store objectstore.Store, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Source == "" {
		cfg.Source = SourceObject
	}
	return &Stage{cfg: cfg, store: store, logger: logger.With(slog.String("stage", pipeline.StageIngest))}
}

// Name returns the stage name.
func (s *Stage) Name() string { return pipeline.StageIngest }

// Run fetches the raw table and writes the feature store CSV.
func (s *Stage) Run(ctx context.Context) (pipeline.Result, error) {
	var (
		local string
		err   error
	)
	switch s.cfg.Source {
	case SourceObject:
		local, err = s.fetchObject(ctx)
	case SourcePostgres:
		local, err = s.fetchPostgres(ctx)
	default:
		return pipeline.Result{}, fmt.Errorf("unknown ingest source %q (want %s or %s)", s.cfg.Source, SourceObject, SourcePostgres)
	}
	if err != nil {
		return pipeline.Result{}, err
	}

	rows, err := s.load(ctx, local)
	if err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{
		Detail: fmt.Sprintf("ingested %d rows into %s", rows, s.cfg.FeatureStore),
		Count:  int(rows),
	}, nil
}

// FindRawKey returns the configured raw key, or the first CSV under the raw
// prefix.
func (s *Stage) FindRawKey(ctx context.Context) (string, error) {
	if s.cfg.RawKey != "" {
		return s.cfg.RawKey, nil
	}
	prefix := strings.TrimSuffix(s.cfg.RawPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	keys, err := s.store.List(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to list raw objects: %w", err)
	}
	for _, k := range keys {
		if strings.EqualFold(path.Ext(k), ".csv") {
			return k, nil
		}
	}
	return "", fmt.Errorf("no CSV found under %s", s.store.URI(prefix))
}

func (s *Stage) fetchObject(ctx context.Context) (string, error) {
	key, err := s.FindRawKey(ctx)
	if err != nil {
		return "", err
	}
	local := filepath.Join(s.cfg.WorkDir, path.Base(key))
	s.logger.Info("fetching raw data", slog.String("uri", s.store.URI(key)))
	if err := objectstore.GetFile(ctx, s.store, key, local); err != nil {
		return "", err
	}
	return local, nil
}

// load runs the CSV through DuckDB, validates it and exports the feature
// store. It returns the row count.
func (s *Stage) load(ctx context.Context, csvPath string) (int64, error) {
	wh, err := warehouse.Open(ctx, s.cfg.Warehouse, s.logger)
	if err != nil {
		return 0, err
	}
	defer func() { _ = wh.Close() }()

	if err := wh.LoadCSV(ctx, rawTable, csvPath); err != nil {
		return 0, err
	}

	cols, err := wh.Columns(ctx, rawTable)
	if err != nil {
		return 0, err
	}
	if err := CheckColumns(columnNames(cols)); err != nil {
		return 0, fmt.Errorf("%s: %w", csvPath, err)
	}

	rows, err := wh.RowCount(ctx, rawTable)
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, fmt.Errorf("%s has no rows", csvPath)
	}

	if err := wh.ExportCSV(ctx, "SELECT * FROM "+warehouse.QuoteIdent(rawTable), s.cfg.FeatureStore); err != nil {
		return 0, err
	}
	s.logger.Info("feature store written", slog.String("path", s.cfg.FeatureStore), slog.Int64("rows", rows))
	return rows, nil
}

// CheckColumns reports the required columns missing from names.
func CheckColumns(names []string) error {
	var missing []string
	for _, c := range RequiredColumns {
		if !slices.Contains(names, c) {
			missing = append(missing, c)
		}
	}
	if !slices.Contains(names, "Adj Close") && !slices.Contains(names, "Adj_Close") {
		missing = append(missing, "Adj Close")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

func columnNames(cols []warehouse.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
