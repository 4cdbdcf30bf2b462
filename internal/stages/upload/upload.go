// Package upload fetches the raw dataset archive, unpacks it and copies
// every extracted file into object storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapml/internal/objectstore"
	"github.com/leapstack-labs/leapml/internal/pipeline"
)

// ErrNoDatasetURI is returned when no dataset location is configured.
var ErrNoDatasetURI = errors.New("dataset URI is not set (configure upload.dataset_uri or DATASET_URI)")

// Config configures the upload stage.
type Config struct {
	DatasetURI    string `koanf:"dataset_uri"`
	LocalDataFile string `koanf:"local_data_file"`
	UnzipDir      string `koanf:"unzip_dir"`
	Prefix        string `koanf:"prefix"`
	DriveAPIKey   string `koanf:"drive_api_key"`
	Concurrency   int    `koanf:"concurrency"`
	// Timeout bounds the download; zero means no limit.
	Timeout time.Duration `koanf:"timeout"`
}

// Stage implements pipeline.Stage for the upload step.
type Stage struct {
	cfg    Config
	store  objectstore.Store
	logger *slog.Logger

	httpClient       *http.Client
	driveEndpoint    string
	driveDownloadURL string
}

var _ pipeline.Stage = (*Stage)(nil)

// Option customises a Stage.
type Option func(*Stage)

// WithHTTPClient sets the client used for plain HTTP and Drive downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Stage) { s.httpClient = c }
}

// WithDriveEndpoint points the Drive API client at another base URL.
func WithDriveEndpoint(endpoint string) Option {
	return func(s *Stage) { s.driveEndpoint = endpoint }
}

// WithDriveDownloadURL replaces the public download URL used for Drive links
// when no API key is configured.
func WithDriveDownloadURL(u string) Option {
	return func(s *Stage) { s.driveDownloadURL = u }
}

// New creates the upload stage.
func New(cfg Config, store objectstore.Store, logger *slog.Logger, opts ...Option) *Stage {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	s := &Stage{
		cfg:              cfg,
		store:            store,
		logger:           logger.With(slog.String("stage", pipeline.StageUpload)),
		driveDownloadURL: driveDirectURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the stage name.
func (s *Stage) Name() string { return pipeline.StageUpload }

// Run downloads, extracts and uploads the dataset.
func (s *Stage) Run(ctx context.Context) (pipeline.Result, error) {
	if _, err := s.Download(ctx); err != nil {
		return pipeline.Result{}, err
	}
	if _, err := s.Extract(); err != nil {
		return pipeline.Result{}, err
	}
	keys, err := s.Upload(ctx)
	if err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{
		Detail: fmt.Sprintf("uploaded %d files to %s", len(keys), s.store.URI(s.cfg.Prefix)),
		Count:  len(keys),
	}, nil
}

// Upload puts every file under the unzip directory into the object store at
// prefix/<relative path> and returns the keys written, sorted.
func (s *Stage) Upload(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.cfg.UnzipDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", s.cfg.UnzipDir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to upload in %s", s.cfg.UnzipDir)
	}

	var (
		mu   sync.Mutex
		keys = make([]string, 0, len(files))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, path := range files {
		g.Go(func() error {
			rel, err := filepath.Rel(s.cfg.UnzipDir, path)
			if err != nil {
				return err
			}
			key := objectstore.Join(s.cfg.Prefix, filepath.ToSlash(rel))
			if err := objectstore.PutFile(gctx, s.store, key, path); err != nil {
				return err
			}
			s.logger.Debug("uploaded file", slog.String("key", key))

			mu.Lock()
			keys = append(keys, key)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(keys)
	s.logger.Info("uploaded dataset", slog.Int("files", len(keys)), slog.String("prefix", s.cfg.Prefix))
	return keys, nil
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()
	return writeFile(dst, in)
}

func writeFile(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return out.Close()
}
