package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

func init() {
	Register("gcs", func(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
		return NewGCS(ctx, cfg, logger)
	})
}

// GCS stores objects in a Google Cloud Storage bucket. Credentials come from
// the environment (GOOGLE_APPLICATION_CREDENTIALS or metadata server).
type GCS struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// NewGCS connects to the bucket named in cfg.
func NewGCS(ctx context.Context, cfg Config, logger *slog.Logger) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs object store requires a bucket")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}
	return &GCS{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Put streams r into the object at key.
func (g *GCS) Put(ctx context.Context, key string, r io.Reader) error {
	k, err := CleanKey(key)
	if err != nil {
		return err
	}

	w := g.client.Bucket(g.bucket).Object(k).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write gs://%s/%s: %w", g.bucket, k, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", g.bucket, k, err)
	}

	g.logger.Debug("uploaded object", slog.String("uri", g.URI(k)))
	return nil
}

// Get opens a reader on the object at key.
func (g *GCS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	rc, err := g.client.Bucket(g.bucket).Object(k).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", g.URI(k), ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", g.URI(k), err)
	}
	return rc, nil
}

// List returns object names under prefix.
func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", g.bucket, prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// Delete removes the object at key.
func (g *GCS) Delete(ctx context.Context, key string) error {
	k, err := CleanKey(key)
	if err != nil {
		return err
	}
	err = g.client.Bucket(g.bucket).Object(k).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", g.URI(k), ErrNotExist)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", g.URI(k), err)
	}
	return nil
}

// URI returns the gs:// URI of key.
func (g *GCS) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", g.bucket, key)
}

// Close releases the client.
func (g *GCS) Close() error {
	return g.client.Close()
}
