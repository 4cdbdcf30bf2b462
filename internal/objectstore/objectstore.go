// Package objectstore moves pipeline artifacts in and out of object storage.
//
// Backends register themselves by name; Open picks one from Config.Backend.
// Keys are slash-separated paths relative to the bucket (or root directory).
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotExist is returned when a key has no object.
var ErrNotExist = errors.New("object does not exist")

// Store is an object storage backend.
type Store interface {
	// Put writes the contents of r to key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader) error
	// Get opens the object at key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// URI returns a human readable location of key.
	URI(key string) string
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string `koanf:"backend"`
	// Root is the directory used by the local backend.
	Root   string `koanf:"root"`
	Bucket string `koanf:"bucket"`
	Region string `koanf:"region"`
	// Endpoint overrides the service endpoint (MinIO, fake-gcs-server).
	Endpoint     string `koanf:"endpoint"`
	UsePathStyle bool   `koanf:"use_path_style"`
	// Anonymous disables credential lookup, for emulators.
	Anonymous bool `koanf:"anonymous"`

	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
}

// Factory builds a Store from configuration.
type Factory func(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a backend factory. Backends call it from init.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownBackendError is returned when Config.Backend names no registered backend.
type UnknownBackendError struct {
	Backend   string
	Available []string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown object store backend %q (available: %s)", e.Backend, strings.Join(e.Available, ", "))
}

// Open builds the backend named by cfg.Backend. An empty backend means local.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	name := cfg.Backend
	if name == "" {
		name = "local"
	}

	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownBackendError{Backend: name, Available: Backends()}
	}
	return factory(ctx, cfg, logger.With(slog.String("backend", name)))
}

// CleanKey normalises a key and rejects keys that are empty or escape the
// store root.
func CleanKey(key string) (string, error) {
	k := filepath.ToSlash(key)
	for _, seg := range strings.Split(k, "/") {
		if seg == ".." {
			return "", fmt.Errorf("invalid object key %q", key)
		}
	}
	k = strings.TrimPrefix(path.Clean("/"+k), "/")
	if k == "" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return k, nil
}

// Join builds a key from slash-separated parts.
func Join(parts ...string) string {
	return strings.TrimPrefix(path.Join(parts...), "/")
}

// PutFile uploads a local file to key.
func PutFile(ctx context.Context, s Store, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if err := s.Put(ctx, key, f); err != nil {
		return fmt.Errorf("failed to upload %s to %s: %w", localPath, s.URI(key), err)
	}
	return nil
}

// GetFile downloads key to a local file, creating parent directories.
func GetFile(ctx context.Context, s Store, key, localPath string) error {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", s.URI(key), err)
	}
	defer func() { _ = rc.Close() }()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", localPath, err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return f.Close()
}
