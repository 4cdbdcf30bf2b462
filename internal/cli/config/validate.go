package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapml/internal/cli/output"
	"github.com/leapstack-labs/leapml/internal/objectstore"
	"github.com/leapstack-labs/leapml/internal/stages/ingest"
)

// Validate checks if the configuration is valid. Every problem is reported,
// not just the first.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if !output.Valid(c.OutputFormat) {
		add("output must be one of auto, text, markdown, json (got %q)", c.OutputFormat)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		add("log_format must be text or json (got %q)", c.LogFormat)
	}
	if c.StatePath == "" {
		add("state_path is required")
	}

	backend := c.Storage.Backend
	if backend == "" {
		backend = "local"
	}
	if !slices.Contains(objectstore.Backends(), backend) {
		add("storage.backend %q is not one of %v", backend, objectstore.Backends())
	}
	if backend != "local" && c.Storage.Bucket == "" {
		add("storage.bucket is required for the %s backend", backend)
	}

	switch c.Ingest.Source {
	case "", ingest.SourceObject, ingest.SourcePostgres:
	default:
		add("ingest.source must be %s or %s (got %q)", ingest.SourceObject, ingest.SourcePostgres, c.Ingest.Source)
	}

	if c.Preprocess.TestSize <= 0 || c.Preprocess.TestSize >= 1 {
		add("preprocess.test_size must be between 0 and 1 (got %v)", c.Preprocess.TestSize)
	}
	if c.Upload.Concurrency < 0 {
		add("upload.concurrency must not be negative")
	}
	if c.Serve.Port < 1 || c.Serve.Port > 65535 {
		add("serve.port must be between 1 and 65535 (got %d)", c.Serve.Port)
	}

	return errors.Join(errs...)
}
