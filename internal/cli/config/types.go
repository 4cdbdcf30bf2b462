// Package config provides configuration management for the LeapML CLI.
//
// Stage and storage sections reuse the config structs of the packages they
// configure, so a key like upload.dataset_uri decodes straight into
// upload.Config.
package config

import (
	"time"

	"github.com/leapstack-labs/leapml/internal/objectstore"
	"github.com/leapstack-labs/leapml/internal/stages/ingest"
	"github.com/leapstack-labs/leapml/internal/stages/preprocess"
	"github.com/leapstack-labs/leapml/internal/stages/train"
	"github.com/leapstack-labs/leapml/internal/stages/upload"
)

// Config holds all CLI configuration options.
type Config struct {
	ProjectRoot  string `koanf:"-"`
	Verbose      bool   `koanf:"verbose"`
	OutputFormat string `koanf:"output"`
	LogFormat    string `koanf:"log_format"`
	StatePath    string `koanf:"state_path"`
	PipelineFile string `koanf:"pipeline_file"`

	Storage    objectstore.Config `koanf:"storage"`
	Upload     upload.Config      `koanf:"upload"`
	Ingest     ingest.Config      `koanf:"ingest"`
	Preprocess preprocess.Config  `koanf:"preprocess"`
	Train      train.Config       `koanf:"train"`
	Serve      ServeConfig        `koanf:"serve"`
}

// ServeConfig holds configuration for the prediction server.
type ServeConfig struct {
	Port            int           `koanf:"port"`
	ModelName       string        `koanf:"model_name"`
	ModelKey        string        `koanf:"model_key"`
	ModelPath       string        `koanf:"model_path"`
	SessionSecret   string        `koanf:"session_secret"`
	Watch           bool          `koanf:"watch"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Default configuration values.
const (
	DefaultStateFile    = ".leapml/state.db"
	DefaultPipelineFile = "pipeline.star"
	DefaultOutput       = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultLogFormat    = "text"
	DefaultModelName    = "stock-regressor"
	DefaultPort         = 8000
)

// defaults is the lowest-priority configuration layer.
func defaults() map[string]any {
	return map[string]any{
		"verbose":       false,
		"output":        DefaultOutput,
		"log_format":    DefaultLogFormat,
		"state_path":    DefaultStateFile,
		"pipeline_file": DefaultPipelineFile,

		"storage.backend": "local",
		"storage.root":    "artifacts/bucket",

		"upload.local_data_file": "artifacts/data/data.zip",
		"upload.unzip_dir":       "artifacts/data/raw",
		"upload.prefix":          "raw",
		"upload.concurrency":     4,
		"upload.timeout":         "10m",

		"ingest.source":        ingest.SourceObject,
		"ingest.raw_prefix":    "raw",
		"ingest.work_dir":      "artifacts/data/ingest",
		"ingest.feature_store": "artifacts/feature_store/stock.csv",

		"preprocess.feature_store":       "artifacts/feature_store/stock.csv",
		"preprocess.processed_data_path": "artifacts/processed/processed.csv",
		"preprocess.processed_key":       "processed/processed.csv",
		"preprocess.split_dir":           "artifacts/split",
		"preprocess.split_prefix":        "split",
		"preprocess.test_size":           0.25,
		"preprocess.seed":                42,

		"train.split_dir":  "artifacts/split",
		"train.model_path": "artifacts/trained_model/model.json",
		"train.prefix":     "models",
		"train.model_name": DefaultModelName,

		"serve.port":             DefaultPort,
		"serve.model_name":       DefaultModelName,
		"serve.model_key":        "models/model.json",
		"serve.model_path":       "artifacts/serving/model.json",
		"serve.watch":            true,
		"serve.shutdown_timeout": "5s",
	}
}
