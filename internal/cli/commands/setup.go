package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapml/internal/cli/config"
	"github.com/leapstack-labs/leapml/internal/cli/output"
	"github.com/leapstack-labs/leapml/internal/objectstore"
	"github.com/leapstack-labs/leapml/internal/pipeline"
	"github.com/leapstack-labs/leapml/internal/stages/ingest"
	"github.com/leapstack-labs/leapml/internal/stages/preprocess"
	"github.com/leapstack-labs/leapml/internal/stages/train"
	"github.com/leapstack-labs/leapml/internal/stages/upload"
	"github.com/leapstack-labs/leapml/internal/state"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext from the loaded config.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

// getConfig returns the current configuration, or an unvalidated default
// one when no config was loaded.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	cfg, err := config.LoadConfig("", nil)
	if err != nil {
		return &config.Config{
			OutputFormat: config.DefaultOutput,
			LogFormat:    config.DefaultLogFormat,
			StatePath:    config.DefaultStateFile,
			PipelineFile: config.DefaultPipelineFile,
		}
	}
	return cfg
}

// openState opens the run history database, creating its directory.
func (c *CommandContext) openState() (*state.SQLiteStore, error) {
	stateDir := filepath.Dir(c.Cfg.StatePath)
	if stateDir != "." && stateDir != "" {
		if err := os.MkdirAll(stateDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(c.Cfg.StatePath); err != nil {
		return nil, err
	}
	return store, nil
}

// loadDefinition reads the pipeline file, falling back to the built-in
// four-stage pipeline when it does not exist.
func (c *CommandContext) loadDefinition() (*pipeline.Definition, error) {
	return pipeline.LoadDefinition(c.Cfg.PipelineFile)
}

// stages builds every pipeline stage against the object store.
func (c *CommandContext) stages(store objectstore.Store) []pipeline.Stage {
	cfg := c.Cfg
	return []pipeline.Stage{
		upload.New(cfg.Upload, store, c.Logger),
		ingest.New(cfg.Ingest, store, c.Logger),
		preprocess.New(cfg.Preprocess, store, c.Logger),
		train.New(cfg.Train, store, c.Logger),
	}
}

// newRunner wires the definition, stages, object store and state store.
// The returned cleanup closes both stores.
func (c *CommandContext) newRunner(cmd *cobra.Command) (*pipeline.Runner, func(), error) {
	def, err := c.loadDefinition()
	if err != nil {
		return nil, nil, err
	}

	objects, err := objectstore.Open(cmd.Context(), c.Cfg.Storage, c.Logger)
	if err != nil {
		return nil, nil, err
	}
	history, err := c.openState()
	if err != nil {
		_ = objects.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := errors.Join(history.Close(), objects.Close()); err != nil {
			c.Logger.Warn("failed to close stores", "error", err)
		}
	}

	runner, err := pipeline.NewRunner(pipeline.Config{
		Definition: def,
		Stages:     c.stages(objects),
		Store:      history,
		Logger:     c.Logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return runner, cleanup, nil
}
