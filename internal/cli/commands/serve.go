package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapml/internal/objectstore"
	"github.com/leapstack-labs/leapml/internal/serve"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Port      int
	ModelPath string
	Watch     bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the prediction service",
		Long: `Start the HTTP prediction service.

The model is fetched from object storage (serve.model_key) into
serve.model_path on startup, or read from serve.model_path directly when no
key is set. With --watch the server reloads the model whenever that file
changes.

Endpoints:
  GET  /                                  Prediction form
  POST /predict                           Form submission
  GET  /health                            Health check
  GET  /v1/models/<name>                  Model metadata
  POST /v1/models/<name>:predict          KServe v1 prediction
  POST /v1/models/<name>/infer            KServe v2 inference`,
		Example: `  # Serve on the configured port
  leapml serve

  # Serve a local artifact on port 9000
  leapml serve --port 9000 --model artifacts/trained_model/model.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, "Port to serve on (default: serve.port)")
	cmd.Flags().StringVar(&opts.ModelPath, "model", "", "Serve this local artifact instead of fetching one from storage")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "Reload the model when the artifact file changes")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cmdCtx := NewCommandContext(cmd)
	serveCfg := cmdCtx.Cfg.Serve

	// CLI flags override config file
	port := serveCfg.Port
	if opts.Port != 0 {
		port = opts.Port
	}
	watch := serveCfg.Watch
	if cmd.Flags().Changed("watch") {
		watch = opts.Watch
	}

	cfg := serve.Config{
		ModelName:       serveCfg.ModelName,
		Port:            port,
		ModelPath:       serveCfg.ModelPath,
		ModelKey:        serveCfg.ModelKey,
		SessionSecret:   serveCfg.SessionSecret,
		Watch:           watch,
		ShutdownTimeout: serveCfg.ShutdownTimeout,
		Logger:          cmdCtx.Logger,
	}

	if opts.ModelPath != "" {
		cfg.ModelPath = opts.ModelPath
		cfg.ModelKey = ""
	} else if cfg.ModelKey != "" {
		objects, err := objectstore.Open(cmd.Context(), cmdCtx.Cfg.Storage, cmdCtx.Logger)
		if err != nil {
			return err
		}
		defer func() { _ = objects.Close() }()
		cfg.Store = objects
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := cmdCtx.Renderer
	r.Errorf("Starting prediction server on http://localhost:%d\n", port)
	r.Errorf("Press Ctrl+C to stop\n")

	if err := serve.New(cfg).Serve(ctx); err != nil {
		return fmt.Errorf("prediction server: %w", err)
	}
	cmdCtx.Logger.Info("prediction server stopped")
	return nil
}
