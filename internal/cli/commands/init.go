package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapml/internal/cli/output"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new LeapML project",
		Long: `Initialize a new LeapML project.

This creates:
  - leapml.yaml configuration file
  - pipeline.star stage graph
  - .env.example listing the environment variables the stages read
  - .gitignore excluding state and artifacts`,
		Example: `  # Initialize in current directory
  leapml init

  # Initialize in a new directory
  leapml init stock-model

  # Force overwrite existing files
  leapml init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			cfg := getConfig()
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))
			return runInit(r, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")

	return cmd
}

func runInit(r *output.Renderer, dir string, force bool) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "leapml.yaml")); err == nil && !force {
		return fmt.Errorf("leapml.yaml already exists. Use --force to overwrite")
	}

	files, err := copyTemplate("project", dir, force)
	if err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}

	styles := r.Styles()
	for _, f := range files {
		r.Printf("  %s %s\n", styles.Status("success"), f)
	}

	r.Println("")
	r.Println(styles.Success.Render("LeapML project initialized!"))
	r.Println("")
	r.Println("Next steps:")
	r.Println("  1. Set upload.dataset_uri in leapml.yaml (or DATASET_URI in .env)")
	r.Println("  2. Run 'leapml run' to train a model")
	r.Println("  3. Run 'leapml serve' to start the prediction service")

	return nil
}
