package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapml/internal/pipeline"
)

// NewStageCommand creates the stage command, which runs a single stage.
// It is the entry point of every container in the compiled workflow.
func NewStageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage <name>",
		Short: "Run a single pipeline stage",
		Long: `Run exactly one stage of the pipeline and record it as its own run.

Upstream stages are not executed; the stage reads the artifacts they left in
the local artifact directories and object storage.`,
		Example: `  leapml stage upload
  leapml stage train`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeStageArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, args[0])
		},
	}
	return cmd
}

func runStage(cmd *cobra.Command, name string) error {
	cmdCtx := NewCommandContext(cmd)
	runner, cleanup, err := cmdCtx.newRunner(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if !runner.Available(name) {
		return fmt.Errorf("%q: %w (available: %v)", name, pipeline.ErrUnknownStage, runner.Definition().StepNames())
	}
	return runWithText(cmd, cmdCtx.Renderer, runner, pipeline.RunOptions{Only: []string{name}})
}

func completeStageArg(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return pipeline.Default().StepNames(), cobra.ShellCompDirectiveNoFileComp
}
