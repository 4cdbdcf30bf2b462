package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapml/internal/cli/output"
	"github.com/leapstack-labs/leapml/internal/pipeline"
	"github.com/leapstack-labs/leapml/internal/state"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Only       []string
	Downstream bool
	JSONOutput bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the whole pipeline or selected stages",
		Long: `Execute the pipeline stages in dependency order, one at a time.

By default every stage runs: upload, ingest, preprocess, train. Use --only to
run a subset; upstream stages are not run for you, so their outputs must
already exist. Use --downstream to also run everything after the selection.
The first failing stage stops the run and the remaining stages are skipped.`,
		Example: `  # Run the full pipeline
  leapml run

  # Retrain from the existing splits
  leapml run --only train

  # Re-ingest and rebuild everything after it
  leapml run --only ingest --downstream

  # Emit JSON lines for CI
  leapml run --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Only, "only", nil, "Comma-separated list of stages to run")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "Include downstream stages when using --only")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "Output as JSON lines for progress tracking")

	_ = cmd.RegisterFlagCompletionFunc("only", completeStages)

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	cmdCtx := NewCommandContext(cmd)
	runner, cleanup, err := cmdCtx.newRunner(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	runOpts := pipeline.RunOptions{Only: opts.Only, WithDownstream: opts.Downstream}
	if opts.JSONOutput || cmdCtx.Renderer.EffectiveMode() == output.ModeJSON {
		return runWithJSON(cmd, cmdCtx.Renderer, runner, runOpts)
	}
	return runWithText(cmd, cmdCtx.Renderer, runner, runOpts)
}

// runWithText executes the pipeline and prints a per-stage summary.
func runWithText(cmd *cobra.Command, r *output.Renderer, runner *pipeline.Runner, opts pipeline.RunOptions) error {
	plan, err := runner.Plan(opts)
	if err != nil {
		return err
	}
	styles := r.Styles()
	r.Println(styles.Header1.Render(fmt.Sprintf("Running %s (%d stages)", runner.Definition().Name, len(plan))))

	start := time.Now()
	report, runErr := runner.Run(cmd.Context(), opts)
	if report == nil {
		return runErr
	}

	for _, s := range report.Stages {
		line := fmt.Sprintf("  %-11s %s", s.Stage, styles.Status(string(s.Status)))
		if s.Status == state.StageStatusSuccess || s.Status == state.StageStatusFailed {
			line += styles.Muted.Render(" " + output.Duration(s.Duration))
		}
		if s.Result.Detail != "" {
			line += "  " + s.Result.Detail
		}
		r.Println(line)
		if s.Error != "" {
			r.Println("    " + styles.Error.Render(s.Error))
		}
	}

	r.Printf("Run %s: %s in %s\n", report.Run.ID, styles.Status(string(report.Run.Status)), output.Duration(time.Since(start)))
	return runErr
}

// runWithJSON executes the pipeline and emits JSON lines.
func runWithJSON(cmd *cobra.Command, r *output.Renderer, runner *pipeline.Runner, opts pipeline.RunOptions) error {
	plan, err := runner.Plan(opts)
	if err != nil {
		return err
	}
	emitRunEvent(r, output.RunEvent{Event: "run_start", Stages: plan})

	start := time.Now()
	report, runErr := runner.Run(cmd.Context(), opts)
	if report == nil {
		emitRunEvent(r, output.RunEvent{Event: "run_complete", Status: string(state.RunStatusFailed), Error: runErr.Error()})
		return runErr
	}

	var successful, failed, skipped int
	for _, s := range report.Stages {
		switch s.Status {
		case state.StageStatusSuccess:
			successful++
		case state.StageStatusFailed:
			failed++
		case state.StageStatusSkipped:
			skipped++
		}
		emitRunEvent(r, output.RunEvent{
			Event:      "stage_complete",
			RunID:      report.Run.ID,
			Stage:      s.Stage,
			Status:     string(s.Status),
			Detail:     s.Result.Detail,
			Count:      s.Result.Count,
			DurationMS: s.Duration.Milliseconds(),
			Error:      s.Error,
		})
	}

	event := output.RunEvent{
		Event:      "run_complete",
		RunID:      report.Run.ID,
		Status:     string(report.Run.Status),
		Successful: successful,
		Failed:     failed,
		Skipped:    skipped,
		DurationMS: time.Since(start).Milliseconds(),
	}
	var stageErr *pipeline.StageError
	if errors.As(runErr, &stageErr) {
		event.Stage = stageErr.Stage
		event.Error = stageErr.Err.Error()
	}
	emitRunEvent(r, event)
	return runErr
}

// emitRunEvent outputs a run event as a JSON line.
func emitRunEvent(r *output.Renderer, event output.RunEvent) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	_ = r.JSONLine(event)
}

// completeStages offers the stage names of the built-in pipeline.
func completeStages(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return pipeline.Default().StepNames(), cobra.ShellCompDirectiveNoFileComp
}
