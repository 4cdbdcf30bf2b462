package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapml/internal/cli/output"
	"github.com/leapstack-labs/leapml/internal/state"
)

// NewRunsCommand creates the runs command, which browses run history.
func NewRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs",
		Long: `List recent pipeline runs from the state database, newest first.

Use 'leapml runs show <id>' to see the stages of one run.`,
		Example: `  # Last 20 runs
  leapml runs

  # Last 5 runs as JSON
  leapml runs --limit 5 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRuns(cmd, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.AddCommand(newRunsShowCommand())

	return cmd
}

func runRuns(cmd *cobra.Command, limit int) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	history, err := cmdCtx.openState()
	if err != nil {
		return err
	}
	defer func() { _ = history.Close() }()

	runs, err := history.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		if runs == nil {
			runs = []*state.Run{}
		}
		return r.JSON(runs)
	}

	if len(runs) == 0 {
		r.Println(r.Styles().Muted.Render("No runs yet. Start one with 'leapml run'."))
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.Pipeline,
			string(run.Status),
			run.StartedAt.Local().Format(time.DateTime),
			runDuration(run),
			run.Error,
		})
	}
	r.Table([]string{"ID", "Pipeline", "Status", "Started", "Duration", "Error"}, rows)
	return nil
}

// RunDetail is the JSON output of `runs show`.
type RunDetail struct {
	*state.Run
	Stages []*state.StageRun `json:"stages"`
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show the stages of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsShow(cmd, args[0])
		},
	}
}

func runRunsShow(cmd *cobra.Command, id string) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	history, err := cmdCtx.openState()
	if err != nil {
		return err
	}
	defer func() { _ = history.Close() }()

	run, err := history.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}
	stages, err := history.GetStageRuns(cmd.Context(), id)
	if err != nil {
		return err
	}
	if stages == nil {
		stages = []*state.StageRun{}
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(RunDetail{Run: run, Stages: stages})
	}

	r.Header(1, fmt.Sprintf("Run %s", run.ID))
	if r.EffectiveMode() == output.ModeText {
		styles := r.Styles()
		r.Printf("  Pipeline: %s\n", run.Pipeline)
		r.Printf("  Status:   %s\n", styles.Status(string(run.Status)))
		r.Printf("  Started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
		r.Printf("  Duration: %s\n", runDuration(run))
		if run.Error != "" {
			r.Printf("  Error:    %s\n", styles.Error.Render(run.Error))
		}
	} else {
		r.Println(output.FormatKeyValue("Pipeline", run.Pipeline))
		r.Println(output.FormatKeyValue("Status", string(run.Status)))
		r.Println(output.FormatKeyValue("Started", run.StartedAt.UTC().Format(time.RFC3339)))
		r.Println(output.FormatKeyValue("Duration", runDuration(run)))
		if run.Error != "" {
			r.Println(output.FormatKeyValue("Error", run.Error))
		}
	}
	r.Println("")

	rows := make([][]string, 0, len(stages))
	for _, sr := range stages {
		duration := ""
		if sr.Status.Terminal() && sr.Status != state.StageStatusSkipped {
			duration = output.Duration(sr.Duration)
		}
		rows = append(rows, []string{sr.Stage, string(sr.Status), duration, sr.Detail, sr.Error})
	}
	r.Table([]string{"Stage", "Status", "Duration", "Detail", "Error"}, rows)
	return nil
}

func runDuration(run *state.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return output.Duration(run.CompletedAt.Sub(run.StartedAt))
}
