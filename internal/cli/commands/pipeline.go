package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapml/internal/cli/output"
	"github.com/leapstack-labs/leapml/internal/dag"
	"github.com/leapstack-labs/leapml/internal/pipeline"
)

// NewPipelineCommand creates the pipeline command group.
func NewPipelineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect and compile the pipeline definition",
		Long: `Inspect the stage graph and compile it into a workflow manifest.

The graph comes from the pipeline file (default: pipeline.star), or the
built-in upload -> ingest -> preprocess -> train chain when there is none.`,
	}
	cmd.AddCommand(newPipelineDAGCommand())
	cmd.AddCommand(newPipelineCompileCommand())
	return cmd
}

func newPipelineDAGCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dag",
		Short: "Show the stage dependency graph",
		Long: `Display the stage graph grouped by execution level.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format (agent-friendly)`,
		Example: `  # Show the DAG
  leapml pipeline dag

  # Output as JSON
  leapml pipeline dag --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipelineDAG(cmd)
		},
	}
}

func runPipelineDAG(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	def, err := cmdCtx.loadDefinition()
	if err != nil {
		return err
	}
	if err := def.Validate(nil); err != nil {
		return err
	}
	graph, err := def.Graph()
	if err != nil {
		return err
	}
	levels, err := graph.Levels()
	if err != nil {
		return fmt.Errorf("failed to get execution levels: %w", err)
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return dagJSON(r, def, graph, levels)
	case output.ModeMarkdown:
		return dagMarkdown(r, def, graph, levels)
	default:
		return dagText(r, def, graph, levels)
	}
}

// dagText outputs the DAG in styled text format.
func dagText(r *output.Renderer, def *pipeline.Definition, graph *dag.Graph, levels [][]string) error {
	styles := r.Styles()

	r.Header(1, "Pipeline "+def.Name)
	if def.Description != "" {
		r.Println(styles.Muted.Render(def.Description))
		r.Println("")
	}

	for i, level := range levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", i)))
		for _, name := range level {
			step, _ := def.Step(name)
			r.Printf("  %s %s\n", styles.Bold.Render(name), styles.Muted.Render(resourceLabel(step.Resources)))
			if deps := graph.Parents(name); len(deps) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("depends on:"), strings.Join(deps, ", "))
			}
			if children := graph.Children(name); len(children) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("feeds:"), strings.Join(children, ", "))
			}
		}
		r.Println("")
	}

	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d stages, %d dependencies", graph.NodeCount(), graph.EdgeCount())))
	return nil
}

// dagMarkdown outputs the DAG in markdown format.
func dagMarkdown(r *output.Renderer, def *pipeline.Definition, graph *dag.Graph, levels [][]string) error {
	r.Header(1, "Pipeline "+def.Name)

	for i, level := range levels {
		levelName := fmt.Sprintf("Level %d", i)
		if i == 0 {
			levelName = "Level 0 (Entry)"
		}
		r.Println(output.FormatHeader(2, levelName))

		for _, name := range level {
			step, _ := def.Step(name)
			r.Printf("- %s (%s)\n", name, resourceLabel(step.Resources))
			if deps := graph.Parents(name); len(deps) > 0 {
				r.Printf("  - depends on: %s\n", strings.Join(deps, ", "))
			}
			if children := graph.Children(name); len(children) > 0 {
				r.Printf("  - feeds: %s\n", strings.Join(children, ", "))
			}
		}
		r.Println("")
	}

	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Total Stages", fmt.Sprintf("%d", graph.NodeCount())))
	r.Println(output.FormatKeyValue("Total Dependencies", fmt.Sprintf("%d", graph.EdgeCount())))
	return nil
}

// dagJSON outputs the DAG in JSON format.
func dagJSON(r *output.Renderer, def *pipeline.Definition, graph *dag.Graph, levels [][]string) error {
	out := output.DAGOutput{
		Pipeline:    def.Name,
		Levels:      make([]output.DAGLevel, 0, len(levels)),
		TotalStages: graph.NodeCount(),
		TotalEdges:  graph.EdgeCount(),
	}
	for i, level := range levels {
		l := output.DAGLevel{Level: i, Stages: make([]output.DAGNode, 0, len(level))}
		for _, name := range level {
			step, _ := def.Step(name)
			l.Stages = append(l.Stages, output.DAGNode{
				Name:      name,
				DependsOn: nonNil(graph.Parents(name)),
				UsedBy:    nonNil(graph.Children(name)),
				CPU:       step.Resources.CPU,
				Memory:    step.Resources.Memory,
			})
		}
		out.Levels = append(out.Levels, l)
	}
	return r.JSON(out)
}

func resourceLabel(res pipeline.Resources) string {
	var parts []string
	if res.CPU != "" {
		parts = append(parts, "cpu "+res.CPU)
	}
	if res.Memory != "" {
		parts = append(parts, "memory "+res.Memory)
	}
	if len(parts) == 0 {
		return "no limits"
	}
	return strings.Join(parts, ", ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// CompileOptions holds options for the pipeline compile command.
type CompileOptions struct {
	Output string
}

func newPipelineCompileCommand() *cobra.Command {
	opts := &CompileOptions{}
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the pipeline into a workflow manifest",
		Long: `Compile the pipeline into an Argo Workflow manifest.

Each stage becomes a container template running "leapml stage <name>" with
the stage's cpu and memory limits; the DAG template wires their
dependencies.`,
		Example: `  # Print the manifest
  leapml pipeline compile

  # Write it to a file
  leapml pipeline compile -f stock_price_pipeline.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipelineCompile(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "out", "f", "", "Write the manifest to this file instead of stdout")
	return cmd
}

func runPipelineCompile(cmd *cobra.Command, opts *CompileOptions) error {
	cmdCtx := NewCommandContext(cmd)

	def, err := cmdCtx.loadDefinition()
	if err != nil {
		return err
	}
	manifest, err := pipeline.Compile(def)
	if err != nil {
		return err
	}

	if opts.Output == "" {
		_, err := cmd.OutOrStdout().Write(manifest)
		return err
	}

	if dir := filepath.Dir(opts.Output); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(opts.Output, manifest, 0o600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	cmdCtx.Renderer.Errorf("Manifest written to %s\n", opts.Output)
	return nil
}
