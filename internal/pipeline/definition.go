// Package pipeline defines the stage graph of a training pipeline, runs it
// step by step while recording history, and compiles it to a workflow
// manifest for an external orchestrator.
package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapml/internal/dag"
)

// Resources are the container limits requested for a step when it runs
// under an orchestrator.
type Resources struct {
	CPU    string `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory string `json:"memory,omitempty" yaml:"memory,omitempty"`
}

// Step is one node of the pipeline graph.
type Step struct {
	Name      string    `json:"name"`
	After     []string  `json:"after,omitempty"`
	Resources Resources `json:"resources"`
}

// Definition is a named pipeline graph.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Steps       []Step `json:"steps"`
}

// Stage names of the stock price pipeline.
const (
	StageUpload     = "upload"
	StageIngest     = "ingest"
	StagePreprocess = "preprocess"
	StageTrain      = "train"
)

// DefaultName is the name of the built-in pipeline.
const DefaultName = "stock-price-pipeline"

// Default returns the built-in upload, ingest, preprocess, train chain.
func Default() *Definition {
	return &Definition{
		Name:        DefaultName,
		Description: "Download stock prices, ingest, preprocess and train a linear regressor",
		Image:       "leapml:latest",
		Steps: []Step{
			{Name: StageUpload, Resources: Resources{CPU: "1", Memory: "2Gi"}},
			{Name: StageIngest, After: []string{StageUpload}, Resources: Resources{CPU: "1", Memory: "2Gi"}},
			{Name: StagePreprocess, After: []string{StageIngest}, Resources: Resources{CPU: "2", Memory: "4Gi"}},
			{Name: StageTrain, After: []string{StagePreprocess}, Resources: Resources{CPU: "4", Memory: "8Gi"}},
		},
	}
}

// Step returns the step with the given name.
func (d *Definition) Step(name string) (Step, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// StepNames returns step names in declaration order.
func (d *Definition) StepNames() []string {
	names := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		names[i] = s.Name
	}
	return names
}

// Graph builds the dependency graph of the steps.
func (d *Definition) Graph() (*dag.Graph, error) {
	g := dag.NewGraph()
	for _, s := range d.Steps {
		if g.HasNode(s.Name) {
			return nil, fmt.Errorf("duplicate step %q", s.Name)
		}
		g.AddNode(s.Name)
	}
	for _, s := range d.Steps {
		for _, parent := range s.After {
			if !g.HasNode(parent) {
				return nil, fmt.Errorf("step %q runs after unknown step %q", s.Name, parent)
			}
			if err := g.AddEdge(parent, s.Name); err != nil {
				return nil, fmt.Errorf("step %q: %w", s.Name, err)
			}
		}
	}
	return g, nil
}

// Order returns the steps in execution order.
func (d *Definition) Order() ([]string, error) {
	g, err := d.Graph()
	if err != nil {
		return nil, err
	}
	return g.TopologicalSort()
}

// Validate checks the definition is runnable: it has a name and steps,
// every step names one of the available stages, and the graph is acyclic.
func (d *Definition) Validate(available []string) error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("pipeline name is required"))
	}
	if len(d.Steps) == 0 {
		errs = append(errs, errors.New("pipeline has no steps"))
	}
	for _, s := range d.Steps {
		if s.Name == "" {
			errs = append(errs, errors.New("step name is required"))
			continue
		}
		if available != nil && !slices.Contains(available, s.Name) {
			errs = append(errs, fmt.Errorf("step %q: %w", s.Name, ErrUnknownStage))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if _, err := d.Order(); err != nil {
		return fmt.Errorf("invalid pipeline graph: %w", err)
	}
	return nil
}
