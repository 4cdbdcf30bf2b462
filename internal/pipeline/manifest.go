package pipeline

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Manifest is an Argo-style workflow: one DAG template that wires the steps
// together and one container template per step.
type Manifest struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ManifestMetadata `yaml:"metadata"`
	Spec       ManifestSpec     `yaml:"spec"`
}

// ManifestMetadata names the workflow.
type ManifestMetadata struct {
	GenerateName string            `yaml:"generateName"`
	Annotations  map[string]string `yaml:"annotations,omitempty"`
}

// ManifestSpec holds the entrypoint and templates.
type ManifestSpec struct {
	Entrypoint string     `yaml:"entrypoint"`
	Templates  []Template `yaml:"templates"`
}

// Template is either the DAG or a step container.
type Template struct {
	Name      string     `yaml:"name"`
	DAG       *DAG       `yaml:"dag,omitempty"`
	Container *Container `yaml:"container,omitempty"`
}

// DAG lists the tasks of the workflow.
type DAG struct {
	Tasks []Task `yaml:"tasks"`
}

// Task binds a step template into the DAG.
type Task struct {
	Name         string   `yaml:"name"`
	Template     string   `yaml:"template"`
	Dependencies []string `yaml:"dependencies,omitempty"`
}

// Container runs one stage.
type Container struct {
	Image     string             `yaml:"image"`
	Command   []string           `yaml:"command"`
	Resources ContainerResources `yaml:"resources,omitempty"`
}

// ContainerResources carries the limits of a step.
type ContainerResources struct {
	Limits map[string]string `yaml:"limits,omitempty"`
}

// Build converts the definition into a manifest. Tasks appear in execution
// order.
func Build(def *Definition) (*Manifest, error) {
	if err := def.Validate(nil); err != nil {
		return nil, err
	}
	order, err := def.Order()
	if err != nil {
		return nil, err
	}

	image := def.Image
	if image == "" {
		image = "leapml:latest"
	}

	m := &Manifest{
		APIVersion: "argoproj.io/v1alpha1",
		Kind:       "Workflow",
		Metadata:   ManifestMetadata{GenerateName: def.Name + "-"},
		Spec:       ManifestSpec{Entrypoint: def.Name},
	}
	if def.Description != "" {
		m.Metadata.Annotations = map[string]string{"leapml.io/description": def.Description}
	}

	dagTemplate := Template{Name: def.Name, DAG: &DAG{}}
	containers := make([]Template, 0, len(order))
	for _, name := range order {
		step, _ := def.Step(name)
		dagTemplate.DAG.Tasks = append(dagTemplate.DAG.Tasks, Task{
			Name:         step.Name,
			Template:     step.Name,
			Dependencies: step.After,
		})

		limits := map[string]string{}
		if step.Resources.CPU != "" {
			limits["cpu"] = step.Resources.CPU
		}
		if step.Resources.Memory != "" {
			limits["memory"] = step.Resources.Memory
		}
		containers = append(containers, Template{
			Name: step.Name,
			Container: &Container{
				Image:     image,
				Command:   []string{"leapml", "stage", step.Name},
				Resources: ContainerResources{Limits: limits},
			},
		})
	}

	m.Spec.Templates = append([]Template{dagTemplate}, containers...)
	return m, nil
}

// Compile renders the definition as a YAML workflow manifest.
func Compile(def *Definition) ([]byte, error) {
	m, err := Build(def)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}
