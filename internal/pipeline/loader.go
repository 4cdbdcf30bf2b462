package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.starlark.net/starlark"
)

// LoadError reports a pipeline file that could not be evaluated.
type LoadError struct {
	File    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// LoadDefinition reads a pipeline definition written in Starlark:
//
//	pipeline(name = "stock-price-pipeline", image = "leapml:latest")
//	stage("upload", cpu = "1", memory = "2Gi")
//	stage("ingest", after = ["upload"], cpu = "1", memory = "2Gi")
//
// A missing file yields Default.
func LoadDefinition(path string) (*Definition, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, &LoadError{File: path, Message: fmt.Sprintf("failed to read file: %v", err)}
	}
	return ParseDefinition(path, content)
}

// ParseDefinition evaluates Starlark source into a definition.
func ParseDefinition(filename string, src []byte) (*Definition, error) {
	def := &Definition{}
	declared := false

	pipelineFn := starlark.NewBuiltin("pipeline", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if declared {
			return nil, fmt.Errorf("%s: called more than once", b.Name())
		}
		if err := starlark.UnpackArgs(b.Name(), args, kwargs,
			"name", &def.Name,
			"description?", &def.Description,
			"image?", &def.Image,
		); err != nil {
			return nil, err
		}
		declared = true
		return starlark.None, nil
	})

	stageFn := starlark.NewBuiltin("stage", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			name   string
			after  *starlark.List
			cpu    starlark.Value = starlark.None
			memory string
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs,
			"name", &name,
			"after?", &after,
			"cpu?", &cpu,
			"memory?", &memory,
		); err != nil {
			return nil, err
		}

		step := Step{Name: name, Resources: Resources{Memory: memory}}
		switch v := cpu.(type) {
		case starlark.NoneType:
		case starlark.String:
			step.Resources.CPU = v.GoString()
		case starlark.Int, starlark.Float:
			step.Resources.CPU = v.String()
		default:
			return nil, fmt.Errorf("%s: cpu must be a string or number, got %s", b.Name(), cpu.Type())
		}

		if after != nil {
			for i := 0; i < after.Len(); i++ {
				s, ok := starlark.AsString(after.Index(i))
				if !ok {
					return nil, fmt.Errorf("%s: after[%d] must be a string", b.Name(), i)
				}
				step.After = append(step.After, s)
			}
		}

		def.Steps = append(def.Steps, step)
		return starlark.String(name), nil
	})

	predeclared := starlark.StringDict{
		"pipeline": pipelineFn,
		"stage":    stageFn,
	}

	thread := &starlark.Thread{
		Name:  "pipeline:" + filename,
		Print: func(_ *starlark.Thread, _ string) {},
	}

	if _, err := starlark.ExecFile(thread, filename, src, predeclared); err != nil { //nolint:staticcheck // SA1019: will migrate to ExecFileOptions later
		return nil, &LoadError{File: filename, Message: fmt.Sprintf("Starlark execution error: %v", err)}
	}
	if !declared {
		return nil, &LoadError{File: filename, Message: "pipeline() was never called"}
	}
	return def, nil
}
