package pipeline

import (
	"errors"
	"fmt"
)

// ErrUnknownStage is returned when a step or selection names a stage that
// is not available.
var ErrUnknownStage = errors.New("unknown stage")

// StageError reports the stage whose failure aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
