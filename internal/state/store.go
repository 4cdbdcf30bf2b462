// Package state records pipeline run history in SQLite.
// It tracks each run and the outcome of every stage within it.
package state

import (
	"context"
	"time"
)

// Store persists run history.
type Store interface {
	CreateRun(ctx context.Context, pipeline string) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	GetLatestRun(ctx context.Context, pipeline string) (*Run, error)

	RecordStageRun(ctx context.Context, sr *StageRun) error
	UpdateStageRun(ctx context.Context, id string, status StageStatus, detail, errMsg string) error
	GetStageRuns(ctx context.Context, runID string) ([]*StageRun, error)

	Close() error
}

// RunStatus represents the status of a pipeline run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run represents one execution of a pipeline.
type Run struct {
	ID          string     `json:"id"`
	Pipeline    string     `json:"pipeline"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// StageStatus represents the status of a single stage within a run.
type StageStatus string

// Stage status constants.
const (
	StageStatusPending StageStatus = "pending"
	StageStatusRunning StageStatus = "running"
	StageStatusSuccess StageStatus = "success"
	StageStatusFailed  StageStatus = "failed"
	StageStatusSkipped StageStatus = "skipped"
)

// Terminal reports whether the status is final.
func (s StageStatus) Terminal() bool {
	return s == StageStatusSuccess || s == StageStatusFailed || s == StageStatusSkipped
}

// StageRun is the record of one stage within a run.
type StageRun struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	Stage       string        `json:"stage"`
	Position    int           `json:"position"`
	Status      StageStatus   `json:"status"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	Detail      string        `json:"detail,omitempty"`
	Error       string        `json:"error,omitempty"`
}
