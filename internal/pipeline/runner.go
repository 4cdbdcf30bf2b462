package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/leapstack-labs/leapml/internal/state"
)

// Result is what a stage reports on success.
type Result struct {
	Detail string `json:"detail,omitempty"`
	Count  int    `json:"count"`
}

// Stage is one executable step of the pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context) (Result, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context) (Result, error)
}

// Name returns the stage name.
func (f StageFunc) Name() string { return f.StageName }

// Run calls the function.
func (f StageFunc) Run(ctx context.Context) (Result, error) { return f.Fn(ctx) }

// RunOptions selects which steps to execute.
type RunOptions struct {
	// Only restricts the run to these steps. Upstream steps are not run
	// automatically; their outputs must already exist.
	Only []string
	// WithDownstream adds every step that depends on a selected one.
	WithDownstream bool
}

// StageOutcome is the result of one step within a run.
type StageOutcome struct {
	Stage    string            `json:"stage"`
	Status   state.StageStatus `json:"status"`
	Result   Result            `json:"result"`
	Duration time.Duration     `json:"duration"`
	Error    string            `json:"error,omitempty"`
}

// Report summarises a finished run.
type Report struct {
	Run    *state.Run     `json:"run"`
	Stages []StageOutcome `json:"stages"`
}

// Config holds runner configuration.
type Config struct {
	Definition *Definition
	Stages     []Stage
	Store      state.Store
	Logger     *slog.Logger
}

// Runner executes a pipeline definition one stage at a time.
type Runner struct {
	def    *Definition
	stages map[string]Stage
	store  state.Store
	logger *slog.Logger
}

// NewRunner validates the definition against the provided stages.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("runner requires a state store")
	}
	def := cfg.Definition
	if def == nil {
		def = Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	stages := make(map[string]Stage, len(cfg.Stages))
	names := make([]string, 0, len(cfg.Stages))
	for _, s := range cfg.Stages {
		stages[s.Name()] = s
		names = append(names, s.Name())
	}
	if err := def.Validate(names); err != nil {
		return nil, err
	}

	return &Runner{def: def, stages: stages, store: cfg.Store, logger: logger}, nil
}

// Definition returns the pipeline being run.
func (r *Runner) Definition() *Definition {
	return r.def
}

// Plan returns the steps a run with opts would execute, in order.
func (r *Runner) Plan(opts RunOptions) ([]string, error) {
	g, err := r.def.Graph()
	if err != nil {
		return nil, err
	}
	if len(opts.Only) == 0 {
		return g.TopologicalSort()
	}

	for _, name := range opts.Only {
		if !g.HasNode(name) {
			return nil, fmt.Errorf("%q: %w", name, ErrUnknownStage)
		}
	}
	selected := opts.Only
	if opts.WithDownstream {
		selected = g.Downstream(opts.Only)
	}
	return g.Subgraph(selected).TopologicalSort()
}

// Run executes the planned steps strictly in sequence. The first failing
// stage marks every later step skipped, fails the run and is returned as a
// *StageError. The report is returned in every case once a run exists.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	order, err := r.Plan(opts)
	if err != nil {
		return nil, err
	}

	r.logger.Info("starting run", "pipeline", r.def.Name, "stages", order)

	// History is recorded even when ctx is cancelled mid-run.
	bgCtx := context.WithoutCancel(ctx)

	run, err := r.store.CreateRun(bgCtx, r.def.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	r.logger.Debug("created run", "run_id", run.ID)

	records := make([]*state.StageRun, len(order))
	for i, name := range order {
		sr := &state.StageRun{RunID: run.ID, Stage: name, Position: i, Status: state.StageStatusPending}
		if err := r.store.RecordStageRun(bgCtx, sr); err != nil {
			_ = r.store.CompleteRun(bgCtx, run.ID, state.RunStatusFailed, err.Error())
			return nil, fmt.Errorf("failed to record stage %s: %w", name, err)
		}
		records[i] = sr
	}

	report := &Report{Stages: make([]StageOutcome, 0, len(order))}
	var runErr error

	for i, name := range order {
		if runErr == nil {
			if err := ctx.Err(); err != nil {
				runErr = &StageError{Stage: name, Err: err}
				r.finishStage(ctx, records[i], report, StageOutcome{Stage: name, Status: state.StageStatusFailed, Error: err.Error()})
				continue
			}
			outcome := r.runStage(ctx, records[i])
			if outcome.Status == state.StageStatusFailed {
				runErr = &StageError{Stage: name, Err: outcome.err}
			}
			r.finishStage(ctx, records[i], report, outcome.StageOutcome)
			continue
		}

		r.logger.Debug("skipping stage", "stage", name)
		r.finishStage(ctx, records[i], report, StageOutcome{Stage: name, Status: state.StageStatusSkipped})
	}

	if runErr != nil {
		r.logger.Error("run failed", "run_id", run.ID, "error", runErr)
		_ = r.store.CompleteRun(bgCtx, run.ID, state.RunStatusFailed, runErr.Error())
	} else {
		r.logger.Info("run completed", "run_id", run.ID)
		_ = r.store.CompleteRun(bgCtx, run.ID, state.RunStatusCompleted, "")
	}

	if latest, err := r.store.GetRun(bgCtx, run.ID); err == nil {
		run = latest
	}
	report.Run = run
	return report, runErr
}

type stageOutcome struct {
	StageOutcome
	err error
}

func (r *Runner) runStage(ctx context.Context, sr *state.StageRun) stageOutcome {
	name := sr.Stage
	stage := r.stages[name]

	if err := r.store.UpdateStageRun(context.WithoutCancel(ctx), sr.ID, state.StageStatusRunning, "", ""); err != nil {
		r.logger.Warn("failed to mark stage running", "stage", name, "error", err)
	}
	r.logger.Info("running stage", "stage", name)

	start := time.Now()
	res, err := stage.Run(ctx)
	elapsed := time.Since(start)

	if err != nil {
		r.logger.Error("stage failed", "stage", name, "duration", elapsed, "error", err)
		return stageOutcome{
			StageOutcome: StageOutcome{Stage: name, Status: state.StageStatusFailed, Result: res, Duration: elapsed, Error: err.Error()},
			err:          err,
		}
	}

	r.logger.Info("stage completed", "stage", name, "duration", elapsed, "count", res.Count, "detail", res.Detail)
	return stageOutcome{
		StageOutcome: StageOutcome{Stage: name, Status: state.StageStatusSuccess, Result: res, Duration: elapsed},
	}
}

func (r *Runner) finishStage(ctx context.Context, sr *state.StageRun, report *Report, outcome StageOutcome) {
	if err := r.store.UpdateStageRun(context.WithoutCancel(ctx), sr.ID, outcome.Status, outcome.Result.Detail, outcome.Error); err != nil {
		r.logger.Warn("failed to record stage outcome", "stage", sr.Stage, "error", err)
	}
	report.Stages = append(report.Stages, outcome)
}

// Available reports whether a stage with name is registered.
func (r *Runner) Available(name string) bool {
	_, ok := r.stages[name]
	return ok && slices.Contains(r.def.StepNames(), name)
}
