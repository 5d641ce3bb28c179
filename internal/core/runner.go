package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunStatus is the lifecycle state of one pipeline run.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
)

// StepStatus is the terminal state of one step within a run.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult records the outcome of one step.
type StepResult struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	ExitCode   int        `json:"exitCode"`
	Output     string     `json:"output,omitempty"`
	LogPath    string     `json:"logPath,omitempty"`
	StartedAt  time.Time  `json:"startedAt,omitempty"`
	FinishedAt time.Time  `json:"finishedAt,omitempty"`
}

// Run is one execution instance of a pipeline, triggered by a single
// event. It is immutable once Status is terminal.
type Run struct {
	ID         string       `json:"id"`
	Pipeline   string       `json:"pipeline"`
	Event      Event        `json:"event"`
	Status     RunStatus    `json:"status"`
	Steps      []StepResult `json:"steps"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt,omitempty"`
}

// Failed reports whether any executed step failed.
func (r *Run) Failed() bool {
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			return true
		}
	}
	return r.Error != ""
}

// Clone returns a deep copy safe to read while the original is still
// being mutated by its engine.
func (r *Run) Clone() *Run {
	out := *r
	out.Steps = make([]StepResult, len(r.Steps))
	copy(out.Steps, r.Steps)
	return &out
}

// StepByName returns the result for a named step, or nil.
func (r *Run) StepByName(name string) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}

// LogSink persists a step's captured output and returns where it
// landed.
type LogSink interface {
	Save(runID, step, output string) (string, error)
}

// Engine executes pipeline runs: it provisions the environment, walks
// the steps in declaration order, and tears the environment down.
type Engine struct {
	provisioner Provisioner
	logs        LogSink
	logger      zerolog.Logger
	stepTimeout time.Duration
	observer    func(*Run)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogSink persists each step's output through the given sink.
func WithLogSink(s LogSink) EngineOption {
	return func(e *Engine) { e.logs = s }
}

// WithLogger sets the engine's logger.
func WithLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithStepTimeout bounds each step's wall-clock time.
func WithStepTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.stepTimeout = d }
}

// WithRunObserver registers a callback invoked with a snapshot of the
// run when it starts and again when it reaches a terminal status.
func WithRunObserver(fn func(*Run)) EngineOption {
	return func(e *Engine) { e.observer = fn }
}

// NewEngine creates an Engine executing runs through the given
// provisioner.
func NewEngine(p Provisioner, opts ...EngineOption) *Engine {
	e := &Engine{
		provisioner: p,
		logger:      zerolog.Nop(),
		stepTimeout: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the pipeline for an event that already passed trigger
// evaluation. It always returns a terminal Run; errors are recorded on
// the run rather than returned, so a provisioning failure and a step
// failure both surface the same way to callers.
//
// Semantics on failure: once any step fails, later ordinary steps are
// skipped without executing, while always-run steps still execute and
// record their own outcomes. If the environment itself cannot be
// provisioned no step executes at all, always-run ones included; there
// is nothing for them to run in.
func (e *Engine) Execute(ctx context.Context, p *Pipeline, ev Event) *Run {
	run := &Run{
		ID:        uuid.NewString(),
		Pipeline:  p.Name,
		Event:     ev,
		Status:    RunRunning,
		Steps:     make([]StepResult, len(p.Steps)),
		StartedAt: time.Now().UTC(),
	}
	for i, s := range p.Steps {
		run.Steps[i] = StepResult{Name: s.Name, Status: StepPending}
	}

	logger := e.logger.With().
		Str("run", run.ID).
		Str("pipeline", p.Name).
		Str("event", string(ev.Kind)).
		Logger()
	logger.Info().Int("steps", len(p.Steps)).Msg("run started")
	e.notify(run)

	env, err := e.provisioner.Provision(ctx, p.Environment)
	if err != nil {
		perr := &ProvisioningError{Image: p.Environment.Image, Err: err}
		logger.Error().Err(perr).Msg("provisioning failed")
		run.Error = perr.Error()
		for i := range run.Steps {
			run.Steps[i].Status = StepSkipped
		}
		return e.finalize(run, logger)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cerr := env.Close(closeCtx); cerr != nil {
			logger.Warn().Err(cerr).Msg("environment teardown failed")
		}
	}()

	failed := false
	for i, step := range p.Steps {
		if failed && !step.AlwaysRun() {
			run.Steps[i].Status = StepSkipped
			logger.Info().Str("step", step.Name).Msg("step skipped")
			continue
		}
		e.runStep(ctx, env, step, &run.Steps[i], run.ID, logger)
		if run.Steps[i].Status == StepFailed {
			failed = true
		}
	}
	return e.finalize(run, logger)
}

func (e *Engine) runStep(ctx context.Context, env Environment, step Step, res *StepResult, runID string, logger zerolog.Logger) {
	res.Status = StepRunning
	res.StartedAt = time.Now().UTC()
	logger.Info().Str("step", step.Name).Msg("step started")

	script, err := ResolveStep(step)
	if err != nil {
		res.Status = StepFailed
		res.ExitCode = -1
		res.Output = err.Error()
		res.FinishedAt = time.Now().UTC()
		logger.Error().Str("step", step.Name).Err(err).Msg("step failed")
		return
	}

	stepCtx := ctx
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	result, err := env.Exec(stepCtx, script, step.Env)
	res.FinishedAt = time.Now().UTC()
	if err != nil {
		res.Status = StepFailed
		res.ExitCode = -1
		res.Output = err.Error()
		logger.Error().Str("step", step.Name).Err(err).Msg("step failed")
	} else {
		res.ExitCode = result.ExitCode
		res.Output = result.Output
		if result.ExitCode == 0 {
			res.Status = StepSuccess
			logger.Info().Str("step", step.Name).
				Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
				Msg("step completed")
		} else {
			res.Status = StepFailed
			logger.Error().Str("step", step.Name).Int("exitCode", result.ExitCode).Msg("step failed")
		}
	}

	if e.logs != nil && res.Output != "" {
		path, serr := e.logs.Save(runID, step.Name, res.Output)
		if serr != nil {
			logger.Warn().Str("step", step.Name).Err(serr).Msg("cannot save step log")
		} else {
			res.LogPath = path
		}
	}
}

func (e *Engine) finalize(run *Run, logger zerolog.Logger) *Run {
	run.FinishedAt = time.Now().UTC()
	if run.Failed() {
		run.Status = RunFailure
	} else {
		run.Status = RunSuccess
	}
	logger.Info().Str("status", string(run.Status)).
		Dur("elapsed", run.FinishedAt.Sub(run.StartedAt)).
		Msg("run finished")
	e.notify(run)
	return run
}

func (e *Engine) notify(run *Run) {
	if e.observer != nil {
		e.observer(run.Clone())
	}
}
