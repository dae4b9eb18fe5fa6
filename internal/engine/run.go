package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

// RunState is the state of a Run.
type RunState int

const (
	// StateInitializing is the state before the process has been loaded.
	StateInitializing RunState = iota
	// StateLooping is the state while executable steps remain.
	StateLooping
	// StateIdle is the terminal state.
	StateIdle
)

func (s RunState) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateLooping:
		return "Looping"
	case StateIdle:
		return "Idle"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// Run is a cursor over the checkpoints of one process execution:
//
//	run := executor.ExecuteProcess(ctx, id, repo)
//	for run.Next() {
//		switch run.Checkpoint() {
//		case api.LockRequested: ...
//		case api.SaveRequested: ...
//		}
//	}
//	if err := run.Err(); err != nil { ... }
//
// Each call to Next does one unit of work and stops at the following
// checkpoint, so the caller can persist in between or stop early. A Run is
// not safe for concurrent use.
type Run struct {
	engine    *ProcessExecutor
	ctx       context.Context
	processID uuid.UUID
	repo      *persistence.Repository
	logger    *slog.Logger

	state      RunState
	checkpoint api.Checkpoint
	err        error

	pctx *processContext
	// locked is the step type whose LockRequested checkpoint was emitted
	// and which runs on the next call to Next.
	locked    api.StepTypeID
	hasLocked bool
}

// State returns the current state.
func (r *Run) State() RunState {
	return r.state
}

// Checkpoint returns the checkpoint reached by the last call to Next.
func (r *Run) Checkpoint() api.Checkpoint {
	return r.checkpoint
}

// Err returns the fault that aborted the run, if any.
func (r *Run) Err() error {
	return r.err
}

// Process returns the process as attached to the repository, or nil before
// the first call to Next. Lock changes made on it are saved with the run.
func (r *Run) Process() *api.Process {
	if r.pctx == nil {
		return nil
	}
	return r.pctx.process
}

// Next advances to the next checkpoint. It returns false once the run is
// idle or aborted.
func (r *Run) Next() bool {
	switch r.state {
	case StateInitializing:
		return r.initialize()
	case StateLooping:
		return r.step()
	default:
		return false
	}
}

// All adapts the run to a range-over-func sequence. A fault is yielded last
// with an Unmodified checkpoint.
func (r *Run) All() iter.Seq2[api.Checkpoint, error] {
	return func(yield func(api.Checkpoint, error) bool) {
		for r.Next() {
			if !yield(r.checkpoint, nil) {
				return
			}
		}
		if r.err != nil {
			yield(api.Unmodified, r.err)
		}
	}
}

func (r *Run) initialize() bool {
	data, err := r.repo.GetProcessStepData(r.ctx, r.processID)
	if err != nil {
		return r.abort(fmt.Errorf("load process %s: %w", r.processID, err))
	}

	executor, err := r.engine.registry.Get(data.Process.ProcessTypeID)
	if err != nil {
		return r.abort(err)
	}

	process := r.repo.AttachProcess(data.Process)
	r.pctx = newProcessContext(process, executor, r.repo, data.Steps)
	r.logger = r.logger.With("process_type", string(process.ProcessTypeID))
	r.engine.observer.OnRunStart(r.ctx, process)

	result, err := executor.InitializeProcess(r.ctx, r.processID, r.pctx.knownStepTypes())
	if err != nil {
		return r.abort(fmt.Errorf("initialize process %s: %w", r.processID, err))
	}

	modified := r.pctx.scheduleSteps(result.ScheduleStepTypeIDs) || result.Modified

	r.state = StateLooping
	r.checkpoint = checkpointFor(modified)
	return true
}

func (r *Run) step() bool {
	pctx := r.pctx

	var stepTypeID api.StepTypeID
	if r.hasLocked {
		stepTypeID, r.hasLocked = r.locked, false
	} else {
		next, ok := pctx.executable.Next()
		if !ok {
			return r.finish()
		}
		stepTypeID = next

		lock, err := pctx.executor.IsLockRequested(r.ctx, stepTypeID)
		if err != nil {
			return r.abort(fmt.Errorf("lock request for step %s: %w", stepTypeID, err))
		}
		if lock {
			r.locked, r.hasLocked = stepTypeID, true
			r.checkpoint = api.LockRequested
			return true
		}
	}

	r.engine.observer.OnStepStart(r.ctx, pctx.process, stepTypeID)
	start := time.Now()

	result, err := r.execute(stepTypeID)
	if err != nil {
		if api.IsFatal(err) {
			r.engine.observer.OnStepCompleted(r.ctx, pctx.process, stepTypeID, api.StepStatusTodo, err, time.Since(start))
			return r.abort(fmt.Errorf("step %s: %w", stepTypeID, err))
		}
		r.logger.Warn("process step failed unexpectedly",
			"step_type", string(stepTypeID),
			"error", err,
		)
		result = api.StepResult{
			Status:  api.StepStatusFailed,
			Message: api.StringPtr(failureMessage(err)),
		}
	} else if !result.Status.Valid() {
		r.logger.Warn("process step returned invalid status",
			"step_type", string(stepTypeID),
			"status", string(result.Status),
		)
		result = api.StepResult{
			Status:  api.StepStatusFailed,
			Message: api.StringPtr(fmt.Sprintf("invalid step status %q", result.Status)),
		}
	}

	modified := pctx.setStepStatus(stepTypeID, result.Status, result.Message)
	for _, skip := range result.SkipStepTypeIDs {
		if pctx.setStepStatus(skip, api.StepStatusSkipped, nil) {
			r.logger.Info("process step skipped",
				"step_type", string(skip),
				"skipped_by", string(stepTypeID),
			)
			modified = true
		}
	}
	if pctx.scheduleSteps(result.ScheduleStepTypeIDs) {
		modified = true
	}

	r.engine.observer.OnStepCompleted(r.ctx, pctx.process, stepTypeID, result.Status, err, time.Since(start))

	r.checkpoint = checkpointFor(modified || result.Modified)
	return true
}

// execute runs one step, converting a panic into an error.
func (r *Run) execute(stepTypeID api.StepTypeID) (result api.StepResult, err error) {
	defer func() {
		if v := recover(); v != nil {
			result, err = api.StepResult{}, &PanicError{Value: v}
		}
	}()
	return r.pctx.executor.ExecuteProcessStep(r.ctx, stepTypeID, r.pctx.knownStepTypes())
}

func (r *Run) finish() bool {
	r.state = StateIdle
	r.checkpoint = api.Unmodified
	r.engine.observer.OnRunFinished(r.ctx, r.pctx.process, nil)
	return false
}

func (r *Run) abort(err error) bool {
	r.state = StateIdle
	r.checkpoint = api.Unmodified
	r.err = err
	r.logger.Error("process run aborted", "error", err)
	if r.pctx != nil {
		r.engine.observer.OnRunFinished(r.ctx, r.pctx.process, err)
	}
	return false
}

func checkpointFor(modified bool) api.Checkpoint {
	if modified {
		return api.SaveRequested
	}
	return api.Unmodified
}

// failureMessage describes an error that escaped a step as
// "<type>: <text>", or "panic: <value>" for a recovered panic.
func failureMessage(err error) string {
	var p *PanicError
	if errors.As(err, &p) {
		return "panic: " + p.Error()
	}
	return fmt.Sprintf("%T: %s", err, err)
}

// PanicError carries the value recovered from a panicking step.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v", e.Value)
}

// Unwrap exposes a panicked error value, so a panic with a fatal error
// still aborts the run.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
