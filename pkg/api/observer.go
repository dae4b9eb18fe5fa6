package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the process executor for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay process execution.
type Observer interface {
	// OnRunStart is called once the process has been loaded and its
	// executor resolved, before InitializeProcess.
	OnRunStart(ctx context.Context, proc *Process)

	// OnRunFinished is called when a run ends. err is non-nil only for
	// fatal faults that aborted the run.
	OnRunFinished(ctx context.Context, proc *Process, err error)

	// OnStepStart is called before ExecuteProcessStep.
	OnStepStart(ctx context.Context, proc *Process, stepTypeID StepTypeID)

	// OnStepCompleted is called after ExecuteProcessStep returns. status is
	// the resolved status; err is the error the executor let escape, if any.
	OnStepCompleted(ctx context.Context, proc *Process, stepTypeID StepTypeID, status StepStatus, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, proc *Process)                          {}
func (NoopObserver) OnRunFinished(ctx context.Context, proc *Process, err error)            {}
func (NoopObserver) OnStepStart(ctx context.Context, proc *Process, stepTypeID StepTypeID) {}
func (NoopObserver) OnStepCompleted(ctx context.Context, proc *Process, stepTypeID StepTypeID, status StepStatus, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, proc *Process) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, proc)
	}
}

func (c *CompositeObserver) OnRunFinished(ctx context.Context, proc *Process, err error) {
	for _, o := range c.observers {
		o.OnRunFinished(ctx, proc, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, proc *Process, stepTypeID StepTypeID) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, proc, stepTypeID)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, proc *Process, stepTypeID StepTypeID, status StepStatus, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, proc, stepTypeID, status, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run and step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, proc *Process) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("process_type", string(proc.ProcessTypeID)),
		slog.String("process_id", proc.ID.String()),
	)
}

func (o *LoggingObserver) OnRunFinished(ctx context.Context, proc *Process, err error) {
	if err != nil {
		o.Logger.ErrorContext(ctx, "run_aborted",
			slog.String("process_type", string(proc.ProcessTypeID)),
			slog.String("process_id", proc.ID.String()),
			slog.Any("error", err),
		)
		return
	}
	o.Logger.InfoContext(ctx, "run_finished",
		slog.String("process_type", string(proc.ProcessTypeID)),
		slog.String("process_id", proc.ID.String()),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, proc *Process, stepTypeID StepTypeID) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("process_type", string(proc.ProcessTypeID)),
		slog.String("process_id", proc.ID.String()),
		slog.String("step_type", string(stepTypeID)),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, proc *Process, stepTypeID StepTypeID, status StepStatus, err error, d time.Duration) {
	level := slog.LevelDebug
	switch {
	case err != nil:
		level = slog.LevelError
	case status == StepStatusFailed:
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("process_type", string(proc.ProcessTypeID)),
		slog.String("process_id", proc.ID.String()),
		slog.String("step_type", string(stepTypeID)),
		slog.String("status", string(status)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsFinished      atomic.Int64
	runsAborted       atomic.Int64
	stepsDone         atomic.Int64
	stepsFailed       atomic.Int64
	stepsRetried      atomic.Int64
	stepsCompleted    atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted  int64
	RunsFinished int64
	RunsAborted  int64
	ActiveRuns   int64

	StepsDone       int64
	StepsFailed     int64
	StepsRetried    int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, proc *Process) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunFinished(ctx context.Context, proc *Process, err error) {
	if err != nil {
		m.runsAborted.Add(1)
		return
	}
	m.runsFinished.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, proc *Process, stepTypeID StepTypeID, status StepStatus, err error, d time.Duration) {
	switch status {
	case StepStatusDone:
		m.stepsDone.Add(1)
	case StepStatusFailed:
		m.stepsFailed.Add(1)
	case StepStatusTodo:
		m.stepsRetried.Add(1)
	}
	m.stepsCompleted.Add(1)
	m.totalStepDuration.Add(d.Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	finished := m.runsFinished.Load()
	aborted := m.runsAborted.Load()
	done := m.stepsDone.Load()
	failed := m.stepsFailed.Load()
	retried := m.stepsRetried.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps := m.stepsCompleted.Load(); steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsFinished:    finished,
		RunsAborted:     aborted,
		ActiveRuns:      started - finished - aborted,
		StepsDone:       done,
		StepsFailed:     failed,
		StepsRetried:    retried,
		AvgStepDuration: avg,
	}
}
