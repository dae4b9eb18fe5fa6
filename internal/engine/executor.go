package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

// ProcessExecutor drives processes by dispatching their pending steps to the
// ProcessTypeExecutor registered for the process type.
type ProcessExecutor struct {
	registry *executorRegistry
	logger   *slog.Logger
	observer api.Observer
}

// Option configures a ProcessExecutor.
type Option func(*ProcessExecutor)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *ProcessExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver sets the observer notified about runs and steps.
func WithObserver(o api.Observer) Option {
	return func(e *ProcessExecutor) {
		if o != nil {
			e.observer = o
		}
	}
}

// New builds a ProcessExecutor. Registering two executors for the same
// process type is an error.
func New(executors []api.ProcessTypeExecutor, opts ...Option) (*ProcessExecutor, error) {
	registry, err := newExecutorRegistry(executors)
	if err != nil {
		return nil, err
	}

	e := &ProcessExecutor{
		registry: registry,
		logger:   slog.Default(),
		observer: api.NoopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ProcessTypeIDs returns the registered process types, sorted.
func (e *ProcessExecutor) ProcessTypeIDs() []api.ProcessTypeID {
	return e.registry.ProcessTypeIDs()
}

// ExecutableStepTypeIDs returns every step type some registered executor
// runs itself, sorted. Together with ProcessTypeIDs it is the filter a host
// uses to find processes worth running.
func (e *ProcessExecutor) ExecutableStepTypeIDs() []api.StepTypeID {
	return e.registry.ExecutableStepTypeIDs()
}

// Executor returns the executor registered for typeID.
func (e *ProcessExecutor) Executor(typeID api.ProcessTypeID) (api.ProcessTypeExecutor, error) {
	return e.registry.Get(typeID)
}

// ExecuteProcess returns a lazy run over the process. Nothing is loaded
// until the first call to Run.Next. Changes are staged in repo; the caller
// commits them when a checkpoint asks for it.
func (e *ProcessExecutor) ExecuteProcess(ctx context.Context, processID uuid.UUID, repo *persistence.Repository) *Run {
	return &Run{
		engine:    e,
		ctx:       api.ContextWithProcessID(ctx, processID),
		processID: processID,
		repo:      repo,
		state:     StateInitializing,
		logger:    e.logger.With("process_id", processID.String()),
	}
}
