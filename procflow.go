package procflow

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/petrijr/procflow/internal/engine"
	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
	"github.com/petrijr/procflow/pkg/worker"
)

// Re-exported core types.
type (
	Process              = api.Process
	ProcessStep          = api.ProcessStep
	ProcessDetails       = api.ProcessDetails
	ProcessTypeID        = api.ProcessTypeID
	StepTypeID           = api.StepTypeID
	StepStatus           = api.StepStatus
	StepResult           = api.StepResult
	InitializationResult = api.InitializationResult
	Checkpoint           = api.Checkpoint
	ProcessTypeExecutor  = api.ProcessTypeExecutor
	ServiceError         = api.ServiceError

	Observer             = api.Observer
	NoopObserver         = api.NoopObserver
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot

	Store               = persistence.Store
	Repository          = persistence.Repository
	ActiveProcessFilter = persistence.ActiveProcessFilter
	ConflictError       = persistence.ConflictError

	ProcessExecutor = engine.ProcessExecutor
	Run             = engine.Run
	ManualContext   = engine.ManualContext
	Transition      = engine.Transition

	Worker       = worker.Worker
	WorkerConfig = worker.Config
)

const (
	StepStatusTodo      = api.StepStatusTodo
	StepStatusDone      = api.StepStatusDone
	StepStatusFailed    = api.StepStatusFailed
	StepStatusSkipped   = api.StepStatusSkipped
	StepStatusDuplicate = api.StepStatusDuplicate

	Unmodified    = api.Unmodified
	SaveRequested = api.SaveRequested
	LockRequested = api.LockRequested
)

var (
	ErrProcessNotFound     = persistence.ErrProcessNotFound
	ErrConflict            = persistence.ErrConflict
	ErrStepNotEligible     = engine.ErrStepNotEligible
	ErrUnexpectedCondition = api.ErrUnexpectedCondition
)

// Result helpers.
var (
	Done                = api.Done
	Retry               = api.Retry
	Fail                = api.Fail
	ClassifyError       = api.ClassifyError
	UnexpectedCondition = api.UnexpectedCondition
)

// Observer helpers.
var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Manual resolution helpers for inbound event handlers.
var (
	VerifyProcessSteps     = engine.VerifyProcessSteps
	Finalize               = engine.Finalize
	FailStep               = engine.Fail
	RequestLock            = engine.RequestLock
	ScheduleProcessSteps   = engine.ScheduleProcessSteps
	SkipProcessSteps       = engine.SkipProcessSteps
	SkipProcessStepsExcept = engine.SkipProcessStepsExcept
)

// SQLiteDSN adds WAL journaling and a busy timeout to a SQLite file DSN.
var SQLiteDSN = persistence.SQLiteDSN

// NewRepository starts a unit of work against store.
func NewRepository(store Store) *Repository {
	return persistence.NewRepository(store)
}

// Engine ties a ProcessExecutor to a Store and a Worker driving it.
type Engine struct {
	Executor *ProcessExecutor
	Store    Store

	worker *Worker
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	logger   *slog.Logger
	observer Observer
	worker   WorkerConfig
}

// WithLogger sets the logger used by the executor and the worker.
func WithLogger(l *slog.Logger) EngineOption {
	return func(c *engineConfig) { c.logger = l }
}

// WithObserver sets the observer notified about runs and steps.
func WithObserver(o Observer) EngineOption {
	return func(c *engineConfig) { c.observer = o }
}

// WithWorkerConfig sets how the engine's worker polls and leases.
func WithWorkerConfig(cfg WorkerConfig) EngineOption {
	return func(c *engineConfig) { c.worker = cfg }
}

// NewEngine builds an Engine over store for the given process types.
func NewEngine(store Store, executors []ProcessTypeExecutor, opts ...EngineOption) (*Engine, error) {
	var cfg engineConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.worker.Logger == nil {
		cfg.worker.Logger = cfg.logger
	}

	exec, err := engine.New(executors,
		engine.WithLogger(cfg.logger),
		engine.WithObserver(cfg.observer),
	)
	if err != nil {
		return nil, err
	}

	return &Engine{
		Executor: exec,
		Store:    store,
		worker:   worker.NewWithConfig(exec, store, cfg.worker),
	}, nil
}

// NewInMemoryEngine builds an Engine over a fresh in-memory store.
func NewInMemoryEngine(executors ...ProcessTypeExecutor) (*Engine, error) {
	return NewEngine(persistence.NewInMemoryStore(), executors)
}

// NewSQLiteEngine builds an Engine over db, which must use a SQLite driver.
func NewSQLiteEngine(db *sql.DB, executors []ProcessTypeExecutor, opts ...EngineOption) (*Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(store, executors, opts...)
}

// NewPostgresEngine builds an Engine over db, which must use a Postgres
// driver such as pgx.
func NewPostgresEngine(db *sql.DB, executors []ProcessTypeExecutor, opts ...EngineOption) (*Engine, error) {
	store, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(store, executors, opts...)
}

// NewRedisEngine builds an Engine over client. Keys are namespaced by
// prefix.
func NewRedisEngine(client *redis.Client, prefix string, executors []ProcessTypeExecutor, opts ...EngineOption) (*Engine, error) {
	return NewEngine(persistence.NewRedisStore(client, prefix), executors, opts...)
}

// NewBoltEngine builds an Engine over a bbolt database file at path.
func NewBoltEngine(ctx context.Context, path string, executors []ProcessTypeExecutor, opts ...EngineOption) (*Engine, error) {
	store, err := persistence.OpenBoltStore(ctx, path)
	if err != nil {
		return nil, err
	}
	e, err := NewEngine(store, executors, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return e, nil
}

// Worker returns the worker driving this engine's processes.
func (e *Engine) Worker() *Worker {
	return e.worker
}

// StartProcess creates a process of typeID with a TODO step for each of
// initial. With no initial steps, the executor's InitializeProcess picks
// the first steps, so the process is visible to workers right away.
func (e *Engine) StartProcess(ctx context.Context, typeID ProcessTypeID, initial ...StepTypeID) (*Process, error) {
	executor, err := e.Executor.Executor(typeID)
	if err != nil {
		return nil, err
	}

	repo := persistence.NewRepository(e.Store)
	p := repo.CreateProcess(typeID)

	if len(initial) == 0 {
		res, err := executor.InitializeProcess(api.ContextWithProcessID(ctx, p.ID), p.ID, nil)
		if err != nil {
			return nil, fmt.Errorf("initialize process %s: %w", p.ID, err)
		}
		initial = res.ScheduleStepTypeIDs
	}

	specs := make([]api.StepSpec, 0, len(initial))
	for _, st := range initial {
		specs = append(specs, api.StepSpec{
			ProcessTypeID: typeID,
			StepTypeID:    st,
			Status:        api.StepStatusTodo,
			ProcessID:     p.ID,
		})
	}
	repo.CreateProcessSteps(specs)
	if err := repo.SaveChanges(ctx); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// ExecuteProcess drives one process to the end of its run.
func (e *Engine) ExecuteProcess(ctx context.Context, processID uuid.UUID) error {
	return e.worker.ExecuteProcess(ctx, processID)
}

// Poll drives every active process once and returns how many were run.
func (e *Engine) Poll(ctx context.Context) (int, error) {
	return e.worker.Poll(ctx)
}

// GetProcess returns a process with all of its steps.
func (e *Engine) GetProcess(ctx context.Context, processID uuid.UUID) (*ProcessDetails, error) {
	p, err := e.Store.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	steps, err := e.Store.GetProcessSteps(ctx, processID)
	if err != nil {
		return nil, err
	}
	return &ProcessDetails{Process: *p, Steps: steps}, nil
}

// Complete resolves a TODO sentinel step as DONE and schedules next.
func (e *Engine) Complete(ctx context.Context, processID uuid.UUID, stepTypeID StepTypeID, next ...StepTypeID) error {
	repo := persistence.NewRepository(e.Store)
	return engine.Complete(ctx, repo, processID, stepTypeID, Transition{OnComplete: next})
}

// Reject resolves a TODO sentinel step as FAILED with message and
// schedules next.
func (e *Engine) Reject(ctx context.Context, processID uuid.UUID, stepTypeID StepTypeID, message string, next ...StepTypeID) error {
	repo := persistence.NewRepository(e.Store)
	return engine.Reject(ctx, repo, processID, stepTypeID, message, Transition{OnFail: next})
}

// Close closes the underlying store.
func (e *Engine) Close() error {
	return e.Store.Close()
}
