package api

import (
	"context"

	"github.com/google/uuid"
)

// Checkpoint is emitted by a process run to tell the host what to do
// before the run continues.
type Checkpoint int

const (
	// Unmodified means nothing needs to be persisted.
	Unmodified Checkpoint = iota
	// SaveRequested means the run staged changes the host should commit.
	SaveRequested
	// LockRequested means the next step hands off to an external flow and
	// the host should take a lease on the process before it runs.
	LockRequested
)

func (c Checkpoint) String() string {
	switch c {
	case Unmodified:
		return "Unmodified"
	case SaveRequested:
		return "SaveRequested"
	case LockRequested:
		return "LockRequested"
	default:
		return "Checkpoint(?)"
	}
}

// InitializationResult is returned by ProcessTypeExecutor.InitializeProcess.
type InitializationResult struct {
	// Modified reports whether the executor changed any state.
	Modified bool
	// ScheduleStepTypeIDs are step types to create right away, typically
	// used to seed a process without steps.
	ScheduleStepTypeIDs []StepTypeID
}

// StepResult is the outcome of executing one step type.
//
// A TODO status without a message is a no-op retry: nothing is persisted
// and the step is picked up again on the next run. A TODO status with a
// message persists the message and is retried on the next run as well.
type StepResult struct {
	Modified            bool
	Status              StepStatus
	ScheduleStepTypeIDs []StepTypeID
	SkipStepTypeIDs     []StepTypeID
	Message             *string
}

// Done returns a successful result scheduling next.
func Done(next ...StepTypeID) StepResult {
	return StepResult{Modified: true, Status: StepStatusDone, ScheduleStepTypeIDs: next}
}

// Retry returns a result that leaves the step TODO with a diagnostic.
func Retry(message string) StepResult {
	return StepResult{Status: StepStatusTodo, Message: StringPtr(message)}
}

// Fail returns a FAILED result with a diagnostic, scheduling the given
// retrigger step types so the failure can be re-entered later.
func Fail(message string, retrigger ...StepTypeID) StepResult {
	return StepResult{Status: StepStatusFailed, Message: StringPtr(message), ScheduleStepTypeIDs: retrigger}
}

// ProcessTypeExecutor is implemented once per kind of business workflow and
// registered with the engine under its ProcessTypeID.
//
// Executable step types are run by the engine loop. Any other step type a
// process carries is a sentinel that is only resolved by an external event.
type ProcessTypeExecutor interface {
	ProcessTypeID() ProcessTypeID
	IsExecutableStepTypeID(stepTypeID StepTypeID) bool
	ExecutableStepTypeIDs() []StepTypeID

	// InitializeProcess loads whatever context the following step calls need.
	InitializeProcess(ctx context.Context, processID uuid.UUID, knownStepTypes []StepTypeID) (InitializationResult, error)

	// IsLockRequested is queried before stepTypeID runs.
	IsLockRequested(ctx context.Context, stepTypeID StepTypeID) (bool, error)

	// ExecuteProcessStep performs one unit of work. Implementations should
	// classify their own failures into a StepResult; an error returned here
	// fails the step, unless it wraps ErrUnexpectedCondition, in which case
	// the whole run is aborted.
	ExecuteProcessStep(ctx context.Context, stepTypeID StepTypeID, knownStepTypes []StepTypeID) (StepResult, error)
}

type processIDKey struct{}

// ContextWithProcessID returns a copy of ctx carrying the id of the process
// being run. The engine sets it on every call into a ProcessTypeExecutor, so
// executors shared between concurrent runs can tell them apart.
func ContextWithProcessID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, processIDKey{}, id)
}

// ProcessIDFromContext returns the process id set by ContextWithProcessID.
func ProcessIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(processIDKey{}).(uuid.UUID)
	return id, ok
}
