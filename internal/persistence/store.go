package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/procflow/pkg/api"
)

var (
	// ErrProcessNotFound is returned when a process does not exist.
	ErrProcessNotFound = errors.New("process not found")

	// ErrStepNotFound is returned when a modified step does not exist.
	ErrStepNotFound = errors.New("process step not found")

	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("optimistic concurrency conflict")
)

// ConflictError is returned by Store.Commit when the persisted version of a
// process differs from the version the batch was built against. Nothing in
// the batch is applied.
type ConflictError struct {
	ProcessID uuid.UUID
	Expected  uuid.UUID
	Actual    uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"optimistic concurrency conflict on process %s: expected version %s, found %s",
		e.ProcessID, e.Expected, e.Actual,
	)
}

// Is makes errors.Is(err, ErrConflict) hold for any ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ActiveProcessFilter selects processes that can be picked up by a worker.
//
// A process is active when its type is one of ProcessTypeIDs, it has at
// least one TODO step whose type is one of StepTypeIDs, and its lock is
// unset or expired before LockExpiryCutoff. Empty slices do not filter.
type ActiveProcessFilter struct {
	ProcessTypeIDs   []api.ProcessTypeID
	StepTypeIDs      []api.StepTypeID
	LockExpiryCutoff time.Time
}

// ProcessStepData is the working set loaded at the start of a run: the
// process and its TODO steps ordered by step type, then creation order.
type ProcessStepData struct {
	Process *api.Process
	Steps   []api.ProcessStep
}

// Store is the persistence backend behind a Repository.
type Store interface {
	// GetProcess loads one process.
	GetProcess(ctx context.Context, id uuid.UUID) (*api.Process, error)

	// GetProcessSteps loads every step of a process in creation order.
	GetProcessSteps(ctx context.Context, processID uuid.UUID) ([]api.ProcessStep, error)

	// GetActiveProcesses returns the processes matching filter.
	GetActiveProcesses(ctx context.Context, filter ActiveProcessFilter) ([]api.Process, error)

	// GetProcessStepData loads a process with its pending steps.
	GetProcessStepData(ctx context.Context, processID uuid.UUID) (*ProcessStepData, error)

	// Commit applies a batch atomically. It returns a *ConflictError when a
	// process version check fails.
	Commit(ctx context.Context, b *Batch) error

	Close() error
}

func (f ActiveProcessFilter) matchesType(id api.ProcessTypeID) bool {
	if len(f.ProcessTypeIDs) == 0 {
		return true
	}
	for _, t := range f.ProcessTypeIDs {
		if t == id {
			return true
		}
	}
	return false
}

func (f ActiveProcessFilter) matchesStep(s api.ProcessStep) bool {
	if s.Status != api.StepStatusTodo {
		return false
	}
	if len(f.StepTypeIDs) == 0 {
		return true
	}
	for _, t := range f.StepTypeIDs {
		if t == s.StepTypeID {
			return true
		}
	}
	return false
}

func (f ActiveProcessFilter) matchesLock(p *api.Process) bool {
	return p.LockExpiryDate == nil || p.LockExpiryDate.Before(f.LockExpiryCutoff)
}
