package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

// ErrStepNotEligible is matched by every *StepNotEligibleError.
var ErrStepNotEligible = errors.New("process step not eligible")

// StepNotEligibleError is returned by VerifyProcessSteps when the process
// has no step of the expected type in one of the required statuses.
type StepNotEligibleError struct {
	ProcessID        uuid.UUID
	ProcessTypeID    api.ProcessTypeID
	StepTypeID       api.StepTypeID
	RequiredStatuses []api.StepStatus
}

func (e *StepNotEligibleError) Error() string {
	return fmt.Sprintf(
		"process %s (%s) has no step %s in status %v",
		e.ProcessID, e.ProcessTypeID, e.StepTypeID, e.RequiredStatuses,
	)
}

// Is makes errors.Is(err, ErrStepNotEligible) hold.
func (e *StepNotEligibleError) Is(target error) bool {
	return target == ErrStepNotEligible
}

// ManualContext is the state an inbound event handler works on after
// VerifyProcessSteps. The changes it stages are committed with
// Repository.SaveChanges.
type ManualContext struct {
	repo       *persistence.Repository
	process    *api.Process
	stepTypeID api.StepTypeID

	// steps are the rows of the expected type being resolved, in creation
	// order.
	steps []api.ProcessStep
	// others holds the TODO rows of the other step types the handler may
	// act on, in creation order.
	others map[api.StepTypeID][]api.ProcessStep
	// pending are the step types with a TODO row, for de-duplication.
	pending map[api.StepTypeID]struct{}
}

// Process returns the attached process.
func (m *ManualContext) Process() *api.Process {
	return m.process
}

// StepTypeID returns the step type the context was verified for.
func (m *ManualContext) StepTypeID() api.StepTypeID {
	return m.stepTypeID
}

// VerifyProcessSteps loads a process and confirms it has a step of type
// expected in one of requiredStatuses (TODO when empty). TODO rows of
// otherPendingTypes are loaded as well, so the handler can skip them.
//
// Locked processes are accepted: the lock is what protects a process
// parked on a sentinel step.
func VerifyProcessSteps(
	ctx context.Context,
	repo *persistence.Repository,
	processID uuid.UUID,
	expected api.StepTypeID,
	requiredStatuses []api.StepStatus,
	otherPendingTypes []api.StepTypeID,
) (*ManualContext, error) {
	if len(requiredStatuses) == 0 {
		requiredStatuses = []api.StepStatus{api.StepStatusTodo}
	}

	process, err := repo.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	steps, err := repo.GetProcessSteps(ctx, processID)
	if err != nil {
		return nil, err
	}

	m := &ManualContext{
		repo:       repo,
		stepTypeID: expected,
		others:     make(map[api.StepTypeID][]api.ProcessStep),
		pending:    make(map[api.StepTypeID]struct{}),
	}
	for _, st := range steps {
		if st.StepTypeID == expected {
			if slices.Contains(requiredStatuses, st.Status) {
				m.steps = append(m.steps, st)
			}
			continue
		}
		if st.Status != api.StepStatusTodo {
			continue
		}
		m.pending[st.StepTypeID] = struct{}{}
		if slices.Contains(otherPendingTypes, st.StepTypeID) {
			m.others[st.StepTypeID] = append(m.others[st.StepTypeID], st)
		}
	}

	if len(m.steps) == 0 {
		return nil, &StepNotEligibleError{
			ProcessID:        processID,
			ProcessTypeID:    process.ProcessTypeID,
			StepTypeID:       expected,
			RequiredStatuses: requiredStatuses,
		}
	}

	m.process = repo.AttachProcess(process)
	return m, nil
}

// Finalize marks the verified step DONE, schedules next and releases the
// lock, or bumps the version when the process was not locked.
func Finalize(m *ManualContext, next []api.StepTypeID) {
	m.resolve(api.StepStatusDone, nil, next)
}

// Fail marks the verified step FAILED with message and schedules next,
// typically a retrigger step type.
func Fail(m *ManualContext, message string, next []api.StepTypeID) {
	m.resolve(api.StepStatusFailed, api.StringPtr(message), next)
}

func (m *ManualContext) resolve(status api.StepStatus, message *string, next []api.StepTypeID) {
	m.repo.AttachAndModifyProcessSteps(resolveSteps(m.steps, status, message))
	m.steps = nil
	ScheduleProcessSteps(m, next)

	if !m.process.ReleaseLock() {
		m.process.UpdateVersion()
	}
}

// RequestLock takes the lease until expiry. It returns false when a live
// lease is already held.
func RequestLock(m *ManualContext, expiry time.Time) bool {
	return m.process.TryLock(expiry, m.repo.Now())
}

// ScheduleProcessSteps creates a TODO row for every type in stepTypeIDs that
// has no TODO row yet. It reports whether anything was created.
func ScheduleProcessSteps(m *ManualContext, stepTypeIDs []api.StepTypeID) bool {
	var specs []api.StepSpec
	for _, t := range stepTypeIDs {
		if _, ok := m.pending[t]; ok {
			continue
		}
		m.pending[t] = struct{}{}
		specs = append(specs, api.StepSpec{
			ProcessTypeID: m.process.ProcessTypeID,
			StepTypeID:    t,
			Status:        api.StepStatusTodo,
			ProcessID:     m.process.ID,
		})
	}
	if len(specs) == 0 {
		return false
	}
	m.repo.CreateProcessSteps(specs)
	return true
}

// SkipProcessSteps marks the loaded TODO rows of stepTypeIDs SKIPPED, the
// first row per type, and DUPLICATE the rest.
func SkipProcessSteps(m *ManualContext, stepTypeIDs []api.StepTypeID) {
	for _, t := range stepTypeIDs {
		m.skip(t)
	}
}

// SkipProcessStepsExcept skips every loaded other step type not in keep.
func SkipProcessStepsExcept(m *ManualContext, keep []api.StepTypeID) {
	types := make([]api.StepTypeID, 0, len(m.others))
	for t := range m.others {
		if !slices.Contains(keep, t) {
			types = append(types, t)
		}
	}
	slices.Sort(types)
	SkipProcessSteps(m, types)
}

func (m *ManualContext) skip(t api.StepTypeID) {
	rows, ok := m.others[t]
	if !ok {
		return
	}
	delete(m.others, t)
	delete(m.pending, t)
	m.repo.AttachAndModifyProcessSteps(resolveSteps(rows, api.StepStatusSkipped, nil))
}

// Transition names the step types scheduled when a step awaiting an
// external event is resolved.
type Transition struct {
	OnComplete []api.StepTypeID
	OnFail     []api.StepTypeID
}

// Complete verifies that the process has a TODO step of stepTypeID,
// finalizes it with t.OnComplete and saves.
func Complete(ctx context.Context, repo *persistence.Repository, processID uuid.UUID, stepTypeID api.StepTypeID, t Transition) error {
	m, err := VerifyProcessSteps(ctx, repo, processID, stepTypeID, nil, nil)
	if err != nil {
		return err
	}
	Finalize(m, t.OnComplete)
	return repo.SaveChanges(ctx)
}

// Reject verifies that the process has a TODO step of stepTypeID, fails it
// with message, schedules t.OnFail and saves.
func Reject(ctx context.Context, repo *persistence.Repository, processID uuid.UUID, stepTypeID api.StepTypeID, message string, t Transition) error {
	m, err := VerifyProcessSteps(ctx, repo, processID, stepTypeID, nil, nil)
	if err != nil {
		return err
	}
	Fail(m, message, t.OnFail)
	return repo.SaveChanges(ctx)
}
