package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

const testProcessType api.ProcessTypeID = "TEST_PROCESS"

type stepFunc func(ctx context.Context, known []api.StepTypeID) (api.StepResult, error)

// fakeExecutor is a scriptable ProcessTypeExecutor.
type fakeExecutor struct {
	typeID     api.ProcessTypeID
	executable []api.StepTypeID
	locks      map[api.StepTypeID]bool
	steps      map[api.StepTypeID]stepFunc
	init       func(ctx context.Context, known []api.StepTypeID) (api.InitializationResult, error)

	mu       sync.Mutex
	executed []api.StepTypeID
}

func newFakeExecutor(executable ...api.StepTypeID) *fakeExecutor {
	return &fakeExecutor{
		typeID:     testProcessType,
		executable: executable,
		locks:      make(map[api.StepTypeID]bool),
		steps:      make(map[api.StepTypeID]stepFunc),
	}
}

func (f *fakeExecutor) on(step api.StepTypeID, fn stepFunc) *fakeExecutor {
	f.steps[step] = fn
	return f
}

func (f *fakeExecutor) returns(step api.StepTypeID, result api.StepResult) *fakeExecutor {
	return f.on(step, func(context.Context, []api.StepTypeID) (api.StepResult, error) {
		return result, nil
	})
}

func (f *fakeExecutor) ProcessTypeID() api.ProcessTypeID { return f.typeID }

func (f *fakeExecutor) IsExecutableStepTypeID(t api.StepTypeID) bool {
	for _, e := range f.executable {
		if e == t {
			return true
		}
	}
	return false
}

func (f *fakeExecutor) ExecutableStepTypeIDs() []api.StepTypeID { return f.executable }

func (f *fakeExecutor) InitializeProcess(ctx context.Context, processID uuid.UUID, known []api.StepTypeID) (api.InitializationResult, error) {
	if f.init != nil {
		return f.init(ctx, known)
	}
	return api.InitializationResult{}, nil
}

func (f *fakeExecutor) IsLockRequested(ctx context.Context, t api.StepTypeID) (bool, error) {
	return f.locks[t], nil
}

func (f *fakeExecutor) ExecuteProcessStep(ctx context.Context, t api.StepTypeID, known []api.StepTypeID) (api.StepResult, error) {
	f.mu.Lock()
	f.executed = append(f.executed, t)
	f.mu.Unlock()

	fn, ok := f.steps[t]
	if !ok {
		return api.Done(), nil
	}
	return fn(ctx, known)
}

func (f *fakeExecutor) executedSteps() []api.StepTypeID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.StepTypeID(nil), f.executed...)
}

// seedProcess persists a process of testProcessType with TODO steps of the
// given types, in order.
func seedProcess(t *testing.T, store persistence.Store, steps ...api.StepTypeID) *api.Process {
	t.Helper()

	repo := persistence.NewRepository(store)
	p := repo.CreateProcess(testProcessType)
	for _, st := range steps {
		repo.CreateProcessStep(api.StepSpec{
			ProcessTypeID: testProcessType,
			StepTypeID:    st,
			Status:        api.StepStatusTodo,
			ProcessID:     p.ID,
		})
	}
	require.NoError(t, repo.SaveChanges(context.Background()))
	return p
}

// drive runs the process to the end the way a host would, saving after
// every SaveRequested and LockRequested checkpoint.
func drive(t *testing.T, e *ProcessExecutor, store persistence.Store, processID uuid.UUID) ([]api.Checkpoint, *Run) {
	t.Helper()

	ctx := context.Background()
	repo := persistence.NewRepository(store)
	run := e.ExecuteProcess(ctx, processID, repo)

	var checkpoints []api.Checkpoint
	for run.Next() {
		cp := run.Checkpoint()
		checkpoints = append(checkpoints, cp)
		switch cp {
		case api.LockRequested:
			require.True(t, run.Process().TryLock(time.Now().Add(time.Minute), time.Now()))
			require.NoError(t, repo.SaveChanges(ctx))
		case api.SaveRequested:
			require.NoError(t, repo.SaveChanges(ctx))
		case api.Unmodified:
			require.False(t, repo.HasChanges(), "Unmodified checkpoint with staged changes")
		}
	}
	return checkpoints, run
}

func newTestExecutor(t *testing.T, executors ...api.ProcessTypeExecutor) *ProcessExecutor {
	t.Helper()

	e, err := New(executors)
	require.NoError(t, err)
	return e
}

// stepsByType returns the persisted steps grouped by type in creation order.
func stepsByType(t *testing.T, store persistence.Store, processID uuid.UUID) map[api.StepTypeID][]api.ProcessStep {
	t.Helper()

	steps, err := store.GetProcessSteps(context.Background(), processID)
	require.NoError(t, err)

	out := make(map[api.StepTypeID][]api.ProcessStep)
	for _, st := range steps {
		out[st.StepTypeID] = append(out[st.StepTypeID], st)
	}
	return out
}
