package procflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/procflow/internal/persistence"
)

type stepCounter struct {
	calls map[StepTypeID]int
}

func (c *stepCounter) handler(step StepTypeID, result StepResult) StepHandler {
	return func(context.Context, uuid.UUID) (StepResult, error) {
		c.calls[step]++
		return result, nil
	}
}

func statusesOf(t *testing.T, eng *Engine, id uuid.UUID) map[StepTypeID][]StepStatus {
	t.Helper()

	details, err := eng.GetProcess(context.Background(), id)
	require.NoError(t, err)
	out := make(map[StepTypeID][]StepStatus)
	for _, st := range details.Steps {
		out[st.StepTypeID] = append(out[st.StepTypeID], st.Status)
	}
	return out
}

func TestEngine_StartAndExecute(t *testing.T) {
	ctx := context.Background()
	c := &stepCounter{calls: map[StepTypeID]int{}}

	pt := New("ONBOARDING").
		Initial("A").
		Step("A", c.handler("A", Done("B", "C"))).
		Step("B", c.handler("B", Done())).
		Step("C", c.handler("C", Fail("rejected")))

	eng, err := NewInMemoryEngine(pt.Build())
	require.NoError(t, err)
	defer eng.Close()

	p, err := eng.StartProcess(ctx, "ONBOARDING")
	require.NoError(t, err)

	assert.Equal(t, map[StepTypeID][]StepStatus{"A": {StepStatusTodo}}, statusesOf(t, eng, p.ID),
		"initial steps come from InitializeProcess")

	require.NoError(t, eng.ExecuteProcess(ctx, p.ID))

	assert.Equal(t, map[StepTypeID][]StepStatus{
		"A": {StepStatusDone},
		"B": {StepStatusDone},
		"C": {StepStatusFailed},
	}, statusesOf(t, eng, p.ID))
	assert.Equal(t, map[StepTypeID]int{"A": 1, "B": 1, "C": 1}, c.calls)

	n, err := eng.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngine_StartProcessWithInitialSteps(t *testing.T) {
	ctx := context.Background()
	eng, err := NewInMemoryEngine(New("X").Step("A", noop).Build())
	require.NoError(t, err)

	p, err := eng.StartProcess(ctx, "X", "A", "AWAIT")
	require.NoError(t, err)
	assert.Equal(t, map[StepTypeID][]StepStatus{
		"A":     {StepStatusTodo},
		"AWAIT": {StepStatusTodo},
	}, statusesOf(t, eng, p.ID))
}

func TestEngine_StartProcessUnknownType(t *testing.T) {
	eng, err := NewInMemoryEngine(New("X").Step("A", noop).Build())
	require.NoError(t, err)

	_, err = eng.StartProcess(context.Background(), "Y")
	assert.ErrorIs(t, err, ErrUnexpectedCondition)
}

func TestEngine_DuplicateProcessType(t *testing.T) {
	_, err := NewInMemoryEngine(
		New("X").Step("A", noop).Build(),
		New("X").Step("B", noop).Build(),
	)
	assert.Error(t, err)
}

func TestEngine_CompleteAndReject(t *testing.T) {
	ctx := context.Background()
	pt := New("X").
		Initial("SEND").
		LockedStep("SEND", func(context.Context, uuid.UUID) (StepResult, error) {
			return Done("AWAIT"), nil
		}).
		Step("NEXT", noop).
		Step("RETRY_SEND", noop)

	eng, err := NewInMemoryEngine(pt.Build())
	require.NoError(t, err)

	p1, err := eng.StartProcess(ctx, "X")
	require.NoError(t, err)
	require.NoError(t, eng.ExecuteProcess(ctx, p1.ID))

	got, err := eng.GetProcess(ctx, p1.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Process.LockExpiryDate, "lease released at the end of the run")

	require.NoError(t, eng.Complete(ctx, p1.ID, "AWAIT", "NEXT"))
	err = eng.Complete(ctx, p1.ID, "AWAIT", "NEXT")
	assert.ErrorIs(t, err, ErrStepNotEligible)

	p2, err := eng.StartProcess(ctx, "X")
	require.NoError(t, err)
	require.NoError(t, eng.ExecuteProcess(ctx, p2.ID))
	require.NoError(t, eng.Reject(ctx, p2.ID, "AWAIT", "declined", "RETRY_SEND"))

	details, err := eng.GetProcess(ctx, p2.ID)
	require.NoError(t, err)
	var msg string
	for _, st := range details.Steps {
		if st.StepTypeID == "AWAIT" {
			require.NotNil(t, st.Message)
			msg = *st.Message
		}
	}
	assert.Equal(t, "declined", msg)

	n, err := eng.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, map[StepTypeID][]StepStatus{
		"SEND":       {StepStatusDone},
		"AWAIT":      {StepStatusFailed},
		"RETRY_SEND": {StepStatusDone},
	}, statusesOf(t, eng, p2.ID))
}

func TestEngine_GetProcessNotFound(t *testing.T) {
	eng, err := NewInMemoryEngine(New("X").Step("A", noop).Build())
	require.NoError(t, err)

	_, err = eng.GetProcess(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrProcessNotFound)
}

func TestEngine_FatalStepAbortsRun(t *testing.T) {
	ctx := context.Background()
	pt := New("X").
		Initial("A").
		Step("A", func(context.Context, uuid.UUID) (StepResult, error) {
			return StepResult{}, UnexpectedCondition("misconfigured")
		})

	metrics := &BasicMetrics{}
	eng, err := NewEngine(persistence.NewInMemoryStore(), []ProcessTypeExecutor{pt.Build()},
		WithObserver(metrics),
		WithWorkerConfig(WorkerConfig{LockExpiry: time.Minute}),
	)
	require.NoError(t, err)

	p, err := eng.StartProcess(ctx, "X")
	require.NoError(t, err)

	err = eng.ExecuteProcess(ctx, p.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedCondition))

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.RunsAborted)
}

func TestEngine_BoltIsDurable(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/procflow.bolt"
	pt := New("X").Initial("A").Step("A", noop).Build()

	eng, err := NewBoltEngine(ctx, path, []ProcessTypeExecutor{pt})
	require.NoError(t, err)
	p, err := eng.StartProcess(ctx, "X")
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	eng, err = NewBoltEngine(ctx, path, []ProcessTypeExecutor{pt})
	require.NoError(t, err)
	defer eng.Close()

	n, err := eng.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, map[StepTypeID][]StepStatus{"A": {StepStatusDone}}, statusesOf(t, eng, p.ID))
}
