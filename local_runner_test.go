package procflow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLocalRunner_DrivesProcessesInBackground verifies that processes
// started on a running LocalRunner are picked up by its worker loop,
// including work scheduled by an external callback.
func TestLocalRunner_DrivesProcessesInBackground(t *testing.T) {
	var activated atomic.Int32
	pt := New("SIGNUP").
		Initial("SEND_MAIL").
		LockedStep("SEND_MAIL", func(context.Context, uuid.UUID) (StepResult, error) {
			return Done("AWAIT_CONFIRMATION"), nil
		}).
		Step("ACTIVATE", func(context.Context, uuid.UUID) (StepResult, error) {
			activated.Add(1)
			return Done(), nil
		})

	runner, err := NewLocalRunner(pt.Build())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, runner.StartWorkers(ctx, 2))
	defer runner.Stop()

	var ids []uuid.UUID
	for range 3 {
		p, err := runner.Engine.StartProcess(ctx, "SIGNUP")
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	// completing fails until the worker has run SEND_MAIL
	pending := map[uuid.UUID]bool{}
	for _, id := range ids {
		pending[id] = true
	}
	require.Eventually(t, func() bool {
		for id := range pending {
			if runner.Engine.Complete(ctx, id, "AWAIT_CONFIRMATION", "ACTIVATE") == nil {
				delete(pending, id)
			}
		}
		return len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return activated.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, runner.Stop())
}

func TestLocalRunner_StartTwiceFails(t *testing.T) {
	runner, err := NewLocalRunner(New("X").Step("A", noop).Build())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, runner.StartWorkers(ctx, 1))
	assert.Error(t, runner.StartWorkers(ctx, 1))

	require.NoError(t, runner.Stop())
	assert.NoError(t, runner.Stop(), "stopping twice is a no-op")

	require.NoError(t, runner.StartWorkers(ctx, 1), "a stopped runner can be restarted")
	require.NoError(t, runner.Stop())
}
