package api

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepStatus_Terminal(t *testing.T) {
	assert.False(t, StepStatusTodo.IsTerminal())
	for _, s := range []StepStatus{StepStatusDone, StepStatusFailed, StepStatusSkipped, StepStatusDuplicate} {
		assert.True(t, s.IsTerminal(), s)
		assert.True(t, s.Valid(), s)
	}
	assert.True(t, StepStatusTodo.Valid())
	assert.False(t, StepStatus("PENDING").Valid())
}

func TestProcess_LockLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewProcess("ONBOARDING")
	v0 := p.Version

	assert.False(t, p.IsLocked(now))
	assert.False(t, p.ReleaseLock(), "nothing to release")
	assert.False(t, p.ExtendLock(now.Add(time.Hour)), "nothing to extend")
	assert.Equal(t, v0, p.Version)

	require.True(t, p.TryLock(now.Add(time.Minute), now))
	assert.True(t, p.IsLocked(now))
	assert.NotEqual(t, v0, p.Version)

	assert.False(t, p.TryLock(now.Add(time.Hour), now), "live lease blocks")

	v1 := p.Version
	require.True(t, p.ExtendLock(now.Add(time.Hour)))
	assert.True(t, now.Add(time.Hour).Equal(*p.LockExpiryDate))
	assert.NotEqual(t, v1, p.Version)

	// an expired lease can be taken over
	later := now.Add(2 * time.Hour)
	assert.False(t, p.IsLocked(later))
	assert.True(t, p.TryLock(later.Add(time.Minute), later))

	require.True(t, p.ReleaseLock())
	assert.Nil(t, p.LockExpiryDate)
}

func TestProcess_CloneIsDeep(t *testing.T) {
	now := time.Now()
	p := NewProcess("ONBOARDING")
	p.TryLock(now.Add(time.Minute), now)

	c := p.Clone()
	*c.LockExpiryDate = now.Add(time.Hour)
	assert.True(t, now.Add(time.Minute).Equal(*p.LockExpiryDate))

	step := ProcessStep{ID: uuid.New(), Message: StringPtr("a"), DateLastChanged: &now}
	sc := step.Clone()
	*sc.Message = "b"
	assert.Equal(t, "a", *step.Message)
}

func TestProcessIDContext(t *testing.T) {
	_, ok := ProcessIDFromContext(context.Background())
	assert.False(t, ok)

	id := uuid.New()
	got, ok := ProcessIDFromContext(ContextWithProcessID(context.Background(), id))
	require.True(t, ok)
	assert.Equal(t, id, got)
}
