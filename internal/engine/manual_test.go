package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

func lockProcess(t *testing.T, store persistence.Store, p *api.Process, expiry time.Time) {
	t.Helper()

	repo := persistence.NewRepository(store)
	tracked := repo.AttachProcess(p)
	require.True(t, tracked.TryLock(expiry, time.Now()))
	require.NoError(t, repo.SaveChanges(context.Background()))
}

func TestVerifyProcessSteps_UnknownProcess(t *testing.T) {
	repo := persistence.NewRepository(persistence.NewInMemoryStore())

	_, err := VerifyProcessSteps(context.Background(), repo, uuid.New(), "AWAIT", nil, nil)
	require.ErrorIs(t, err, persistence.ErrProcessNotFound)
}

func TestVerifyProcessSteps_StepNotEligible(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewInMemoryStore()
	p := seedProcess(t, store, "A")

	repo := persistence.NewRepository(store)
	_, err := VerifyProcessSteps(ctx, repo, p.ID, "AWAIT", nil, nil)
	require.ErrorIs(t, err, ErrStepNotEligible)

	var notEligible *StepNotEligibleError
	require.True(t, errors.As(err, &notEligible))
	require.Equal(t, p.ID, notEligible.ProcessID)
	require.Equal(t, api.StepTypeID("AWAIT"), notEligible.StepTypeID)
	require.Equal(t, []api.StepStatus{api.StepStatusTodo}, notEligible.RequiredStatuses)
	require.False(t, repo.HasChanges())
}

func TestVerifyProcessSteps_RequiredStatuses(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewInMemoryStore()
	p := seedProcess(t, store, "A")

	ex := newFakeExecutor("A").returns("A", api.Fail("rejected"))
	_, run := drive(t, newTestExecutor(t, ex), store, p.ID)
	require.NoError(t, run.Err())

	repo := persistence.NewRepository(store)
	_, err := VerifyProcessSteps(ctx, repo, p.ID, "A", nil, nil)
	require.ErrorIs(t, err, ErrStepNotEligible)

	mctx, err := VerifyProcessSteps(ctx, repo, p.ID, "A", []api.StepStatus{api.StepStatusFailed}, nil)
	require.NoError(t, err)
	require.Equal(t, api.StepTypeID("A"), mctx.StepTypeID())
}

func TestFinalize_ReleasesLockAndSchedules(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewInMemoryStore()
	p := seedProcess(t, store, "AWAIT", "AWAIT", "PENDING")
	lockProcess(t, store, p, time.Now().Add(time.Hour))

	locked, err := store.GetProcess(ctx, p.ID)
	require.NoError(t, err)

	repo := persistence.NewRepository(store)
	mctx, err := VerifyProcessSteps(ctx, repo, p.ID, "AWAIT", nil, nil)
	require.NoError(t, err, "a locked process is accepted")

	Finalize(mctx, []api.StepTypeID{"NEXT", "PENDING", "NEXT"})
	require.NoError(t, repo.SaveChanges(ctx))

	got, err := store.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	require.Nil(t, got.LockExpiryDate)
	require.NotEqual(t, locked.Version, got.Version)

	steps := stepsByType(t, store, p.ID)
	require.Equal(t, api.StepStatusDone, steps["AWAIT"][0].Status)
	require.Equal(t, api.StepStatusDuplicate, steps["AWAIT"][1].Status)
	require.Len(t, steps["PENDING"], 1)
	require.Len(t, steps["NEXT"], 1)
	require.Equal(t, api.StepStatusTodo, steps["NEXT"][0].Status)
}

func TestFinalize_UnlockedProcessBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewInMemoryStore()
	p := seedProcess(t, store, "AWAIT")

	repo := persistence.NewRepository(store)
	mctx, err := VerifyProcessSteps(ctx, repo, p.ID, "AWAIT", nil, nil)
	require.NoError(t, err)

	Finalize(mctx, nil)
	require.NoError(t, repo.SaveChanges(ctx))

	got, err := store.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	require.NotEqual(t, p.Version, got.Version)
	require.Equal(t, mctx.Process().Version, got.Version)
}

func TestFinalize_LosesRaceAgainstWorker(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewInMemoryStore()
	p := seedProcess(t, store, "AWAIT")

	repo := persistence.NewRepository(store)
	mctx, err := VerifyProcessSteps(ctx, repo, p.ID, "AWAIT", nil, nil)
	require.NoError(t, err)

	// another writer saves first
	lockProcess(t, store, p.Clone(), time.Now().Add(time.Minute))

	Finalize(mctx, nil)
	require.ErrorIs(t, repo.SaveChanges(ctx), persistence.ErrConflict)

	steps := stepsByType(t, store, p.ID)
	require.Equal(t, api.StepStatusTodo, steps["AWAIT"][0].Status)
}

func TestFail_RecordsMessageAndRetrigger(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewInMemoryStore()
	p := seedProcess(t, store, "AWAIT")

	repo := persistence.NewRepository(store)
	mctx, err := VerifyProcessSteps(ctx, repo, p.ID, "AWAIT", nil, nil)
	require.NoError(t, err)

	Fail(mctx, "wallet creation rejected", []api.StepTypeID{"RETRIGGER"})
	require.NoError(t, repo.SaveChanges(ctx))

	steps := stepsByType(t, store, p.ID)
	require.Equal(t, api.StepStatusFailed, steps["AWAIT"][0].Status)
	require.Equal(t, "wallet creation rejected", *steps["AWAIT"][0].Message)
	require.Equal(t, api.StepStatusTodo, steps["RETRIGGER"][0].Status)
}

func TestFinalize_ClearsEarlierMessage(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewInMemoryStore()
	p := seedProcess(t, store, "AWAIT")

	repo := persistence.NewRepository(store)
	mctx, err := VerifyProcessSteps(ctx, repo, p.ID, "AWAIT", nil, nil)
	require.NoError(t, err)
	Fail(mctx, "callback timed out", nil)
	require.NoError(t, repo.SaveChanges(ctx))

	repo = persistence.NewRepository(store)
	mctx, err = VerifyProcessSteps(ctx, repo, p.ID, "AWAIT", []api.StepStatus{api.StepStatusFailed}, nil)
	require.NoError(t, err)
	Finalize(mctx, nil)
	require.NoError(t, repo.SaveChanges(ctx))

	step := stepsByType(t, store, p.ID)["AWAIT"][0]
	require.Equal(t, api.StepStatusDone, step.Status)
	require.Nil(t, step.Message)
}

func TestSkipProcessStepsExcept(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewInMemoryStore()
	p := seedProcess(t, store, "AWAIT", "X", "X", "Y", "Z")

	repo := persistence.NewRepository(store)
	mctx, err := VerifyProcessSteps(ctx, repo, p.ID, "AWAIT", nil, []api.StepTypeID{"X", "Y"})
	require.NoError(t, err)

	SkipProcessStepsExcept(mctx, []api.StepTypeID{"Y"})
	Finalize(mctx, []api.StepTypeID{"X"})
	require.NoError(t, repo.SaveChanges(ctx))

	steps := stepsByType(t, store, p.ID)
	require.Equal(t, api.StepStatusSkipped, steps["X"][0].Status)
	require.Equal(t, api.StepStatusDuplicate, steps["X"][1].Status)
	require.Len(t, steps["X"], 3, "a skipped type can be scheduled again")
	require.Equal(t, api.StepStatusTodo, steps["X"][2].Status)
	require.Equal(t, api.StepStatusTodo, steps["Y"][0].Status)
	require.Equal(t, api.StepStatusTodo, steps["Z"][0].Status, "types outside the context are untouched")
}

func TestRequestLock(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewInMemoryStore()
	p := seedProcess(t, store, "AWAIT")

	repo := persistence.NewRepository(store)
	mctx, err := VerifyProcessSteps(ctx, repo, p.ID, "AWAIT", nil, nil)
	require.NoError(t, err)

	expiry := time.Now().Add(time.Hour)
	require.True(t, RequestLock(mctx, expiry))
	require.False(t, RequestLock(mctx, expiry.Add(time.Hour)), "a live lease cannot be taken twice")
	require.NoError(t, repo.SaveChanges(ctx))

	got, err := store.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.IsLocked(time.Now()))
}

func TestComplete_SavesAndSchedules(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewInMemoryStore()
	p := seedProcess(t, store, "AWAIT")

	err := Complete(ctx, persistence.NewRepository(store), p.ID, "AWAIT", Transition{
		OnComplete: []api.StepTypeID{"NEXT"},
		OnFail:     []api.StepTypeID{"RETRIGGER"},
	})
	require.NoError(t, err)

	steps := stepsByType(t, store, p.ID)
	require.Equal(t, api.StepStatusDone, steps["AWAIT"][0].Status)
	require.Len(t, steps["NEXT"], 1)
	require.Equal(t, api.StepStatusTodo, steps["NEXT"][0].Status)
	require.Empty(t, steps["RETRIGGER"])

	got, err := store.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	require.NotEqual(t, p.Version, got.Version)
}

func TestReject_SavesMessageAndSchedulesFailureSteps(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewInMemoryStore()
	p := seedProcess(t, store, "AWAIT")

	err := Reject(ctx, persistence.NewRepository(store), p.ID, "AWAIT", "provider declined", Transition{
		OnComplete: []api.StepTypeID{"NEXT"},
		OnFail:     []api.StepTypeID{"RETRIGGER"},
	})
	require.NoError(t, err)

	steps := stepsByType(t, store, p.ID)
	require.Equal(t, api.StepStatusFailed, steps["AWAIT"][0].Status)
	require.Equal(t, "provider declined", *steps["AWAIT"][0].Message)
	require.Len(t, steps["RETRIGGER"], 1)
	require.Empty(t, steps["NEXT"])
}

func TestComplete_SecondCallIsNotEligible(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewInMemoryStore()
	p := seedProcess(t, store, "AWAIT")

	require.NoError(t, Complete(ctx, persistence.NewRepository(store), p.ID, "AWAIT", Transition{}))
	err := Complete(ctx, persistence.NewRepository(store), p.ID, "AWAIT", Transition{})
	require.ErrorIs(t, err, ErrStepNotEligible)
}
