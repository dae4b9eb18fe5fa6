package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/procflow/internal/testutil"
	"github.com/petrijr/procflow/pkg/api"
)

func newTestRedisStore(t *testing.T, addr string) *RedisStore {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())

	// every test gets its own keyspace
	return NewRedisStore(client, "procflow-test:"+uuid.NewString()+":")
}

func TestRedisStore(t *testing.T) {
	addr := testutil.GetRedisAddress(t)

	suite.Run(t, &StoreSuite{
		NewStore: func(t *testing.T) Store { return newTestRedisStore(t, addr) },
	})
}

func TestRedisStore_StepChangedDuringCommit(t *testing.T) {
	addr := testutil.GetRedisAddress(t)
	ctx := context.Background()
	store := newTestRedisStore(t, addr)
	defer store.Close()

	repo := NewRepository(store)
	p := repo.CreateProcess("onboarding")
	step := repo.CreateProcessStep(api.StepSpec{
		ProcessTypeID: "onboarding",
		StepTypeID:    "A",
		Status:        api.StepStatusTodo,
		ProcessID:     p.ID,
	})
	require.NoError(t, repo.SaveChanges(ctx))

	// two writers built against the same version; the second must lose
	first := NewRepository(store)
	first.AttachProcess(p.Clone())
	first.AttachAndModifyProcessStep(step.ID, nil, func(st *api.ProcessStep) { st.Status = api.StepStatusDone })

	second := NewRepository(store)
	second.AttachProcess(p.Clone())
	second.AttachAndModifyProcessStep(step.ID, nil, func(st *api.ProcessStep) { st.Status = api.StepStatusFailed })

	require.NoError(t, first.SaveChanges(ctx))
	require.ErrorIs(t, second.SaveChanges(ctx), ErrConflict)

	steps, err := store.GetProcessSteps(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, api.StepStatusDone, steps[0].Status)
}
