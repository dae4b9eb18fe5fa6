package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/procflow/pkg/api"
)

// StoreSuite exercises the Store contract against one backend, created
// fresh for every test by NewStore.
type StoreSuite struct {
	suite.Suite

	NewStore func(t *testing.T) Store
	store    Store
	ctx      context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.NewStore(s.T())
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.Require().NoError(s.store.Close())
	}
}

func (s *StoreSuite) createProcess(typeID api.ProcessTypeID, steps ...api.StepTypeID) (*api.Process, []api.ProcessStep) {
	repo := NewRepository(s.store)
	p := repo.CreateProcess(typeID)
	specs := make([]api.StepSpec, 0, len(steps))
	for _, st := range steps {
		specs = append(specs, api.StepSpec{
			ProcessTypeID: typeID,
			StepTypeID:    st,
			Status:        api.StepStatusTodo,
			ProcessID:     p.ID,
		})
	}
	created := repo.CreateProcessSteps(specs)
	s.Require().NoError(repo.SaveChanges(s.ctx))
	return p, created
}

func (s *StoreSuite) TestGetProcess_NotFound() {
	_, err := s.store.GetProcess(s.ctx, uuid.New())
	s.Require().ErrorIs(err, ErrProcessNotFound)

	_, err = s.store.GetProcessSteps(s.ctx, uuid.New())
	s.Require().ErrorIs(err, ErrProcessNotFound)

	_, err = s.store.GetProcessStepData(s.ctx, uuid.New())
	s.Require().ErrorIs(err, ErrProcessNotFound)
}

func (s *StoreSuite) TestCreateProcessWithSteps() {
	p, created := s.createProcess("onboarding", "B", "A", "B")

	got, err := s.store.GetProcess(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(p.ID, got.ID)
	s.Equal(api.ProcessTypeID("onboarding"), got.ProcessTypeID)
	s.Equal(p.Version, got.Version)
	s.Nil(got.LockExpiryDate)

	steps, err := s.store.GetProcessSteps(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(steps, 3)
	for i, st := range steps {
		s.Equal(created[i].ID, st.ID, "steps must come back in creation order")
		s.Equal(api.StepStatusTodo, st.Status)
		s.Equal(api.ProcessTypeID("onboarding"), st.ProcessTypeID)
		s.Nil(st.Message)
		s.Nil(st.DateLastChanged)
		s.True(created[i].DateCreated.Equal(st.DateCreated))
	}
}

func (s *StoreSuite) TestGetProcessStepData_PendingOrderedByType() {
	p, created := s.createProcess("onboarding", "C", "A", "B", "A")

	repo := NewRepository(s.store)
	repo.AttachProcess(p)
	repo.AttachAndModifyProcessStep(created[2].ID, nil, func(st *api.ProcessStep) {
		st.Status = api.StepStatusDone
	})
	s.Require().NoError(repo.SaveChanges(s.ctx))

	data, err := s.store.GetProcessStepData(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(p.ID, data.Process.ID)
	s.Require().Len(data.Steps, 3)
	s.Equal(created[1].ID, data.Steps[0].ID)
	s.Equal(created[3].ID, data.Steps[1].ID)
	s.Equal(created[0].ID, data.Steps[2].ID)
}

func (s *StoreSuite) TestModifyStep_StatusAndMessage() {
	p, created := s.createProcess("onboarding", "A")
	now := time.Now().UTC().Truncate(time.Millisecond)

	repo := NewRepository(s.store, WithClock(func() time.Time { return now }))
	repo.AttachProcess(p)
	repo.AttachAndModifyProcessStep(created[0].ID, nil, func(st *api.ProcessStep) {
		st.Status = api.StepStatusFailed
		st.Message = api.StringPtr("boom")
	})
	s.Require().NoError(repo.SaveChanges(s.ctx))

	steps, err := s.store.GetProcessSteps(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(steps, 1)
	s.Equal(api.StepStatusFailed, steps[0].Status)
	s.Require().NotNil(steps[0].Message)
	s.Equal("boom", *steps[0].Message)
	s.Require().NotNil(steps[0].DateLastChanged)
	s.True(now.Equal(*steps[0].DateLastChanged))

	// clearing the message keeps the status
	repo = NewRepository(s.store)
	repo.AttachProcess(p)
	repo.AttachAndModifyProcessStep(created[0].ID,
		func(st *api.ProcessStep) { st.Message = api.StringPtr("boom") },
		func(st *api.ProcessStep) { st.Message = nil },
	)
	s.Require().NoError(repo.SaveChanges(s.ctx))

	steps, err = s.store.GetProcessSteps(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(api.StepStatusFailed, steps[0].Status)
	s.Nil(steps[0].Message)
}

func (s *StoreSuite) TestCommit_VersionConflictAppliesNothing() {
	p, created := s.createProcess("onboarding", "A")

	stale := p.Clone()

	winner := NewRepository(s.store)
	winner.AttachProcess(p)
	winner.AttachAndModifyProcessStep(created[0].ID, nil, func(st *api.ProcessStep) {
		st.Status = api.StepStatusDone
	})
	s.Require().NoError(winner.SaveChanges(s.ctx))

	loser := NewRepository(s.store)
	loser.AttachProcess(stale)
	loser.CreateProcessStep(api.StepSpec{
		ProcessTypeID: "onboarding",
		StepTypeID:    "B",
		Status:        api.StepStatusTodo,
		ProcessID:     p.ID,
	})
	loser.AttachAndModifyProcessStep(created[0].ID, nil, func(st *api.ProcessStep) {
		st.Status = api.StepStatusFailed
	})
	err := loser.SaveChanges(s.ctx)
	s.Require().ErrorIs(err, ErrConflict)

	var conflict *ConflictError
	s.Require().True(errors.As(err, &conflict))
	s.Equal(p.ID, conflict.ProcessID)
	s.Equal(stale.Version, conflict.Expected)

	steps, err := s.store.GetProcessSteps(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(steps, 1, "rejected batch must not create steps")
	s.Equal(api.StepStatusDone, steps[0].Status)
}

func (s *StoreSuite) TestCommit_UnknownStep() {
	p, _ := s.createProcess("onboarding", "A")

	repo := NewRepository(s.store)
	repo.AttachProcess(p)
	repo.AttachAndModifyProcessStep(uuid.New(), nil, func(st *api.ProcessStep) {
		st.Status = api.StepStatusDone
	})
	s.Require().ErrorIs(repo.SaveChanges(s.ctx), ErrStepNotFound)

	got, err := s.store.GetProcess(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(p.Version, got.Version)
}

func (s *StoreSuite) TestLockRoundTrip() {
	p, _ := s.createProcess("onboarding", "A")
	now := time.Now().UTC()
	expiry := now.Add(time.Minute).Truncate(time.Microsecond)

	repo := NewRepository(s.store)
	tracked := repo.AttachProcess(p)
	s.Require().True(tracked.TryLock(expiry, now))
	s.Require().NoError(repo.SaveChanges(s.ctx))

	got, err := s.store.GetProcess(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.LockExpiryDate)
	s.True(expiry.Equal(*got.LockExpiryDate))
	s.Equal(tracked.Version, got.Version)

	s.Require().True(tracked.ReleaseLock())
	s.Require().NoError(repo.SaveChanges(s.ctx))

	got, err = s.store.GetProcess(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Nil(got.LockExpiryDate)
	s.Equal(tracked.Version, got.Version)
}

func (s *StoreSuite) TestGetActiveProcesses() {
	now := time.Now().UTC()

	ready, _ := s.createProcess("onboarding", "A")
	sentinelOnly, _ := s.createProcess("onboarding", "AWAIT")
	otherType, _ := s.createProcess("other", "A")
	locked, _ := s.createProcess("onboarding", "A")
	expired, _ := s.createProcess("onboarding", "A")
	finished, finishedSteps := s.createProcess("onboarding", "A")

	lock := func(p *api.Process, expiry time.Time) {
		repo := NewRepository(s.store)
		tracked := repo.AttachProcess(p)
		s.Require().True(tracked.TryLock(expiry, expiry.Add(-time.Hour)))
		s.Require().NoError(repo.SaveChanges(s.ctx))
	}
	lock(locked, now.Add(time.Hour))
	lock(expired, now.Add(-time.Minute))

	repo := NewRepository(s.store)
	repo.AttachProcess(finished)
	repo.AttachAndModifyProcessStep(finishedSteps[0].ID, nil, func(st *api.ProcessStep) {
		st.Status = api.StepStatusDone
	})
	s.Require().NoError(repo.SaveChanges(s.ctx))

	active, err := s.store.GetActiveProcesses(s.ctx, ActiveProcessFilter{
		ProcessTypeIDs:   []api.ProcessTypeID{"onboarding"},
		StepTypeIDs:      []api.StepTypeID{"A"},
		LockExpiryCutoff: now,
	})
	s.Require().NoError(err)

	var ids []uuid.UUID
	for _, p := range active {
		ids = append(ids, p.ID)
	}
	s.Equal([]uuid.UUID{ready.ID, expired.ID}, ids)

	all, err := s.store.GetActiveProcesses(s.ctx, ActiveProcessFilter{LockExpiryCutoff: now})
	s.Require().NoError(err)
	ids = ids[:0]
	for _, p := range all {
		ids = append(ids, p.ID)
	}
	s.Equal([]uuid.UUID{ready.ID, sentinelOnly.ID, otherType.ID, expired.ID}, ids)
}
