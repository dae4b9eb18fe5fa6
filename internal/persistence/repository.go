package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/procflow/pkg/api"
)

// StepModification attaches a step by id and records the changes made to
// it. Initialize sets the values the caller knows to be persisted; Modify
// applies the change. Only fields that differ afterwards are written.
type StepModification struct {
	ID         uuid.UUID
	Initialize func(*api.ProcessStep)
	Modify     func(*api.ProcessStep)
}

type trackedProcess struct {
	process         *api.Process
	snapshot        api.Process
	expectedVersion uuid.UUID
	isNew           bool
}

// Repository is a unit of work over a Store. It stages creations and
// modifications in memory; SaveChanges commits them as one Batch.
//
// A Repository is not safe for concurrent use. Use one per run.
type Repository struct {
	store Store
	now   func() time.Time

	processes map[uuid.UUID]*trackedProcess
	order     []uuid.UUID

	created      []*api.ProcessStep
	createdIndex map[uuid.UUID]*api.ProcessStep
	changes      map[uuid.UUID]*StepChange
	changeOrder  []uuid.UUID
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithClock overrides the time source used for step timestamps.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) {
		r.now = now
	}
}

// NewRepository returns an empty unit of work over store.
func NewRepository(store Store, opts ...RepositoryOption) *Repository {
	r := &Repository{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.reset()
	return r
}

func (r *Repository) reset() {
	r.processes = make(map[uuid.UUID]*trackedProcess)
	r.order = nil
	r.created = nil
	r.createdIndex = make(map[uuid.UUID]*api.ProcessStep)
	r.changes = make(map[uuid.UUID]*StepChange)
	r.changeOrder = nil
}

// Store returns the underlying store.
func (r *Repository) Store() Store {
	return r.store
}

// Now returns the repository's current time.
func (r *Repository) Now() time.Time {
	return r.now()
}

// CreateProcess stages a new process.
func (r *Repository) CreateProcess(typeID api.ProcessTypeID) *api.Process {
	p := api.NewProcess(typeID)
	r.processes[p.ID] = &trackedProcess{
		process:         p,
		snapshot:        *p.Clone(),
		expectedVersion: p.Version,
		isNew:           true,
	}
	r.order = append(r.order, p.ID)
	return p
}

// AttachProcess starts tracking p. Its current version is what the store
// must still hold when the changes are saved. If a process with the same
// id is already attached, the tracked instance is returned instead.
func (r *Repository) AttachProcess(p *api.Process) *api.Process {
	if t, ok := r.processes[p.ID]; ok {
		return t.process
	}
	r.processes[p.ID] = &trackedProcess{
		process:         p,
		snapshot:        *p.Clone(),
		expectedVersion: p.Version,
	}
	r.order = append(r.order, p.ID)
	return p
}

// CreateProcessSteps stages new step rows and returns them in the order of
// specs.
func (r *Repository) CreateProcessSteps(specs []api.StepSpec) []api.ProcessStep {
	now := r.now()
	out := make([]api.ProcessStep, 0, len(specs))
	for _, spec := range specs {
		s := &api.ProcessStep{
			ID:            uuid.New(),
			ProcessID:     spec.ProcessID,
			ProcessTypeID: spec.ProcessTypeID,
			StepTypeID:    spec.StepTypeID,
			Status:        spec.Status,
			DateCreated:   now,
		}
		r.created = append(r.created, s)
		r.createdIndex[s.ID] = s
		out = append(out, s.Clone())
	}
	return out
}

// CreateProcessStep stages a single step row.
func (r *Repository) CreateProcessStep(spec api.StepSpec) api.ProcessStep {
	return r.CreateProcessSteps([]api.StepSpec{spec})[0]
}

// AttachAndModifyProcessStep records a modification of one step.
func (r *Repository) AttachAndModifyProcessStep(id uuid.UUID, initialize, modify func(*api.ProcessStep)) {
	r.AttachAndModifyProcessSteps([]StepModification{{ID: id, Initialize: initialize, Modify: modify}})
}

// AttachAndModifyProcessSteps records modifications of many steps.
func (r *Repository) AttachAndModifyProcessSteps(mods []StepModification) {
	now := r.now()
	for _, m := range mods {
		if s, ok := r.createdIndex[m.ID]; ok {
			if m.Modify != nil {
				m.Modify(s)
			}
			continue
		}

		stub := api.ProcessStep{ID: m.ID}
		if c, ok := r.changes[m.ID]; ok {
			// replay earlier staged changes so the diff below is cumulative
			if m.Initialize != nil {
				m.Initialize(&stub)
			}
			c.Apply(&stub)
		} else if m.Initialize != nil {
			m.Initialize(&stub)
		}

		before := stub.Clone()
		if m.Modify != nil {
			m.Modify(&stub)
		}

		c, ok := r.changes[m.ID]
		if !ok {
			c = &StepChange{ID: m.ID}
			r.changes[m.ID] = c
			r.changeOrder = append(r.changeOrder, m.ID)
		}
		if stub.Status != before.Status {
			c.SetStatus = true
			c.Status = stub.Status
		}
		if !sameMessage(stub.Message, before.Message) {
			c.SetMessage = true
			c.Message = stub.Message
		}
		c.DateLastChanged = now
	}
}

func sameMessage(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// HasChanges reports whether SaveChanges would write anything.
func (r *Repository) HasChanges() bool {
	if len(r.created) > 0 || len(r.changes) > 0 {
		return true
	}
	for _, t := range r.processes {
		if t.isNew || processChanged(t) {
			return true
		}
	}
	return false
}

func processChanged(t *trackedProcess) bool {
	p := t.process
	if p.Version != t.snapshot.Version {
		return true
	}
	a, b := p.LockExpiryDate, t.snapshot.LockExpiryDate
	if a == nil || b == nil {
		return a != b
	}
	return !a.Equal(*b)
}

// SaveChanges commits the staged work. Every attached process is version
// checked, and its version is regenerated if anything else was staged and
// the caller has not already done so.
//
// On error nothing is applied and the staged work is kept; callers that
// lost an optimistic concurrency race should call Clear.
func (r *Repository) SaveChanges(ctx context.Context) error {
	stepsChanged := len(r.created) > 0 || len(r.changes) > 0

	b := &Batch{}
	bumped := make(map[uuid.UUID]uuid.UUID)
	for _, id := range r.order {
		t := r.processes[id]
		if t.isNew {
			b.CreatedProcesses = append(b.CreatedProcesses, *t.process.Clone())
			continue
		}
		if !stepsChanged && !processChanged(t) {
			continue
		}
		if t.process.Version == t.expectedVersion {
			bumped[id] = t.process.Version
			t.process.UpdateVersion()
		}
		b.UpdatedProcesses = append(b.UpdatedProcesses, ProcessUpdate{
			Process:         *t.process.Clone(),
			ExpectedVersion: t.expectedVersion,
		})
	}
	for _, s := range r.created {
		b.CreatedSteps = append(b.CreatedSteps, s.Clone())
	}
	for _, id := range r.changeOrder {
		b.ModifiedSteps = append(b.ModifiedSteps, *r.changes[id])
	}

	if b.IsEmpty() {
		return nil
	}

	if err := r.store.Commit(ctx, b); err != nil {
		// restore the versions we regenerated so a retry checks the same token
		for id, v := range bumped {
			r.processes[id].process.Version = v
		}
		return err
	}

	for _, t := range r.processes {
		t.isNew = false
		t.expectedVersion = t.process.Version
		t.snapshot = *t.process.Clone()
	}
	r.created = nil
	r.createdIndex = make(map[uuid.UUID]*api.ProcessStep)
	r.changes = make(map[uuid.UUID]*StepChange)
	r.changeOrder = nil
	return nil
}

// Clear discards all staged work and detaches all processes.
func (r *Repository) Clear() {
	r.reset()
}

// GetProcess loads a process from the store without attaching it.
func (r *Repository) GetProcess(ctx context.Context, id uuid.UUID) (*api.Process, error) {
	return r.store.GetProcess(ctx, id)
}

// GetProcessSteps loads all steps of a process in creation order.
func (r *Repository) GetProcessSteps(ctx context.Context, processID uuid.UUID) ([]api.ProcessStep, error) {
	return r.store.GetProcessSteps(ctx, processID)
}

// GetActiveProcesses queries the processes a worker may pick up.
func (r *Repository) GetActiveProcesses(ctx context.Context, filter ActiveProcessFilter) ([]api.Process, error) {
	return r.store.GetActiveProcesses(ctx, filter)
}

// GetProcessStepData loads a process and its pending steps.
func (r *Repository) GetProcessStepData(ctx context.Context, processID uuid.UUID) (*ProcessStepData, error) {
	return r.store.GetProcessStepData(ctx, processID)
}
