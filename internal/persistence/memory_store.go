package persistence

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/petrijr/procflow/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe Store backed by maps.
type InMemoryStore struct {
	mu        sync.RWMutex
	processes map[uuid.UUID]*api.Process
	// order holds process ids in creation order.
	order     []uuid.UUID
	steps     map[uuid.UUID]*api.ProcessStep
	// byProcess holds step ids per process in creation order.
	byProcess map[uuid.UUID][]uuid.UUID
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		processes: make(map[uuid.UUID]*api.Process),
		steps:     make(map[uuid.UUID]*api.ProcessStep),
		byProcess: make(map[uuid.UUID][]uuid.UUID),
	}
}

// Ensure InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) GetProcess(ctx context.Context, id uuid.UUID) (*api.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.processes[id]
	if !ok {
		return nil, ErrProcessNotFound
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) GetProcessSteps(ctx context.Context, processID uuid.UUID) ([]api.ProcessStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.processes[processID]; !ok {
		return nil, ErrProcessNotFound
	}
	return s.stepsOf(processID), nil
}

func (s *InMemoryStore) stepsOf(processID uuid.UUID) []api.ProcessStep {
	ids := s.byProcess[processID]
	out := make([]api.ProcessStep, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.steps[id].Clone())
	}
	return out
}

func (s *InMemoryStore) GetActiveProcesses(ctx context.Context, filter ActiveProcessFilter) ([]api.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []api.Process
	for _, id := range s.order {
		p := s.processes[id]
		if !filter.matchesType(p.ProcessTypeID) || !filter.matchesLock(p) {
			continue
		}
		for _, stepID := range s.byProcess[id] {
			if filter.matchesStep(*s.steps[stepID]) {
				result = append(result, *p.Clone())
				break
			}
		}
	}
	return result, nil
}

func (s *InMemoryStore) GetProcessStepData(ctx context.Context, processID uuid.UUID) (*ProcessStepData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.processes[processID]
	if !ok {
		return nil, ErrProcessNotFound
	}
	return &ProcessStepData{
		Process: p.Clone(),
		Steps:   pendingOnly(s.stepsOf(processID)),
	}, nil
}

func (s *InMemoryStore) Commit(ctx context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// validate everything first so a rejected batch leaves no trace
	for _, u := range b.UpdatedProcesses {
		existing, ok := s.processes[u.Process.ID]
		if !ok {
			return ErrProcessNotFound
		}
		if existing.Version != u.ExpectedVersion {
			return &ConflictError{
				ProcessID: u.Process.ID,
				Expected:  u.ExpectedVersion,
				Actual:    existing.Version,
			}
		}
	}
	for _, c := range b.ModifiedSteps {
		if _, ok := s.steps[c.ID]; !ok {
			return ErrStepNotFound
		}
	}

	for _, p := range b.CreatedProcesses {
		s.processes[p.ID] = p.Clone()
		s.order = append(s.order, p.ID)
	}
	for _, u := range b.UpdatedProcesses {
		s.processes[u.Process.ID] = u.Process.Clone()
	}
	for _, st := range b.CreatedSteps {
		c := st.Clone()
		s.steps[c.ID] = &c
		s.byProcess[c.ProcessID] = append(s.byProcess[c.ProcessID], c.ID)
	}
	for _, c := range b.ModifiedSteps {
		c.Apply(s.steps[c.ID])
	}
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}
