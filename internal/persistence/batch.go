package persistence

import (
	"cmp"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/procflow/pkg/api"
)

// ProcessUpdate persists new lock and version fields of a process.
//
// ExpectedVersion must be the version as currently persisted, otherwise an
// optimistic concurrency conflict occurs and the whole batch is rejected.
type ProcessUpdate struct {
	Process         api.Process
	ExpectedVersion uuid.UUID
}

// StepChange carries the fields of an existing step that were modified.
type StepChange struct {
	ID uuid.UUID

	SetStatus bool
	Status    api.StepStatus

	SetMessage bool
	Message    *string

	DateLastChanged time.Time
}

// Batch is a set of changes a Store applies atomically.
type Batch struct {
	CreatedProcesses []api.Process
	UpdatedProcesses []ProcessUpdate
	CreatedSteps     []api.ProcessStep
	ModifiedSteps    []StepChange
}

// IsEmpty reports whether the batch carries no changes.
func (b *Batch) IsEmpty() bool {
	return len(b.CreatedProcesses) == 0 &&
		len(b.UpdatedProcesses) == 0 &&
		len(b.CreatedSteps) == 0 &&
		len(b.ModifiedSteps) == 0
}

// Apply writes the change to s.
func (c StepChange) Apply(s *api.ProcessStep) {
	if c.SetStatus {
		s.Status = c.Status
	}
	if c.SetMessage {
		if c.Message == nil {
			s.Message = nil
		} else {
			m := *c.Message
			s.Message = &m
		}
	}
	d := c.DateLastChanged
	s.DateLastChanged = &d
}

// sortPendingSteps orders steps by step type, keeping creation order within
// a type. steps must already be in creation order.
func sortPendingSteps(steps []api.ProcessStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StepTypeID < steps[j].StepTypeID
	})
}

func pendingOnly(steps []api.ProcessStep) []api.ProcessStep {
	out := make([]api.ProcessStep, 0, len(steps))
	for _, s := range steps {
		if s.Status == api.StepStatusTodo {
			out = append(out, s)
		}
	}
	sortPendingSteps(out)
	return out
}

// sortBySeq orders items by their creation sequence.
func sortBySeq[T any](items []T, seq func(T) uint64) {
	slices.SortFunc(items, func(a, b T) int {
		return cmp.Compare(seq(a), seq(b))
	})
}
