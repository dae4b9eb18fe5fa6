package engine

import (
	"slices"

	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

// stepTypeSet is an unordered set of step types. Next pops an arbitrary
// member; callers must not depend on the order.
type stepTypeSet map[api.StepTypeID]struct{}

func (s stepTypeSet) Add(t api.StepTypeID) {
	s[t] = struct{}{}
}

func (s stepTypeSet) Remove(t api.StepTypeID) bool {
	if _, ok := s[t]; !ok {
		return false
	}
	delete(s, t)
	return true
}

func (s stepTypeSet) Contains(t api.StepTypeID) bool {
	_, ok := s[t]
	return ok
}

func (s stepTypeSet) Len() int {
	return len(s)
}

// Next removes and returns one member.
func (s stepTypeSet) Next() (api.StepTypeID, bool) {
	for t := range s {
		delete(s, t)
		return t, true
	}
	return "", false
}

// processContext is the in-memory working set of one run.
type processContext struct {
	process  *api.Process
	executor api.ProcessTypeExecutor
	repo     *persistence.Repository

	// allSteps holds the pending step rows per type, in creation order.
	allSteps map[api.StepTypeID][]api.ProcessStep
	// executable holds the types in allSteps the executor runs itself and
	// that were not yet resolved in this run.
	executable stepTypeSet
}

func newProcessContext(process *api.Process, executor api.ProcessTypeExecutor, repo *persistence.Repository, steps []api.ProcessStep) *processContext {
	c := &processContext{
		process:    process,
		executor:   executor,
		repo:       repo,
		allSteps:   make(map[api.StepTypeID][]api.ProcessStep),
		executable: make(stepTypeSet),
	}
	for _, st := range steps {
		c.allSteps[st.StepTypeID] = append(c.allSteps[st.StepTypeID], st)
	}
	for t := range c.allSteps {
		if executor.IsExecutableStepTypeID(t) {
			c.executable.Add(t)
		}
	}
	return c
}

// knownStepTypes returns the pending step types, sorted.
func (c *processContext) knownStepTypes() []api.StepTypeID {
	out := make([]api.StepTypeID, 0, len(c.allSteps))
	for t := range c.allSteps {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// setStepStatus resolves every pending row of stepTypeID: the first gets
// status and message, the rest become DUPLICATE. A TODO status without a
// message, or a type with no pending rows, changes nothing.
func (c *processContext) setStepStatus(stepTypeID api.StepTypeID, status api.StepStatus, message *string) bool {
	if status == api.StepStatusTodo && message == nil {
		return false
	}
	rows, ok := c.allSteps[stepTypeID]
	if !ok {
		return false
	}
	delete(c.allSteps, stepTypeID)
	c.executable.Remove(stepTypeID)

	c.repo.AttachAndModifyProcessSteps(resolveSteps(rows, status, message))
	return true
}

// resolveSteps builds the modifications giving the first row status and
// message and marking the others DUPLICATE. The message is always written,
// so a diagnostic left by an earlier retry is cleared by a later outcome
// without one.
func resolveSteps(rows []api.ProcessStep, status api.StepStatus, message *string) []persistence.StepModification {
	mods := make([]persistence.StepModification, 0, len(rows))
	for i, row := range rows {
		st, msg := status, message
		if i > 0 {
			st, msg = api.StepStatusDuplicate, nil
		}
		stored, storedMsg := row.Status, cloneMessage(row.Message)
		mods = append(mods, persistence.StepModification{
			ID: row.ID,
			Initialize: func(s *api.ProcessStep) {
				s.Status = stored
				s.Message = cloneMessage(storedMsg)
			},
			Modify: func(s *api.ProcessStep) {
				s.Status = st
				s.Message = msg
			},
		})
	}
	return mods
}

// scheduleSteps creates one TODO row for every type not already pending.
func (c *processContext) scheduleSteps(stepTypeIDs []api.StepTypeID) bool {
	var specs []api.StepSpec
	for _, t := range stepTypeIDs {
		if _, pending := c.allSteps[t]; pending {
			continue
		}
		// reserve the type so a repeated entry is not created twice
		c.allSteps[t] = nil
		specs = append(specs, api.StepSpec{
			ProcessTypeID: c.process.ProcessTypeID,
			StepTypeID:    t,
			Status:        api.StepStatusTodo,
			ProcessID:     c.process.ID,
		})
	}
	if len(specs) == 0 {
		return false
	}

	for _, st := range c.repo.CreateProcessSteps(specs) {
		c.allSteps[st.StepTypeID] = []api.ProcessStep{st}
		if c.executor.IsExecutableStepTypeID(st.StepTypeID) {
			c.executable.Add(st.StepTypeID)
		}
	}
	return true
}

func cloneMessage(m *string) *string {
	if m == nil {
		return nil
	}
	v := *m
	return &v
}
