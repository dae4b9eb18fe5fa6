package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/petrijr/procflow/pkg/api"
)

// executorRegistry is the lookup table from process type to executor. It is
// built once at construction and read-only afterwards.
type executorRegistry struct {
	byType     map[api.ProcessTypeID]api.ProcessTypeExecutor
	executable []api.StepTypeID
}

func newExecutorRegistry(executors []api.ProcessTypeExecutor) (*executorRegistry, error) {
	r := &executorRegistry{
		byType: make(map[api.ProcessTypeID]api.ProcessTypeExecutor, len(executors)),
	}

	seen := make(map[api.StepTypeID]struct{})
	for _, ex := range executors {
		if ex == nil {
			return nil, errors.New("nil process type executor")
		}
		typeID := ex.ProcessTypeID()
		if typeID == "" {
			return nil, errors.New("process type executor has an empty process type id")
		}
		if _, exists := r.byType[typeID]; exists {
			return nil, fmt.Errorf("process type %q already registered", typeID)
		}
		r.byType[typeID] = ex

		for _, st := range ex.ExecutableStepTypeIDs() {
			if _, ok := seen[st]; !ok {
				seen[st] = struct{}{}
				r.executable = append(r.executable, st)
			}
		}
	}
	slices.Sort(r.executable)
	return r, nil
}

func (r *executorRegistry) Get(typeID api.ProcessTypeID) (api.ProcessTypeExecutor, error) {
	ex, ok := r.byType[typeID]
	if !ok {
		return nil, api.UnexpectedCondition("no executor registered for process type %q", typeID)
	}
	return ex, nil
}

func (r *executorRegistry) ProcessTypeIDs() []api.ProcessTypeID {
	out := make([]api.ProcessTypeID, 0, len(r.byType))
	for typeID := range r.byType {
		out = append(out, typeID)
	}
	slices.Sort(out)
	return out
}

func (r *executorRegistry) ExecutableStepTypeIDs() []api.StepTypeID {
	return slices.Clone(r.executable)
}
