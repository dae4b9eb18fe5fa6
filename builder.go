package procflow

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/petrijr/procflow/pkg/api"
)

// StepHandler performs one executable step of a process.
type StepHandler func(ctx context.Context, processID uuid.UUID) (StepResult, error)

// ProcessTypeBuilder provides a fluent API for defining process types:
//
//	onboarding := procflow.New("USER_ONBOARDING").
//	    Initial("CREATE_ACCOUNT").
//	    Step("CREATE_ACCOUNT", createAccount).
//	    LockedStep("REQUEST_WALLET", requestWallet).
//	    Step("SEND_WELCOME_MAIL", sendWelcomeMail)
//
//	eng, err := procflow.NewInMemoryEngine(onboarding.Build())
//
// Step types a handler schedules but that have no handler are sentinels,
// resolved only from outside (see Engine.Complete).
type ProcessTypeBuilder struct {
	typeID   ProcessTypeID
	handlers map[StepTypeID]StepHandler
	locked   map[StepTypeID]bool
	order    []StepTypeID
	initial  []StepTypeID
}

// New creates a builder for the given process type.
func New(typeID ProcessTypeID) *ProcessTypeBuilder {
	if typeID == "" {
		panic("procflow: process type id must not be empty")
	}
	return &ProcessTypeBuilder{
		typeID:   typeID,
		handlers: make(map[StepTypeID]StepHandler),
		locked:   make(map[StepTypeID]bool),
	}
}

// ProcessTypeID returns the process type being built.
func (b *ProcessTypeBuilder) ProcessTypeID() ProcessTypeID {
	return b.typeID
}

// Initial sets the step types created when a process has no steps yet.
func (b *ProcessTypeBuilder) Initial(stepTypeIDs ...StepTypeID) *ProcessTypeBuilder {
	b.initial = append([]StepTypeID(nil), stepTypeIDs...)
	return b
}

// Step adds an executable step type.
func (b *ProcessTypeBuilder) Step(stepTypeID StepTypeID, fn StepHandler) *ProcessTypeBuilder {
	return b.add(stepTypeID, fn, false)
}

// LockedStep adds an executable step type that runs under a lease, for
// steps that hand off to an external system which will call back.
func (b *ProcessTypeBuilder) LockedStep(stepTypeID StepTypeID, fn StepHandler) *ProcessTypeBuilder {
	return b.add(stepTypeID, fn, true)
}

func (b *ProcessTypeBuilder) add(stepTypeID StepTypeID, fn StepHandler, locked bool) *ProcessTypeBuilder {
	if stepTypeID == "" {
		panic("procflow: step type id must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("procflow: step %q has nil handler", stepTypeID))
	}
	if _, dup := b.handlers[stepTypeID]; dup {
		panic(fmt.Sprintf("procflow: step %q defined twice", stepTypeID))
	}

	b.handlers[stepTypeID] = fn
	b.locked[stepTypeID] = locked
	b.order = append(b.order, stepTypeID)
	return b
}

// Build returns the ProcessTypeExecutor for the definition. Later changes
// to the builder do not affect it.
func (b *ProcessTypeBuilder) Build() ProcessTypeExecutor {
	pt := &builtProcessType{
		typeID:   b.typeID,
		handlers: make(map[StepTypeID]StepHandler, len(b.handlers)),
		locked:   make(map[StepTypeID]bool, len(b.locked)),
		order:    slices.Clone(b.order),
		initial:  slices.Clone(b.initial),
	}
	for k, v := range b.handlers {
		pt.handlers[k] = v
	}
	for k, v := range b.locked {
		pt.locked[k] = v
	}
	return pt
}

type builtProcessType struct {
	typeID   ProcessTypeID
	handlers map[StepTypeID]StepHandler
	locked   map[StepTypeID]bool
	order    []StepTypeID
	initial  []StepTypeID
}

func (p *builtProcessType) ProcessTypeID() ProcessTypeID { return p.typeID }

func (p *builtProcessType) IsExecutableStepTypeID(stepTypeID StepTypeID) bool {
	_, ok := p.handlers[stepTypeID]
	return ok
}

func (p *builtProcessType) ExecutableStepTypeIDs() []StepTypeID {
	return slices.Clone(p.order)
}

func (p *builtProcessType) InitializeProcess(_ context.Context, _ uuid.UUID, known []StepTypeID) (InitializationResult, error) {
	if len(known) > 0 || len(p.initial) == 0 {
		return InitializationResult{}, nil
	}
	return InitializationResult{ScheduleStepTypeIDs: slices.Clone(p.initial)}, nil
}

func (p *builtProcessType) IsLockRequested(_ context.Context, stepTypeID StepTypeID) (bool, error) {
	return p.locked[stepTypeID], nil
}

func (p *builtProcessType) ExecuteProcessStep(ctx context.Context, stepTypeID StepTypeID, _ []StepTypeID) (StepResult, error) {
	fn, ok := p.handlers[stepTypeID]
	if !ok {
		return StepResult{}, api.UnexpectedCondition("step %s is not executable for %s", stepTypeID, p.typeID)
	}
	processID, ok := api.ProcessIDFromContext(ctx)
	if !ok {
		return StepResult{}, api.UnexpectedCondition("no process id in context for step %s", stepTypeID)
	}
	return fn(ctx, processID)
}
