// Package onboarding implements the company onboarding process type.
//
// A wallet is requested from an external provider (CREATE_WALLET), which
// reports back later through a callback that resolves
// AWAIT_WALLET_CALLBACK. The company's business partner number is then
// added to its identity (ADD_BPN_TO_IDENTITY) and the company is activated
// (ACTIVATE_COMPANY).
//
// A permanent failure schedules a RETRIGGER_* step. Like
// AWAIT_WALLET_CALLBACK these are not executable: an operator resolves them
// with Retrigger, which schedules the failed step again.
package onboarding

import (
	"context"

	"github.com/google/uuid"

	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

// ProcessTypeID identifies company onboarding processes.
const ProcessTypeID api.ProcessTypeID = "COMPANY_ONBOARDING"

const (
	StepCreateWallet          api.StepTypeID = "CREATE_WALLET"
	StepAwaitWalletCallback   api.StepTypeID = "AWAIT_WALLET_CALLBACK"
	StepAddBPNToIdentity      api.StepTypeID = "ADD_BPN_TO_IDENTITY"
	StepActivateCompany       api.StepTypeID = "ACTIVATE_COMPANY"
	StepRetriggerCreateWallet api.StepTypeID = "RETRIGGER_CREATE_WALLET"
	StepRetriggerAddBPN       api.StepTypeID = "RETRIGGER_ADD_BPN"
)

var executableSteps = []api.StepTypeID{
	StepCreateWallet,
	StepAddBPNToIdentity,
	StepActivateCompany,
}

// PartnerClient talks to the services onboarding depends on. Failures
// should be reported as *api.ServiceError so they can be told apart from
// transient faults.
type PartnerClient interface {
	CreateWallet(ctx context.Context, processID uuid.UUID) error
	AddBPNToIdentity(ctx context.Context, processID uuid.UUID) error
	ActivateCompany(ctx context.Context, processID uuid.UUID) error
}

// Executor is the ProcessTypeExecutor for company onboarding. It keeps no
// per-process state and may be shared between concurrent runs.
type Executor struct {
	client PartnerClient
}

var _ api.ProcessTypeExecutor = (*Executor)(nil)

// NewExecutor creates an Executor calling client.
func NewExecutor(client PartnerClient) *Executor {
	return &Executor{client: client}
}

func (e *Executor) ProcessTypeID() api.ProcessTypeID { return ProcessTypeID }

func (e *Executor) IsExecutableStepTypeID(stepTypeID api.StepTypeID) bool {
	for _, t := range executableSteps {
		if t == stepTypeID {
			return true
		}
	}
	return false
}

func (e *Executor) ExecutableStepTypeIDs() []api.StepTypeID {
	return append([]api.StepTypeID(nil), executableSteps...)
}

// InitializeProcess seeds CREATE_WALLET on a process without steps.
func (e *Executor) InitializeProcess(_ context.Context, _ uuid.UUID, known []api.StepTypeID) (api.InitializationResult, error) {
	if len(known) > 0 {
		return api.InitializationResult{}, nil
	}
	return api.InitializationResult{ScheduleStepTypeIDs: []api.StepTypeID{StepCreateWallet}}, nil
}

// IsLockRequested holds the process while the wallet request is in flight,
// so the provider's callback cannot race the step that issued it.
func (e *Executor) IsLockRequested(_ context.Context, stepTypeID api.StepTypeID) (bool, error) {
	return stepTypeID == StepCreateWallet, nil
}

func (e *Executor) ExecuteProcessStep(ctx context.Context, stepTypeID api.StepTypeID, _ []api.StepTypeID) (api.StepResult, error) {
	processID, ok := api.ProcessIDFromContext(ctx)
	if !ok {
		return api.StepResult{}, api.UnexpectedCondition("no process id in context for step %s", stepTypeID)
	}

	switch stepTypeID {
	case StepCreateWallet:
		if err := e.client.CreateWallet(ctx, processID); err != nil {
			return api.ClassifyError(err, StepRetriggerCreateWallet)
		}
		return api.Done(StepAwaitWalletCallback), nil

	case StepAddBPNToIdentity:
		if err := e.client.AddBPNToIdentity(ctx, processID); err != nil {
			return api.ClassifyError(err, StepRetriggerAddBPN)
		}
		return api.Done(StepActivateCompany), nil

	case StepActivateCompany:
		if err := e.client.ActivateCompany(ctx, processID); err != nil {
			return api.ClassifyError(err)
		}
		return api.Done(), nil

	default:
		return api.StepResult{}, api.UnexpectedCondition("step %s is not executable for %s", stepTypeID, ProcessTypeID)
	}
}

// Start stages a new onboarding process with its first step and saves it.
func Start(ctx context.Context, repo *persistence.Repository) (*api.Process, error) {
	p := repo.CreateProcess(ProcessTypeID)
	repo.CreateProcessStep(api.StepSpec{
		ProcessTypeID: ProcessTypeID,
		StepTypeID:    StepCreateWallet,
		Status:        api.StepStatusTodo,
		ProcessID:     p.ID,
	})
	if err := repo.SaveChanges(ctx); err != nil {
		return nil, err
	}
	return p, nil
}
