package onboarding

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/petrijr/procflow/internal/engine"
	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

// Transitions maps every step type resolved by an inbound event to the
// steps scheduled when it completes or fails.
func Transitions() map[api.StepTypeID]engine.Transition {
	return map[api.StepTypeID]engine.Transition{
		StepAwaitWalletCallback: {
			OnComplete: []api.StepTypeID{StepAddBPNToIdentity},
			OnFail:     []api.StepTypeID{StepRetriggerCreateWallet},
		},
		StepRetriggerCreateWallet: {
			OnComplete: []api.StepTypeID{StepCreateWallet},
		},
		StepRetriggerAddBPN: {
			OnComplete: []api.StepTypeID{StepAddBPNToIdentity},
		},
	}
}

// CompleteWallet records a successful wallet callback and schedules
// ADD_BPN_TO_IDENTITY.
func CompleteWallet(ctx context.Context, repo *persistence.Repository, processID uuid.UUID) error {
	return engine.Complete(ctx, repo, processID, StepAwaitWalletCallback, Transitions()[StepAwaitWalletCallback])
}

// FailWallet records a failed wallet callback and schedules
// RETRIGGER_CREATE_WALLET.
func FailWallet(ctx context.Context, repo *persistence.Repository, processID uuid.UUID, message string) error {
	return engine.Reject(ctx, repo, processID, StepAwaitWalletCallback, message, Transitions()[StepAwaitWalletCallback])
}

// Retrigger resolves a RETRIGGER_* step and schedules the step it stands
// for again.
func Retrigger(ctx context.Context, repo *persistence.Repository, processID uuid.UUID, retriggerType api.StepTypeID) error {
	switch retriggerType {
	case StepRetriggerCreateWallet, StepRetriggerAddBPN:
	default:
		return fmt.Errorf("%s is not a retrigger step of %s", retriggerType, ProcessTypeID)
	}
	return engine.Complete(ctx, repo, processID, retriggerType, Transitions()[retriggerType])
}
