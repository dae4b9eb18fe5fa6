package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/petrijr/procflow/internal/engine"
	"github.com/petrijr/procflow/internal/onboarding"
	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

func newProcessCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Create, inspect and resolve processes",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Start a new company onboarding process",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withStore(cmd.Context(), func(ctx context.Context, store persistence.Store) error {
					p, err := onboarding.Start(ctx, persistence.NewRepository(store))
					if err != nil {
						return err
					}
					return a.printProcess(ctx, cmd, store, p.ID)
				})
			},
		},
		&cobra.Command{
			Use:   "show <process-id>",
			Short: "Show a process and its steps",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid process id %q: %w", args[0], err)
				}
				return a.withStore(cmd.Context(), func(ctx context.Context, store persistence.Store) error {
					return a.printProcess(ctx, cmd, store, id)
				})
			},
		},
		newResolveCmd(a, "complete", "Complete a step waiting for an external event", false),
		newResolveCmd(a, "fail", "Fail a step waiting for an external event", true),
	)
	return cmd
}

func newResolveCmd(a *app, use, short string, fail bool) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   use + " <process-id> <step-type>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid process id %q: %w", args[0], err)
			}
			stepTypeID := api.StepTypeID(args[1])
			if fail && message == "" {
				return fmt.Errorf("--message is required")
			}

			return a.withStore(cmd.Context(), func(ctx context.Context, store persistence.Store) error {
				repo := persistence.NewRepository(store)
				m, err := engine.VerifyProcessSteps(ctx, repo, id, stepTypeID, nil, nil)
				if err != nil {
					return err
				}
				t, ok := transitions()[m.Process().ProcessTypeID][stepTypeID]
				if !ok {
					return fmt.Errorf("step %s of %s is not resolved externally", stepTypeID, m.Process().ProcessTypeID)
				}
				if fail {
					engine.Fail(m, message, t.OnFail)
				} else {
					engine.Finalize(m, t.OnComplete)
				}
				if err := repo.SaveChanges(ctx); err != nil {
					return err
				}
				return a.printProcess(ctx, cmd, store, id)
			})
		},
	}
	if fail {
		cmd.Flags().StringVarP(&message, "message", "m", "", "failure message stored on the step")
	}
	return cmd
}

func (a *app) withStore(ctx context.Context, fn func(context.Context, persistence.Store) error) (err error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, store)
}

func (a *app) printProcess(ctx context.Context, cmd *cobra.Command, store persistence.Store, id uuid.UUID) error {
	p, err := store.GetProcess(ctx, id)
	if err != nil {
		return err
	}
	steps, err := store.GetProcessSteps(ctx, id)
	if err != nil {
		return err
	}
	d := &api.ProcessDetails{Process: *p, Steps: steps}
	return a.print(cmd.OutOrStdout(), d, func(w io.Writer) error {
		return writeProcessText(w, d)
	})
}
