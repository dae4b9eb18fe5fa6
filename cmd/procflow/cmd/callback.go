package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petrijr/procflow/internal/callback"
)

func newCallbackCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callback",
		Short: "Receive step completions from external systems",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the callback HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			srv := callback.NewServer(store, transitions(), callback.WithLogger(a.logger))
			return srv.ListenAndServe(ctx, a.cfg.Callback.Addr)
		},
	}
	serve.Flags().String("addr", ":8080", "listen address")
	_ = a.v.BindPFlag("callback.addr", serve.Flags().Lookup("addr"))

	cmd.AddCommand(serve)
	return cmd
}
