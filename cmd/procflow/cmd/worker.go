package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/procflow/pkg/api"
	"github.com/petrijr/procflow/pkg/worker"
)

type pollSummary struct {
	Processes int                      `json:"processes" yaml:"processes"`
	Metrics   api.BasicMetricsSnapshot `json:"metrics" yaml:"metrics"`
}

func newWorkerCmd(a *app) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Poll the store and execute pending process steps",
		Long: `Run the worker loop until interrupted.

Every poll picks up the processes that have a pending executable step and
no live lease, and drives each of them as far as it can go.

Examples:
  # Run against a local SQLite file
  procflow worker --store-dsn ./procflow.db

  # Run a single poll and print what happened
  procflow worker --once -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runWorker(ctx, cmd.OutOrStdout(), once)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&once, "once", false, "run a single poll and exit")
	f.Int("concurrency", 4, "processes driven in parallel")
	f.Duration("poll-interval", 5*time.Second, "pause after a poll that found nothing")
	f.Duration("lock-expiry", 10*time.Minute, "lease taken before a locking step")
	f.String("partner-url", "", "partner services base URL (empty: dry run)")

	_ = a.v.BindPFlag("worker.concurrency", f.Lookup("concurrency"))
	_ = a.v.BindPFlag("worker.poll_interval", f.Lookup("poll-interval"))
	_ = a.v.BindPFlag("worker.lock_expiry", f.Lookup("lock-expiry"))
	_ = a.v.BindPFlag("partner.url", f.Lookup("partner-url"))

	return cmd
}

func (a *app) runWorker(ctx context.Context, out io.Writer, once bool) (err error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	metrics := &api.BasicMetrics{}
	pe, err := a.newEngine(metrics)
	if err != nil {
		return err
	}

	w := worker.NewWithConfig(pe, store, worker.Config{
		LockExpiry:   a.cfg.Worker.LockExpiry,
		PollInterval: a.cfg.Worker.PollInterval,
		Concurrency:  a.cfg.Worker.Concurrency,
		Logger:       a.logger,
	})

	if once {
		n, err := w.Poll(ctx)
		summary := pollSummary{Processes: n, Metrics: metrics.Snapshot()}
		if perr := a.print(out, summary, func(tw io.Writer) error {
			_, err := fmt.Fprintf(tw, "processes: %d  steps done: %d  failed: %d  retried: %d\n",
				n, summary.Metrics.StepsDone, summary.Metrics.StepsFailed, summary.Metrics.StepsRetried)
			return err
		}); perr != nil {
			return perr
		}
		return err
	}

	a.logger.Info("worker started",
		"store", a.cfg.Store.Driver,
		"concurrency", a.cfg.Worker.Concurrency,
		"poll_interval", a.cfg.Worker.PollInterval,
	)
	err = w.Run(ctx)
	snap := metrics.Snapshot()
	a.logger.Info("worker stopped",
		"runs", snap.RunsFinished,
		"aborted", snap.RunsAborted,
		"steps_done", snap.StepsDone,
		"steps_failed", snap.StepsFailed,
	)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
