package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/petrijr/procflow/internal/engine"
	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

const (
	DefaultLockExpiry   = 10 * time.Minute
	DefaultPollInterval = 5 * time.Second
)

// DefaultBackoff is the delay strategy applied after a failed poll.
var DefaultBackoff = backoff.WithTransforms(
	backoff.Exponential(100*time.Millisecond),
	linger.FullJitter,
	linger.Limiter(0, 30*time.Second),
)

// Config controls how a Worker polls and leases processes.
type Config struct {
	// LockExpiry is the lease taken when a step asks for a lock.
	LockExpiry time.Duration
	// PollInterval is the pause after a poll that found nothing to do.
	PollInterval time.Duration
	// Concurrency is the number of processes driven in parallel.
	Concurrency int
	// Backoff is the delay strategy after a failed poll.
	Backoff backoff.Strategy

	Logger *slog.Logger
	// Now is the time source; time.Now when nil.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.LockExpiry <= 0 {
		c.LockExpiry = DefaultLockExpiry
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Backoff == nil {
		c.Backoff = DefaultBackoff
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Worker polls a Store for runnable processes and drives each one through
// the process executor, persisting at every checkpoint.
type Worker struct {
	executor *engine.ProcessExecutor
	store    persistence.Store
	cfg      Config
	logger   *slog.Logger
}

// New creates a Worker with default settings.
func New(executor *engine.ProcessExecutor, store persistence.Store) *Worker {
	return NewWithConfig(executor, store, Config{})
}

// NewWithConfig creates a Worker with the given settings. Zero fields take
// their defaults.
func NewWithConfig(executor *engine.ProcessExecutor, store persistence.Store, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		executor: executor,
		store:    store,
		cfg:      cfg,
		logger:   cfg.Logger,
	}
}

// ActiveProcesses returns the processes this worker would pick up now.
func (w *Worker) ActiveProcesses(ctx context.Context) ([]api.Process, error) {
	return w.store.GetActiveProcesses(ctx, persistence.ActiveProcessFilter{
		ProcessTypeIDs:   w.executor.ProcessTypeIDs(),
		StepTypeIDs:      w.executor.ExecutableStepTypeIDs(),
		LockExpiryCutoff: w.cfg.Now(),
	})
}

// ProcessOne drives the first active process, if any. It reports whether a
// process was run.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	procs, err := w.ActiveProcesses(ctx)
	if err != nil {
		return false, err
	}
	if len(procs) == 0 {
		return false, nil
	}
	return true, w.ExecuteProcess(ctx, procs[0].ID)
}

// Poll drives every active process once, up to Concurrency at a time. It
// returns the number of processes run. A fault in one process does not
// stop the others; all faults are returned combined.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	procs, err := w.ActiveProcesses(ctx)
	if err != nil {
		return 0, fmt.Errorf("query active processes: %w", err)
	}

	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, p := range procs {
		g.Go(func() error {
			if err := w.ExecuteProcess(gctx, p.ID); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(procs), errs
}

// Run polls until ctx is cancelled. Failed polls are retried with backoff;
// an empty poll waits PollInterval.
func (w *Worker) Run(ctx context.Context) error {
	counter := backoff.Counter{Strategy: w.cfg.Backoff}
	failures := 0

	for {
		n, err := w.Poll(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			failures++
			w.logger.Error("poll failed", "error", err, "failures", failures)
			if err := counter.Sleep(ctx, err); err != nil {
				return err
			}
			continue
		}
		counter.Reset()
		failures = 0

		if n == 0 {
			if err := linger.Sleep(ctx, w.cfg.PollInterval); err != nil {
				return err
			}
		}
	}
}

// ExecuteProcess drives one process to the end of its run.
//
// Losing an optimistic concurrency race is not an error: the staged work
// is discarded and the process is left for a later poll. A lease taken
// during the run is released when it ends.
func (w *Worker) ExecuteProcess(ctx context.Context, processID uuid.UUID) error {
	logger := w.logger.With("process_id", processID.String())
	repo := persistence.NewRepository(w.store, persistence.WithClock(w.cfg.Now))
	run := w.executor.ExecuteProcess(ctx, processID, repo)

	err := w.drive(ctx, run, repo)
	if errors.Is(err, persistence.ErrConflict) {
		logger.Info("process changed concurrently, abandoning run", "error", err)
		repo.Clear()
		return nil
	}

	// release even when the run was cancelled or aborted
	if p := run.Process(); p != nil && p.ReleaseLock() {
		if saveErr := repo.SaveChanges(context.WithoutCancel(ctx)); saveErr != nil {
			if errors.Is(saveErr, persistence.ErrConflict) {
				logger.Info("process changed concurrently, lease left to expire", "error", saveErr)
				repo.Clear()
			} else {
				err = multierr.Append(err, fmt.Errorf("release lock: %w", saveErr))
			}
		}
	}

	if err != nil {
		logger.Error("process run failed", "error", err)
	}
	return err
}

func (w *Worker) drive(ctx context.Context, run *engine.Run, repo *persistence.Repository) error {
	for run.Next() {
		switch run.Checkpoint() {
		case api.LockRequested:
			p := run.Process()
			now := w.cfg.Now()
			expiry := now.Add(w.cfg.LockExpiry)
			if p.IsLocked(now) {
				p.ExtendLock(expiry)
			} else {
				p.TryLock(expiry, now)
			}
			if err := repo.SaveChanges(ctx); err != nil {
				return err
			}
		case api.SaveRequested:
			if err := repo.SaveChanges(ctx); err != nil {
				return err
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return run.Err()
}
