package procflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/worker"
)

// LocalPollInterval is the pause between empty polls of a LocalRunner.
const LocalPollInterval = 20 * time.Millisecond

// LocalRunner bundles an in-memory Engine with a background worker loop,
// for development, tests and simple single-process deployments.
//
// Typical usage:
//
//	runner, _ := procflow.NewLocalRunner(onboarding.Build())
//	_ = runner.StartWorkers(ctx, 2)
//	p, _ := runner.Engine.StartProcess(ctx, "USER_ONBOARDING")
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory engine driven by this runner.
	Engine *Engine

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	err     error
}

// NewLocalRunner constructs a LocalRunner for the given process types.
func NewLocalRunner(executors ...ProcessTypeExecutor) (*LocalRunner, error) {
	eng, err := NewEngine(persistence.NewInMemoryStore(), executors)
	if err != nil {
		return nil, err
	}
	return &LocalRunner{Engine: eng}, nil
}

// StartWorkers starts a worker loop driving up to concurrency processes at
// a time until Stop is called or ctx is cancelled.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("procflow: LocalRunner already started")
	}

	w := worker.NewWithConfig(r.Engine.Executor, r.Engine.Store, worker.Config{
		Concurrency:  concurrency,
		PollInterval: LocalPollInterval,
	})

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.running = true
	r.err = nil

	go func() {
		defer close(done)
		err := w.Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}()

	return nil
}

// Stop cancels the worker loop started by StartWorkers and waits for it to
// exit. It returns the error the loop ended with, other than cancellation.
func (r *LocalRunner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
