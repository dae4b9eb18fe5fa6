// Package api contains the core types shared by the procflow engine, its
// stores and the process type executors plugged into it.
//
// Most users interact with the higher-level procflow package, which
// re-exports selected types and helpers from this package. The api package
// is intended for executor authors and for code extending the engine.
//
// # Processes and steps
//
// A Process is one instance of a multi-step business workflow, tagged with
// a ProcessTypeID. Its ProcessStep rows record the units of work scheduled
// for it. A step is created TODO and moves exactly once to a terminal
// status: DONE, FAILED, SKIPPED or DUPLICATE.
//
// The Version field of a process is an optimistic concurrency token. Every
// durable change regenerates it, and stores reject saves made against a
// stale version. LockExpiryDate is a lease rather than a mutex; a nil or
// past value means any worker may pick the process up.
//
// # Executors
//
// A ProcessTypeExecutor implements one kind of workflow. The engine asks it
// which step types it can run, gives it a chance to initialize a process,
// and calls ExecuteProcessStep for each runnable TODO step. Step types the
// executor does not run are sentinels, resolved only by external events.
//
// Executors report business outcomes through StepResult. Done, Retry and
// Fail build the common results; ClassifyError maps service faults onto
// them. Errors wrapping ErrUnexpectedCondition are structural faults and
// abort the whole run instead of failing a single step.
//
// # Checkpoints
//
// A run yields a Checkpoint after each unit of work, telling the host
// whether to persist (SaveRequested), to take a lease before the next step
// (LockRequested) or to do nothing (Unmodified).
//
// # Observability
//
// The Observer interface receives run and step lifecycle callbacks.
// LoggingObserver writes them to log/slog, BasicMetrics keeps in-memory
// counters, and NewCompositeObserver combines several observers.
package api
