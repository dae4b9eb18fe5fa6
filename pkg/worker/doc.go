// Package worker provides the poll loop that drives procflow processes
// forward.
//
// A worker repeatedly asks the store for processes that have at least one
// TODO step some registered executor can run and whose lease is absent or
// expired. Each such process is driven through one engine run in a fresh
// unit of work:
//
//   - SaveRequested: the staged changes are committed and the process
//     version is regenerated.
//   - LockRequested: a lease of LockExpiry is taken (or extended) and
//     committed before the step runs.
//   - Unmodified: nothing is written.
//
// When a commit loses an optimistic concurrency race the worker discards
// its staged changes and leaves the process for a later poll. A lease taken
// during a run is released when the run ends.
//
// Any number of workers, in one process or many, may poll the same store.
// The lease keeps them from picking up a process mid-step and the version
// check keeps two of them from saving divergent views of it.
//
// # Configuration
//
//   - Concurrency: processes driven in parallel per poll
//   - PollInterval: pause after a poll that found nothing
//   - LockExpiry: lease length
//   - Backoff: delay strategy after a failed poll
//
// Most applications use the LocalRunner in the procflow package or the
// procflow CLI's worker command rather than building a Worker directly.
package worker
