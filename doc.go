// Package procflow is a durable process step engine for multi-step business
// workflows such as onboarding a company or provisioning a partner account.
//
// A process is a row with a type and an optimistic concurrency version,
// plus the process step rows scheduled for it. Workers poll the store for
// processes that have runnable TODO steps, execute those steps through the
// ProcessTypeExecutor registered for the process type, and persist the
// outcome. Steps that wait on an external system are sentinels; a callback
// resolves them later with Engine.Complete or Engine.Reject.
//
// # Defining process types
//
// Process types can be defined by implementing ProcessTypeExecutor
// directly, or with the fluent builder:
//
//	onboarding := procflow.New("USER_ONBOARDING").
//	    Initial("CREATE_ACCOUNT").
//	    Step("CREATE_ACCOUNT", func(ctx context.Context, id uuid.UUID) (procflow.StepResult, error) {
//	        return procflow.Done("REQUEST_WALLET"), nil
//	    }).
//	    LockedStep("REQUEST_WALLET", requestWallet)
//
// Step handlers report business outcomes through Done, Retry and Fail, or
// map service faults with ClassifyError. Errors wrapping
// ErrUnexpectedCondition abort the whole run.
//
// # Engines
//
// An Engine ties the registered process types to a Store:
//
//	eng, err := procflow.NewInMemoryEngine(onboarding.Build())
//	p, err := eng.StartProcess(ctx, "USER_ONBOARDING")
//	err = eng.ExecuteProcess(ctx, p.ID)
//
// Durable engines are available over SQLite, PostgreSQL, Redis and bbolt.
// NewSQLiteBundle and LocalRunner wire an engine together with a polling
// worker for the common deployment shapes.
//
// # Concurrency
//
// Several workers may poll the same store. Every save is checked against
// the process version; a worker that loses the race abandons its run and
// leaves the process to a later poll. Steps that hand off to an external
// system run under a lease (LockedStep), which keeps other workers away
// until the callback arrives or the lease expires.
package procflow
