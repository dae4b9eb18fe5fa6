package procflow

import (
	"database/sql"

	"github.com/petrijr/procflow/pkg/worker"
)

// WorkerBundle wires together an Engine over a durable store and a Worker
// polling that store.
type WorkerBundle struct {
	Engine *Engine
	Worker *Worker
}

// NewSQLiteBundle constructs a durable Engine and Worker sharing the same
// SQLite database. Processes and their steps are persisted in db, so a
// bundle re-created over the same database resumes where the previous one
// stopped.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", procflow.SQLiteDSN("file:procflow.db"))
//	bundle, err := procflow.NewSQLiteBundle(db, worker.Config{Concurrency: 4}, onboarding)
//	p, _ := bundle.Engine.StartProcess(ctx, "ONBOARDING")
//	go bundle.Worker.Run(ctx)
func NewSQLiteBundle(db *sql.DB, cfg worker.Config, executors ...ProcessTypeExecutor) (*WorkerBundle, error) {
	eng, err := NewSQLiteEngine(db, executors, WithWorkerConfig(cfg))
	if err != nil {
		return nil, err
	}
	return &WorkerBundle{
		Engine: eng,
		Worker: eng.Worker(),
	}, nil
}
