package persistence

import (
	"database/sql"
	"strconv"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// It expects an *sql.DB using a Postgres driver, e.g.:
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//	db, _ := sql.Open("pgx", dsn)
type PostgresStore struct {
	*sqlStore
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore initializes the schema and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s, err := newSQLStore(db, sqlDialect{
		name: "postgres",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS processes (
				seq BIGSERIAL PRIMARY KEY,
				id TEXT NOT NULL UNIQUE,
				process_type_id TEXT NOT NULL,
				version TEXT NOT NULL,
				lock_expiry_date BIGINT
			);`,
			`CREATE TABLE IF NOT EXISTS process_steps (
				seq BIGSERIAL PRIMARY KEY,
				id TEXT NOT NULL UNIQUE,
				process_id TEXT NOT NULL REFERENCES processes(id),
				process_type_id TEXT NOT NULL,
				step_type_id TEXT NOT NULL,
				status TEXT NOT NULL,
				message TEXT,
				date_created BIGINT NOT NULL,
				date_last_changed BIGINT
			);`,
			`CREATE INDEX IF NOT EXISTS idx_process_steps_process_status
				ON process_steps (process_id, status, step_type_id);`,
		},
		bind: func(n int) string { return "$" + strconv.Itoa(n) },
	})
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlStore: s}, nil
}
