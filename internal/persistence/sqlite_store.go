package persistence

import (
	"database/sql"
	"strings"
)

// SQLiteDSN returns dsn with WAL journaling and a busy timeout, so that
// workers committing in parallel wait for the write lock instead of failing
// with SQLITE_BUSY. In-memory DSNs and DSNs that already set pragmas are
// returned unchanged.
func SQLiteDSN(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// An in-memory database is private to one connection, so callers using
// ":memory:" should call db.SetMaxOpenConns(1). File databases shared by
// concurrent workers should be opened with SQLiteDSN.
type SQLiteStore struct {
	*sqlStore
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s, err := newSQLStore(db, sqlDialect{
		name: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS processes (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				process_type_id TEXT NOT NULL,
				version TEXT NOT NULL,
				lock_expiry_date INTEGER
			);`,
			`CREATE TABLE IF NOT EXISTS process_steps (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				process_id TEXT NOT NULL REFERENCES processes(id),
				process_type_id TEXT NOT NULL,
				step_type_id TEXT NOT NULL,
				status TEXT NOT NULL,
				message TEXT,
				date_created INTEGER NOT NULL,
				date_last_changed INTEGER
			);`,
			`CREATE INDEX IF NOT EXISTS idx_process_steps_process_status
				ON process_steps (process_id, status, step_type_id);`,
		},
		bind: func(int) string { return "?" },
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{sqlStore: s}, nil
}
