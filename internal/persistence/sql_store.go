package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/petrijr/procflow/pkg/api"
)

// sqlDialect captures what differs between the SQL backends.
type sqlDialect struct {
	name   string
	schema []string
	// bind returns the placeholder for the n-th (1-based) argument.
	bind func(n int) string
}

// sqlStore implements Store on database/sql. Timestamps are stored as
// unix nanoseconds, identifiers as text.
type sqlStore struct {
	db      *sql.DB
	dialect sqlDialect
}

func newSQLStore(db *sql.DB, d sqlDialect) (*sqlStore, error) {
	s := &sqlStore{db: db, dialect: d}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("%s: init schema: %w", d.name, err)
	}
	return s, nil
}

func (s *sqlStore) initSchema() error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// q rewrites '?' placeholders for the dialect.
func (s *sqlStore) q(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.bind(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(row rowScanner) (*api.Process, error) {
	var (
		id, typeID, version string
		lock                sql.NullInt64
	)
	if err := row.Scan(&id, &typeID, &version, &lock); err != nil {
		return nil, err
	}
	p := &api.Process{
		ProcessTypeID:  api.ProcessTypeID(typeID),
		LockExpiryDate: fromNanos(lock),
	}
	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if p.Version, err = uuid.Parse(version); err != nil {
		return nil, err
	}
	return p, nil
}

func scanStep(row rowScanner) (api.ProcessStep, error) {
	var (
		id, processID, typeID, stepType, status string
		message                                 sql.NullString
		created                                 int64
		changed                                 sql.NullInt64
	)
	if err := row.Scan(&id, &processID, &typeID, &stepType, &status, &message, &created, &changed); err != nil {
		return api.ProcessStep{}, err
	}
	st := api.ProcessStep{
		ProcessTypeID:   api.ProcessTypeID(typeID),
		StepTypeID:      api.StepTypeID(stepType),
		Status:          api.StepStatus(status),
		DateCreated:     time.Unix(0, created).UTC(),
		DateLastChanged: fromNanos(changed),
	}
	if message.Valid {
		st.Message = api.StringPtr(message.String)
	}
	var err error
	if st.ID, err = uuid.Parse(id); err != nil {
		return api.ProcessStep{}, err
	}
	if st.ProcessID, err = uuid.Parse(processID); err != nil {
		return api.ProcessStep{}, err
	}
	return st, nil
}

const (
	processColumns = `id, process_type_id, version, lock_expiry_date`
	stepColumns    = `id, process_id, process_type_id, step_type_id, status, message, date_created, date_last_changed`
)

func (s *sqlStore) GetProcess(ctx context.Context, id uuid.UUID) (*api.Process, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+processColumns+`
		FROM processes
		WHERE id = ?`),
		id.String(),
	)
	p, err := scanProcess(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProcessNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *sqlStore) GetProcessSteps(ctx context.Context, processID uuid.UUID) ([]api.ProcessStep, error) {
	if _, err := s.GetProcess(ctx, processID); err != nil {
		return nil, err
	}
	return s.querySteps(ctx, s.q(`
		SELECT `+stepColumns+`
		FROM process_steps
		WHERE process_id = ?
		ORDER BY seq`),
		processID.String(),
	)
}

func (s *sqlStore) querySteps(ctx context.Context, query string, args ...any) (steps []api.ProcessStep, err error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, rows.Close())
	}()

	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *sqlStore) GetActiveProcesses(ctx context.Context, filter ActiveProcessFilter) (result []api.Process, err error) {
	var (
		clauses []string
		args    []any
	)

	clauses = append(clauses, "(p.lock_expiry_date IS NULL OR p.lock_expiry_date < ?)")
	args = append(args, filter.LockExpiryCutoff.UnixNano())

	if len(filter.ProcessTypeIDs) > 0 {
		clauses = append(clauses, "p.process_type_id IN ("+placeholders(len(filter.ProcessTypeIDs))+")")
		for _, t := range filter.ProcessTypeIDs {
			args = append(args, string(t))
		}
	}

	stepClause := "s.process_id = p.id AND s.status = ?"
	args = append(args, string(api.StepStatusTodo))
	if len(filter.StepTypeIDs) > 0 {
		stepClause += " AND s.step_type_id IN (" + placeholders(len(filter.StepTypeIDs)) + ")"
		for _, t := range filter.StepTypeIDs {
			args = append(args, string(t))
		}
	}
	clauses = append(clauses, "EXISTS (SELECT 1 FROM process_steps s WHERE "+stepClause+")")

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT p.id, p.process_type_id, p.version, p.lock_expiry_date
		FROM processes p
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY p.seq`),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, rows.Close())
	}()

	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *sqlStore) GetProcessStepData(ctx context.Context, processID uuid.UUID) (*ProcessStepData, error) {
	p, err := s.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	steps, err := s.querySteps(ctx, s.q(`
		SELECT `+stepColumns+`
		FROM process_steps
		WHERE process_id = ? AND status = ?
		ORDER BY step_type_id, seq`),
		processID.String(),
		string(api.StepStatusTodo),
	)
	if err != nil {
		return nil, err
	}
	return &ProcessStepData{Process: p, Steps: steps}, nil
}

func (s *sqlStore) Commit(ctx context.Context, b *Batch) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	for _, u := range b.UpdatedProcesses {
		if err := s.updateProcess(ctx, tx, u); err != nil {
			return err
		}
	}

	for _, p := range b.CreatedProcesses {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO processes (`+processColumns+`)
			VALUES (?, ?, ?, ?)`),
			p.ID.String(),
			string(p.ProcessTypeID),
			p.Version.String(),
			nullableNanos(p.LockExpiryDate),
		); err != nil {
			return err
		}
	}

	for _, st := range b.CreatedSteps {
		var msg sql.NullString
		if st.Message != nil {
			msg = sql.NullString{String: *st.Message, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO process_steps (`+stepColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			st.ID.String(),
			st.ProcessID.String(),
			string(st.ProcessTypeID),
			string(st.StepTypeID),
			string(st.Status),
			msg,
			st.DateCreated.UnixNano(),
			nullableNanos(st.DateLastChanged),
		); err != nil {
			return err
		}
	}

	for _, c := range b.ModifiedSteps {
		if err := s.modifyStep(ctx, tx, c); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *sqlStore) updateProcess(ctx context.Context, tx *sql.Tx, u ProcessUpdate) error {
	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE processes
		SET version = ?, lock_expiry_date = ?
		WHERE id = ? AND version = ?`),
		u.Process.Version.String(),
		nullableNanos(u.Process.LockExpiryDate),
		u.Process.ID.String(),
		u.ExpectedVersion.String(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var actual string
	err = tx.QueryRowContext(ctx, s.q(`SELECT version FROM processes WHERE id = ?`), u.Process.ID.String()).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProcessNotFound
	}
	if err != nil {
		return err
	}
	actualVersion, _ := uuid.Parse(actual)
	return &ConflictError{
		ProcessID: u.Process.ID,
		Expected:  u.ExpectedVersion,
		Actual:    actualVersion,
	}
}

func (s *sqlStore) modifyStep(ctx context.Context, tx *sql.Tx, c StepChange) error {
	sets := []string{"date_last_changed = ?"}
	args := []any{c.DateLastChanged.UnixNano()}
	if c.SetStatus {
		sets = append(sets, "status = ?")
		args = append(args, string(c.Status))
	}
	if c.SetMessage {
		sets = append(sets, "message = ?")
		if c.Message == nil {
			args = append(args, sql.NullString{})
		} else {
			args = append(args, *c.Message)
		}
	}
	args = append(args, c.ID.String())

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE process_steps
		SET `+strings.Join(sets, ", ")+`
		WHERE id = ?`),
		args...,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStepNotFound
	}
	return nil
}

// Close is a no-op; the caller owns the *sql.DB.
func (s *sqlStore) Close() error {
	return nil
}
