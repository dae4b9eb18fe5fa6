package api

import (
	"time"

	"github.com/google/uuid"
)

// ProcessTypeID tags the kind of business workflow a process belongs to.
// It selects the ProcessTypeExecutor that owns the process.
type ProcessTypeID string

// StepTypeID names a unit of work within a process.
type StepTypeID string

// StepStatus represents the lifecycle state of a process step.
type StepStatus string

const (
	StepStatusTodo      StepStatus = "TODO"
	StepStatusDone      StepStatus = "DONE"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusSkipped   StepStatus = "SKIPPED"
	StepStatusDuplicate StepStatus = "DUPLICATE"
)

// IsTerminal reports whether a step in this status is never reconsidered.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusDone, StepStatusFailed, StepStatusSkipped, StepStatusDuplicate:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s StepStatus) Valid() bool {
	return s == StepStatusTodo || s.IsTerminal()
}

// Process is one instance of a multi-step business workflow.
//
// Version is an opaque optimistic concurrency token. It is regenerated
// whenever the process or its steps are durably mutated; stores reject a
// save whose expected version does not match the persisted one.
//
// LockExpiryDate is a lease, not a mutex: a nil or past value means the
// process may be picked up by any worker.
type Process struct {
	ID             uuid.UUID     `json:"id" yaml:"id"`
	ProcessTypeID  ProcessTypeID `json:"process_type_id" yaml:"process_type_id"`
	Version        uuid.UUID     `json:"version" yaml:"version"`
	LockExpiryDate *time.Time    `json:"lock_expiry_date,omitempty" yaml:"lock_expiry_date,omitempty"`
}

// NewProcess returns a process with fresh identifiers and no lock.
func NewProcess(typeID ProcessTypeID) *Process {
	return &Process{
		ID:            uuid.New(),
		ProcessTypeID: typeID,
		Version:       uuid.New(),
	}
}

// IsLocked reports whether the lease is held at time now.
func (p *Process) IsLocked(now time.Time) bool {
	return p.LockExpiryDate != nil && p.LockExpiryDate.After(now)
}

// TryLock takes the lease until expiry. It fails when another lease is
// still active at now.
func (p *Process) TryLock(expiry, now time.Time) bool {
	if p.IsLocked(now) {
		return false
	}
	e := expiry
	p.LockExpiryDate = &e
	p.UpdateVersion()
	return true
}

// ExtendLock moves the expiry of a held lease forward. It returns false
// when no lease is set.
func (p *Process) ExtendLock(expiry time.Time) bool {
	if p.LockExpiryDate == nil {
		return false
	}
	e := expiry
	p.LockExpiryDate = &e
	p.UpdateVersion()
	return true
}

// ReleaseLock clears the lease. It returns false if there was none.
func (p *Process) ReleaseLock() bool {
	if p.LockExpiryDate == nil {
		return false
	}
	p.LockExpiryDate = nil
	p.UpdateVersion()
	return true
}

// UpdateVersion regenerates the concurrency token.
func (p *Process) UpdateVersion() {
	p.Version = uuid.New()
}

// Clone returns a deep copy of p.
func (p *Process) Clone() *Process {
	c := *p
	if p.LockExpiryDate != nil {
		e := *p.LockExpiryDate
		c.LockExpiryDate = &e
	}
	return &c
}

// ProcessStep is one scheduled unit of work. Rows are never deleted,
// only transitioned from TODO to a terminal status.
type ProcessStep struct {
	ID              uuid.UUID     `json:"id" yaml:"id"`
	ProcessID       uuid.UUID     `json:"process_id" yaml:"process_id"`
	ProcessTypeID   ProcessTypeID `json:"process_type_id" yaml:"process_type_id"`
	StepTypeID      StepTypeID    `json:"step_type_id" yaml:"step_type_id"`
	Status          StepStatus    `json:"status" yaml:"status"`
	Message         *string       `json:"message,omitempty" yaml:"message,omitempty"`
	DateCreated     time.Time     `json:"date_created" yaml:"date_created"`
	DateLastChanged *time.Time    `json:"date_last_changed,omitempty" yaml:"date_last_changed,omitempty"`
}

// Clone returns a deep copy of s.
func (s ProcessStep) Clone() ProcessStep {
	c := s
	if s.Message != nil {
		m := *s.Message
		c.Message = &m
	}
	if s.DateLastChanged != nil {
		d := *s.DateLastChanged
		c.DateLastChanged = &d
	}
	return c
}

// ProcessDetails is a process together with all of its steps in creation
// order.
type ProcessDetails struct {
	Process Process       `json:"process" yaml:"process"`
	Steps   []ProcessStep `json:"steps" yaml:"steps"`
}

// StepSpec describes a step row to be created.
type StepSpec struct {
	ProcessTypeID ProcessTypeID
	StepTypeID    StepTypeID
	Status        StepStatus
	ProcessID     uuid.UUID
}

// StringPtr is a convenience for optional messages.
func StringPtr(s string) *string {
	return &s
}
