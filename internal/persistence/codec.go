package persistence

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/procflow/pkg/api"
)

// processRecord and stepRecord are the gob payloads used by the key-value
// backends (Redis, bbolt). Optional timestamps are unix nanoseconds with
// zero meaning unset.
type processRecord struct {
	Seq            uint64
	ID             uuid.UUID
	ProcessTypeID  string
	Version        uuid.UUID
	LockExpiryDate int64
}

type stepRecord struct {
	Seq             uint64
	ID              uuid.UUID
	ProcessID       uuid.UUID
	ProcessTypeID   string
	StepTypeID      string
	Status          string
	HasMessage      bool
	Message         string
	DateCreated     int64
	DateLastChanged int64
}

// encodeRecord serializes a record using encoding/gob.
func encodeRecord[T any](v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRecord deserializes a record produced by encodeRecord.
func decodeRecord[T any](data []byte) (T, error) {
	var v T
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}

func nanosOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}

func timeOrNil(n int64) *time.Time {
	if n == 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}

func toProcessRecord(p api.Process, seq uint64) processRecord {
	return processRecord{
		Seq:            seq,
		ID:             p.ID,
		ProcessTypeID:  string(p.ProcessTypeID),
		Version:        p.Version,
		LockExpiryDate: nanosOrZero(p.LockExpiryDate),
	}
}

func (r processRecord) toProcess() *api.Process {
	return &api.Process{
		ID:             r.ID,
		ProcessTypeID:  api.ProcessTypeID(r.ProcessTypeID),
		Version:        r.Version,
		LockExpiryDate: timeOrNil(r.LockExpiryDate),
	}
}

func toStepRecord(s api.ProcessStep, seq uint64) stepRecord {
	r := stepRecord{
		Seq:             seq,
		ID:              s.ID,
		ProcessID:       s.ProcessID,
		ProcessTypeID:   string(s.ProcessTypeID),
		StepTypeID:      string(s.StepTypeID),
		Status:          string(s.Status),
		DateCreated:     s.DateCreated.UnixNano(),
		DateLastChanged: nanosOrZero(s.DateLastChanged),
	}
	if s.Message != nil {
		r.HasMessage = true
		r.Message = *s.Message
	}
	return r
}

func (r stepRecord) toStep() api.ProcessStep {
	s := api.ProcessStep{
		ID:              r.ID,
		ProcessID:       r.ProcessID,
		ProcessTypeID:   api.ProcessTypeID(r.ProcessTypeID),
		StepTypeID:      api.StepTypeID(r.StepTypeID),
		Status:          api.StepStatus(r.Status),
		DateCreated:     time.Unix(0, r.DateCreated).UTC(),
		DateLastChanged: timeOrNil(r.DateLastChanged),
	}
	if r.HasMessage {
		s.Message = api.StringPtr(r.Message)
	}
	return s
}

// applyChange applies c to a stored step record.
func (r *stepRecord) applyChange(c StepChange) {
	s := r.toStep()
	c.Apply(&s)
	*r = toStepRecord(s, r.Seq)
}
