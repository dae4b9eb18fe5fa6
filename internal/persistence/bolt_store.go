package persistence

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/dogmatiq/linger"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/petrijr/procflow/pkg/api"
)

var (
	bucketProcesses    = []byte("processes")
	bucketSteps        = []byte("steps")
	bucketProcessSteps = []byte("process_steps")
)

// BoltStore is a Store backed by an embedded bbolt database.
//
// Layout:
//
//	processes/<id>              => gob-encoded processRecord
//	steps/<id>                  => gob-encoded stepRecord
//	process_steps/<id>/<seq>    => step id, keyed by big-endian creation sequence
//
// bbolt serializes writers, so Commit checks versions and applies the batch
// in a single read-write transaction.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens (or creates) a database file at path. If ctx has a
// deadline it bounds how long to wait for the file lock.
func OpenBoltStore(ctx context.Context, path string) (*BoltStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := *bbolt.DefaultOptions
	if timeout, ok := linger.FromContextDeadline(ctx); ok {
		opts.Timeout = timeout
	}

	db, err := bbolt.Open(path, os.FileMode(0o600), &opts)
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return NewBoltStore(db)
}

// NewBoltStore wraps an open database, creating the buckets if needed.
func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketProcesses, bucketSteps, bucketProcessSteps} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: init buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func getProcessRecord(tx *bbolt.Tx, id uuid.UUID) (processRecord, error) {
	data := tx.Bucket(bucketProcesses).Get(id[:])
	if data == nil {
		return processRecord{}, ErrProcessNotFound
	}
	return decodeRecord[processRecord](data)
}

func getStepRecord(tx *bbolt.Tx, id uuid.UUID) (stepRecord, error) {
	data := tx.Bucket(bucketSteps).Get(id[:])
	if data == nil {
		return stepRecord{}, ErrStepNotFound
	}
	return decodeRecord[stepRecord](data)
}

func loadBoltSteps(tx *bbolt.Tx, processID uuid.UUID) ([]api.ProcessStep, error) {
	b := tx.Bucket(bucketProcessSteps).Bucket(processID[:])
	if b == nil {
		return nil, nil
	}

	var steps []api.ProcessStep
	err := b.ForEach(func(_, v []byte) error {
		id, err := uuid.FromBytes(v)
		if err != nil {
			return err
		}
		rec, err := getStepRecord(tx, id)
		if err != nil {
			return err
		}
		steps = append(steps, rec.toStep())
		return nil
	})
	return steps, err
}

func (s *BoltStore) GetProcess(ctx context.Context, id uuid.UUID) (p *api.Process, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		rec, err := getProcessRecord(tx, id)
		if err != nil {
			return err
		}
		p = rec.toProcess()
		return nil
	})
	return p, err
}

func (s *BoltStore) GetProcessSteps(ctx context.Context, processID uuid.UUID) (steps []api.ProcessStep, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		if _, err := getProcessRecord(tx, processID); err != nil {
			return err
		}
		steps, err = loadBoltSteps(tx, processID)
		return err
	})
	return steps, err
}

func (s *BoltStore) GetActiveProcesses(ctx context.Context, filter ActiveProcessFilter) (result []api.Process, err error) {
	type candidate struct {
		seq uint64
		p   api.Process
	}

	err = s.db.View(func(tx *bbolt.Tx) error {
		var found []candidate
		err := tx.Bucket(bucketProcesses).ForEach(func(_, v []byte) error {
			rec, err := decodeRecord[processRecord](v)
			if err != nil {
				return err
			}
			p := rec.toProcess()
			if !filter.matchesType(p.ProcessTypeID) || !filter.matchesLock(p) {
				return nil
			}
			steps, err := loadBoltSteps(tx, p.ID)
			if err != nil {
				return err
			}
			for _, st := range steps {
				if filter.matchesStep(st) {
					found = append(found, candidate{seq: rec.Seq, p: *p})
					break
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		// the bucket is keyed by id; restore creation order
		sortBySeq(found, func(c candidate) uint64 { return c.seq })
		for _, c := range found {
			result = append(result, c.p)
		}
		return nil
	})
	return result, err
}

func (s *BoltStore) GetProcessStepData(ctx context.Context, processID uuid.UUID) (data *ProcessStepData, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		rec, err := getProcessRecord(tx, processID)
		if err != nil {
			return err
		}
		steps, err := loadBoltSteps(tx, processID)
		if err != nil {
			return err
		}
		data = &ProcessStepData{Process: rec.toProcess(), Steps: pendingOnly(steps)}
		return nil
	})
	return data, err
}

func (s *BoltStore) Commit(ctx context.Context, b *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		processes := tx.Bucket(bucketProcesses)
		steps := tx.Bucket(bucketSteps)
		index := tx.Bucket(bucketProcessSteps)

		for _, u := range b.UpdatedProcesses {
			rec, err := getProcessRecord(tx, u.Process.ID)
			if err != nil {
				return err
			}
			if rec.Version != u.ExpectedVersion {
				return &ConflictError{
					ProcessID: u.Process.ID,
					Expected:  u.ExpectedVersion,
					Actual:    rec.Version,
				}
			}
			if err := putRecord(processes, u.Process.ID, toProcessRecord(u.Process, rec.Seq)); err != nil {
				return err
			}
		}

		for _, p := range b.CreatedProcesses {
			seq, err := processes.NextSequence()
			if err != nil {
				return err
			}
			if err := putRecord(processes, p.ID, toProcessRecord(p, seq)); err != nil {
				return err
			}
		}

		for _, st := range b.CreatedSteps {
			pb, err := index.CreateBucketIfNotExists(st.ProcessID[:])
			if err != nil {
				return err
			}
			seq, err := pb.NextSequence()
			if err != nil {
				return err
			}
			if err := pb.Put(seqKey(seq), st.ID[:]); err != nil {
				return err
			}
			if err := putRecord(steps, st.ID, toStepRecord(st, seq)); err != nil {
				return err
			}
		}

		for _, c := range b.ModifiedSteps {
			rec, err := getStepRecord(tx, c.ID)
			if err != nil {
				return err
			}
			rec.applyChange(c)
			if err := putRecord(steps, c.ID, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func putRecord[T any](b *bbolt.Bucket, id uuid.UUID, rec T) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return b.Put(id[:], data)
}

func seqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
