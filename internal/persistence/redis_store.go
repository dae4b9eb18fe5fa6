package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/petrijr/procflow/pkg/api"
)

// RedisStore is a Store backed by Redis.
// It uses a simple key structure:
//
//	<prefix>proc:<id>          => gob-encoded processRecord
//	<prefix>proc:<id>:steps    => ZSET of step ids scored by creation sequence
//	<prefix>step:<id>          => gob-encoded stepRecord
//	<prefix>idx:procs          => ZSET of process ids scored by creation sequence
//	<prefix>seq                => creation sequence counter
//
// Commit runs inside WATCH/MULTI on every key it reads, so a concurrent
// writer aborts the transaction and surfaces as a conflict.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "procflow:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "procflow:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) keyProcess(id uuid.UUID) string {
	return s.prefix + "proc:" + id.String()
}

func (s *RedisStore) keyProcessSteps(id uuid.UUID) string {
	return s.prefix + "proc:" + id.String() + ":steps"
}

func (s *RedisStore) keyStep(id uuid.UUID) string {
	return s.prefix + "step:" + id.String()
}

func (s *RedisStore) keyProcesses() string {
	return s.prefix + "idx:procs"
}

func (s *RedisStore) keySeq() string {
	return s.prefix + "seq"
}

func (s *RedisStore) loadProcessRecord(ctx context.Context, c redis.Cmdable, id uuid.UUID) (processRecord, error) {
	data, err := c.Get(ctx, s.keyProcess(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return processRecord{}, ErrProcessNotFound
	}
	if err != nil {
		return processRecord{}, err
	}
	return decodeRecord[processRecord](data)
}

func (s *RedisStore) loadStepRecord(ctx context.Context, c redis.Cmdable, id uuid.UUID) (stepRecord, error) {
	data, err := c.Get(ctx, s.keyStep(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return stepRecord{}, ErrStepNotFound
	}
	if err != nil {
		return stepRecord{}, err
	}
	return decodeRecord[stepRecord](data)
}

func (s *RedisStore) GetProcess(ctx context.Context, id uuid.UUID) (*api.Process, error) {
	rec, err := s.loadProcessRecord(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	return rec.toProcess(), nil
}

func (s *RedisStore) GetProcessSteps(ctx context.Context, processID uuid.UUID) ([]api.ProcessStep, error) {
	if _, err := s.loadProcessRecord(ctx, s.client, processID); err != nil {
		return nil, err
	}
	return s.loadSteps(ctx, processID)
}

func (s *RedisStore) loadSteps(ctx context.Context, processID uuid.UUID) ([]api.ProcessStep, error) {
	ids, err := s.client.ZRange(ctx, s.keyProcessSteps(processID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	steps := make([]api.ProcessStep, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		rec, err := s.loadStepRecord(ctx, s.client, id)
		if err != nil {
			return nil, fmt.Errorf("redis: step %s of process %s: %w", id, processID, err)
		}
		steps = append(steps, rec.toStep())
	}
	return steps, nil
}

func (s *RedisStore) GetActiveProcesses(ctx context.Context, filter ActiveProcessFilter) ([]api.Process, error) {
	ids, err := s.client.ZRange(ctx, s.keyProcesses(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var result []api.Process
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		rec, err := s.loadProcessRecord(ctx, s.client, id)
		if err != nil {
			return nil, err
		}
		p := rec.toProcess()
		if !filter.matchesType(p.ProcessTypeID) || !filter.matchesLock(p) {
			continue
		}
		steps, err := s.loadSteps(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, st := range steps {
			if filter.matchesStep(st) {
				result = append(result, *p)
				break
			}
		}
	}
	return result, nil
}

func (s *RedisStore) GetProcessStepData(ctx context.Context, processID uuid.UUID) (*ProcessStepData, error) {
	p, err := s.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	steps, err := s.loadSteps(ctx, processID)
	if err != nil {
		return nil, err
	}
	return &ProcessStepData{Process: p, Steps: pendingOnly(steps)}, nil
}

func (s *RedisStore) Commit(ctx context.Context, b *Batch) error {
	var watched []string
	for _, u := range b.UpdatedProcesses {
		watched = append(watched, s.keyProcess(u.Process.ID))
	}
	for _, c := range b.ModifiedSteps {
		watched = append(watched, s.keyStep(c.ID))
	}

	txf := func(tx *redis.Tx) error {
		updated := make([]processRecord, 0, len(b.UpdatedProcesses))
		for _, u := range b.UpdatedProcesses {
			rec, err := s.loadProcessRecord(ctx, tx, u.Process.ID)
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
			updated = append(updated, toProcessRecord(u.Process, rec.Seq))
		}

		modified := make([]stepRecord, 0, len(b.ModifiedSteps))
		for _, c := range b.ModifiedSteps {
			rec, err := s.loadStepRecord(ctx, tx, c.ID)
			if err != nil {
				return err
			}
			rec.applyChange(c)
			modified = append(modified, rec)
		}

		var seq uint64
		if n := len(b.CreatedProcesses) + len(b.CreatedSteps); n > 0 {
			last, err := tx.IncrBy(ctx, s.keySeq(), int64(n)).Result()
			if err != nil {
				return err
			}
			seq = uint64(last) - uint64(n)
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, rec := range updated {
				if err := s.setRecord(ctx, pipe, s.keyProcess(rec.ID), rec); err != nil {
					return err
				}
			}
			for _, p := range b.CreatedProcesses {
				seq++
				if err := s.setRecord(ctx, pipe, s.keyProcess(p.ID), toProcessRecord(p, seq)); err != nil {
					return err
				}
				pipe.ZAdd(ctx, s.keyProcesses(), redis.Z{Score: float64(seq), Member: p.ID.String()})
			}
			for _, st := range b.CreatedSteps {
				seq++
				if err := s.setRecord(ctx, pipe, s.keyStep(st.ID), toStepRecord(st, seq)); err != nil {
					return err
				}
				pipe.ZAdd(ctx, s.keyProcessSteps(st.ProcessID), redis.Z{Score: float64(seq), Member: st.ID.String()})
			}
			for _, rec := range modified {
				if err := s.setRecord(ctx, pipe, s.keyStep(rec.ID), rec); err != nil {
					return err
				}
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, watched...)
	if errors.Is(err, redis.TxFailedErr) {
		if len(b.UpdatedProcesses) > 0 {
			u := b.UpdatedProcesses[0]
			return &ConflictError{ProcessID: u.Process.ID, Expected: u.ExpectedVersion}
		}
		return fmt.Errorf("redis: %w: watched step changed during commit", ErrConflict)
	}
	return err
}

func (s *RedisStore) setRecord(ctx context.Context, pipe redis.Pipeliner, key string, rec any) error {
	var (
		data []byte
		err  error
	)
	switch r := rec.(type) {
	case processRecord:
		data, err = encodeRecord(r)
	case stepRecord:
		data, err = encodeRecord(r)
	default:
		return fmt.Errorf("redis: unsupported record %T", rec)
	}
	if err != nil {
		return err
	}
	return pipe.Set(ctx, key, data, 0).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
