package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
)

type PebbleStore struct {
	// mu serializes read-modify-write sequences (sequences, job updates).
	mu sync.Mutex
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}
func (s *PebbleStore) Close() error { return s.db.Close() }

func errOrderExists(ref darkpool.OrderRef) error {
	return fmt.Errorf("order %s already exists", ref.Hex())
}

func (s *PebbleStore) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *PebbleStore) getGob(key []byte, out any, missing error) error {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return missing
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return decodeGob(val, out)
}

func (s *PebbleStore) nextSeq(key []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur uint64
	val, closer, err := s.db.Get(key)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		cur = binary.BigEndian.Uint64(val)
		closer.Close()
	}
	cur++
	if err := s.db.Set(key, u64Key(cur), pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to save sequence: %w", err)
	}
	return cur, nil
}

// ============================================================================
// Orders
// ============================================================================

func (s *PebbleStore) NextOrderSeq(_ context.Context) (uint64, error) {
	return s.nextSeq(keyOrderSeq)
}

func (s *PebbleStore) InsertOrder(_ context.Context, o *darkpool.EncryptedOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := orderKey(o.Ref)
	exists, err := s.has(key)
	if err != nil {
		return err
	}
	if exists {
		return errOrderExists(o.Ref)
	}
	data, err := encodeGob(o)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, data, nil); err != nil {
		return err
	}
	if err := b.Set(ownerKey(o), o.Ref[:], nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (s *PebbleStore) GetOrder(_ context.Context, ref darkpool.OrderRef) (*darkpool.EncryptedOrder, error) {
	var o darkpool.EncryptedOrder
	if err := s.getGob(orderKey(ref), &o, darkpool.ErrOrderNotFound); err != nil {
		return nil, err
	}
	return &o, nil
}

// SetOrderActive rewrites the activity flag only; shards come from the
// stored record, never from the caller.
func (s *PebbleStore) SetOrderActive(ctx context.Context, ref darkpool.OrderRef, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.GetOrder(ctx, ref)
	if err != nil {
		return err
	}
	o.IsActive = active
	data, err := encodeGob(o)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}
	if err := s.db.Set(orderKey(ref), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (s *PebbleStore) OrdersByOwner(ctx context.Context, owner common.Address) ([]*darkpool.EncryptedOrder, error) {
	prefix := ownerPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []*darkpool.EncryptedOrder
	for iter.First(); iter.Valid(); iter.Next() {
		var ref darkpool.OrderRef
		copy(ref[:], iter.Value())
		o, err := s.GetOrder(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("owner index points at %s: %w", ref.Hex(), err)
		}
		orders = append(orders, o)
	}
	return orders, iter.Error()
}

// ============================================================================
// Jobs
// ============================================================================

func (s *PebbleStore) NextComputationID(_ context.Context) (uint64, error) {
	return s.nextSeq(keyJobSeq)
}

func (s *PebbleStore) CreateJob(_ context.Context, j *darkpool.MatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exists, err := s.has(jobKey(j.ComputationID))
	if err != nil {
		return err
	}
	if exists {
		return darkpool.ErrDuplicateComputation
	}
	return s.writeJob(j, 0)
}

func (s *PebbleStore) GetJob(_ context.Context, id uint64) (*darkpool.MatchJob, error) {
	var j darkpool.MatchJob
	if err := s.getGob(jobKey(id), &j, darkpool.ErrUnknownComputation); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PebbleStore) UpdateJob(ctx context.Context, j *darkpool.MatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.GetJob(ctx, j.ComputationID)
	if err != nil {
		return err
	}
	return s.writeJob(j, prev.State)
}

// writeJob stores the job and moves its state index entry in one batch.
func (s *PebbleStore) writeJob(j *darkpool.MatchJob, prev darkpool.JobState) error {
	data, err := encodeGob(j)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if prev != 0 && prev != j.State {
		if err := b.Delete(jobStateKey(prev, j.ComputationID), nil); err != nil {
			return err
		}
	}
	if err := b.Set(jobStateKey(j.State, j.ComputationID), nil, nil); err != nil {
		return err
	}
	if err := b.Set(jobKey(j.ComputationID), data, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *PebbleStore) JobsByState(ctx context.Context, states ...darkpool.JobState) ([]*darkpool.MatchJob, error) {
	var ids []uint64
	for _, st := range states {
		prefix := jobStatePrefix(st)
		iter, err := s.db.NewIter(&pebble.IterOptions{
			LowerBound: prefix,
			UpperBound: keyUpperBound(prefix),
		})
		if err != nil {
			return nil, err
		}
		for iter.First(); iter.Valid(); iter.Next() {
			ids = append(ids, binary.BigEndian.Uint64(iter.Key()[len(prefix):]))
		}
		err = iter.Error()
		iter.Close()
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(ids)

	jobs := make([]*darkpool.MatchJob, 0, len(ids))
	for _, id := range ids {
		j, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

var _ darkpool.Store = (*PebbleStore)(nil)
