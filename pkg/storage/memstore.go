package storage

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
)

// InMemoryStore keeps orders and jobs in maps. Values are copied on the way
// in and out so callers cannot mutate stored records.
type InMemoryStore struct {
	mu       sync.Mutex
	orders   map[darkpool.OrderRef]darkpool.EncryptedOrder
	byOwner  map[common.Address][]darkpool.OrderRef
	jobs     map[uint64]darkpool.MatchJob
	orderSeq uint64
	jobSeq   uint64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		orders:  make(map[darkpool.OrderRef]darkpool.EncryptedOrder),
		byOwner: make(map[common.Address][]darkpool.OrderRef),
		jobs:    make(map[uint64]darkpool.MatchJob),
	}
}

func (s *InMemoryStore) NextOrderSeq(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderSeq++
	return s.orderSeq, nil
}

func (s *InMemoryStore) InsertOrder(_ context.Context, o *darkpool.EncryptedOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.Ref]; ok {
		return errOrderExists(o.Ref)
	}
	s.orders[o.Ref] = *o
	s.byOwner[o.Owner] = append(s.byOwner[o.Owner], o.Ref)
	return nil
}

func (s *InMemoryStore) GetOrder(_ context.Context, ref darkpool.OrderRef) (*darkpool.EncryptedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[ref]
	if !ok {
		return nil, darkpool.ErrOrderNotFound
	}
	return &o, nil
}

func (s *InMemoryStore) SetOrderActive(_ context.Context, ref darkpool.OrderRef, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[ref]
	if !ok {
		return darkpool.ErrOrderNotFound
	}
	o.IsActive = active
	s.orders[ref] = o
	return nil
}

func (s *InMemoryStore) OrdersByOwner(_ context.Context, owner common.Address) ([]*darkpool.EncryptedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.byOwner[owner]
	out := make([]*darkpool.EncryptedOrder, 0, len(refs))
	for _, ref := range refs {
		o := s.orders[ref]
		out = append(out, &o)
	}
	return out, nil
}

func (s *InMemoryStore) NextComputationID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobSeq++
	return s.jobSeq, nil
}

func (s *InMemoryStore) CreateJob(_ context.Context, j *darkpool.MatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ComputationID]; ok {
		return darkpool.ErrDuplicateComputation
	}
	s.jobs[j.ComputationID] = copyJob(j)
	return nil
}

func (s *InMemoryStore) GetJob(_ context.Context, id uint64) (*darkpool.MatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, darkpool.ErrUnknownComputation
	}
	c := copyJob(&j)
	return &c, nil
}

func (s *InMemoryStore) UpdateJob(_ context.Context, j *darkpool.MatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ComputationID]; !ok {
		return darkpool.ErrUnknownComputation
	}
	s.jobs[j.ComputationID] = copyJob(j)
	return nil
}

func (s *InMemoryStore) JobsByState(_ context.Context, states ...darkpool.JobState) ([]*darkpool.MatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*darkpool.MatchJob
	for _, j := range s.jobs {
		if slices.Contains(states, j.State) {
			c := copyJob(&j)
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *darkpool.MatchJob) int {
		return cmp.Compare(a.ComputationID, b.ComputationID)
	})
	return out, nil
}

func copyJob(j *darkpool.MatchJob) darkpool.MatchJob {
	c := *j
	c.Payload = bytes.Clone(j.Payload)
	c.Proof = bytes.Clone(j.Proof)
	return c
}

var _ darkpool.Store = (*InMemoryStore)(nil)
