package darkpool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

func jobRef(id uint64) string { return "#" + strconv.FormatUint(id, 10) }

// SubmitMatch records a job for the two orders and hands it to the cluster.
// It returns once the cluster accepted the job; the result arrives later via
// OnResult. When the cluster refuses the job it is aborted and
// ErrClusterRejected is returned, leaving both orders as they were.
func (s *Service) SubmitMatch(ctx context.Context, req SubmitRequest) (uint64, error) {
	job, creq, err := s.enqueue(ctx, req)
	if err != nil {
		return 0, err
	}
	id := job.ComputationID

	if err := s.cluster.Submit(ctx, creq); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.log.Warnw("match_rejected_by_cluster", "computation_id", id, "err", err)
		cur, gerr := s.store.GetJob(ctx, id)
		if gerr == nil && !cur.State.Terminal() {
			if ferr := s.finish(ctx, cur, JobAborted, "cluster rejected: "+err.Error()); ferr != nil {
				s.log.Errorw("job_abort_failed", "computation_id", id, "err", ferr)
			}
			s.opts.Audit.Append(fmt.Sprintf("job_aborted id=%d reason=cluster_rejected", id))
		}
		return id, opErr("submit_match", jobRef(id), fmt.Errorf("%w: %v", ErrClusterRejected, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.store.GetJob(ctx, id)
	if err != nil {
		return id, opErr("submit_match", jobRef(id), err)
	}
	// The result may already have been applied.
	if cur.State == JobQueued {
		cur.State = JobExecuting
		if err := s.store.UpdateJob(ctx, cur); err != nil {
			return id, opErr("submit_match", jobRef(id), err)
		}
	}
	s.opts.Metrics.JobSubmitted()
	s.opts.Audit.Append(fmt.Sprintf("job_executing id=%d maker=%s taker=%s", id, job.MakerRef.Hex(), job.TakerRef.Hex()))
	s.log.Infow("match_submitted", "computation_id", id, "cluster", job.ClusterID,
		"maker", job.MakerRef.Hex(), "taker", job.TakerRef.Hex())
	return id, nil
}

// enqueue runs the checks and persists the job as Queued.
func (s *Service) enqueue(ctx context.Context, req SubmitRequest) (*MatchJob, *ComputationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := req.ComputationID
	if id == 0 {
		next, err := s.nextFreeID(ctx)
		if err != nil {
			return nil, nil, opErr("submit_match", "", err)
		}
		id = next
	} else if _, err := s.store.GetJob(ctx, id); err == nil {
		return nil, nil, opErr("submit_match", jobRef(id), ErrDuplicateComputation)
	} else if !errors.Is(err, ErrUnknownComputation) {
		return nil, nil, opErr("submit_match", jobRef(id), err)
	}

	if req.MakerRef == req.TakerRef {
		return nil, nil, opErr("submit_match", req.MakerRef.Hex(), ErrSelfMatch)
	}
	maker, err := s.activeOrder(ctx, req.MakerRef)
	if err != nil {
		return nil, nil, err
	}
	taker, err := s.activeOrder(ctx, req.TakerRef)
	if err != nil {
		return nil, nil, err
	}

	job := &MatchJob{
		ComputationID: id,
		ClusterID:     s.opts.ClusterID,
		MakerRef:      maker.Ref,
		TakerRef:      taker.Ref,
		ResultKey:     req.ResultKey,
		Nonce:         req.Nonce,
		State:         JobQueued,
		SubmittedAt:   s.now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, nil, opErr("submit_match", jobRef(id), err)
	}
	if s.opts.ExclusiveReservation {
		s.reserved[maker.Ref] = id
		s.reserved[taker.Ref] = id
	}

	creq := &ComputationRequest{
		ComputationID: id,
		ClusterID:     job.ClusterID,
		ResultKey:     req.ResultKey,
		Nonce:         req.Nonce,
		Maker:         OrderInput{Shards: maker.Shards, Envelope: maker.Envelope},
		Taker:         OrderInput{Shards: taker.Shards, Envelope: taker.Envelope},
	}
	return job, creq, nil
}

func (s *Service) activeOrder(ctx context.Context, ref OrderRef) (*EncryptedOrder, error) {
	o, err := s.store.GetOrder(ctx, ref)
	if err != nil {
		return nil, opErr("submit_match", ref.Hex(), err)
	}
	if !o.IsActive {
		return nil, opErr("submit_match", ref.Hex(), ErrInactiveOrder)
	}
	if s.opts.ExclusiveReservation {
		if holder, ok := s.reserved[ref]; ok {
			return nil, opErr("submit_match", ref.Hex(), fmt.Errorf("%w: job %d", ErrOrderReserved, holder))
		}
	}
	return o, nil
}

// nextFreeID skips ids a caller already chose explicitly.
func (s *Service) nextFreeID(ctx context.Context) (uint64, error) {
	for {
		id, err := s.store.NextComputationID(ctx)
		if err != nil {
			return 0, err
		}
		_, err = s.store.GetJob(ctx, id)
		if errors.Is(err, ErrUnknownComputation) {
			return id, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

func (s *Service) GetJob(ctx context.Context, id uint64) (*MatchJob, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, opErr("get_job", jobRef(id), err)
	}
	return j, nil
}

// PendingJobs lists jobs that have not reached a terminal state.
func (s *Service) PendingJobs(ctx context.Context) ([]*MatchJob, error) {
	return s.store.JobsByState(ctx, JobQueued, JobExecuting)
}

// ExpireStale aborts jobs still pending after timeout and emits a failed
// match event for each, so no job is left running forever. It returns the
// number of jobs aborted.
func (s *Service) ExpireStale(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	pending, err := s.store.JobsByState(ctx, JobQueued, JobExecuting)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	now := s.now()
	var events []MatchEvent
	for _, job := range pending {
		if now.Sub(job.SubmittedAt) < timeout {
			continue
		}
		if err := s.finish(ctx, job, JobAborted, "timed out"); err != nil {
			s.log.Errorw("job_expire_failed", "computation_id", job.ComputationID, "err", err)
			continue
		}
		s.opts.Audit.Append(fmt.Sprintf("job_aborted id=%d reason=timeout", job.ComputationID))
		s.log.Warnw("job_expired", "computation_id", job.ComputationID, "age", now.Sub(job.SubmittedAt).String())
		events = append(events, newMatchEvent(job, false, now))
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.emit(ctx, ev)
	}
	return len(events), nil
}
