package darkpool

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	dpcrypto "github.com/uhyunpark/arcdark/pkg/crypto"
)

// ResultMessage is the digest every cluster node signs for a result.
func ResultMessage(clusterID string, id uint64, failed bool, payload []byte) []byte {
	var idb [8]byte
	binary.LittleEndian.PutUint64(idb[:], id)
	flag := []byte{0}
	if failed {
		flag[0] = 1
	}
	return crypto.Keccak256([]byte("arcdark/result"), []byte(clusterID), idb[:], flag, payload)
}

// OnResult handles a cluster callback.
//
// Unknown and already finished jobs are rejected without any change. A result
// that fails verification, or that reports a cluster failure, aborts the job
// and emits a failed event. A verified result completes the job, applies the
// deactivation policy and emits the public outcome.
func (s *Service) OnResult(ctx context.Context, res SignedResult) (Verdict, error) {
	v, ev, err := s.applyResult(ctx, res)
	s.opts.Metrics.Callback(v)
	if ev != nil {
		s.emit(ctx, *ev)
	}
	return v, err
}

func (s *Service) applyResult(ctx context.Context, res SignedResult) (Verdict, *MatchEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := res.ComputationID
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUnknownComputation) {
			s.log.Warnw("callback_rejected", "computation_id", id, "reason", "unknown")
		}
		return Rejected, nil, opErr("on_result", jobRef(id), err)
	}
	if job.State.Terminal() {
		s.log.Infow("callback_duplicate", "computation_id", id, "state", job.State.String())
		return Rejected, nil, opErr("on_result", jobRef(id), ErrDuplicateCallback)
	}

	var executed bool
	proof, verr := s.verifyResult(job, res)
	if verr == nil {
		if res.Failed {
			verr = errors.New("cluster reported failure")
		} else {
			p, perr := DecodePayload(res.Payload)
			if perr != nil {
				verr = perr
			}
			executed = p.Executed
		}
	}
	if verr != nil {
		if err := s.finish(ctx, job, JobAborted, verr.Error()); err != nil {
			return Rejected, nil, opErr("on_result", jobRef(id), err)
		}
		if s.opts.Deactivation.deactivatesOnAbort() {
			s.deactivatePair(ctx, job)
		}
		s.opts.Audit.Append(fmt.Sprintf("job_aborted id=%d reason=%q", id, verr.Error()))
		s.log.Warnw("callback_rejected", "computation_id", id, "reason", verr.Error())
		ev := newMatchEvent(job, false, job.FinishedAt)
		return Rejected, &ev, opErr("on_result", jobRef(id), fmt.Errorf("%w: %v", ErrAbortedComputation, verr))
	}

	job.Executed = executed
	job.Payload = append([]byte(nil), res.Payload...)
	job.Proof = proof
	if err := s.finish(ctx, job, JobCompleted, ""); err != nil {
		return Rejected, nil, opErr("on_result", jobRef(id), err)
	}
	if s.opts.Deactivation.deactivates(executed) {
		s.deactivatePair(ctx, job)
	}
	s.opts.Audit.Append(fmt.Sprintf("job_completed id=%d executed=%t", id, executed))
	s.log.Infow("callback_applied", "computation_id", id, "executed", executed)
	ev := newMatchEvent(job, executed, job.FinishedAt)
	return Applied, &ev, nil
}

func (s *Service) deactivatePair(ctx context.Context, job *MatchJob) {
	for _, ref := range [2]OrderRef{job.MakerRef, job.TakerRef} {
		if _, err := s.deactivateLocked(ctx, ref); err != nil {
			s.log.Errorw("order_deactivate_failed", "computation_id", job.ComputationID, "ref", ref.Hex(), "err", err)
		}
	}
}

// verifyResult checks the result against the current key material of the
// cluster the job was sent to and returns the aggregate of the valid shares.
func (s *Service) verifyResult(job *MatchJob, res SignedResult) ([]byte, error) {
	if res.ClusterID != job.ClusterID {
		return nil, fmt.Errorf("result from cluster %q, job sent to %q", res.ClusterID, job.ClusterID)
	}
	keys, err := s.registry.ClusterKeys(job.ClusterID)
	if err != nil {
		return nil, err
	}
	msg := ResultMessage(res.ClusterID, res.ComputationID, res.Failed, res.Payload)
	valid, err := dpcrypto.VerifyQuorum(keys.Nodes, keys.Threshold, msg, res.Shares)
	if err != nil {
		return nil, err
	}
	sigs := make([][]byte, len(valid))
	for i, sh := range valid {
		sigs[i] = sh.Sig
	}
	return dpcrypto.Aggregate(sigs), nil
}
