package darkpool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/arcdark/pkg/util"
)

type Options struct {
	// ClusterID is the cluster new jobs are sent to.
	ClusterID    string
	Deactivation DeactivationPolicy
	// ExclusiveReservation makes the active check and the submission atomic:
	// an order referenced by a non-terminal job cannot enter another one.
	// Without it two concurrent submissions against the same active order
	// can both be accepted.
	ExclusiveReservation bool

	Clock   util.Clock
	Audit   AuditLog
	Metrics Metrics
}

// Service is the single authority over orders and jobs. Store mutations go
// through it so state transitions are serialized.
type Service struct {
	mu       sync.Mutex
	store    Store
	cluster  Cluster
	registry ClusterRegistry
	sink     EventSink
	log      *zap.SugaredLogger
	opts     Options

	// reserved maps an order to the non-terminal job holding it.
	reserved map[OrderRef]uint64
}

func NewService(store Store, cluster Cluster, registry ClusterRegistry, sink EventSink, log *zap.SugaredLogger, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Audit == nil {
		opts.Audit = nopAudit{}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Deactivation == "" {
		opts.Deactivation = DeactivateOnCompleted
	}
	if sink == nil {
		sink = MultiSink{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		store:    store,
		cluster:  cluster,
		registry: registry,
		sink:     sink,
		log:      log,
		opts:     opts,
		reserved: make(map[OrderRef]uint64),
	}
}

// Recover rebuilds in-memory reservations from jobs that were still running
// when the node stopped. It returns how many such jobs exist.
func (s *Service) Recover(ctx context.Context) (int, error) {
	jobs, err := s.store.JobsByState(ctx, JobQueued, JobExecuting)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.ExclusiveReservation {
		for _, j := range jobs {
			s.reserved[j.MakerRef] = j.ComputationID
			s.reserved[j.TakerRef] = j.ComputationID
		}
	}
	s.log.Infow("jobs_recovered", "pending", len(jobs))
	return len(jobs), nil
}

func (s *Service) now() time.Time { return s.opts.Clock.Now() }

func (s *Service) release(job *MatchJob) {
	for _, ref := range [2]OrderRef{job.MakerRef, job.TakerRef} {
		if s.reserved[ref] == job.ComputationID {
			delete(s.reserved, ref)
		}
	}
}

// finish moves job to a terminal state and persists it. Must hold s.mu.
func (s *Service) finish(ctx context.Context, job *MatchJob, state JobState, reason string) error {
	if !CanTransition(job.State, state) {
		return opErr("finish", jobRef(job.ComputationID), ErrDuplicateCallback)
	}
	job.State = state
	job.Reason = reason
	job.FinishedAt = s.now()
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	s.release(job)
	s.opts.Metrics.JobFinished(state, job.FinishedAt.Sub(job.SubmittedAt).Seconds())
	return nil
}

func (s *Service) emit(ctx context.Context, ev MatchEvent) {
	if err := s.sink.Emit(ctx, ev); err != nil {
		s.log.Warnw("event_emit_failed", "computation_id", ev.ComputationID, "err", err)
	}
}
