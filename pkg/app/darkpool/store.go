package darkpool

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStore persists order records. Implementations must return
// ErrOrderNotFound for missing orders and must never rewrite shards.
type OrderStore interface {
	NextOrderSeq(ctx context.Context) (uint64, error)
	InsertOrder(ctx context.Context, o *EncryptedOrder) error
	GetOrder(ctx context.Context, ref OrderRef) (*EncryptedOrder, error)
	SetOrderActive(ctx context.Context, ref OrderRef, active bool) error
	OrdersByOwner(ctx context.Context, owner common.Address) ([]*EncryptedOrder, error)
}

// JobStore persists match jobs. CreateJob fails with ErrDuplicateComputation
// if the id was ever used; GetJob returns ErrUnknownComputation when missing.
type JobStore interface {
	NextComputationID(ctx context.Context) (uint64, error)
	CreateJob(ctx context.Context, j *MatchJob) error
	GetJob(ctx context.Context, id uint64) (*MatchJob, error)
	UpdateJob(ctx context.Context, j *MatchJob) error
	JobsByState(ctx context.Context, states ...JobState) ([]*MatchJob, error)
}

type Store interface {
	OrderStore
	JobStore
}

// Cluster accepts jobs. Submit must not wait for the computation; the result
// comes back later through a ResultHandler.
type Cluster interface {
	Submit(ctx context.Context, req *ComputationRequest) error
}

type ResultHandler interface {
	OnResult(ctx context.Context, res SignedResult) (Verdict, error)
}

type ClusterRegistry interface {
	ClusterKeys(clusterID string) (ClusterKeys, error)
}

type EventSink interface {
	Emit(ctx context.Context, ev MatchEvent) error
}

// AuditLog receives one line per state change.
type AuditLog interface {
	Append(line string)
}

// Metrics is notified of order and job activity.
type Metrics interface {
	OrderPlaced()
	OrderDeactivated()
	JobSubmitted()
	JobFinished(state JobState, elapsedSeconds float64)
	Callback(v Verdict)
}

type nopAudit struct{}

func (nopAudit) Append(string) {}

type nopMetrics struct{}

func (nopMetrics) OrderPlaced()                  {}
func (nopMetrics) OrderDeactivated()             {}
func (nopMetrics) JobSubmitted()                 {}
func (nopMetrics) JobFinished(JobState, float64) {}
func (nopMetrics) Callback(Verdict)              {}
