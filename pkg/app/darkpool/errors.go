package darkpool

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidShardCount    = errors.New("order must carry exactly 4 shards of 32 bytes")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInactiveOrder        = errors.New("order is not active")
	ErrSelfMatch            = errors.New("maker and taker are the same order")
	ErrOrderReserved        = errors.New("order is reserved by a running job")
	ErrDuplicateComputation = errors.New("computation id already used")
	ErrClusterRejected      = errors.New("cluster rejected the job")
	ErrUnknownComputation   = errors.New("unknown computation")
	ErrDuplicateCallback    = errors.New("computation already finished")
	ErrAbortedComputation   = errors.New("computation aborted")
	ErrInvalidPayload       = errors.New("invalid result payload")
	ErrUnknownCluster       = errors.New("unknown cluster")
)

// OpError records the operation and order or job a failure belongs to.
type OpError struct {
	Op  string
	Ref string
	Err error
}

func (e *OpError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op, ref string, err error) error {
	return &OpError{Op: op, Ref: ref, Err: err}
}
