// Package darkpool tracks encrypted orders and the matching jobs run against
// them on an external confidential-compute cluster.
//
// Orders are opaque ciphertext to this package. A match is submitted to the
// cluster, the job moves Queued -> Executing, and the signed result later
// arrives through OnResult, which verifies it and moves the job to Completed
// or Aborted.
package darkpool

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/arcdark/pkg/crypto"
)

const (
	ShardCount = 4
	ShardSize  = crypto.BlockSize
)

// OrderRef identifies an order: keccak256("order" || owner || salt).
type OrderRef [32]byte

func (r OrderRef) Hex() string    { return "0x" + hex.EncodeToString(r[:]) }
func (r OrderRef) String() string { return r.Hex() }
func (r OrderRef) IsZero() bool   { return r == OrderRef{} }

func (r OrderRef) MarshalText() ([]byte, error) { return []byte(r.Hex()), nil }

func (r *OrderRef) UnmarshalText(b []byte) error {
	parsed, err := ParseOrderRef(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func ParseOrderRef(s string) (OrderRef, error) {
	var ref OrderRef
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return ref, fmt.Errorf("order ref: %w", err)
	}
	if len(b) != len(ref) {
		return ref, fmt.Errorf("order ref: want %d bytes, got %d", len(ref), len(b))
	}
	copy(ref[:], b)
	return ref, nil
}

// Shard is one fixed-width ciphertext block.
type Shard [ShardSize]byte

// Envelope is what the cluster needs to open an order's shards: the owner's
// one-time x25519 public key and the sealing nonce.
type Envelope struct {
	EncryptionKey [32]byte
	Nonce         [crypto.NonceSize]byte
}

// EncryptedOrder is the persisted order record. Shards encode, in order,
// price, volume, side and minExecQty. Only IsActive ever changes.
type EncryptedOrder struct {
	Ref       OrderRef
	Owner     common.Address
	Shards    [ShardCount]Shard
	Envelope  Envelope
	IsActive  bool
	CreatedAt time.Time
}

type JobState uint8

const (
	JobQueued JobState = iota + 1
	JobExecuting
	JobCompleted
	JobAborted
)

func (s JobState) String() string {
	switch s {
	case JobQueued:
		return "queued"
	case JobExecuting:
		return "executing"
	case JobCompleted:
		return "completed"
	case JobAborted:
		return "aborted"
	default:
		return fmt.Sprintf("JobState(%d)", uint8(s))
	}
}

func (s JobState) Terminal() bool { return s == JobCompleted || s == JobAborted }

// CanTransition reports whether from -> to is an edge of the job lifecycle.
// A result may overtake the Executing transition, so Queued can finish directly.
func CanTransition(from, to JobState) bool {
	switch from {
	case JobQueued:
		return to == JobExecuting || to == JobCompleted || to == JobAborted
	case JobExecuting:
		return to == JobCompleted || to == JobAborted
	default:
		return false
	}
}

// MatchJob is one submission of a maker/taker pair to the cluster.
type MatchJob struct {
	ComputationID uint64
	ClusterID     string
	MakerRef      OrderRef
	TakerRef      OrderRef
	ResultKey     [32]byte
	Nonce         [crypto.NonceSize]byte
	State         JobState
	SubmittedAt   time.Time
	FinishedAt    time.Time

	// Executed is the public outcome flag, meaningful once Completed.
	Executed bool
	// Payload is the verified result payload, still sealed to ResultKey.
	Payload []byte
	// Proof is the aggregate of the shares that verified.
	Proof  []byte
	Reason string
}

// SubmitRequest asks for a match between two resting orders. A zero
// ComputationID lets the store pick one.
type SubmitRequest struct {
	ComputationID uint64
	MakerRef      OrderRef
	TakerRef      OrderRef
	ResultKey     [32]byte
	Nonce         [crypto.NonceSize]byte
}

// OrderInput is one order as handed to the cluster.
type OrderInput struct {
	Shards   [ShardCount]Shard
	Envelope Envelope
}

// ComputationRequest is the job sent to the cluster. Arguments are in fixed
// order: result key, nonce, maker shards, taker shards.
type ComputationRequest struct {
	ComputationID uint64
	ClusterID     string
	ResultKey     [32]byte
	Nonce         [crypto.NonceSize]byte
	Maker         OrderInput
	Taker         OrderInput
}

// Args flattens the request into its positional argument list.
func (r *ComputationRequest) Args() [][]byte {
	args := make([][]byte, 0, 2+2*ShardCount)
	args = append(args, r.ResultKey[:], r.Nonce[:])
	for i := range r.Maker.Shards {
		args = append(args, r.Maker.Shards[i][:])
	}
	for i := range r.Taker.Shards {
		args = append(args, r.Taker.Shards[i][:])
	}
	return args
}

// SignedResult is a cluster callback. Failed is set when the cluster itself
// could not complete the computation.
type SignedResult struct {
	ComputationID uint64
	ClusterID     string
	Payload       []byte
	Failed        bool
	Shares        []crypto.SignatureShare
}

type Verdict uint8

const (
	Rejected Verdict = iota
	Applied
)

func (v Verdict) String() string {
	if v == Applied {
		return "applied"
	}
	return "rejected"
}

// MatchEvent is the only public artifact of a finished job. It never carries
// price or volume.
type MatchEvent struct {
	ComputationID uint64    `json:"computation_id"`
	Maker         OrderRef  `json:"maker_order"`
	Taker         OrderRef  `json:"taker_order"`
	Success       bool      `json:"success"`
	Timestamp     time.Time `json:"timestamp"`
}

func newMatchEvent(job *MatchJob, success bool, at time.Time) MatchEvent {
	return MatchEvent{
		ComputationID: job.ComputationID,
		Maker:         job.MakerRef,
		Taker:         job.TakerRef,
		Success:       success,
		Timestamp:     at,
	}
}

// ClusterKeys is a cluster's current key material.
type ClusterKeys struct {
	Threshold     int
	Nodes         map[uint16]*crypto.BLSPubKey
	EncryptionKey [32]byte
}
