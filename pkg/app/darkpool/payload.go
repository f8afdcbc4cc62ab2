package darkpool

import (
	"encoding/binary"
	"fmt"

	"github.com/uhyunpark/arcdark/pkg/app/circuit"
	"github.com/uhyunpark/arcdark/pkg/crypto"
)

// PayloadSize is the result layout: an 8-byte little-endian isExecuted flag,
// then execPrice and execVolume each sealed to the job's result key.
const PayloadSize = 8 + 2*ShardSize

// ResultPayload is a decoded result. Only Executed is readable without the
// result key's private half.
type ResultPayload struct {
	Executed bool
	Price    Shard
	Volume   Shard
}

func (p ResultPayload) Encode() []byte {
	out := make([]byte, PayloadSize)
	if p.Executed {
		binary.LittleEndian.PutUint64(out[:8], 1)
	}
	copy(out[8:8+ShardSize], p.Price[:])
	copy(out[8+ShardSize:], p.Volume[:])
	return out
}

func DecodePayload(b []byte) (ResultPayload, error) {
	var p ResultPayload
	if len(b) != PayloadSize {
		return p, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidPayload, len(b), PayloadSize)
	}
	switch binary.LittleEndian.Uint64(b[:8]) {
	case 0:
	case 1:
		p.Executed = true
	default:
		return p, fmt.Errorf("%w: flag is not 0 or 1", ErrInvalidPayload)
	}
	copy(p.Price[:], b[8:8+ShardSize])
	copy(p.Volume[:], b[8+ShardSize:])
	return p, nil
}

// SealResult builds the payload for r. clusterPriv is the cluster's x25519
// secret; resultKey and nonce come from the job.
func SealResult(r circuit.TradeResult, clusterPriv, resultKey [32]byte, nonce [crypto.NonceSize]byte) ([]byte, error) {
	key, err := crypto.SharedKey(clusterPriv, resultKey, crypto.InfoResult)
	if err != nil {
		return nil, err
	}
	blocks, err := crypto.SealFields(key, nonce, 0, r.ExecPrice, r.ExecVolume)
	if err != nil {
		return nil, err
	}
	return ResultPayload{Executed: r.IsExecuted, Price: blocks[0], Volume: blocks[1]}.Encode(), nil
}

// OpenResult recovers the plaintext result with the private half of the
// job's result key.
func OpenResult(payload []byte, resultPriv, clusterKey [32]byte, nonce [crypto.NonceSize]byte) (circuit.TradeResult, error) {
	p, err := DecodePayload(payload)
	if err != nil {
		return circuit.TradeResult{}, err
	}
	key, err := crypto.SharedKey(resultPriv, clusterKey, crypto.InfoResult)
	if err != nil {
		return circuit.TradeResult{}, err
	}
	vals, err := crypto.OpenFields(key, nonce, 0, p.Price, p.Volume)
	if err != nil {
		return circuit.TradeResult{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	r := circuit.TradeResult{IsExecuted: p.Executed, ExecPrice: vals[0], ExecVolume: vals[1]}
	if !r.IsExecuted && (r.ExecPrice != 0 || r.ExecVolume != 0) {
		return circuit.TradeResult{}, fmt.Errorf("%w: non-zero fields on an unexecuted result", ErrInvalidPayload)
	}
	return r, nil
}

// SealOrder encrypts an order to the cluster key. ownerPriv is a one-time
// x25519 secret whose public half goes in the envelope.
func SealOrder(o circuit.OrderData, ownerPriv, clusterKey [32]byte, nonce [crypto.NonceSize]byte) ([ShardCount]Shard, error) {
	var shards [ShardCount]Shard
	key, err := crypto.SharedKey(ownerPriv, clusterKey, crypto.InfoOrder)
	if err != nil {
		return shards, err
	}
	f := o.Fields()
	blocks, err := crypto.SealFields(key, nonce, 0, f[:]...)
	if err != nil {
		return shards, err
	}
	for i := range shards {
		shards[i] = blocks[i]
	}
	return shards, nil
}

// OpenOrder is the cluster side of SealOrder.
func OpenOrder(in OrderInput, clusterPriv [32]byte) (circuit.OrderData, error) {
	key, err := crypto.SharedKey(clusterPriv, in.Envelope.EncryptionKey, crypto.InfoOrder)
	if err != nil {
		return circuit.OrderData{}, err
	}
	vals, err := crypto.OpenFields(key, in.Envelope.Nonce, 0, in.Shards[0], in.Shards[1], in.Shards[2], in.Shards[3])
	if err != nil {
		return circuit.OrderData{}, err
	}
	return circuit.OrderDataFromFields([4]uint64{vals[0], vals[1], vals[2], vals[3]}), nil
}
