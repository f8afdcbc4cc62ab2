package storage

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
)

// Key schema:
//
//	o:<ref>                      -> EncryptedOrder
//	w:<owner><created-ns><ref>   -> ref (owner index, creation order)
//	j:<id>                       -> MatchJob
//	s:<state><id>                -> nothing (job state index)
//	q:order, q:job               -> last issued sequence number
//
// Integers are big-endian so prefix scans come back in numeric order.
const (
	prefixOrder    = "o:"
	prefixOwner    = "w:"
	prefixJob      = "j:"
	prefixJobState = "s:"
)

var (
	keyOrderSeq = []byte("q:order")
	keyJobSeq   = []byte("q:job")
)

func join(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func orderKey(ref darkpool.OrderRef) []byte {
	return join([]byte(prefixOrder), ref[:])
}

func ownerPrefix(owner common.Address) []byte {
	return join([]byte(prefixOwner), owner.Bytes())
}

func ownerKey(o *darkpool.EncryptedOrder) []byte {
	return join(ownerPrefix(o.Owner), u64Key(uint64(o.CreatedAt.UnixNano())), o.Ref[:])
}

func jobKey(id uint64) []byte {
	return join([]byte(prefixJob), u64Key(id))
}

func jobStatePrefix(s darkpool.JobState) []byte {
	return []byte{prefixJobState[0], prefixJobState[1], byte(s)}
}

func jobStateKey(s darkpool.JobState, id uint64) []byte {
	return join(jobStatePrefix(s), u64Key(id))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil
}
