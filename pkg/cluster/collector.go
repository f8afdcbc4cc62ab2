package cluster

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
	dpcrypto "github.com/uhyunpark/arcdark/pkg/crypto"
)

// defaultDoneLimit bounds how many finished computation ids are remembered.
const defaultDoneLimit = 1 << 14

// Collector gathers shares per computation, grouped by what was signed, and
// yields one SignedResult as soon as threshold distinct nodes agree. A share
// only counts when its node is known and its signature verifies. Shares
// arriving after a result fired are ignored.
type Collector struct {
	mu        sync.Mutex
	clusterID string
	threshold int
	nodes     map[uint16]*dpcrypto.BLSPubKey
	pending   map[uint64]map[common.Hash][]Share

	done      map[uint64]struct{}
	doneOrder []uint64 // oldest first
	doneLimit int
}

func NewCollector(clusterID string, keys darkpool.ClusterKeys) *Collector {
	return &Collector{
		clusterID: clusterID,
		threshold: keys.Threshold,
		nodes:     keys.Nodes,
		pending:   make(map[uint64]map[common.Hash][]Share),
		done:      make(map[uint64]struct{}),
		doneLimit: defaultDoneLimit,
	}
}

func shareDigest(s Share) common.Hash {
	flag := []byte{0}
	if s.Failed {
		flag[0] = 1
	}
	return crypto.Keccak256Hash(flag, s.Payload)
}

func (c *Collector) valid(s Share) bool {
	pk, ok := c.nodes[s.Node]
	if !ok || len(s.Sig) == 0 {
		return false
	}
	return dpcrypto.Verify(pk, s.Sig, darkpool.ResultMessage(s.ClusterID, s.ComputationID, s.Failed, s.Payload))
}

// Add records s and reports the combined result when s completes a quorum.
func (c *Collector) Add(s Share) (darkpool.SignedResult, bool) {
	if s.ClusterID != c.clusterID || !c.valid(s) {
		return darkpool.SignedResult{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, fired := c.done[s.ComputationID]; fired {
		return darkpool.SignedResult{}, false
	}
	groups := c.pending[s.ComputationID]
	if groups == nil {
		groups = make(map[common.Hash][]Share)
		c.pending[s.ComputationID] = groups
	}
	d := shareDigest(s)
	for _, prev := range groups[d] {
		if prev.Node == s.Node {
			return darkpool.SignedResult{}, false
		}
	}
	groups[d] = append(groups[d], s)
	if len(groups[d]) < c.threshold {
		return darkpool.SignedResult{}, false
	}

	agreed := groups[d]
	res := darkpool.SignedResult{
		ComputationID: s.ComputationID,
		ClusterID:     c.clusterID,
		Payload:       s.Payload,
		Failed:        s.Failed,
		Shares:        make([]dpcrypto.SignatureShare, len(agreed)),
	}
	for i, sh := range agreed {
		res.Shares[i] = dpcrypto.SignatureShare{Node: sh.Node, Sig: sh.Sig}
	}
	delete(c.pending, s.ComputationID)
	c.markDone(s.ComputationID)
	return res, true
}

// markDone remembers id and forgets the oldest ids past the limit.
func (c *Collector) markDone(id uint64) {
	c.done[id] = struct{}{}
	c.doneOrder = append(c.doneOrder, id)
	for len(c.doneOrder) > c.doneLimit {
		delete(c.done, c.doneOrder[0])
		c.doneOrder = c.doneOrder[1:]
	}
}

// Drop forgets a computation that will not reach quorum.
func (c *Collector) Drop(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
