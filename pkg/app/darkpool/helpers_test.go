package darkpool_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/arcdark/pkg/app/circuit"
	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
	"github.com/uhyunpark/arcdark/pkg/cluster"
	"github.com/uhyunpark/arcdark/pkg/crypto"
	"github.com/uhyunpark/arcdark/pkg/storage"
	"github.com/uhyunpark/arcdark/pkg/util"
)

const testCluster = "mxe-test"

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type fakeCluster struct {
	mu   sync.Mutex
	reqs map[uint64]*darkpool.ComputationRequest
	err  error
	// onSubmit runs inside Submit, before it returns.
	onSubmit func(req *darkpool.ComputationRequest)
}

func (f *fakeCluster) Submit(_ context.Context, req *darkpool.ComputationRequest) error {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return f.err
	}
	f.reqs[req.ComputationID] = req
	hook := f.onSubmit
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return nil
}

func (f *fakeCluster) request(id uint64) *darkpool.ComputationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[id]
}

func (f *fakeCluster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type harness struct {
	svc      *darkpool.Service
	store    *storage.InMemoryStore
	cluster  *fakeCluster
	sink     *darkpool.MemorySink
	registry *darkpool.StaticRegistry
	nodes    []*cluster.Node
	keys     darkpool.ClusterKeys
	clock    *util.ManualClock

	mu      sync.Mutex
	results map[uint64]crypto.KeyPair
}

func newHarness(t *testing.T, opts darkpool.Options) *harness {
	t.Helper()
	nodes, keys, err := cluster.Devnet("test-seed", testCluster, 4, 3)
	require.NoError(t, err)
	reg := darkpool.NewStaticRegistry()
	require.NoError(t, reg.Register(testCluster, keys))

	h := &harness{
		store:    storage.NewInMemoryStore(),
		cluster:  &fakeCluster{reqs: make(map[uint64]*darkpool.ComputationRequest)},
		sink:     &darkpool.MemorySink{},
		registry: reg,
		nodes:    nodes,
		keys:     keys,
		clock:    util.NewManualClock(time.Unix(1_700_000_000, 0).UTC()),
		results:  make(map[uint64]crypto.KeyPair),
	}
	opts.ClusterID = testCluster
	opts.Clock = h.clock
	h.svc = darkpool.NewService(h.store, h.cluster, reg, h.sink, nil, opts)
	return h
}

// place seals o to the cluster key the way a client would.
func (h *harness) place(t *testing.T, owner common.Address, o circuit.OrderData) darkpool.OrderRef {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	nonce, err := crypto.GenerateNonce()
	require.NoError(t, err)
	shards, err := darkpool.SealOrder(o, kp.Private, h.keys.EncryptionKey, nonce)
	require.NoError(t, err)

	raw := make([][]byte, len(shards))
	for i := range shards {
		raw[i] = shards[i][:]
	}
	ref, err := h.svc.PlaceOrder(context.Background(), owner, raw, darkpool.Envelope{EncryptionKey: kp.Public, Nonce: nonce})
	require.NoError(t, err)
	return ref
}

func (h *harness) submit(t *testing.T, id uint64, maker, taker darkpool.OrderRef) uint64 {
	t.Helper()
	got, err := h.trySubmit(id, maker, taker)
	require.NoError(t, err)
	return got
}

func (h *harness) trySubmit(id uint64, maker, taker darkpool.OrderRef) (uint64, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return 0, err
	}
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return 0, err
	}
	got, err := h.svc.SubmitMatch(context.Background(), darkpool.SubmitRequest{
		ComputationID: id,
		MakerRef:      maker,
		TakerRef:      taker,
		ResultKey:     kp.Public,
		Nonce:         nonce,
	})
	if got != 0 {
		h.mu.Lock()
		h.results[got] = kp
		h.mu.Unlock()
	}
	return got, err
}

// evaluate runs the submitted job on every node and returns the quorum result.
func (h *harness) evaluate(t *testing.T, id uint64) darkpool.SignedResult {
	t.Helper()
	req := h.cluster.request(id)
	require.NotNil(t, req, "job %d never reached the cluster", id)
	return evaluateOn(t, h.nodes, h.keys, req)
}

func evaluateOn(t *testing.T, nodes []*cluster.Node, keys darkpool.ClusterKeys, req *darkpool.ComputationRequest) darkpool.SignedResult {
	t.Helper()
	col := cluster.NewCollector(req.ClusterID, keys)
	for _, n := range nodes {
		if res, ok := col.Add(n.Evaluate(req)); ok {
			return res
		}
	}
	t.Fatalf("no quorum for job %d", req.ComputationID)
	return darkpool.SignedResult{}
}

func (h *harness) resultKey(id uint64) crypto.KeyPair {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.results[id]
}

func (h *harness) job(t *testing.T, id uint64) *darkpool.MatchJob {
	t.Helper()
	j, err := h.svc.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}

func (h *harness) active(t *testing.T, ref darkpool.OrderRef) bool {
	t.Helper()
	o, err := h.svc.GetOrder(context.Background(), ref)
	require.NoError(t, err)
	return o.IsActive
}

var (
	buy100  = circuit.OrderData{Price: 100, Volume: 50, Side: circuit.SideBuy, MinExecQty: 10}
	sell90  = circuit.OrderData{Price: 90, Volume: 30, Side: circuit.SideSell, MinExecQty: 10}
	buy80   = circuit.OrderData{Price: 80, Volume: 30, Side: circuit.SideBuy, MinExecQty: 1}
	errDown = errors.New("cluster unavailable")
)
