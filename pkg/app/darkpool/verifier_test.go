package darkpool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/arcdark/pkg/app/circuit"
	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
	"github.com/uhyunpark/arcdark/pkg/cluster"
	"github.com/uhyunpark/arcdark/pkg/crypto"
)

func TestOnResultAppliesExecutedTrade(t *testing.T) {
	h := newHarness(t, darkpool.Options{})
	ctx := context.Background()
	maker := h.place(t, alice, buy100)
	taker := h.place(t, bob, sell90)
	id := h.submit(t, 0, maker, taker)

	res := h.evaluate(t, id)
	v, err := h.svc.OnResult(ctx, res)
	require.NoError(t, err)
	require.Equal(t, darkpool.Applied, v)

	job := h.job(t, id)
	require.Equal(t, darkpool.JobCompleted, job.State)
	require.True(t, job.Executed)
	require.NotEmpty(t, job.Proof)
	require.False(t, h.active(t, maker))
	require.False(t, h.active(t, taker))

	events := h.sink.Events()
	require.Len(t, events, 1)
	require.Equal(t, darkpool.MatchEvent{
		ComputationID: id,
		Maker:         maker,
		Taker:         taker,
		Success:       true,
		Timestamp:     h.clock.Now(),
	}, events[0])

	// only the holder of the result key can read price and volume
	kp := h.resultKey(id)
	trade, err := darkpool.OpenResult(job.Payload, kp.Private, h.keys.EncryptionKey, job.Nonce)
	require.NoError(t, err)
	require.Equal(t, circuit.TradeResult{IsExecuted: true, ExecPrice: 95, ExecVolume: 30}, trade)

	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, err = darkpool.OpenResult(job.Payload, other.Private, h.keys.EncryptionKey, job.Nonce)
	require.ErrorIs(t, err, darkpool.ErrInvalidPayload)
}

func TestOnResultNotExecuted(t *testing.T) {
	h := newHarness(t, darkpool.Options{})
	maker := h.place(t, alice, buy80)
	taker := h.place(t, bob, sell90)
	id := h.submit(t, 0, maker, taker)

	v, err := h.svc.OnResult(context.Background(), h.evaluate(t, id))
	require.NoError(t, err)
	require.Equal(t, darkpool.Applied, v)

	job := h.job(t, id)
	require.False(t, job.Executed)
	trade, err := darkpool.OpenResult(job.Payload, h.resultKey(id).Private, h.keys.EncryptionKey, job.Nonce)
	require.NoError(t, err)
	require.Equal(t, circuit.TradeResult{}, trade)

	events := h.sink.Events()
	require.Len(t, events, 1)
	require.False(t, events[0].Success)
}

func TestOnResultDuplicateIsNoop(t *testing.T) {
	h := newHarness(t, darkpool.Options{Deactivation: darkpool.DeactivateNever})
	ctx := context.Background()
	maker := h.place(t, alice, buy100)
	taker := h.place(t, bob, sell90)
	id := h.submit(t, 0, maker, taker)
	res := h.evaluate(t, id)

	v, err := h.svc.OnResult(ctx, res)
	require.NoError(t, err)
	require.Equal(t, darkpool.Applied, v)
	first := h.job(t, id)

	v, err = h.svc.OnResult(ctx, res)
	require.ErrorIs(t, err, darkpool.ErrDuplicateCallback)
	require.Equal(t, darkpool.Rejected, v)
	require.Len(t, h.sink.Events(), 1)
	require.Equal(t, first, h.job(t, id))
}

func TestOnResultUnknownComputation(t *testing.T) {
	h := newHarness(t, darkpool.Options{})
	v, err := h.svc.OnResult(context.Background(), darkpool.SignedResult{ComputationID: 404, ClusterID: testCluster})
	require.ErrorIs(t, err, darkpool.ErrUnknownComputation)
	require.Equal(t, darkpool.Rejected, v)
	require.Empty(t, h.sink.Events())
}

func TestOnResultVerificationFailures(t *testing.T) {
	cases := map[string]func(h *harness, res *darkpool.SignedResult){
		"tampered payload": func(_ *harness, res *darkpool.SignedResult) {
			res.Payload[0] ^= 1
		},
		"below threshold": func(_ *harness, res *darkpool.SignedResult) {
			res.Shares = res.Shares[:2]
		},
		"repeated share": func(_ *harness, res *darkpool.SignedResult) {
			res.Shares = []crypto.SignatureShare{res.Shares[0], res.Shares[0], res.Shares[0]}
		},
		"wrong cluster": func(_ *harness, res *darkpool.SignedResult) {
			res.ClusterID = "mxe-other"
		},
		"rotated keys": func(h *harness, _ *darkpool.SignedResult) {
			_, keys, err := cluster.Devnet("rotated-seed", testCluster, 4, 3)
			if err != nil {
				panic(err)
			}
			if err := h.registry.Rotate(testCluster, keys); err != nil {
				panic(err)
			}
		},
		"malformed payload": func(h *harness, res *darkpool.SignedResult) {
			// correctly signed by a quorum, but not a payload
			bad := []byte{2, 0, 0, 0, 0, 0, 0, 0}
			res.Payload = bad
			res.Shares = res.Shares[:0]
			for _, n := range h.nodes[:3] {
				res.Shares = append(res.Shares, signShare(n, res.ComputationID, bad))
			}
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, darkpool.Options{})
			maker := h.place(t, alice, buy100)
			taker := h.place(t, bob, sell90)
			id := h.submit(t, 0, maker, taker)

			res := h.evaluate(t, id)
			res.Payload = append([]byte(nil), res.Payload...)
			mutate(h, &res)

			v, err := h.svc.OnResult(context.Background(), res)
			require.ErrorIs(t, err, darkpool.ErrAbortedComputation)
			require.Equal(t, darkpool.Rejected, v)
			require.Equal(t, darkpool.JobAborted, h.job(t, id).State)
			require.True(t, h.active(t, maker), "orders are untouched on abort")
			require.True(t, h.active(t, taker))

			events := h.sink.Events()
			require.Len(t, events, 1)
			require.False(t, events[0].Success)
		})
	}
}

// signShare signs payload as node n without running the circuit.
func signShare(n *cluster.Node, id uint64, payload []byte) crypto.SignatureShare {
	s := n.SignResult(id, false, payload)
	return crypto.SignatureShare{Node: s.Node, Sig: s.Sig}
}

func TestOnResultClusterFailure(t *testing.T) {
	h := newHarness(t, darkpool.Options{})
	maker := h.place(t, alice, buy100)
	// shards that do not open under the cluster key
	junk := make([][]byte, darkpool.ShardCount)
	for i := range junk {
		junk[i] = make([]byte, darkpool.ShardSize)
	}
	taker, err := h.svc.PlaceOrder(context.Background(), bob, junk, darkpool.Envelope{})
	require.NoError(t, err)
	id := h.submit(t, 0, maker, taker)

	res := h.evaluate(t, id)
	require.True(t, res.Failed)

	v, err := h.svc.OnResult(context.Background(), res)
	require.ErrorIs(t, err, darkpool.ErrAbortedComputation)
	require.Equal(t, darkpool.Rejected, v)
	require.Equal(t, darkpool.JobAborted, h.job(t, id).State)
	require.True(t, h.active(t, maker))
	require.False(t, h.sink.Events()[0].Success)
}

func TestDeactivationPolicy(t *testing.T) {
	cases := []struct {
		policy   darkpool.DeactivationPolicy
		taker    circuit.OrderData
		inactive bool
	}{
		{darkpool.DeactivateOnCompleted, sell90, true},
		{darkpool.DeactivateOnCompleted, circuit.OrderData{Price: 120, Volume: 30, Side: circuit.SideSell}, true},
		{darkpool.DeactivateOnExecuted, sell90, true},
		{darkpool.DeactivateOnExecuted, circuit.OrderData{Price: 120, Volume: 30, Side: circuit.SideSell}, false},
		{darkpool.DeactivateOnAttempted, sell90, true},
		{darkpool.DeactivateOnAttempted, circuit.OrderData{Price: 120, Volume: 30, Side: circuit.SideSell}, true},
		{darkpool.DeactivateNever, sell90, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			h := newHarness(t, darkpool.Options{Deactivation: tc.policy})
			maker := h.place(t, alice, buy100)
			taker := h.place(t, bob, tc.taker)
			id := h.submit(t, 0, maker, taker)

			v, err := h.svc.OnResult(context.Background(), h.evaluate(t, id))
			require.NoError(t, err)
			require.Equal(t, darkpool.Applied, v)
			require.Equal(t, !tc.inactive, h.active(t, maker))
			require.Equal(t, !tc.inactive, h.active(t, taker))
		})
	}
}

func TestDeactivationOnAbortedCallback(t *testing.T) {
	cases := []struct {
		policy   darkpool.DeactivationPolicy
		forged   bool
		inactive bool
	}{
		{darkpool.DeactivateOnAttempted, false, true},
		{darkpool.DeactivateOnAttempted, true, true},
		{darkpool.DeactivateOnCompleted, false, false},
		{darkpool.DeactivateOnCompleted, true, false},
		{darkpool.DeactivateOnExecuted, true, false},
	}
	for _, tc := range cases {
		name := string(tc.policy) + "/reported_failure"
		if tc.forged {
			name = string(tc.policy) + "/forged"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, darkpool.Options{Deactivation: tc.policy})
			maker := h.place(t, alice, buy100)
			taker := h.place(t, bob, sell90)
			id := h.submit(t, 0, maker, taker)

			var res darkpool.SignedResult
			if tc.forged {
				res = h.evaluate(t, id)
				res.Shares = res.Shares[:1]
			} else {
				res = darkpool.SignedResult{ComputationID: id, ClusterID: testCluster, Failed: true}
				for _, n := range h.nodes[:3] {
					s := n.SignResult(id, true, nil)
					res.Shares = append(res.Shares, crypto.SignatureShare{Node: s.Node, Sig: s.Sig})
				}
			}

			_, err := h.svc.OnResult(context.Background(), res)
			require.ErrorIs(t, err, darkpool.ErrAbortedComputation)
			require.Equal(t, darkpool.JobAborted, h.job(t, id).State)
			require.Equal(t, !tc.inactive, h.active(t, maker))
			require.Equal(t, !tc.inactive, h.active(t, taker))
		})
	}
}

func TestTimeoutNeverDeactivates(t *testing.T) {
	h := newHarness(t, darkpool.Options{Deactivation: darkpool.DeactivateOnAttempted})
	maker := h.place(t, alice, buy100)
	taker := h.place(t, bob, sell90)
	h.submit(t, 0, maker, taker)

	h.clock.Advance(time.Minute)
	n, err := h.svc.ExpireStale(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, h.active(t, maker))
	require.True(t, h.active(t, taker))
}

func TestDeactivateDoesNotAbortRunningJob(t *testing.T) {
	h := newHarness(t, darkpool.Options{})
	ctx := context.Background()
	maker := h.place(t, alice, buy100)
	taker := h.place(t, bob, sell90)
	id := h.submit(t, 0, maker, taker)

	require.NoError(t, h.svc.Deactivate(ctx, maker))
	require.Equal(t, darkpool.JobExecuting, h.job(t, id).State)

	v, err := h.svc.OnResult(ctx, h.evaluate(t, id))
	require.NoError(t, err)
	require.Equal(t, darkpool.Applied, v)
}

func TestParseDeactivationPolicy(t *testing.T) {
	p, err := darkpool.ParseDeactivationPolicy("")
	require.NoError(t, err)
	require.Equal(t, darkpool.DeactivateOnCompleted, p)
	p, err = darkpool.ParseDeactivationPolicy("executed")
	require.NoError(t, err)
	require.Equal(t, darkpool.DeactivateOnExecuted, p)
	p, err = darkpool.ParseDeactivationPolicy("attempted")
	require.NoError(t, err)
	require.Equal(t, darkpool.DeactivateOnAttempted, p)
	_, err = darkpool.ParseDeactivationPolicy("sometimes")
	require.Error(t, err)
}
