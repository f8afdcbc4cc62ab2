// Package cluster is a runnable stand-in for the confidential-compute
// cluster. Each Node opens the order shards, runs the matching circuit,
// seals the result to the requester's key and signs it. LocalCluster runs a
// set of nodes in-process; pkg/p2p runs them over libp2p.
package cluster

import (
	"fmt"

	"github.com/uhyunpark/arcdark/pkg/app/circuit"
	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
	"github.com/uhyunpark/arcdark/pkg/crypto"
)

// Share is one node's signed answer to a computation.
type Share struct {
	ComputationID uint64
	ClusterID     string
	Node          uint16
	Payload       []byte
	Failed        bool
	Sig           []byte
}

type Node struct {
	ID        uint16
	ClusterID string
	signer    *crypto.BLSSigner
	enc       crypto.KeyPair
}

func NewNode(clusterID string, id uint16, signer *crypto.BLSSigner, enc crypto.KeyPair) *Node {
	return &Node{ID: id, ClusterID: clusterID, signer: signer, enc: enc}
}

func (n *Node) Pubkey() *crypto.BLSPubKey { return n.signer.Pubkey() }

func nodeKeys(nodes []*Node) map[uint16]*crypto.BLSPubKey {
	out := make(map[uint16]*crypto.BLSPubKey, len(nodes))
	for _, n := range nodes {
		out[n.ID] = n.Pubkey()
	}
	return out
}

// Evaluate computes this node's share for req. Sealing is deterministic, so
// honest nodes produce byte-identical payloads. Inputs that do not open
// yield a signed failure.
func (n *Node) Evaluate(req *darkpool.ComputationRequest) Share {
	payload, err := n.compute(req)
	if err != nil {
		return n.SignResult(req.ComputationID, true, nil)
	}
	return n.SignResult(req.ComputationID, false, payload)
}

func (n *Node) compute(req *darkpool.ComputationRequest) ([]byte, error) {
	if req.ClusterID != n.ClusterID {
		return nil, fmt.Errorf("job for cluster %q", req.ClusterID)
	}
	maker, err := darkpool.OpenOrder(req.Maker, n.enc.Private)
	if err != nil {
		return nil, fmt.Errorf("maker: %w", err)
	}
	taker, err := darkpool.OpenOrder(req.Taker, n.enc.Private)
	if err != nil {
		return nil, fmt.Errorf("taker: %w", err)
	}
	return darkpool.SealResult(circuit.Match(maker, taker), n.enc.Private, req.ResultKey, req.Nonce)
}

// SignResult signs a result as this node without evaluating anything.
func (n *Node) SignResult(id uint64, failed bool, payload []byte) Share {
	msg := darkpool.ResultMessage(n.ClusterID, id, failed, payload)
	return Share{
		ComputationID: id,
		ClusterID:     n.ClusterID,
		Node:          n.ID,
		Payload:       payload,
		Failed:        failed,
		Sig:           n.signer.Sign(msg),
	}
}

// Devnet derives a whole cluster from one seed: n nodes sharing one x25519
// key and the matching registry entry. Never use outside devnet and tests.
func Devnet(seed, clusterID string, n, threshold int) ([]*Node, darkpool.ClusterKeys, error) {
	enc, err := crypto.KeyPairFromSeed([]byte(seed + "/enc"))
	if err != nil {
		return nil, darkpool.ClusterKeys{}, err
	}
	nodes := make([]*Node, n)
	signers := make([]*crypto.BLSSigner, n)
	for i := range nodes {
		s, err := crypto.NewBLSSignerFromSeed([]byte(fmt.Sprintf("%s/node/%d", seed, i)))
		if err != nil {
			return nil, darkpool.ClusterKeys{}, err
		}
		signers[i] = s
		nodes[i] = NewNode(clusterID, uint16(i), s, enc)
	}
	keys := darkpool.ClusterKeys{
		Threshold:     threshold,
		Nodes:         darkpool.NodeKeys(signers),
		EncryptionKey: enc.Public,
	}
	return nodes, keys, nil
}
