package darkpool

import (
	"fmt"
	"maps"
	"sync"

	"github.com/uhyunpark/arcdark/pkg/crypto"
)

// StaticRegistry holds cluster key material in memory. Rotate replaces a
// cluster's keys; results are always checked against the current set.
type StaticRegistry struct {
	mu       sync.RWMutex
	clusters map[string]ClusterKeys
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{clusters: make(map[string]ClusterKeys)}
}

func (r *StaticRegistry) Register(id string, keys ClusterKeys) error {
	if err := checkKeys(id, keys); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(id, keys)
	return nil
}

// Rotate replaces the keys of an already registered cluster.
func (r *StaticRegistry) Rotate(id string, keys ClusterKeys) error {
	if err := checkKeys(id, keys); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clusters[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCluster, id)
	}
	r.put(id, keys)
	return nil
}

func checkKeys(id string, keys ClusterKeys) error {
	if keys.Threshold <= 0 || keys.Threshold > len(keys.Nodes) {
		return fmt.Errorf("cluster %s: threshold %d with %d nodes", id, keys.Threshold, len(keys.Nodes))
	}
	return nil
}

// put must be called with mu held.
func (r *StaticRegistry) put(id string, keys ClusterKeys) {
	r.clusters[id] = ClusterKeys{
		Threshold:     keys.Threshold,
		Nodes:         maps.Clone(keys.Nodes),
		EncryptionKey: keys.EncryptionKey,
	}
}

func (r *StaticRegistry) ClusterKeys(id string) (ClusterKeys, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.clusters[id]
	if !ok {
		return ClusterKeys{}, fmt.Errorf("%w: %s", ErrUnknownCluster, id)
	}
	return k, nil
}

// NodeKeys builds the node key map from signers indexed by node id.
func NodeKeys(signers []*crypto.BLSSigner) map[uint16]*crypto.BLSPubKey {
	out := make(map[uint16]*crypto.BLSPubKey, len(signers))
	for i, s := range signers {
		out[uint16(i)] = s.Pubkey()
	}
	return out
}
