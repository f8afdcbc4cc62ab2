package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	lpnetwork "github.com/libp2p/go-libp2p/core/network"

	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
	"github.com/uhyunpark/arcdark/pkg/cluster"
)

// ErrNoWorkers is returned by Submit while no cluster node listens on the job topic.
var ErrNoWorkers = errors.New("p2p: no cluster nodes subscribed")

// Coordinator is the node's view of a remote cluster. Jobs go out on the job
// topic; shares come back on the share protocol and are handed to the
// result handler once a threshold of validly signed ones agree. Shares
// from unknown nodes or with bad signatures never count.
type Coordinator struct {
	*network
	clusterID string
	collector *cluster.Collector

	muH     sync.RWMutex
	handler darkpool.ResultHandler
	ctx     context.Context
}

var _ darkpool.Cluster = (*Coordinator)(nil)

func NewCoordinator(ctx context.Context, cfg Config, clusterID string, keys darkpool.ClusterKeys) (*Coordinator, error) {
	n, err := newNetwork(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		network:   n,
		clusterID: clusterID,
		collector: cluster.NewCollector(clusterID, keys),
		ctx:       ctx,
	}
	n.h.SetStreamHandler(protocolShare, c.handleShareStream)
	n.log.Infow("coordinator_ready", "peer", n.h.ID().String(), "cluster", clusterID, "listen", cfg.ListenAddr)
	return c, nil
}

// Start sets where aggregated results go.
func (c *Coordinator) Start(ctx context.Context, h darkpool.ResultHandler) {
	c.muH.Lock()
	c.handler, c.ctx = h, ctx
	c.muH.Unlock()
}

// Workers is the number of cluster nodes currently known on the job topic.
func (c *Coordinator) Workers() int { return len(c.tJobs.ListPeers()) }

func (c *Coordinator) Submit(ctx context.Context, req *darkpool.ComputationRequest) error {
	if req.ClusterID != c.clusterID {
		return fmt.Errorf("job for cluster %q sent to %q", req.ClusterID, c.clusterID)
	}
	if c.Workers() == 0 {
		return ErrNoWorkers
	}
	data, err := gobEncode(JobWire{Request: *req})
	if err != nil {
		return err
	}
	return c.tJobs.Publish(ctx, data)
}

// handleShareStream: one share per stream
func (c *Coordinator) handleShareStream(s lpnetwork.Stream) {
	defer s.Close()

	data, err := io.ReadAll(io.LimitReader(s, maxShareSize))
	if err != nil {
		return
	}
	var w ShareWire
	if err := gobDecode(data, &w); err != nil {
		c.log.Debugw("share_decode_failed", "peer", s.Conn().RemotePeer().String(), "err", err)
		return
	}

	res, ok := c.collector.Add(w.Share)
	if !ok {
		return
	}

	c.muH.RLock()
	h, ctx := c.handler, c.ctx
	c.muH.RUnlock()
	if h == nil {
		c.log.Warnw("result_dropped_no_handler", "id", res.ComputationID)
		return
	}
	if _, err := h.OnResult(ctx, res); err != nil {
		c.log.Debugw("result_not_applied", "id", res.ComputationID, "err", err)
	}
}
