package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
)

var (
	ErrQueueFull = errors.New("cluster queue full")
	ErrStopped   = errors.New("cluster stopped")
)

type Options struct {
	Workers   int
	QueueSize int
	// Latency delays every evaluation.
	Latency time.Duration
	// FailNodes never answer.
	FailNodes map[uint16]bool
	// Corrupt nodes sign a tampered payload.
	Corrupt map[uint16]bool
}

// LocalCluster evaluates jobs on in-process nodes. Submit only enqueues; a
// worker pool runs each job on every node and delivers the result to the
// handler once a quorum of shares agree.
type LocalCluster struct {
	id        string
	nodes     []*Node
	opts      Options
	collector *Collector
	log       *zap.SugaredLogger

	mu      sync.RWMutex
	queue   chan *darkpool.ComputationRequest
	stopped bool
	wg      sync.WaitGroup
}

func NewLocalCluster(id string, nodes []*Node, threshold int, opts Options, log *zap.SugaredLogger) *LocalCluster {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LocalCluster{
		id:        id,
		nodes:     nodes,
		opts:      opts,
		collector: NewCollector(id, darkpool.ClusterKeys{Threshold: threshold, Nodes: nodeKeys(nodes)}),
		log:       log,
		queue:     make(chan *darkpool.ComputationRequest, opts.QueueSize),
	}
}

func (c *LocalCluster) ID() string { return c.id }

// Start launches the workers. Results go to h until ctx is done or Stop.
func (c *LocalCluster) Start(ctx context.Context, h darkpool.ResultHandler) {
	for i := 0; i < c.opts.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, h)
	}
	c.log.Infow("local_cluster_started", "cluster", c.id, "nodes", len(c.nodes), "workers", c.opts.Workers)
}

func (c *LocalCluster) Submit(_ context.Context, req *darkpool.ComputationRequest) error {
	if req.ClusterID != c.id {
		return fmt.Errorf("job for cluster %q sent to %q", req.ClusterID, c.id)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return ErrStopped
	}
	select {
	case c.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new jobs, lets the workers drain the queue and waits for them.
func (c *LocalCluster) Stop() {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		close(c.queue)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *LocalCluster) QueueLen() int { return len(c.queue) }

func (c *LocalCluster) worker(ctx context.Context, h darkpool.ResultHandler) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-c.queue:
			if !ok {
				return
			}
			c.run(ctx, h, req)
		}
	}
}

func (c *LocalCluster) run(ctx context.Context, h darkpool.ResultHandler, req *darkpool.ComputationRequest) {
	if c.opts.Latency > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.Latency):
		}
	}
	for _, n := range c.nodes {
		if c.opts.FailNodes[n.ID] {
			continue
		}
		share := n.Evaluate(req)
		if c.opts.Corrupt[n.ID] {
			share = n.tamper(share)
		}
		res, ok := c.collector.Add(share)
		if !ok {
			continue
		}
		v, err := h.OnResult(ctx, res)
		if err != nil {
			c.log.Warnw("result_not_applied", "computation_id", req.ComputationID, "verdict", v.String(), "err", err)
		}
		return
	}
	c.collector.Drop(req.ComputationID)
	c.log.Warnw("quorum_not_reached", "computation_id", req.ComputationID, "cluster", c.id)
}

// tamper flips the outcome flag and re-signs, as a byzantine node would.
func (n *Node) tamper(s Share) Share {
	if s.Failed || len(s.Payload) == 0 {
		return n.SignResult(s.ComputationID, false, make([]byte, darkpool.PayloadSize))
	}
	p := append([]byte(nil), s.Payload...)
	p[0] ^= 1
	return n.SignResult(s.ComputationID, false, p)
}
