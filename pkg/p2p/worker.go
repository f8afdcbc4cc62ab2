package p2p

import (
	"context"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/uhyunpark/arcdark/pkg/cluster"
)

// Worker runs one cluster node over libp2p: it evaluates every job seen on
// the job topic and streams its share back to the publisher.
type Worker struct {
	*network
	node *cluster.Node
	sub  *pubsub.Subscription
}

func NewWorker(ctx context.Context, cfg Config, node *cluster.Node) (*Worker, error) {
	n, err := newNetwork(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sub, err := n.tJobs.Subscribe()
	if err != nil {
		n.Close()
		return nil, err
	}
	w := &Worker{network: n, node: node, sub: sub}
	go w.handleJobs(ctx)

	n.log.Infow("cluster_node_ready", "peer", n.h.ID().String(), "node", node.ID, "cluster", node.ClusterID, "listen", cfg.ListenAddr)
	return w, nil
}

func (w *Worker) Close() error {
	w.sub.Cancel()
	return w.network.Close()
}

func (w *Worker) handleJobs(ctx context.Context) {
	for {
		msg, err := w.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == w.h.ID() {
			continue
		}
		var jw JobWire
		if err := gobDecode(msg.Data, &jw); err != nil {
			w.log.Debugw("job_decode_failed", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		if jw.Request.ClusterID != w.node.ClusterID {
			continue
		}
		share := w.node.Evaluate(&jw.Request)
		if err := w.sendShare(ctx, msg.GetFrom(), share); err != nil {
			w.log.Warnw("share_send_failed", "id", share.ComputationID, "to", msg.GetFrom().String(), "err", err)
		}
	}
}

func (w *Worker) sendShare(ctx context.Context, to peer.ID, share cluster.Share) error {
	data, err := gobEncode(ShareWire{Share: share})
	if err != nil {
		return err
	}
	s, err := w.h.NewStream(ctx, to, protocolShare)
	if err != nil {
		return err
	}
	defer s.Close()
	_, err = s.Write(data)
	return err
}
