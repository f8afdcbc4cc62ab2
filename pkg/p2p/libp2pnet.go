package p2p

import (
	"context"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const (
	// topicJobs carries computation requests from the node to the cluster.
	topicJobs = "arcdark-jobs"
	// protocolShare carries one node's signed share back to the submitter (unicast).
	protocolShare = protocol.ID("/arcdark/share/1.0.0")

	maxShareSize = 64 << 10
)

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

// network is the host and gossip router shared by both roles.
type network struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tJobs *pubsub.Topic
}

func newNetwork(ctx context.Context, cfg Config) (*network, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	t, err := ps.Join(topicJobs)
	if err != nil {
		h.Close()
		return nil, err
	}
	return &network{h: h, ps: ps, log: log, tJobs: t}, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *network) Host() host.Host { return n.h }

// Addrs returns the full /p2p multiaddrs other processes can bootstrap from.
func (n *network) Addrs() []string {
	var out []string
	for _, a := range n.h.Addrs() {
		out = append(out, a.String()+"/p2p/"+n.h.ID().String())
	}
	return out
}

// Connect dials a peer given its /p2p multiaddr.
func (n *network) Connect(ctx context.Context, addr string) error {
	return connectMultiaddr(ctx, n.h, addr)
}

func (n *network) Close() error {
	n.tJobs.Close()
	return n.h.Close()
}
