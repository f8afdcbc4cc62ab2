package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/uhyunpark/arcdark/params"
	"github.com/uhyunpark/arcdark/pkg/cluster"
	"github.com/uhyunpark/arcdark/pkg/p2p"
	"github.com/uhyunpark/arcdark/pkg/util"
)

// cluster-node runs one devnet cluster node over libp2p.
//
//	NODE_INDEX=0 LISTEN=/ip4/0.0.0.0/tcp/4001 CLUSTER_BOOTSTRAP=/ip4/.../p2p/<coordinator> cluster-node
func main() {
	cfg := params.LoadFromEnv("")

	logger := util.NewLogger(cfg.Node.Verbose)
	defer logger.Sync()
	sugar := logger.Sugar()

	index, err := strconv.Atoi(os.Getenv("NODE_INDEX"))
	if err != nil {
		log.Fatalf("NODE_INDEX: %v", err)
	}

	nodes, _, err := cluster.Devnet(cfg.Cluster.Seed, cfg.Cluster.ID, cfg.Cluster.Nodes, cfg.Cluster.Threshold)
	if err != nil {
		sugar.Fatalw("devnet_keys_failed", "err", err)
	}
	if index < 0 || index >= len(nodes) {
		sugar.Fatalw("node_index_out_of_range", "index", index, "nodes", len(nodes))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := p2p.NewWorker(ctx, p2p.Config{
		ListenAddr: cfg.Cluster.ListenAddr,
		Bootstrap:  cfg.Cluster.Bootstrap,
		Logger:     sugar,
	}, nodes[index])
	if err != nil {
		sugar.Fatalw("libp2p_init_failed", "err", err)
	}
	defer w.Close()

	<-ctx.Done()
}
