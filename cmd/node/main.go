package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/arcdark/params"
	"github.com/uhyunpark/arcdark/pkg/api"
	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
	"github.com/uhyunpark/arcdark/pkg/cluster"
	"github.com/uhyunpark/arcdark/pkg/crypto"
	"github.com/uhyunpark/arcdark/pkg/events"
	"github.com/uhyunpark/arcdark/pkg/metrics"
	"github.com/uhyunpark/arcdark/pkg/p2p"
	"github.com/uhyunpark/arcdark/pkg/storage"
	"github.com/uhyunpark/arcdark/pkg/util"
)

// clusterBackend is what the node needs from either cluster transport.
type clusterBackend interface {
	darkpool.Cluster
	Start(ctx context.Context, h darkpool.ResultHandler)
}

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := darkpool.ParseDeactivationPolicy(cfg.Matching.Deactivation)
	if err != nil {
		sugar.Fatalw("config_invalid", "err", err)
	}

	// ---- Storage ----
	var store darkpool.Store
	audit := darkpool.AuditLog(storage.NewNopWAL())
	if cfg.Node.DataDir != "" {
		ps, err := storage.NewPebbleStore(cfg.Node.DataDir)
		if err != nil {
			sugar.Fatalw("pebble_open_failed", "dir", cfg.Node.DataDir, "err", err)
		}
		defer ps.Close()
		store = ps

		wal, err := storage.NewFileWAL(cfg.Node.DataDir + ".wal")
		if err != nil {
			sugar.Fatalw("wal_open_failed", "err", err)
		}
		defer wal.Close()
		audit = wal
	} else {
		store = storage.NewInMemoryStore()
	}

	// ---- Cluster registry ----
	// Devnet: node keys are derived from the shared seed.
	nodes, keys, err := cluster.Devnet(cfg.Cluster.Seed, cfg.Cluster.ID, cfg.Cluster.Nodes, cfg.Cluster.Threshold)
	if err != nil {
		sugar.Fatalw("devnet_keys_failed", "err", err)
	}
	registry := darkpool.NewStaticRegistry()
	if err := registry.Register(cfg.Cluster.ID, keys); err != nil {
		sugar.Fatalw("cluster_register_failed", "err", err)
	}

	m := metrics.New()

	// ---- Cluster transport ----
	var backend clusterBackend
	switch cfg.Cluster.Mode {
	case "libp2p":
		coord, err := p2p.NewCoordinator(ctx, p2p.Config{
			ListenAddr: cfg.Cluster.ListenAddr,
			Bootstrap:  cfg.Cluster.Bootstrap,
			Logger:     sugar,
		}, cfg.Cluster.ID, keys)
		if err != nil {
			sugar.Fatalw("libp2p_init_failed", "err", err)
		}
		defer coord.Close()
		for _, a := range coord.Addrs() {
			sugar.Infow("coordinator_addr", "addr", a)
		}
		backend = coord
	default:
		lc := cluster.NewLocalCluster(cfg.Cluster.ID, nodes, cfg.Cluster.Threshold, cluster.Options{
			Workers:   cfg.Cluster.Workers,
			QueueSize: cfg.Cluster.QueueSize,
			Latency:   cfg.Cluster.Latency,
		}, sugar)
		defer lc.Stop()
		m.QueueDepth(func() float64 { return float64(lc.QueueLen()) })
		backend = lc
	}

	// ---- Event sinks ----
	hub := api.NewHub(sugar)
	sinks := darkpool.MultiSink{darkpool.LogSink{Log: sugar}, hub}
	if len(cfg.Events.KafkaBrokers) > 0 {
		ks := events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, cfg.Cluster.ID)
		defer ks.Close()
		sinks = append(sinks, ks)
		sugar.Infow("kafka_sink_enabled", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}

	// ---- Service ----
	svc := darkpool.NewService(store, backend, registry, sinks, sugar, darkpool.Options{
		ClusterID:            cfg.Cluster.ID,
		Deactivation:         policy,
		ExclusiveReservation: cfg.Matching.ExclusiveReservation,
		Audit:                audit,
		Metrics:              m,
	})
	recovered, err := svc.Recover(ctx)
	if err != nil {
		sugar.Fatalw("recover_failed", "err", err)
	}
	backend.Start(ctx, svc)

	sugar.Infow("node_starting",
		"cluster", cfg.Cluster.ID,
		"mode", cfg.Cluster.Mode,
		"nodes", cfg.Cluster.Nodes,
		"threshold", cfg.Cluster.Threshold,
		"deactivation", policy,
		"exclusive_reservation", cfg.Matching.ExclusiveReservation,
		"recovered_jobs", recovered)

	// ---- API Server ----
	apiServer := api.NewServer(svc, hub, crypto.DefaultDomain(), cfg.Cluster.ID, m.Handler(), sugar)
	go func() {
		if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	runExpiry(ctx, svc, cfg.Matching.JobTimeout, sugar)
}

// runExpiry aborts jobs whose callback never came, until ctx is done.
func runExpiry(ctx context.Context, svc *darkpool.Service, timeout time.Duration, log *zap.SugaredLogger) {
	if timeout <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.ExpireStale(ctx, timeout)
			if err != nil {
				log.Warnw("expire_failed", "err", err)
				continue
			}
			if n > 0 {
				log.Infow("jobs_expired", "count", n, "timeout", timeout)
			}
		}
	}
}
