package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Node struct {
	DataDir string // pebble directory; empty keeps everything in memory
	APIAddr string
	LogFile string
	Verbose bool
}

type Cluster struct {
	ID        string
	Nodes     int // reference cluster size (N)
	Threshold int // signature shares required on a callback
	Workers   int
	QueueSize int
	// Latency delays every evaluation in the reference cluster. Useful on
	// devnet to see jobs sitting in Executing.
	Latency time.Duration

	// Mode selects the cluster transport: "local" (in-process) or "libp2p".
	Mode       string
	ListenAddr string
	Bootstrap  []string
	// Seed derives the reference cluster's node keys and encryption key.
	// Devnet only: a real cluster never shares its secret with the node.
	Seed string
}

type Matching struct {
	// Deactivation is one of "executed", "completed", "attempted", "never".
	Deactivation string
	// ExclusiveReservation makes check-and-submit atomic per order. When false
	// two concurrent matches against the same active order may both be accepted.
	ExclusiveReservation bool
	// JobTimeout aborts Executing jobs whose callback never arrived. Zero disables.
	JobTimeout time.Duration
}

type Events struct {
	KafkaBrokers []string
	KafkaTopic   string
}

type Config struct {
	Node     Node
	Cluster  Cluster
	Matching Matching
	Events   Events
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir: "data/pebble",
			APIAddr: ":8080",
			LogFile: "data/node.log",
		},
		Cluster: Cluster{
			ID:        "cluster-0",
			Nodes:     4,
			Threshold: 3, // 2t+1 for N=3t+1
			Workers:   4,
			QueueSize: 1024,
			Mode:      "local",
			Seed:      "arcdark-devnet",
		},
		Matching: Matching{
			Deactivation: "completed",
			JobTimeout:   2 * time.Minute,
		},
		Events: Events{
			KafkaTopic: "darkpool.match-events",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.DataDir = getEnv("NODE_DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.Verbose = getEnvBool("VERBOSE", cfg.Node.Verbose)

	cfg.Cluster.ID = getEnv("CLUSTER_ID", cfg.Cluster.ID)
	cfg.Cluster.Nodes = getEnvInt("CLUSTER_NODES", cfg.Cluster.Nodes)
	cfg.Cluster.Threshold = getEnvInt("CLUSTER_THRESHOLD", cfg.Cluster.Threshold)
	cfg.Cluster.Workers = getEnvInt("CLUSTER_WORKERS", cfg.Cluster.Workers)
	cfg.Cluster.QueueSize = getEnvInt("CLUSTER_QUEUE_SIZE", cfg.Cluster.QueueSize)
	cfg.Cluster.Latency = getEnvMillis("CLUSTER_LATENCY_MS", cfg.Cluster.Latency)
	cfg.Cluster.Mode = getEnv("CLUSTER_MODE", cfg.Cluster.Mode)
	cfg.Cluster.ListenAddr = getEnv("LISTEN", cfg.Cluster.ListenAddr)
	cfg.Cluster.Seed = getEnv("CLUSTER_SEED", cfg.Cluster.Seed)
	if bs := os.Getenv("CLUSTER_BOOTSTRAP"); bs != "" {
		cfg.Cluster.Bootstrap = splitList(bs)
	}

	cfg.Matching.Deactivation = getEnv("MATCH_DEACTIVATION", cfg.Matching.Deactivation)
	cfg.Matching.ExclusiveReservation = getEnvBool("MATCH_EXCLUSIVE_RESERVATION", cfg.Matching.ExclusiveReservation)
	cfg.Matching.JobTimeout = getEnvMillis("MATCH_JOB_TIMEOUT_MS", cfg.Matching.JobTimeout)

	// Example: "kafka-1:9092,kafka-2:9092"
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Events.KafkaBrokers = splitList(brokers)
	}
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true"
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
