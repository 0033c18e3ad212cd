// Package config loads process configuration from the environment, the
// same way the teacher repo does: caarlos0/env struct tags plus an
// optional .env file for local development.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// RecentLogsCapacity is the Recent-Logs Cache (C2) FIFO capacity. It is a
// compile-time constant per spec.md §3/§6, not environment-tunable.
const RecentLogsCapacity = 100

// BroadcastInterval is how often the cache's insert-rate broadcaster (C9)
// ticks, fixed per spec.md §4.2.
const BroadcastInterval = 500 * time.Millisecond

// TouchIntervalBase and TouchIntervalJitterMax bound the cache's periodic
// log_events_updated_at touch: base + Uniform(0, jitter).
const (
	TouchIntervalBase      = 45 * time.Minute
	TouchIntervalJitterMax = 30 * time.Minute
)

// ClusterListDeadline bounds Cluster Aggregator (C8) fan-out.
const ClusterListDeadline = 5 * time.Second

// DefaultBufferMaxLen is the Memory Buffer's (C3) default per-source
// stream bound. Overflow policy is drop-oldest: every BufferLog call
// passes this as an approximate MAXLEN, so once a source's stream is at
// capacity the oldest unread entry is evicted to make room for the new
// one rather than rejecting the write. See Config.BufferMaxLen to tune it
// per deployment, and DESIGN.md for why drop-oldest was chosen over
// reject-new.
const DefaultBufferMaxLen = 100000

// Config holds all application configuration.
type Config struct {
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	NodeID           string        `env:"NODE_ID"`
	PoolSize         int           `env:"POOL_SIZE" envDefault:"8"`
	ClusterPeersRaw  string        `env:"CLUSTER_PEERS"`
	RedisAddr        string        `env:"REDIS_ADDR,required"`
	PostgresURL      string        `env:"POSTGRES_URL,required"`
	WALDir           string        `env:"WAL_DIR" envDefault:"./data/wal"`
	WALSegmentSize   int64         `env:"WAL_SEGMENT_SIZE_BYTES" envDefault:"104857600"`  // 100MB
	WALMaxDiskSize   int64         `env:"WAL_MAX_DISK_SIZE_BYTES" envDefault:"1073741824"` // 1GB
	MaxEventSize     int64         `env:"MAX_EVENT_SIZE_BYTES" envDefault:"1048576"`       // 1MB
	BufferMaxLen     int64         `env:"BUFFER_MAX_LEN" envDefault:"100000"`
	IngestServerAddr string        `env:"INGEST_SERVER_ADDR" envDefault:":8080"`
	ClusterServerAddr string       `env:"CLUSTER_SERVER_ADDR" envDefault:":8081"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.NodeID = host
		} else {
			cfg.NodeID = "node-unknown"
		}
	}

	return cfg, nil
}

// ClusterPeers splits ClusterPeersRaw into peer base URLs, trimming
// whitespace and dropping empties.
func (c *Config) ClusterPeers() []string {
	if c.ClusterPeersRaw == "" {
		return nil
	}
	parts := strings.Split(c.ClusterPeersRaw, ",")
	peers := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}
