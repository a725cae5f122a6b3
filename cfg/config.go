package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// StoreConfiguration controls the pebble-backed notification store
type StoreConfiguration struct {
	CacheSizeMB           int64 `toml:"cache_size_mb"`
	MemTableSizeMB        int64 `toml:"memtable_size_mb"`
	MemTableCount         int   `toml:"memtable_count"`
	WALSyncIntervalMS     int   `toml:"wal_sync_interval_ms"`
	L0CompactionThreshold int   `toml:"l0_compaction_threshold"`
	L0StopWrites          int   `toml:"l0_stop_writes"`

	// Values at or above this size are zstd-compressed when it pays off (0 = never)
	CompressThresholdBytes int `toml:"compress_threshold_bytes"`
	CompressionLevel       int `toml:"compression_level"` // 1=fastest .. 4=best

	RowFilterCapacity uint `toml:"row_filter_capacity"` // Per-file cuckoo filter capacity
}

// CompactionConfiguration controls the background notification compactor
type CompactionConfiguration struct {
	Enabled         bool `toml:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds"`
	FileThreshold   int  `toml:"file_threshold"` // Live files before a round compacts anything
	PartialFanIn    int  `toml:"partial_fan_in"` // Newest files merged by a partial compaction
	FullEvery       int  `toml:"full_every"`     // Every Nth round compacts all files
}

// SinkConfiguration describes one publisher destination
type SinkConfiguration struct {
	Name      string   `toml:"name"`
	Type      string   `toml:"type"` // "kafka" or "nats"
	Brokers   []string `toml:"brokers"`
	BatchSize int      `toml:"batch_size"`
	NatsURL   string   `toml:"nats_url"`
}

// PublisherConfiguration controls handing surfacing notifications to observers
type PublisherConfiguration struct {
	Enabled           bool                `toml:"enabled"`
	PollIntervalMS    int                 `toml:"poll_interval_ms"`
	TopicPrefix       string              `toml:"topic_prefix"`
	DedupCacheSize    int                 `toml:"dedup_cache_size"`
	RowPatterns       []string            `toml:"row_patterns"`
	QualifierPatterns []string            `toml:"qualifier_patterns"`
	RetryInitialMS    int                 `toml:"retry_initial_ms"`
	RetryMaxMS        int                 `toml:"retry_max_ms"`
	MaxRetries        int                 `toml:"max_retries"`
	Sinks             []SinkConfiguration `toml:"sinks"`
}

// AdminConfiguration controls the admin HTTP API
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Optional PSK; empty disables auth
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Store      StoreConfiguration      `toml:"store"`
	Compaction CompactionConfiguration `toml:"compaction"`
	Publisher  PublisherConfiguration  `toml:"publisher"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default returns the built-in configuration
func Default() *Configuration {
	return &Configuration{
		NodeID:  0, // Auto-generate
		DataDir: "./ripple-data",

		Store: StoreConfiguration{
			CacheSizeMB:            64,
			MemTableSizeMB:         32,
			MemTableCount:          2,
			WALSyncIntervalMS:      0,
			L0CompactionThreshold:  4,
			L0StopWrites:           12,
			CompressThresholdBytes: 1024,
			CompressionLevel:       1,
			RowFilterCapacity:      1 << 16,
		},

		Compaction: CompactionConfiguration{
			Enabled:         true,
			IntervalSeconds: 30,
			FileThreshold:   4,
			PartialFanIn:    4,
			FullEvery:       10,
		},

		Publisher: PublisherConfiguration{
			Enabled:        false,
			PollIntervalMS: 1000,
			TopicPrefix:    "ripple.notify",
			DedupCacheSize: 100000,
			RetryInitialMS: 100,
			RetryMaxMS:     30000,
			MaxRetries:     100,
		},

		Admin: AdminConfiguration{
			Enabled:     true,
			BindAddress: "127.0.0.1",
			Port:        8090,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},
	}
}

// Config is the active configuration
var Config = Default()

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// Auto-generate node ID if not set
	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("ripple")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks the active configuration
func Validate() error {
	if Config.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}

	// Store
	if Config.Store.CacheSizeMB < 1 {
		return fmt.Errorf("store cache size must be >= 1 MB")
	}
	if Config.Store.MemTableSizeMB < 1 {
		return fmt.Errorf("store memtable size must be >= 1 MB")
	}
	if Config.Store.MemTableCount < 2 {
		return fmt.Errorf("store memtable count must be >= 2")
	}
	if Config.Store.CompressThresholdBytes < 0 {
		return fmt.Errorf("compress threshold must be >= 0")
	}
	if Config.Store.CompressionLevel < 0 || Config.Store.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 0 and 4")
	}

	// Compaction
	if Config.Compaction.Enabled {
		if Config.Compaction.IntervalSeconds < 1 {
			return fmt.Errorf("compaction interval must be >= 1 second")
		}
		if Config.Compaction.FileThreshold < 2 {
			return fmt.Errorf("compaction file threshold must be >= 2")
		}
		if Config.Compaction.PartialFanIn < 2 {
			return fmt.Errorf("compaction partial fan-in must be >= 2")
		}
		if Config.Compaction.FullEvery < 1 {
			return fmt.Errorf("compaction full_every must be >= 1")
		}
	}

	// Publisher
	if Config.Publisher.Enabled {
		if Config.Publisher.PollIntervalMS < 1 {
			return fmt.Errorf("publisher poll interval must be >= 1ms")
		}
		if Config.Publisher.DedupCacheSize < 1 {
			return fmt.Errorf("publisher dedup cache size must be >= 1")
		}
		if len(Config.Publisher.Sinks) == 0 {
			return fmt.Errorf("publisher enabled without sinks")
		}
		seen := make(map[string]bool)
		for _, s := range Config.Publisher.Sinks {
			if s.Name == "" {
				return fmt.Errorf("publisher sink name is required")
			}
			if seen[s.Name] {
				return fmt.Errorf("duplicate publisher sink name: %s", s.Name)
			}
			seen[s.Name] = true
			switch s.Type {
			case "kafka":
				if len(s.Brokers) == 0 {
					return fmt.Errorf("kafka sink %s requires brokers", s.Name)
				}
			case "nats":
				if s.NatsURL == "" {
					return fmt.Errorf("nats sink %s requires nats_url", s.Name)
				}
			default:
				return fmt.Errorf("invalid sink type for %s: %s", s.Name, s.Type)
			}
		}
	}

	// Admin
	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	// Logging
	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	return nil
}

// GetStorePath returns the pebble directory of the notification store
func GetStorePath() string {
	return path.Join(Config.DataDir, "notifications.pebble")
}

// IsAdminAuthEnabled reports whether admin requests must carry the secret
func IsAdminAuthEnabled() bool {
	return Config.Admin.Secret != ""
}
