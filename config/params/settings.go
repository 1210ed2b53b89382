package params

import "time"

// Settings are the process-wide knobs, bound to DEXIDX_* environment
// variables through the CLI flag definitions in cmd/indexer.
type Settings struct {
	MongoURI      string
	MongoDatabase string
	RedisURL      string

	KafkaBrokers     []string
	KafkaTopicPrefix string

	TelegramToken   string
	TelegramChatIDs []string

	WorkerInterval           time.Duration
	WorkerPoolSize           int
	MaxBlocksPerRequest      uint64
	MaxConcurrentContracts   int64
	MaxConcurrentBlocks      int64
	EventProcessingBatchSize int
	LockTimeout              time.Duration
	RPCRequestTimeout        time.Duration
	RPCSwitchThreshold       int

	MonitoringAddr    string
	EnablePoolRefresh bool
}

// DefaultSettings mirror the documented environment defaults.
func DefaultSettings() *Settings {
	return &Settings{
		MongoDatabase:            "dex_indexer",
		KafkaTopicPrefix:         "dexidx",
		WorkerInterval:           10 * time.Second,
		WorkerPoolSize:           10,
		MaxBlocksPerRequest:      1000,
		MaxConcurrentContracts:   5,
		MaxConcurrentBlocks:      10,
		EventProcessingBatchSize: 20,
		LockTimeout:              300 * time.Second,
		RPCRequestTimeout:        30 * time.Second,
		RPCSwitchThreshold:       3,
		MonitoringAddr:           ":8090",
	}
}

// MaxScanWindow bounds how far behind head a first run will start when no
// contract creation block is usable.
const MaxScanWindow = 10_000_000
