// Package flags defines the command line flags of the indexer binary. Every
// flag is also bound to a DEXIDX_* environment variable so deployments can
// run flagless.
package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

var (
	// ChainConfigDir points at the directory of chains/<name>.json files.
	ChainConfigDir = &cli.StringFlag{
		Name:    "chain-config-dir",
		Usage:   "Directory containing the per-chain JSON configuration files",
		Value:   "config/chains",
		EnvVars: []string{"DEXIDX_CHAIN_CONFIG_DIR"},
	}
	// ChainIDs restricts the run to the listed chain IDs.
	ChainIDs = &cli.Uint64SliceFlag{
		Name:    "chain-id",
		Usage:   "Only index the given chain ID, may be repeated. Defaults to every configured chain",
		EnvVars: []string{"DEXIDX_CHAIN_IDS"},
	}
	// ResetProgress wipes the progress cursors of the selected chains before
	// indexing starts.
	ResetProgress = &cli.BoolFlag{
		Name:    "reset-progress",
		Usage:   "Delete stored progress cursors for the selected chains before starting",
		EnvVars: []string{"DEXIDX_RESET_PROGRESS"},
	}
	// LogLevel sets the logrus verbosity.
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Logging verbosity (trace, debug, info, warn, error, fatal)",
		Value:   "info",
		EnvVars: []string{"DEXIDX_LOG_LEVEL"},
	}
	// LogFormat selects text or json log output.
	LogFormat = &cli.StringFlag{
		Name:    "log-format",
		Usage:   "Log output format (text, json)",
		Value:   "text",
		EnvVars: []string{"DEXIDX_LOG_FORMAT"},
	}
	// MongoURI is the MongoDB connection string.
	MongoURI = &cli.StringFlag{
		Name:    "mongo-uri",
		Usage:   "MongoDB connection URI",
		Value:   "mongodb://localhost:27017",
		EnvVars: []string{"DEXIDX_MONGO_URI"},
	}
	// MongoDatabase is the database name.
	MongoDatabase = &cli.StringFlag{
		Name:    "mongo-database",
		Usage:   "MongoDB database name",
		Value:   "dex_indexer",
		EnvVars: []string{"DEXIDX_MONGO_DATABASE"},
	}
	// RedisURL is the Redis connection string.
	RedisURL = &cli.StringFlag{
		Name:    "redis-url",
		Usage:   "Redis connection URL",
		Value:   "redis://localhost:6379/0",
		EnvVars: []string{"DEXIDX_REDIS_URL"},
	}
	// KafkaBrokers lists the Kafka bootstrap brokers.
	KafkaBrokers = &cli.StringSliceFlag{
		Name:    "kafka-broker",
		Usage:   "Kafka bootstrap broker host:port, may be repeated. Empty disables publishing",
		EnvVars: []string{"DEXIDX_KAFKA_BROKERS"},
	}
	// KafkaTopicPrefix prefixes every published topic.
	KafkaTopicPrefix = &cli.StringFlag{
		Name:    "kafka-topic-prefix",
		Usage:   "Prefix for published Kafka topics",
		Value:   "dexidx",
		EnvVars: []string{"DEXIDX_KAFKA_TOPIC_PREFIX"},
	}
	// TelegramToken is the notification bot token.
	TelegramToken = &cli.StringFlag{
		Name:    "telegram-token",
		Usage:   "Telegram bot token. Empty disables notifications",
		EnvVars: []string{"DEXIDX_TELEGRAM_TOKEN"},
	}
	// TelegramChatIDs lists the destination chats.
	TelegramChatIDs = &cli.StringSliceFlag{
		Name:    "telegram-chat-id",
		Usage:   "Telegram chat ID to notify, may be repeated",
		EnvVars: []string{"DEXIDX_TELEGRAM_CHAT_IDS"},
	}
	// WorkerInterval is the pause between stream ticks.
	WorkerInterval = &cli.DurationFlag{
		Name:    "worker-interval",
		Usage:   "Pause between indexing passes of each stream",
		Value:   10 * time.Second,
		EnvVars: []string{"DEXIDX_WORKER_INTERVAL"},
	}
	// WorkerPoolSize bounds concurrent per-pool swap workers.
	WorkerPoolSize = &cli.IntFlag{
		Name:    "worker-pool-size",
		Usage:   "Number of pools indexed concurrently per chain",
		Value:   10,
		EnvVars: []string{"DEXIDX_WORKER_POOL_SIZE"},
	}
	// MaxBlocksPerRequest caps an eth_getLogs window.
	MaxBlocksPerRequest = &cli.Uint64Flag{
		Name:    "max-blocks-per-request",
		Usage:   "Default eth_getLogs block range, unless the chain file overrides it",
		Value:   1000,
		EnvVars: []string{"DEXIDX_MAX_BLOCKS_PER_REQUEST"},
	}
	// MaxConcurrentContracts bounds the catalog fan-out.
	MaxConcurrentContracts = &cli.Int64Flag{
		Name:    "max-concurrent-contracts",
		Usage:   "Watched contracts queried concurrently per window",
		Value:   5,
		EnvVars: []string{"DEXIDX_MAX_CONCURRENT_CONTRACTS"},
	}
	// MaxConcurrentBlocks bounds the block fan-out.
	MaxConcurrentBlocks = &cli.Int64Flag{
		Name:    "max-concurrent-blocks",
		Usage:   "Blocks processed concurrently per window",
		Value:   10,
		EnvVars: []string{"DEXIDX_MAX_CONCURRENT_BLOCKS"},
	}
	// EventBatchSize groups blocks into sequential batches.
	EventBatchSize = &cli.IntFlag{
		Name:    "event-batch-size",
		Usage:   "Blocks per sequential processing batch",
		Value:   20,
		EnvVars: []string{"DEXIDX_EVENT_BATCH_SIZE"},
	}
	// LockTimeout is the cross-worker stream lock TTL.
	LockTimeout = &cli.DurationFlag{
		Name:    "lock-timeout",
		Usage:   "TTL of the distributed stream locks",
		Value:   300 * time.Second,
		EnvVars: []string{"DEXIDX_LOCK_TIMEOUT"},
	}
	// RPCTimeout bounds a single RPC attempt.
	RPCTimeout = &cli.DurationFlag{
		Name:    "rpc-timeout",
		Usage:   "Timeout of a single RPC request attempt",
		Value:   30 * time.Second,
		EnvVars: []string{"DEXIDX_RPC_TIMEOUT"},
	}
	// RPCSwitchThreshold is the consecutive failure count that rotates the
	// preferred endpoint.
	RPCSwitchThreshold = &cli.IntFlag{
		Name:    "rpc-switch-threshold",
		Usage:   "Consecutive failures before the preferred RPC endpoint rotates",
		Value:   3,
		EnvVars: []string{"DEXIDX_RPC_SWITCH_THRESHOLD"},
	}
	// MonitoringAddr is the metrics/health listen address.
	MonitoringAddr = &cli.StringFlag{
		Name:    "monitoring-addr",
		Usage:   "Listen address of the metrics and health HTTP endpoint",
		Value:   ":8090",
		EnvVars: []string{"DEXIDX_MONITORING_ADDR"},
	}
	// EnablePoolRefresh turns on the periodic pool state refresher.
	EnablePoolRefresh = &cli.BoolFlag{
		Name:    "enable-pool-refresh",
		Usage:   "Periodically refresh on-chain pool state (reserves, slot0)",
		EnvVars: []string{"DEXIDX_ENABLE_POOL_REFRESH"},
	}
)

// StartFlags are the flags of the start command.
var StartFlags = []cli.Flag{
	ChainConfigDir,
	ChainIDs,
	ResetProgress,
	LogLevel,
	LogFormat,
	MongoURI,
	MongoDatabase,
	RedisURL,
	KafkaBrokers,
	KafkaTopicPrefix,
	TelegramToken,
	TelegramChatIDs,
	WorkerInterval,
	WorkerPoolSize,
	MaxBlocksPerRequest,
	MaxConcurrentContracts,
	MaxConcurrentBlocks,
	EventBatchSize,
	LockTimeout,
	RPCTimeout,
	RPCSwitchThreshold,
	MonitoringAddr,
	EnablePoolRefresh,
}
