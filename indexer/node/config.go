package node

import (
	"github.com/urfave/cli/v2"

	"github.com/dexstream/indexer/cmd/indexer/flags"
	"github.com/dexstream/indexer/config/params"
)

// settingsFromCLI materializes the process settings from the parsed command
// line, with the flag defaults standing in for anything unset.
func settingsFromCLI(cliCtx *cli.Context) *params.Settings {
	s := params.DefaultSettings()
	s.MongoURI = cliCtx.String(flags.MongoURI.Name)
	s.MongoDatabase = cliCtx.String(flags.MongoDatabase.Name)
	s.RedisURL = cliCtx.String(flags.RedisURL.Name)
	s.KafkaBrokers = cliCtx.StringSlice(flags.KafkaBrokers.Name)
	s.KafkaTopicPrefix = cliCtx.String(flags.KafkaTopicPrefix.Name)
	s.TelegramToken = cliCtx.String(flags.TelegramToken.Name)
	s.TelegramChatIDs = cliCtx.StringSlice(flags.TelegramChatIDs.Name)
	s.WorkerInterval = cliCtx.Duration(flags.WorkerInterval.Name)
	s.WorkerPoolSize = cliCtx.Int(flags.WorkerPoolSize.Name)
	s.MaxBlocksPerRequest = cliCtx.Uint64(flags.MaxBlocksPerRequest.Name)
	s.MaxConcurrentContracts = cliCtx.Int64(flags.MaxConcurrentContracts.Name)
	s.MaxConcurrentBlocks = cliCtx.Int64(flags.MaxConcurrentBlocks.Name)
	s.EventProcessingBatchSize = cliCtx.Int(flags.EventBatchSize.Name)
	s.LockTimeout = cliCtx.Duration(flags.LockTimeout.Name)
	s.RPCRequestTimeout = cliCtx.Duration(flags.RPCTimeout.Name)
	s.RPCSwitchThreshold = cliCtx.Int(flags.RPCSwitchThreshold.Name)
	s.MonitoringAddr = cliCtx.String(flags.MonitoringAddr.Name)
	s.EnablePoolRefresh = cliCtx.Bool(flags.EnablePoolRefresh.Name)
	return s
}

// selectChains filters the loaded chain configs down to the requested chain
// IDs. An empty selection keeps everything.
func selectChains(configs []*params.ChainConfig, ids []uint64) []*params.ChainConfig {
	if len(ids) == 0 {
		return configs
	}
	want := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*params.ChainConfig
	for _, cfg := range configs {
		if want[cfg.ChainID] {
			out = append(out, cfg)
		}
	}
	return out
}
