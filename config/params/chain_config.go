// Package params loads and validates the per-chain JSON configuration files
// and carries the process-wide tuning knobs taken from the environment.
package params

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "params")

// EventConfig binds one event of a watched contract to a parser. Signature
// is the canonical event signature, e.g. "PairCreated(address,address,address,uint256)".
type EventConfig struct {
	Signature string `json:"signature"`
	Parser    string `json:"parser"`
}

// ContractConfig is one watched contract of a chain's catalog.
type ContractConfig struct {
	Name          string                 `json:"-"`
	Address       string                 `json:"address"`
	CreationBlock uint64                 `json:"creation_block"`
	Enabled       *bool                  `json:"enabled,omitempty"`
	Events        map[string]EventConfig `json:"events"`
}

// IsEnabled reports whether the contract participates in indexing. Contracts
// are enabled unless the chain file says otherwise.
func (c *ContractConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ChainConfig is one chains/<name>.json file.
type ChainConfig struct {
	ChainID            uint64                    `json:"chain_id"`
	Name               string                    `json:"name"`
	RPCURLs            []string                  `json:"rpc_urls"`
	BackupRPCURLs      []string                  `json:"backup_rpc_urls,omitempty"`
	BlockTime          float64                   `json:"block_time"`
	StartBlock         uint64                    `json:"start_block"`
	ConfirmationBlocks uint64                    `json:"confirmation_blocks"`
	MaxBlockRange      uint64                    `json:"max_block_range,omitempty"`
	Contracts          map[string]ContractConfig `json:"contracts,omitempty"`
	Pools              []string                  `json:"pools,omitempty"`
}

// DefaultConfirmationBlocks applies when a chain file omits the field.
const DefaultConfirmationBlocks = 5

// LoadChainDir reads every *.json file under dir into a ChainConfig.
func LoadChainDir(dir string) ([]*ChainConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read chain config directory %s", dir)
	}
	var configs []*ChainConfig
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		cfg, err := LoadChainFile(path)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if len(configs) == 0 {
		return nil, errors.Errorf("no chain configs found in %s", dir)
	}
	return configs, nil
}

// LoadChainFile parses a single chain config file.
func LoadChainFile(path string) (*ChainConfig, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", path)
	}
	cfg := &ChainConfig{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "could not parse %s", path)
	}
	for name, c := range cfg.Contracts {
		c.Name = name
		cfg.Contracts[name] = c
	}
	if cfg.ConfirmationBlocks == 0 {
		cfg.ConfirmationBlocks = DefaultConfirmationBlocks
	}
	return cfg, nil
}

// Validate checks the structural requirements of a chain config. knownParser
// reports whether a parser ID is present in the compile-time registry; an
// unknown ID is a startup failure rather than a silent no-op at runtime.
func (cfg *ChainConfig) Validate(knownParser func(string) bool) error {
	if cfg.ChainID == 0 {
		return errors.New("chain_id is required")
	}
	if cfg.Name == "" {
		return errors.Errorf("chain %d: name is required", cfg.ChainID)
	}
	if len(cfg.RPCURLs) == 0 {
		return errors.Errorf("chain %d: at least one rpc url is required", cfg.ChainID)
	}
	for name, c := range cfg.Contracts {
		if !common.IsHexAddress(c.Address) {
			return errors.Errorf("chain %d: contract %s has invalid address %q", cfg.ChainID, name, c.Address)
		}
		for event, ev := range c.Events {
			if ev.Signature == "" {
				return errors.Errorf("chain %d: contract %s event %s has no signature", cfg.ChainID, name, event)
			}
			if !knownParser(ev.Parser) {
				return errors.Errorf("chain %d: contract %s event %s references unknown parser %q",
					cfg.ChainID, name, event, ev.Parser)
			}
		}
	}
	for _, p := range cfg.Pools {
		if !common.IsHexAddress(p) {
			return errors.Errorf("chain %d: invalid pool address %q", cfg.ChainID, p)
		}
	}
	return nil
}

// EnabledContracts returns the catalog entries that participate in indexing.
func (cfg *ChainConfig) EnabledContracts() []ContractConfig {
	out := make([]ContractConfig, 0, len(cfg.Contracts))
	for _, c := range cfg.Contracts {
		if c.IsEnabled() {
			out = append(out, c)
		}
	}
	return out
}

// BlockRangeCap returns the per-request eth_getLogs range for the chain,
// falling back to the global default when the file does not set one.
func (cfg *ChainConfig) BlockRangeCap(globalDefault uint64) uint64 {
	if cfg.MaxBlockRange > 0 {
		return cfg.MaxBlockRange
	}
	return globalDefault
}
