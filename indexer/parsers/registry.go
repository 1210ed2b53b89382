package parsers

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/dexstream/indexer/config/params"
	"github.com/dexstream/indexer/indexer/types"
)

// Binding is one (contract, event) pair resolved against the static
// registry. Dispatch is log.address -> topic0 -> binding.
type Binding struct {
	ContractName string
	Address      common.Address
	EventName    string
	ParserID     string
	Topic0       common.Hash
	Protocol     types.Protocol
	Parse        ParseFunc
}

// Registry is the immutable per-chain dispatch table built from the
// contract catalog at startup. Reads need no synchronization.
type Registry struct {
	chainID   uint64
	byAddress map[common.Address]map[common.Hash]*Binding
	v4Manager common.Address
}

// NewRegistry walks the chain's contract catalog and binds each configured
// event to its decoder. Events naming an unknown decoder are logged and
// skipped; config validation normally catches them first.
func NewRegistry(cfg *params.ChainConfig) *Registry {
	r := &Registry{
		chainID:   cfg.ChainID,
		byAddress: make(map[common.Address]map[common.Hash]*Binding),
	}
	for name, contract := range cfg.Contracts {
		if !contract.IsEnabled() {
			continue
		}
		addr := common.HexToAddress(contract.Address)
		for eventName, ev := range contract.Events {
			fn, ok := Lookup(ev.Parser, eventName)
			if !ok {
				log.WithFields(logrus.Fields{
					"chain_id": cfg.ChainID,
					"contract": name,
					"event":    eventName,
					"parser":   ev.Parser,
				}).Warn("Unknown parser for configured event, skipping")
				continue
			}
			if ev.Parser == "uniswap_v4" {
				r.v4Manager = addr
			}
			topic0 := crypto.Keccak256Hash([]byte(ev.Signature))
			if r.byAddress[addr] == nil {
				r.byAddress[addr] = make(map[common.Hash]*Binding)
			}
			r.byAddress[addr][topic0] = &Binding{
				ContractName: name,
				Address:      addr,
				EventName:    eventName,
				ParserID:     ev.Parser,
				Topic0:       topic0,
				Protocol:     ProtocolFor(ev.Parser),
				Parse:        fn,
			}
		}
	}
	return r
}

// V4Manager returns the catalog's Uniswap V4 pool manager address, or the
// zero address when the chain binds none.
func (r *Registry) V4Manager() common.Address {
	return r.v4Manager
}

// Dispatch resolves the binding for a log's emitting address and topic0.
func (r *Registry) Dispatch(addr common.Address, topic0 common.Hash) (*Binding, bool) {
	topics, ok := r.byAddress[addr]
	if !ok {
		return nil, false
	}
	b, ok := topics[topic0]
	return b, ok
}

// Addresses returns every watched catalog address.
func (r *Registry) Addresses() []common.Address {
	out := make([]common.Address, 0, len(r.byAddress))
	for addr := range r.byAddress {
		out = append(out, addr)
	}
	return out
}

// TopicsFor returns the topic0 values bound for one address.
func (r *Registry) TopicsFor(addr common.Address) []common.Hash {
	topics := r.byAddress[addr]
	out := make([]common.Hash, 0, len(topics))
	for t := range topics {
		out = append(out, t)
	}
	return out
}

// Canonical pool-event signatures per protocol family. Unlike the
// catalog-driven creation events, swap and liquidity events on discovered
// pools have fixed layouts, so their topics are derived here rather than
// from config.
var (
	topicV2Swap = crypto.Keccak256Hash([]byte(
		"Swap(address,uint256,uint256,uint256,uint256,address)"))
	topicV3Swap = crypto.Keccak256Hash([]byte(
		"Swap(address,address,int256,int256,uint160,uint128,int24)"))
	topicV4Swap = crypto.Keccak256Hash([]byte(
		"Swap(bytes32,address,int128,int128,uint160,uint128,int24,uint24)"))
	topicV4ModifyLiquidity = crypto.Keccak256Hash([]byte(
		"ModifyLiquidity(bytes32,address,int24,int24,int256,bytes32)"))
	topicBalancerSwap = crypto.Keccak256Hash([]byte(
		"Swap(bytes32,address,address,uint256,uint256)"))
	topicCurveTokenExchange = crypto.Keccak256Hash([]byte(
		"TokenExchange(address,int128,uint256,int128,uint256)"))
)

// poolEventTables maps each protocol to the decoders of the events its
// pools emit.
var poolEventTables = map[types.Protocol]map[common.Hash]ParseFunc{
	types.ProtocolUniswapV2:  {topicV2Swap: parseV2Swap},
	types.ProtocolSushiV2:    {topicV2Swap: parseV2Swap},
	types.ProtocolPancakeV2:  {topicV2Swap: parseV2Swap},
	types.ProtocolAerodrome:  {topicV2Swap: parseV2Swap},
	types.ProtocolUniswapV3:  {topicV3Swap: parseV3Swap},
	types.ProtocolSushiV3:    {topicV3Swap: parseV3Swap},
	types.ProtocolPancakeV3:  {topicV3Swap: parseV3Swap},
	types.ProtocolUniswapV4:  {topicV4Swap: parseV4Swap, topicV4ModifyLiquidity: parseV4ModifyLiquidity},
	types.ProtocolBalancerV2: {topicBalancerSwap: parseBalancerSwap},
	types.ProtocolCurve:      {topicCurveTokenExchange: parseCurveTokenExchange},
}

// PoolEventTable returns topic0 -> decoder for the events a pool of the
// given protocol emits.
func PoolEventTable(p types.Protocol) (map[common.Hash]ParseFunc, bool) {
	table, ok := poolEventTables[p]
	return table, ok
}

// PoolEventTopics returns the topic0 filter list for a pool's protocol.
func PoolEventTopics(p types.Protocol) []common.Hash {
	table := poolEventTables[p]
	out := make([]common.Hash, 0, len(table))
	for t := range table {
		out = append(out, t)
	}
	return out
}
