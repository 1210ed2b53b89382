// Package parsers converts raw EVM logs into typed indexer records. Each
// protocol family registers its decoders in a compile-time registry keyed by
// parser ID; a chain's contract catalog binds catalog events to registry
// entries at startup, deriving topic0 from the configured signature.
package parsers

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dexstream/indexer/indexer/types"
)

var log = logrus.WithField("prefix", "parsers")

// ErrNotParsable marks a log a decoder could not make sense of (signature
// mismatch, truncated data). The pipeline counts these and moves on.
var ErrNotParsable = errors.New("log is not parsable")

// Event is the tagged union of everything a decoder can produce. Sinks and
// the pipeline switch on the concrete type.
type Event interface {
	isEvent()
}

// PoolCreation carries a newly observed pool.
type PoolCreation struct {
	Pool *types.Pool
}

// CoinCreation carries a newly launched token.
type CoinCreation struct {
	Token *types.Token
}

// SwapRecord carries one decoded swap.
type SwapRecord struct {
	Swap *types.SwapEvent
}

// LiquidityRecord carries one decoded liquidity modification.
type LiquidityRecord struct {
	Event *types.LiquidityEvent
}

func (PoolCreation) isEvent()    {}
func (CoinCreation) isEvent()    {}
func (SwapRecord) isEvent()      {}
func (LiquidityRecord) isEvent() {}

// ContractCaller is the secondary-call surface some decoders need (Balancer
// vault token lists, Curve coins enumeration).
type ContractCaller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Context carries the per-dispatch environment a decoder runs with.
// V4Manager is the chain's Uniswap V4 pool manager when the catalog binds
// one; the coin decoders need it to form synthetic pool ids.
type Context struct {
	ChainID   uint64
	Protocol  types.Protocol
	BlockTime time.Time
	Caller    ContractCaller
	V4Manager common.Address
}

// ParseFunc decodes one log into an event.
type ParseFunc func(ctx context.Context, pc *Context, lg gethtypes.Log) (Event, error)

// registry is the static (parser ID, event name) table. Config validation
// rejects unknown IDs before any pipeline starts.
var registry = map[string]map[string]ParseFunc{
	"uniswap_v2": {
		"PairCreated": parseV2PairCreated,
		"Swap":        parseV2Swap,
	},
	"sushiswap_v2": {
		"PairCreated": parseV2PairCreated,
		"Swap":        parseV2Swap,
	},
	"pancakeswap_v2": {
		"PairCreated": parseV2PairCreated,
		"Swap":        parseV2Swap,
	},
	"aerodrome": {
		"PairCreated": parseV2PairCreated,
		"PoolCreated": parseV2PairCreated,
		"Swap":        parseV2Swap,
	},
	"uniswap_v3": {
		"PoolCreated": parseV3PoolCreated,
		"Swap":        parseV3Swap,
	},
	"sushiswap_v3": {
		"PoolCreated": parseV3PoolCreated,
		"Swap":        parseV3Swap,
	},
	"pancakeswap_v3": {
		"PoolCreated": parseV3PoolCreated,
		"Swap":        parseV3Swap,
	},
	"uniswap_v4": {
		"Initialize":      parseV4Initialize,
		"Swap":            parseV4Swap,
		"ModifyLiquidity": parseV4ModifyLiquidity,
	},
	"balancer_v2": {
		"PoolRegistered": parseBalancerPoolRegistered,
		"Swap":           parseBalancerSwap,
	},
	"curve": {
		"PoolAdded":     parseCurvePoolAdded,
		"TokenExchange": parseCurveTokenExchange,
	},
	"creator_coin": {
		"CreatorCoinCreated": parseCreatorCoinCreated,
	},
	"clanker": {
		"TokenCreated": parseClankerTokenCreated,
	},
}

// parserProtocol maps parser IDs to the protocol variant recorded on pools.
var parserProtocol = map[string]types.Protocol{
	"uniswap_v2":     types.ProtocolUniswapV2,
	"sushiswap_v2":   types.ProtocolSushiV2,
	"pancakeswap_v2": types.ProtocolPancakeV2,
	"aerodrome":      types.ProtocolAerodrome,
	"uniswap_v3":     types.ProtocolUniswapV3,
	"sushiswap_v3":   types.ProtocolSushiV3,
	"pancakeswap_v3": types.ProtocolPancakeV3,
	"uniswap_v4":     types.ProtocolUniswapV4,
	"balancer_v2":    types.ProtocolBalancerV2,
	"curve":          types.ProtocolCurve,
}

// Known reports whether a parser ID exists in the registry. The coin
// parsers have no protocol mapping, so check the registry itself.
func Known(parserID string) bool {
	_, ok := registry[parserID]
	return ok
}

// Lookup resolves a (parser ID, event name) pair.
func Lookup(parserID, eventName string) (ParseFunc, bool) {
	events, ok := registry[parserID]
	if !ok {
		return nil, false
	}
	fn, ok := events[eventName]
	return fn, ok
}

// ProtocolFor returns the protocol variant for a parser ID, or "" for the
// coin-creation parsers.
func ProtocolFor(parserID string) types.Protocol {
	return parserProtocol[parserID]
}
