// Package types holds the entities the indexer persists and moves between
// its components: pools, tokens, swap and liquidity events, and the durable
// progress cursors that make indexing resumable.
package types

import "time"

// Protocol identifies the DEX family a pool belongs to.
type Protocol string

const (
	ProtocolUniswapV2  Protocol = "uniswap_v2"
	ProtocolUniswapV3  Protocol = "uniswap_v3"
	ProtocolUniswapV4  Protocol = "uniswap_v4"
	ProtocolSushiV2    Protocol = "sushiswap_v2"
	ProtocolSushiV3    Protocol = "sushiswap_v3"
	ProtocolPancakeV2  Protocol = "pancakeswap_v2"
	ProtocolPancakeV3  Protocol = "pancakeswap_v3"
	ProtocolAerodrome  Protocol = "aerodrome"
	ProtocolBalancerV2 Protocol = "balancer_v2"
	ProtocolCurve      Protocol = "curve"
)

// PoolStatus is the operational state of an indexed pool.
type PoolStatus string

const (
	PoolActive PoolStatus = "active"
	PoolPaused PoolStatus = "paused"
	PoolError  PoolStatus = "error"
)

// Pool is one liquidity pool observed on chain. Numeric on-chain quantities
// that may exceed 63 bits are carried as decimal strings.
type Pool struct {
	ChainID        uint64     `bson:"chain_id" json:"chain_id"`
	PoolAddress    string     `bson:"pool_address" json:"pool_address"`
	Protocol       Protocol   `bson:"protocol" json:"protocol"`
	Token0Address  string     `bson:"token0_address" json:"token0_address"`
	Token1Address  string     `bson:"token1_address" json:"token1_address"`
	FactoryAddress string     `bson:"factory_address" json:"factory_address"`
	FeeTier        *uint64    `bson:"fee_tier,omitempty" json:"fee_tier,omitempty"`
	TickSpacing    *int64     `bson:"tick_spacing,omitempty" json:"tick_spacing,omitempty"`
	HooksAddress   string     `bson:"hooks_address,omitempty" json:"hooks_address,omitempty"`
	SqrtPriceX96   string     `bson:"sqrt_price_x96,omitempty" json:"sqrt_price_x96,omitempty"`
	CurrentTick    string     `bson:"current_tick,omitempty" json:"current_tick,omitempty"`
	Liquidity      string     `bson:"liquidity,omitempty" json:"liquidity,omitempty"`
	Reserve0       string     `bson:"reserve0,omitempty" json:"reserve0,omitempty"`
	Reserve1       string     `bson:"reserve1,omitempty" json:"reserve1,omitempty"`
	CreationBlock  uint64     `bson:"creation_block" json:"creation_block"`
	CreationTxHash string     `bson:"creation_tx_hash" json:"creation_tx_hash"`
	CreationTime   time.Time  `bson:"creation_timestamp" json:"creation_timestamp"`
	Status         PoolStatus `bson:"status" json:"status"`
	LastIndexed    uint64     `bson:"last_indexed_block" json:"last_indexed_block"`
	Metadata       map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at" json:"updated_at"`
}

// TokenSource tells which launch platform emitted a new-coin event.
type TokenSource string

const (
	SourceCreatorCoin TokenSource = "creator_coin"
	SourceClanker     TokenSource = "clanker"
)

// Token is a newly created coin observed from a launch-platform contract.
type Token struct {
	ChainID         uint64      `bson:"chain_id" json:"chain_id"`
	TokenAddress    string      `bson:"token_address" json:"token_address"`
	Source          TokenSource `bson:"source" json:"source"`
	Name            string      `bson:"name,omitempty" json:"name,omitempty"`
	Symbol          string      `bson:"symbol,omitempty" json:"symbol,omitempty"`
	Creator         string      `bson:"creator" json:"creator"`
	Admin           string      `bson:"admin,omitempty" json:"admin,omitempty"`
	PayoutRecipient string      `bson:"payout_recipient,omitempty" json:"payout_recipient,omitempty"`
	PlatformRef     string      `bson:"platform_referrer,omitempty" json:"platform_referrer,omitempty"`
	Pools           []string    `bson:"pools,omitempty" json:"pools,omitempty"`
	MetadataURI     string      `bson:"metadata_uri,omitempty" json:"metadata_uri,omitempty"`
	Metadata        map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreationBlock   uint64      `bson:"creation_block" json:"creation_block"`
	CreationTxHash  string      `bson:"creation_tx_hash" json:"creation_tx_hash"`
	CreationTime    time.Time   `bson:"creation_timestamp" json:"creation_timestamp"`
	Status          string      `bson:"status" json:"status"`
	CreatedAt       time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `bson:"updated_at" json:"updated_at"`
}

// SwapEvent is a single swap, keyed by (tx_hash, log_index). Amounts are
// unsigned decimal strings split into in/out legs.
type SwapEvent struct {
	TxHash      string    `bson:"tx_hash" json:"tx_hash"`
	LogIndex    uint64    `bson:"log_index" json:"log_index"`
	ChainID     uint64    `bson:"chain_id" json:"chain_id"`
	PoolAddress string    `bson:"pool_address" json:"pool_address"`
	BlockNumber uint64    `bson:"block_number" json:"block_number"`
	BlockTime   time.Time `bson:"block_timestamp" json:"block_timestamp"`
	Sender      string    `bson:"sender" json:"sender"`
	Recipient   string    `bson:"recipient" json:"recipient"`
	Amount0In   string    `bson:"amount0_in" json:"amount0_in"`
	Amount0Out  string    `bson:"amount0_out" json:"amount0_out"`
	Amount1In   string    `bson:"amount1_in" json:"amount1_in"`
	Amount1Out  string    `bson:"amount1_out" json:"amount1_out"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// LiquidityEvent is a V4 ModifyLiquidity record. LiquidityDelta is a signed
// decimal string.
type LiquidityEvent struct {
	TxHash         string    `bson:"tx_hash" json:"tx_hash"`
	LogIndex       uint64    `bson:"log_index" json:"log_index"`
	ChainID        uint64    `bson:"chain_id" json:"chain_id"`
	PoolAddress    string    `bson:"pool_address" json:"pool_address"`
	BlockNumber    uint64    `bson:"block_number" json:"block_number"`
	BlockTime      time.Time `bson:"block_timestamp" json:"block_timestamp"`
	Sender         string    `bson:"sender" json:"sender"`
	TickLower      int32     `bson:"tick_lower" json:"tick_lower"`
	TickUpper      int32     `bson:"tick_upper" json:"tick_upper"`
	LiquidityDelta string    `bson:"liquidity_delta" json:"liquidity_delta"`
	Salt           string    `bson:"salt" json:"salt"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

// Stream names a progress domain. Cursors are unique per (chain, stream,
// scope) where scope is a pool address or empty for chain-wide streams.
type Stream string

const (
	StreamPools      Stream = "pools"
	StreamSwaps      Stream = "swaps"
	StreamLiquidity  Stream = "liquidity"
	StreamCoinTokens Stream = "coin_tokens"
)

// CursorStatus is the state recorded on a progress cursor.
type CursorStatus string

const (
	CursorRunning CursorStatus = "running"
	CursorError   CursorStatus = "error"
)

// ProgressCursor records how far a stream has been indexed. LastProcessed
// is monotone non-decreasing per key.
type ProgressCursor struct {
	ChainID       uint64       `bson:"chain_id" json:"chain_id"`
	Stream        Stream       `bson:"stream" json:"stream"`
	Scope         string       `bson:"scope" json:"scope"`
	LastProcessed uint64       `bson:"last_processed_block" json:"last_processed_block"`
	TargetBlock   uint64       `bson:"target_block" json:"target_block"`
	Status        CursorStatus `bson:"status" json:"status"`
	ErrorMessage  string       `bson:"error_message,omitempty" json:"error_message,omitempty"`
	StartedAt     time.Time    `bson:"started_at" json:"started_at"`
	UpdatedAt     time.Time    `bson:"updated_at" json:"updated_at"`
}
