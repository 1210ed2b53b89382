package parsers

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexstream/indexer/indexer/types"
)

var (
	testFactory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	testToken0  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	testToken1  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	testPair    = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	testSender  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testRecip   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testTx      = common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000001")
)

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

// bigStr builds values wider than 64 bits, e.g. sqrtPriceX96 samples.
func bigStr(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "bad big integer literal %q", s)
	return v
}

func testCtx() *Context {
	return &Context{
		ChainID:   1,
		Protocol:  types.ProtocolUniswapV2,
		BlockTime: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestParseV2PairCreated(t *testing.T) {
	lg := gethtypes.Log{
		Address: testFactory,
		Topics: []common.Hash{
			{}, // topic0 unused by the decoder
			addrTopic(testToken0),
			addrTopic(testToken1),
		},
		Data:        packWords(new(big.Int).SetBytes(testPair.Bytes()), big.NewInt(42)),
		BlockNumber: 10000900,
		TxHash:      testTx,
	}

	ev, err := parseV2PairCreated(context.Background(), testCtx(), lg)
	require.NoError(t, err)
	creation, ok := ev.(PoolCreation)
	require.True(t, ok)

	pool := creation.Pool
	assert.Equal(t, uint64(1), pool.ChainID)
	assert.Equal(t, addrStr(testPair), pool.PoolAddress)
	assert.Equal(t, types.ProtocolUniswapV2, pool.Protocol)
	assert.Equal(t, addrStr(testToken0), pool.Token0Address)
	assert.Equal(t, addrStr(testToken1), pool.Token1Address)
	assert.Equal(t, addrStr(testFactory), pool.FactoryAddress)
	assert.Equal(t, uint64(10000900), pool.CreationBlock)
	assert.Equal(t, types.PoolActive, pool.Status)
}

func TestParseV2PairCreated_MissingTopics(t *testing.T) {
	lg := gethtypes.Log{Topics: []common.Hash{{}}, Data: packWords(big.NewInt(1))}
	_, err := parseV2PairCreated(context.Background(), testCtx(), lg)
	require.ErrorIs(t, err, ErrNotParsable)
}

func TestParseV2Swap(t *testing.T) {
	lg := gethtypes.Log{
		Address: testPair,
		Topics:  []common.Hash{{}, addrTopic(testSender), addrTopic(testRecip)},
		Data: packWords(
			big.NewInt(1000), // amount0In
			big.NewInt(0),    // amount1In
			big.NewInt(0),    // amount0Out
			big.NewInt(995),  // amount1Out
		),
		BlockNumber: 10001000,
		TxHash:      testTx,
		Index:       7,
	}

	ev, err := parseV2Swap(context.Background(), testCtx(), lg)
	require.NoError(t, err)
	swap := ev.(SwapRecord).Swap
	assert.Equal(t, "1000", swap.Amount0In)
	assert.Equal(t, "0", swap.Amount1In)
	assert.Equal(t, "0", swap.Amount0Out)
	assert.Equal(t, "995", swap.Amount1Out)
	assert.Equal(t, uint64(7), swap.LogIndex)
	assert.Equal(t, addrStr(testSender), swap.Sender)
	assert.Equal(t, addrStr(testRecip), swap.Recipient)
}

func TestParseV3PoolCreated(t *testing.T) {
	feeTopic := common.BigToHash(big.NewInt(3000))
	lg := gethtypes.Log{
		Address: testFactory,
		Topics:  []common.Hash{{}, addrTopic(testToken0), addrTopic(testToken1), feeTopic},
		Data: packWords(
			big.NewInt(60), // tickSpacing
			new(big.Int).SetBytes(testPair.Bytes()),
		),
		BlockNumber: 12369800,
		TxHash:      testTx,
	}

	pc := testCtx()
	pc.Protocol = types.ProtocolUniswapV3
	ev, err := parseV3PoolCreated(context.Background(), pc, lg)
	require.NoError(t, err)
	pool := ev.(PoolCreation).Pool
	require.NotNil(t, pool.FeeTier)
	assert.Equal(t, uint64(3000), *pool.FeeTier)
	require.NotNil(t, pool.TickSpacing)
	assert.Equal(t, int64(60), *pool.TickSpacing)
	assert.Equal(t, addrStr(testPair), pool.PoolAddress)
	assert.Equal(t, types.ProtocolUniswapV3, pool.Protocol)
}

func TestParseV3Swap_SignConvention(t *testing.T) {
	// amount0 = -1000 credits the in leg, amount1 = 2000 the out leg.
	lg := gethtypes.Log{
		Address: testPair,
		Topics:  []common.Hash{{}, addrTopic(testSender), addrTopic(testRecip)},
		Data: packWords(
			big.NewInt(-1000),
			big.NewInt(2000),
			bigStr(t, "79228162514264337593543950336"), // sqrtPriceX96
			big.NewInt(500000),                         // liquidity
			big.NewInt(-100),                           // tick
		),
		BlockNumber: 12370000,
		TxHash:      testTx,
		Index:       3,
	}

	pc := testCtx()
	pc.Protocol = types.ProtocolUniswapV3
	ev, err := parseV3Swap(context.Background(), pc, lg)
	require.NoError(t, err)
	swap := ev.(SwapRecord).Swap
	assert.Equal(t, "1000", swap.Amount0In)
	assert.Equal(t, "0", swap.Amount0Out)
	assert.Equal(t, "0", swap.Amount1In)
	assert.Equal(t, "2000", swap.Amount1Out)
}

func TestParseV4Initialize(t *testing.T) {
	manager := common.HexToAddress("0x498581fF718922c3f8e6A244956aF099B2652b2b")
	poolID := common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000ab")
	hooks := common.HexToAddress("0x3333333333333333333333333333333333333333")
	lg := gethtypes.Log{
		Address: manager,
		Topics:  []common.Hash{{}, poolID, addrTopic(testToken0), addrTopic(testToken1)},
		Data: packWords(
			big.NewInt(500), // fee
			big.NewInt(10),  // tickSpacing
			new(big.Int).SetBytes(hooks.Bytes()),
			bigStr(t, "79228162514264337593543950336"), // sqrtPriceX96
			big.NewInt(-5),                             // tick
		),
		BlockNumber: 25351000,
		TxHash:      testTx,
	}

	pc := testCtx()
	pc.Protocol = types.ProtocolUniswapV4
	ev, err := parseV4Initialize(context.Background(), pc, lg)
	require.NoError(t, err)
	pool := ev.(PoolCreation).Pool

	want := SyntheticPoolID(manager, poolID)
	assert.Equal(t, want, pool.PoolAddress)
	assert.Equal(t, addrStr(manager)+"#00000000000000000000000000000000000000000000000000000000000000ab", pool.PoolAddress)
	assert.Equal(t, types.ProtocolUniswapV4, pool.Protocol)
	assert.Equal(t, addrStr(hooks), pool.HooksAddress)
	assert.Equal(t, "-5", pool.CurrentTick)
	require.NotNil(t, pool.FeeTier)
	assert.Equal(t, uint64(500), *pool.FeeTier)
}

func TestSyntheticPoolID_RoundTrip(t *testing.T) {
	manager := common.HexToAddress("0x498581fF718922c3f8e6A244956aF099B2652b2b")
	poolID := common.HexToHash("0xdeadbeef00000000000000000000000000000000000000000000000000000001")

	id := SyntheticPoolID(manager, poolID)
	gotManager, gotID, ok := SplitSyntheticPoolID(id)
	require.True(t, ok)
	assert.Equal(t, manager, gotManager)
	assert.Equal(t, poolID, gotID)

	_, _, ok = SplitSyntheticPoolID("0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc")
	assert.False(t, ok)
	_, _, ok = SplitSyntheticPoolID("nonsense#deadbeef")
	assert.False(t, ok)
}

func TestParseV4ModifyLiquidity(t *testing.T) {
	manager := common.HexToAddress("0x498581fF718922c3f8e6A244956aF099B2652b2b")
	poolID := common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000cd")
	lg := gethtypes.Log{
		Address: manager,
		Topics:  []common.Hash{{}, poolID, addrTopic(testSender)},
		Data: packWords(
			big.NewInt(-887220), // tickLower
			big.NewInt(887220),  // tickUpper
			big.NewInt(-500000), // liquidityDelta
			big.NewInt(1),       // salt
		),
		BlockNumber: 25351100,
		TxHash:      testTx,
		Index:       2,
	}

	pc := testCtx()
	pc.Protocol = types.ProtocolUniswapV4
	ev, err := parseV4ModifyLiquidity(context.Background(), pc, lg)
	require.NoError(t, err)
	liq := ev.(LiquidityRecord).Event
	assert.Equal(t, int32(-887220), liq.TickLower)
	assert.Equal(t, int32(887220), liq.TickUpper)
	assert.Equal(t, "-500000", liq.LiquidityDelta)
	assert.Equal(t, SyntheticPoolID(manager, poolID), liq.PoolAddress)
}

func TestParseClankerTokenCreated_PoolIDKeyedByManager(t *testing.T) {
	manager := common.HexToAddress("0x498581fF718922c3f8e6A244956aF099B2652b2b")
	hook := common.HexToAddress("0x3333333333333333333333333333333333333333")
	tokenAddr := common.HexToAddress("0x4444444444444444444444444444444444444444")
	admin := common.HexToAddress("0x5555555555555555555555555555555555555555")
	var poolID [32]byte
	poolID[31] = 0xab

	data, err := clankerParsedABI.Events["TokenCreated"].Inputs.NonIndexed().Pack(
		"ipfs://image",            // tokenImage
		"Clanker Coin",            // tokenName
		"CLNK",                    // tokenSymbol
		`{"description":"a coin"}`, // tokenMetadata
		"farcaster",               // tokenContext
		big.NewInt(-230400),       // startingTick
		hook,
		poolID,
		testToken1, // pairedToken
		testSender, // locker
		testRecip,  // mevModule
		bigStr(t, "100000000000000000000000000000"), // tokenSupply
	)
	require.NoError(t, err)

	lg := gethtypes.Log{
		Topics:      []common.Hash{{}, addrTopic(tokenAddr), addrTopic(admin)},
		Data:        data,
		BlockNumber: 25400000,
		TxHash:      testTx,
	}

	pc := testCtx()
	pc.V4Manager = manager
	ev, err := parseClankerTokenCreated(context.Background(), pc, lg)
	require.NoError(t, err)
	token := ev.(CoinCreation).Token

	// The launch pool id is keyed by the V4 pool manager, not the hook, so
	// it matches the pool row the Initialize decoder writes.
	require.Len(t, token.Pools, 1)
	assert.Equal(t, SyntheticPoolID(manager, common.BytesToHash(poolID[:])), token.Pools[0])
	gotManager, gotID, ok := SplitSyntheticPoolID(token.Pools[0])
	require.True(t, ok)
	assert.Equal(t, manager, gotManager)
	assert.Equal(t, common.BytesToHash(poolID[:]), gotID)

	assert.Equal(t, addrStr(tokenAddr), token.TokenAddress)
	assert.Equal(t, "Clanker Coin", token.Name)
	assert.Equal(t, addrStr(hook), token.Metadata["pool_hook"])

	// Without a bound manager the raw pool id is kept as-is.
	bare, err := parseClankerTokenCreated(context.Background(), testCtx(), lg)
	require.NoError(t, err)
	assert.Equal(t, common.BytesToHash(poolID[:]).Hex(), bare.(CoinCreation).Token.Pools[0])
}

func TestParseV3Swap_ShortData(t *testing.T) {
	lg := gethtypes.Log{
		Topics: []common.Hash{{}, addrTopic(testSender), addrTopic(testRecip)},
		Data:   packWords(big.NewInt(-1000)),
	}
	_, err := parseV3Swap(context.Background(), testCtx(), lg)
	require.ErrorIs(t, err, ErrNotParsable)
}

func TestKnownAndProtocolFor(t *testing.T) {
	assert.True(t, Known("uniswap_v2"))
	assert.True(t, Known("clanker"))
	assert.False(t, Known("uniswap_v5"))

	assert.Equal(t, types.ProtocolAerodrome, ProtocolFor("aerodrome"))
	assert.Equal(t, types.Protocol(""), ProtocolFor("creator_coin"))
}
