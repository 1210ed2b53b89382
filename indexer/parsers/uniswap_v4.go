package parsers

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/dexstream/indexer/indexer/types"
)

// SyntheticPoolID identifies a V4 pool inside the singleton PoolManager:
// "{manager_addr}#{pool_id_bytes32}".
func SyntheticPoolID(manager common.Address, poolID common.Hash) string {
	return fmt.Sprintf("%s#%s", addrStr(manager), hex.EncodeToString(poolID[:]))
}

// SplitSyntheticPoolID splits a synthetic V4 pool identifier back into the
// manager address and the poolId topic value.
func SplitSyntheticPoolID(id string) (common.Address, common.Hash, bool) {
	parts := strings.SplitN(id, "#", 2)
	if len(parts) != 2 || !common.IsHexAddress(parts[0]) {
		return common.Address{}, common.Hash{}, false
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(parts[1], "0x"))
	if err != nil || len(raw) != common.HashLength {
		return common.Address{}, common.Hash{}, false
	}
	return common.HexToAddress(parts[0]), common.BytesToHash(raw), true
}

// parseV4Initialize decodes the PoolManager event
//
//	Initialize(bytes32 indexed id, address indexed currency0,
//	           address indexed currency1, uint24 fee, int24 tickSpacing,
//	           address hooks, uint160 sqrtPriceX96, int24 tick)
func parseV4Initialize(_ context.Context, pc *Context, lg gethtypes.Log) (Event, error) {
	if len(lg.Topics) < 4 {
		return nil, errors.Wrap(ErrNotParsable, "Initialize needs id, currency0 and currency1 topics")
	}
	fee, err := wordUint(lg.Data, 0)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	tickSpacing, err := wordTick(lg.Data, 1)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	hooks, err := wordAddress(lg.Data, 2)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	sqrtPrice, err := wordUint(lg.Data, 3)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	tick, err := wordTick(lg.Data, 4)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	feeTier := fee.Uint64()
	spacing := int64(tickSpacing)
	now := time.Now().UTC()
	return PoolCreation{Pool: &types.Pool{
		ChainID:        pc.ChainID,
		PoolAddress:    SyntheticPoolID(lg.Address, lg.Topics[1]),
		Protocol:       types.ProtocolUniswapV4,
		Token0Address:  addrStr(topicAddress(lg.Topics[2])),
		Token1Address:  addrStr(topicAddress(lg.Topics[3])),
		FactoryAddress: addrStr(lg.Address),
		FeeTier:        &feeTier,
		TickSpacing:    &spacing,
		HooksAddress:   addrStr(hooks),
		SqrtPriceX96:   dec(sqrtPrice),
		CurrentTick:    fmt.Sprintf("%d", tick),
		CreationBlock:  lg.BlockNumber,
		CreationTxHash: lg.TxHash.Hex(),
		CreationTime:   pc.BlockTime,
		Status:         types.PoolActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}, nil
}

// parseV4Swap decodes
//
//	Swap(bytes32 indexed id, address indexed sender, int128 amount0,
//	     int128 amount1, uint160 sqrtPriceX96, uint128 liquidity,
//	     int24 tick, uint24 fee)
func parseV4Swap(_ context.Context, pc *Context, lg gethtypes.Log) (Event, error) {
	if len(lg.Topics) < 3 {
		return nil, errors.Wrap(ErrNotParsable, "V4 Swap needs id and sender topics")
	}
	amount0, err := wordSigned(lg.Data, 0, 128)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	amount1, err := wordSigned(lg.Data, 1, 128)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	a0In, a0Out := splitSigned(amount0)
	a1In, a1Out := splitSigned(amount1)
	sender := addrStr(topicAddress(lg.Topics[2]))
	return SwapRecord{Swap: &types.SwapEvent{
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    uint64(lg.Index),
		ChainID:     pc.ChainID,
		PoolAddress: SyntheticPoolID(lg.Address, lg.Topics[1]),
		BlockNumber: lg.BlockNumber,
		BlockTime:   pc.BlockTime,
		Sender:      sender,
		Recipient:   sender,
		Amount0In:   a0In,
		Amount0Out:  a0Out,
		Amount1In:   a1In,
		Amount1Out:  a1Out,
		CreatedAt:   time.Now().UTC(),
	}}, nil
}

// parseV4ModifyLiquidity decodes
//
//	ModifyLiquidity(bytes32 indexed id, address indexed sender,
//	                int24 tickLower, int24 tickUpper,
//	                int256 liquidityDelta, bytes32 salt)
func parseV4ModifyLiquidity(_ context.Context, pc *Context, lg gethtypes.Log) (Event, error) {
	if len(lg.Topics) < 3 {
		return nil, errors.Wrap(ErrNotParsable, "ModifyLiquidity needs id and sender topics")
	}
	tickLower, err := wordTick(lg.Data, 0)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	tickUpper, err := wordTick(lg.Data, 1)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	delta, err := wordSigned(lg.Data, 2, 256)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	salt, err := word(lg.Data, 3)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	return LiquidityRecord{Event: &types.LiquidityEvent{
		TxHash:         lg.TxHash.Hex(),
		LogIndex:       uint64(lg.Index),
		ChainID:        pc.ChainID,
		PoolAddress:    SyntheticPoolID(lg.Address, lg.Topics[1]),
		BlockNumber:    lg.BlockNumber,
		BlockTime:      pc.BlockTime,
		Sender:         addrStr(topicAddress(lg.Topics[2])),
		TickLower:      tickLower,
		TickUpper:      tickUpper,
		LiquidityDelta: dec(delta),
		Salt:           "0x" + hex.EncodeToString(salt),
		CreatedAt:      time.Now().UTC(),
	}}, nil
}
