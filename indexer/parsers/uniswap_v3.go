package parsers

import (
	"context"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/dexstream/indexer/indexer/types"
)

// parseV3PoolCreated decodes the V3-family factory event
//
//	PoolCreated(address indexed token0, address indexed token1,
//	            uint24 indexed fee, int24 tickSpacing, address pool)
func parseV3PoolCreated(_ context.Context, pc *Context, lg gethtypes.Log) (Event, error) {
	if len(lg.Topics) < 4 {
		return nil, errors.Wrap(ErrNotParsable, "PoolCreated needs token0, token1 and fee topics")
	}
	tickSpacing, err := wordTick(lg.Data, 0)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	pool, err := wordAddress(lg.Data, 1)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	fee := topicUint(lg.Topics[3]).Uint64()
	spacing := int64(tickSpacing)
	now := time.Now().UTC()
	return PoolCreation{Pool: &types.Pool{
		ChainID:        pc.ChainID,
		PoolAddress:    addrStr(pool),
		Protocol:       pc.Protocol,
		Token0Address:  addrStr(topicAddress(lg.Topics[1])),
		Token1Address:  addrStr(topicAddress(lg.Topics[2])),
		FactoryAddress: addrStr(lg.Address),
		FeeTier:        &fee,
		TickSpacing:    &spacing,
		CreationBlock:  lg.BlockNumber,
		CreationTxHash: lg.TxHash.Hex(),
		CreationTime:   pc.BlockTime,
		Status:         types.PoolActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}, nil
}

// parseV3Swap decodes
//
//	Swap(address indexed sender, address indexed recipient, int256 amount0,
//	     int256 amount1, uint160 sqrtPriceX96, uint128 liquidity, int24 tick)
//
// amount0/amount1 are signed; the sign picks the in/out leg.
func parseV3Swap(_ context.Context, pc *Context, lg gethtypes.Log) (Event, error) {
	if len(lg.Topics) < 3 {
		return nil, errors.Wrap(ErrNotParsable, "V3 Swap needs sender and recipient topics")
	}
	amount0, err := wordSigned(lg.Data, 0, 256)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	amount1, err := wordSigned(lg.Data, 1, 256)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	a0In, a0Out := splitSigned(amount0)
	a1In, a1Out := splitSigned(amount1)
	return SwapRecord{Swap: &types.SwapEvent{
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    uint64(lg.Index),
		ChainID:     pc.ChainID,
		PoolAddress: addrStr(lg.Address),
		BlockNumber: lg.BlockNumber,
		BlockTime:   pc.BlockTime,
		Sender:      addrStr(topicAddress(lg.Topics[1])),
		Recipient:   addrStr(topicAddress(lg.Topics[2])),
		Amount0In:   a0In,
		Amount0Out:  a0Out,
		Amount1In:   a1In,
		Amount1Out:  a1Out,
		CreatedAt:   time.Now().UTC(),
	}}, nil
}
