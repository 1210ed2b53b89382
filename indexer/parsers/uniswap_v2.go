package parsers

import (
	"context"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/dexstream/indexer/indexer/types"
)

// parseV2PairCreated decodes the V2-family factory event
//
//	PairCreated(address indexed token0, address indexed token1, address pair, uint256)
//
// shared by Uniswap V2, SushiSwap V2, PancakeSwap V2 and Aerodrome; the
// protocol variant comes from the binding's parser ID.
func parseV2PairCreated(_ context.Context, pc *Context, lg gethtypes.Log) (Event, error) {
	if len(lg.Topics) < 3 {
		return nil, errors.Wrap(ErrNotParsable, "PairCreated needs two indexed tokens")
	}
	pair, err := wordAddress(lg.Data, 0)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	now := time.Now().UTC()
	return PoolCreation{Pool: &types.Pool{
		ChainID:        pc.ChainID,
		PoolAddress:    addrStr(pair),
		Protocol:       pc.Protocol,
		Token0Address:  addrStr(topicAddress(lg.Topics[1])),
		Token1Address:  addrStr(topicAddress(lg.Topics[2])),
		FactoryAddress: addrStr(lg.Address),
		CreationBlock:  lg.BlockNumber,
		CreationTxHash: lg.TxHash.Hex(),
		CreationTime:   pc.BlockTime,
		Status:         types.PoolActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}, nil
}

// parseV2Swap decodes
//
//	Swap(address indexed sender, uint256 amount0In, uint256 amount1In,
//	     uint256 amount0Out, uint256 amount1Out, address indexed to)
//
// All four amounts are unsigned.
func parseV2Swap(_ context.Context, pc *Context, lg gethtypes.Log) (Event, error) {
	if len(lg.Topics) < 3 {
		return nil, errors.Wrap(ErrNotParsable, "V2 Swap needs sender and recipient topics")
	}
	amount0In, err := wordUint(lg.Data, 0)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	amount1In, err := wordUint(lg.Data, 1)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	amount0Out, err := wordUint(lg.Data, 2)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	amount1Out, err := wordUint(lg.Data, 3)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	return SwapRecord{Swap: &types.SwapEvent{
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    uint64(lg.Index),
		ChainID:     pc.ChainID,
		PoolAddress: addrStr(lg.Address),
		BlockNumber: lg.BlockNumber,
		BlockTime:   pc.BlockTime,
		Sender:      addrStr(topicAddress(lg.Topics[1])),
		Recipient:   addrStr(topicAddress(lg.Topics[2])),
		Amount0In:   dec(amount0In),
		Amount0Out:  dec(amount0Out),
		Amount1In:   dec(amount1In),
		Amount1Out:  dec(amount1Out),
		CreatedAt:   time.Now().UTC(),
	}}, nil
}
