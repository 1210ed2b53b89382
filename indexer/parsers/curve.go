package parsers

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/dexstream/indexer/indexer/types"
)

var coinsSelector = crypto.Keccak256([]byte("coins(uint256)"))[:4]

// curveMaxCoins caps the coins(i) enumeration; Curve pools hold at most
// eight coins in practice.
const curveMaxCoins = 8

// curveCoins enumerates a Curve pool's coins by calling coins(i) until the
// zero address (or a revert) comes back.
func curveCoins(ctx context.Context, caller ContractCaller, pool common.Address) ([]common.Address, error) {
	var coins []common.Address
	for i := 0; i < curveMaxCoins; i++ {
		arg := common.LeftPadBytes(big.NewInt(int64(i)).Bytes(), WordSize)
		data := append(append([]byte{}, coinsSelector...), arg...)
		out, err := caller.CallContract(ctx, pool, data)
		if err != nil {
			// Index out of range reverts on most Curve pools.
			break
		}
		if len(out) < WordSize {
			break
		}
		coin := common.BytesToAddress(out[12:WordSize])
		if coin == (common.Address{}) {
			break
		}
		coins = append(coins, coin)
	}
	if len(coins) == 0 {
		return nil, errors.New("pool reports no coins")
	}
	return coins, nil
}

// parseCurvePoolAdded decodes the registry/factory event
//
//	PoolAdded(address indexed pool)
//
// and fills the token list by enumerating coins(i) on the pool itself.
func parseCurvePoolAdded(ctx context.Context, pc *Context, lg gethtypes.Log) (Event, error) {
	var pool common.Address
	if len(lg.Topics) > 1 {
		pool = topicAddress(lg.Topics[1])
	} else {
		var err error
		pool, err = wordAddress(lg.Data, 0)
		if err != nil {
			return nil, errors.Wrap(ErrNotParsable, err.Error())
		}
	}

	var token0, token1 string
	if pc.Caller != nil {
		coins, err := curveCoins(ctx, pc.Caller, pool)
		if err != nil {
			log.WithError(err).WithField("pool", pool.Hex()).Warn("Could not enumerate Curve pool coins")
		} else {
			token0 = addrStr(coins[0])
			if len(coins) > 1 {
				token1 = addrStr(coins[1])
			}
		}
	}
	now := time.Now().UTC()
	return PoolCreation{Pool: &types.Pool{
		ChainID:        pc.ChainID,
		PoolAddress:    addrStr(pool),
		Protocol:       types.ProtocolCurve,
		Token0Address:  token0,
		Token1Address:  token1,
		FactoryAddress: addrStr(lg.Address),
		CreationBlock:  lg.BlockNumber,
		CreationTxHash: lg.TxHash.Hex(),
		CreationTime:   pc.BlockTime,
		Status:         types.PoolActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}, nil
}

// parseCurveTokenExchange decodes
//
//	TokenExchange(address indexed buyer, int128 sold_id, uint256 tokens_sold,
//	              int128 bought_id, uint256 tokens_bought)
//
// Coin indexes map onto the amount0/amount1 legs; indexes above 1 keep the
// leg of their parity.
func parseCurveTokenExchange(_ context.Context, pc *Context, lg gethtypes.Log) (Event, error) {
	if len(lg.Topics) < 2 {
		return nil, errors.Wrap(ErrNotParsable, "TokenExchange needs a buyer topic")
	}
	soldID, err := wordSigned(lg.Data, 0, 128)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	sold, err := wordUint(lg.Data, 1)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	boughtID, err := wordSigned(lg.Data, 2, 128)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	bought, err := wordUint(lg.Data, 3)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}

	swap := &types.SwapEvent{
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    uint64(lg.Index),
		ChainID:     pc.ChainID,
		PoolAddress: addrStr(lg.Address),
		BlockNumber: lg.BlockNumber,
		BlockTime:   pc.BlockTime,
		Sender:      addrStr(topicAddress(lg.Topics[1])),
		Recipient:   addrStr(topicAddress(lg.Topics[1])),
		Amount0In:   "0",
		Amount0Out:  "0",
		Amount1In:   "0",
		Amount1Out:  "0",
		CreatedAt:   time.Now().UTC(),
	}
	if soldID.Int64()%2 == 0 {
		swap.Amount0In = dec(sold)
	} else {
		swap.Amount1In = dec(sold)
	}
	if boughtID.Int64()%2 == 0 {
		swap.Amount0Out = dec(bought)
	} else {
		swap.Amount1Out = dec(bought)
	}
	return SwapRecord{Swap: swap}, nil
}
