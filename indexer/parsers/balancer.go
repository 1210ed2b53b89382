package parsers

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/dexstream/indexer/indexer/types"
)

var (
	getPoolTokensSelector = crypto.Keccak256([]byte("getPoolTokens(bytes32)"))[:4]
	getPoolTokensReturn   abi.Arguments
)

func init() {
	addressSlice, err := abi.NewType("address[]", "", nil)
	if err != nil {
		panic(err)
	}
	uintSlice, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	getPoolTokensReturn = abi.Arguments{
		{Name: "tokens", Type: addressSlice},
		{Name: "balances", Type: uintSlice},
		{Name: "lastChangeBlock", Type: uint256Ty},
	}
}

// vaultPoolTokens asks the Balancer vault for a pool's token list.
func vaultPoolTokens(ctx context.Context, caller ContractCaller, vault common.Address, poolID common.Hash) ([]common.Address, error) {
	data := append(append([]byte{}, getPoolTokensSelector...), poolID[:]...)
	out, err := caller.CallContract(ctx, vault, data)
	if err != nil {
		return nil, errors.Wrap(err, "getPoolTokens call failed")
	}
	vals, err := getPoolTokensReturn.Unpack(out)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode getPoolTokens return")
	}
	tokens, ok := vals[0].([]common.Address)
	if !ok {
		return nil, errors.New("unexpected getPoolTokens return shape")
	}
	return tokens, nil
}

// parseBalancerPoolRegistered decodes the vault event
//
//	PoolRegistered(bytes32 indexed poolId, address indexed poolAddress,
//	               uint8 specialization)
//
// The token list is not in the log; it comes from a secondary
// getPoolTokens call against the emitting vault.
func parseBalancerPoolRegistered(ctx context.Context, pc *Context, lg gethtypes.Log) (Event, error) {
	if len(lg.Topics) < 3 {
		return nil, errors.Wrap(ErrNotParsable, "PoolRegistered needs poolId and poolAddress topics")
	}
	poolID := lg.Topics[1]
	poolAddr := topicAddress(lg.Topics[2])

	var token0, token1 string
	if pc.Caller != nil {
		tokens, err := vaultPoolTokens(ctx, pc.Caller, lg.Address, poolID)
		if err != nil {
			log.WithError(err).WithField("pool", poolAddr.Hex()).Warn("Could not fetch Balancer pool tokens")
		} else {
			if len(tokens) > 0 {
				token0 = addrStr(tokens[0])
			}
			if len(tokens) > 1 {
				token1 = addrStr(tokens[1])
			}
		}
	}
	now := time.Now().UTC()
	return PoolCreation{Pool: &types.Pool{
		ChainID:        pc.ChainID,
		PoolAddress:    addrStr(poolAddr),
		Protocol:       types.ProtocolBalancerV2,
		Token0Address:  token0,
		Token1Address:  token1,
		FactoryAddress: addrStr(lg.Address),
		CreationBlock:  lg.BlockNumber,
		CreationTxHash: lg.TxHash.Hex(),
		CreationTime:   pc.BlockTime,
		Status:         types.PoolActive,
		Metadata: map[string]interface{}{
			"balancer_pool_id": "0x" + hex.EncodeToString(poolID[:]),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}}, nil
}

// parseBalancerSwap decodes the vault event
//
//	Swap(bytes32 indexed poolId, address indexed tokenIn,
//	     address indexed tokenOut, uint256 amountIn, uint256 amountOut)
//
// Balancer does not order tokens, so amountIn/amountOut map onto the
// amount0/amount1 legs.
func parseBalancerSwap(_ context.Context, pc *Context, lg gethtypes.Log) (Event, error) {
	if len(lg.Topics) < 4 {
		return nil, errors.Wrap(ErrNotParsable, "Balancer Swap needs poolId, tokenIn and tokenOut topics")
	}
	amountIn, err := wordUint(lg.Data, 0)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	amountOut, err := wordUint(lg.Data, 1)
	if err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}
	// A Balancer poolId embeds the pool address in its top 20 bytes.
	poolAddr := common.BytesToAddress(lg.Topics[1][:common.AddressLength])
	return SwapRecord{Swap: &types.SwapEvent{
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    uint64(lg.Index),
		ChainID:     pc.ChainID,
		PoolAddress: addrStr(poolAddr),
		BlockNumber: lg.BlockNumber,
		BlockTime:   pc.BlockTime,
		Sender:      addrStr(topicAddress(lg.Topics[2])),
		Recipient:   addrStr(topicAddress(lg.Topics[3])),
		Amount0In:   dec(amountIn),
		Amount0Out:  "0",
		Amount1In:   "0",
		Amount1Out:  dec(amountOut),
		CreatedAt:   time.Now().UTC(),
	}}, nil
}
