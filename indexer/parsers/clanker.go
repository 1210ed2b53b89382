package parsers

import (
	"context"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/dexstream/indexer/indexer/types"
)

// clankerABI is the full ABI of the Clanker TokenCreated event: two indexed
// addresses plus a twelve-field payload.
const clankerABI = `[{
	"anonymous": false,
	"name": "TokenCreated",
	"type": "event",
	"inputs": [
		{"indexed": true,  "name": "tokenAddress",  "type": "address"},
		{"indexed": true,  "name": "tokenAdmin",    "type": "address"},
		{"indexed": false, "name": "tokenImage",    "type": "string"},
		{"indexed": false, "name": "tokenName",     "type": "string"},
		{"indexed": false, "name": "tokenSymbol",   "type": "string"},
		{"indexed": false, "name": "tokenMetadata", "type": "string"},
		{"indexed": false, "name": "tokenContext",  "type": "string"},
		{"indexed": false, "name": "startingTick",  "type": "int24"},
		{"indexed": false, "name": "poolHook",      "type": "address"},
		{"indexed": false, "name": "poolId",        "type": "bytes32"},
		{"indexed": false, "name": "pairedToken",   "type": "address"},
		{"indexed": false, "name": "locker",        "type": "address"},
		{"indexed": false, "name": "mevModule",     "type": "address"},
		{"indexed": false, "name": "tokenSupply",   "type": "uint256"}
	]
}]`

var clankerParsedABI = mustABI(clankerABI)

type clankerEvent struct {
	TokenImage    string
	TokenName     string
	TokenSymbol   string
	TokenMetadata string
	TokenContext  string
	StartingTick  *big.Int
	PoolHook      common.Address
	PoolId        [32]byte
	PairedToken   common.Address
	Locker        common.Address
	MevModule     common.Address
	TokenSupply   *big.Int
}

// parseClankerTokenCreated decodes a Clanker launch. String fields that
// arrive empty stay empty strings; only well-formed tokenMetadata JSON is
// parsed into structured form.
func parseClankerTokenCreated(_ context.Context, pc *Context, lg gethtypes.Log) (Event, error) {
	if len(lg.Topics) < 3 {
		return nil, errors.Wrap(ErrNotParsable, "TokenCreated needs tokenAddress and tokenAdmin topics")
	}
	ev := &clankerEvent{}
	if err := clankerParsedABI.UnpackIntoInterface(ev, "TokenCreated", lg.Data); err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}

	metadata := map[string]interface{}{
		"token_image":   ev.TokenImage,
		"token_context": ev.TokenContext,
		"metadata_raw":  ev.TokenMetadata,
		"starting_tick": dec(ev.StartingTick),
		"pool_hook":     addrStr(ev.PoolHook),
		"paired_token":  addrStr(ev.PairedToken),
		"locker":        addrStr(ev.Locker),
		"mev_module":    addrStr(ev.MevModule),
		"token_supply":  dec(ev.TokenSupply),
	}
	if parsed := bestEffortJSON(ev.TokenMetadata); parsed != nil {
		metadata["metadata"] = parsed
	}

	// The launch pool lives in the V4 singleton; the synthetic id is keyed
	// by the pool manager, not by the hook the pool was created with.
	pools := []string{"0x" + hex.EncodeToString(ev.PoolId[:])}
	if pc.V4Manager != (common.Address{}) {
		pools = []string{SyntheticPoolID(pc.V4Manager, common.BytesToHash(ev.PoolId[:]))}
	}

	now := time.Now().UTC()
	return CoinCreation{Token: &types.Token{
		ChainID:        pc.ChainID,
		TokenAddress:   addrStr(topicAddress(lg.Topics[1])),
		Source:         types.SourceClanker,
		Name:           ev.TokenName,
		Symbol:         ev.TokenSymbol,
		Creator:        addrStr(topicAddress(lg.Topics[2])),
		Admin:          addrStr(topicAddress(lg.Topics[2])),
		Pools:          pools,
		Metadata:       metadata,
		CreationBlock:  lg.BlockNumber,
		CreationTxHash: lg.TxHash.Hex(),
		CreationTime:   pc.BlockTime,
		Status:         "active",
		CreatedAt:      now,
		UpdatedAt:      now,
	}}, nil
}
