package parsers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/dexstream/indexer/indexer/types"
)

// creatorCoinABI is the full ABI of the CreatorCoinCreated event. The coin
// platform emits the V4 poolKey tuple the coin was launched into.
const creatorCoinABI = `[{
	"anonymous": false,
	"name": "CreatorCoinCreated",
	"type": "event",
	"inputs": [
		{"indexed": true,  "name": "caller",           "type": "address"},
		{"indexed": true,  "name": "payoutRecipient",  "type": "address"},
		{"indexed": true,  "name": "platformReferrer", "type": "address"},
		{"indexed": false, "name": "currency",         "type": "address"},
		{"indexed": false, "name": "uri",              "type": "string"},
		{"indexed": false, "name": "name",             "type": "string"},
		{"indexed": false, "name": "symbol",           "type": "string"},
		{"indexed": false, "name": "coin",             "type": "address"},
		{"indexed": false, "name": "poolKeyHash",      "type": "bytes32"},
		{"indexed": false, "name": "poolKey",          "type": "tuple", "components": [
			{"name": "currency0",   "type": "address"},
			{"name": "currency1",   "type": "address"},
			{"name": "fee",         "type": "uint24"},
			{"name": "tickSpacing", "type": "int24"},
			{"name": "hooks",       "type": "address"}
		]},
		{"indexed": false, "name": "version",          "type": "string"}
	]
}]`

var creatorCoinParsedABI = mustABI(creatorCoinABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

type creatorCoinEvent struct {
	Currency    common.Address
	Uri         string
	Name        string
	Symbol      string
	Coin        common.Address
	PoolKeyHash [32]byte
	PoolKey     struct {
		Currency0   common.Address
		Currency1   common.Address
		Fee         *big.Int
		TickSpacing *big.Int
		Hooks       common.Address
	}
	Version string
}

// bestEffortJSON parses a metadata payload into structured form; malformed
// payloads yield nil without failing the decode.
func bestEffortJSON(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// parseCreatorCoinCreated decodes a creator-coin launch. The
// platform-referrer zero address is normalized to absent.
func parseCreatorCoinCreated(_ context.Context, pc *Context, lg gethtypes.Log) (Event, error) {
	if len(lg.Topics) < 4 {
		return nil, errors.Wrap(ErrNotParsable, "CreatorCoinCreated needs caller, payoutRecipient and platformReferrer topics")
	}
	ev := &creatorCoinEvent{}
	if err := creatorCoinParsedABI.UnpackIntoInterface(ev, "CreatorCoinCreated", lg.Data); err != nil {
		return nil, errors.Wrap(ErrNotParsable, err.Error())
	}

	platformRef := topicAddress(lg.Topics[3])
	ref := ""
	if platformRef != (common.Address{}) {
		ref = addrStr(platformRef)
	}
	pools := []string{"0x" + hex.EncodeToString(ev.PoolKeyHash[:])}
	if pc.V4Manager != (common.Address{}) {
		pools = []string{SyntheticPoolID(pc.V4Manager, common.BytesToHash(ev.PoolKeyHash[:]))}
	}
	now := time.Now().UTC()
	return CoinCreation{Token: &types.Token{
		ChainID:         pc.ChainID,
		TokenAddress:    addrStr(ev.Coin),
		Source:          types.SourceCreatorCoin,
		Name:            ev.Name,
		Symbol:          ev.Symbol,
		Creator:         addrStr(topicAddress(lg.Topics[1])),
		PayoutRecipient: addrStr(topicAddress(lg.Topics[2])),
		PlatformRef:     ref,
		Pools:           pools,
		MetadataURI:     ev.Uri,
		Metadata: map[string]interface{}{
			"currency":     addrStr(ev.Currency),
			"version":      ev.Version,
			"pool_key": map[string]interface{}{
				"currency0":    addrStr(ev.PoolKey.Currency0),
				"currency1":    addrStr(ev.PoolKey.Currency1),
				"fee":          dec(ev.PoolKey.Fee),
				"tick_spacing": dec(ev.PoolKey.TickSpacing),
				"hooks":        addrStr(ev.PoolKey.Hooks),
			},
		},
		CreationBlock:  lg.BlockNumber,
		CreationTxHash: lg.TxHash.Hex(),
		CreationTime:   pc.BlockTime,
		Status:         "active",
		CreatedAt:      now,
		UpdatedAt:      now,
	}}, nil
}
