package parsers

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexstream/indexer/config/params"
	"github.com/dexstream/indexer/indexer/types"
)

func testChainConfig() *params.ChainConfig {
	disabled := false
	return &params.ChainConfig{
		ChainID: 1,
		Name:    "Ethereum",
		RPCURLs: []string{"https://example.invalid"},
		Contracts: map[string]params.ContractConfig{
			"uniswap_v2_factory": {
				Address:       "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
				CreationBlock: 10000835,
				Events: map[string]params.EventConfig{
					"PairCreated": {
						Signature: "PairCreated(address,address,address,uint256)",
						Parser:    "uniswap_v2",
					},
				},
			},
			"disabled_factory": {
				Address:       "0x1F98431c8aD98523631AE4a59f267346ea31F984",
				CreationBlock: 12369621,
				Enabled:       &disabled,
				Events: map[string]params.EventConfig{
					"PoolCreated": {
						Signature: "PoolCreated(address,address,uint24,int24,address)",
						Parser:    "uniswap_v3",
					},
				},
			},
		},
	}
}

func TestNewRegistry_Dispatch(t *testing.T) {
	r := NewRegistry(testChainConfig())

	factory := common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	topic0 := crypto.Keccak256Hash([]byte("PairCreated(address,address,address,uint256)"))

	binding, ok := r.Dispatch(factory, topic0)
	require.True(t, ok)
	assert.Equal(t, "uniswap_v2_factory", binding.ContractName)
	assert.Equal(t, types.ProtocolUniswapV2, binding.Protocol)
	assert.NotNil(t, binding.Parse)

	_, ok = r.Dispatch(factory, common.HexToHash("0x01"))
	assert.False(t, ok)
	_, ok = r.Dispatch(common.HexToAddress("0x9999999999999999999999999999999999999999"), topic0)
	assert.False(t, ok)
}

func TestNewRegistry_SkipsDisabledContracts(t *testing.T) {
	r := NewRegistry(testChainConfig())
	assert.Len(t, r.Addresses(), 1)

	disabled := common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	assert.Empty(t, r.TopicsFor(disabled))
}

func TestNewRegistry_UnknownParserSkipped(t *testing.T) {
	cfg := testChainConfig()
	c := cfg.Contracts["uniswap_v2_factory"]
	c.Events["Bogus"] = params.EventConfig{Signature: "Bogus()", Parser: "not_a_parser"}
	cfg.Contracts["uniswap_v2_factory"] = c

	r := NewRegistry(cfg)
	factory := common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	assert.Len(t, r.TopicsFor(factory), 1)
}

func TestPoolEventTopics(t *testing.T) {
	v4 := PoolEventTopics(types.ProtocolUniswapV4)
	assert.Len(t, v4, 2)

	v2 := PoolEventTopics(types.ProtocolUniswapV2)
	require.Len(t, v2, 1)
	assert.Equal(t, topicV2Swap, v2[0])

	assert.Empty(t, PoolEventTopics(types.Protocol("unknown")))
}
