package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexstream/indexer/config/params"
	"github.com/dexstream/indexer/indexer/cache"
	dbtesting "github.com/dexstream/indexer/indexer/db/testing"
	"github.com/dexstream/indexer/indexer/parsers"
	"github.com/dexstream/indexer/indexer/types"
)

// fakeChain is a scripted ChainClient.
type fakeChain struct {
	mu         sync.Mutex
	head       uint64
	logs       map[common.Address][]gethtypes.Log
	failFilter bool
}

func (f *fakeChain) LatestBlock(_ context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeChain) BlockTimestamp(_ context.Context, n uint64) (time.Time, error) {
	return time.Unix(int64(1_700_000_000+n), 0).UTC(), nil
}

func (f *fakeChain) FilterLogs(_ context.Context, from, to uint64, addresses []common.Address, _ [][]common.Hash) ([]gethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFilter {
		return nil, errors.New("injected getLogs failure")
	}
	var out []gethtypes.Log
	for _, addr := range addresses {
		for _, lg := range f.logs[addr] {
			if lg.BlockNumber >= from && lg.BlockNumber <= to {
				out = append(out, lg)
			}
		}
	}
	return out, nil
}

func (f *fakeChain) CallContract(_ context.Context, _ common.Address, _ []byte) ([]byte, error) {
	return nil, errors.New("no contract calls scripted")
}

// fakeDedup is an in-memory DedupCache.
type fakeDedup struct {
	mu       sync.Mutex
	pools    map[string]bool
	swaps    map[string]bool
	inflight map[string]bool
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{
		pools:    make(map[string]bool),
		swaps:    make(map[string]bool),
		inflight: make(map[string]bool),
	}
}

func (f *fakeDedup) poolKey(chainID uint64, addr string) string { return fmt.Sprintf("%d:%s", chainID, addr) }
func (f *fakeDedup) swapKey(tx string, i uint64) string         { return fmt.Sprintf("%s:%d", tx, i) }

func (f *fakeDedup) IsPoolProcessed(_ context.Context, chainID uint64, addr string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pools[f.poolKey(chainID, addr)], nil
}

func (f *fakeDedup) MarkPoolProcessed(_ context.Context, chainID uint64, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools[f.poolKey(chainID, addr)] = true
	return nil
}

func (f *fakeDedup) IsSwapProcessed(_ context.Context, tx string, i uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swaps[f.swapKey(tx, i)], nil
}

func (f *fakeDedup) MarkSwapProcessed(_ context.Context, tx string, i uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swaps[f.swapKey(tx, i)] = true
	return nil
}

func (f *fakeDedup) BeginTokenWork(_ context.Context, chainID uint64, addr string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.poolKey(chainID, addr)
	if f.inflight[key] {
		return false, nil
	}
	f.inflight[key] = true
	return true, nil
}

func (f *fakeDedup) EndTokenWork(_ context.Context, chainID uint64, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inflight, f.poolKey(chainID, addr))
	return nil
}

// fakeLocks grants every lock unless contested is set.
type fakeLocks struct {
	contested bool
}

type fakeLock struct{}

func (fakeLock) Release(_ context.Context) error { return nil }

func (f *fakeLocks) AcquireLock(_ context.Context, _ string, _ time.Duration) (StreamLock, error) {
	if f.contested {
		return nil, cache.ErrLockContested
	}
	return fakeLock{}, nil
}

var (
	factoryAddr = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	token0Addr  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	token1Addr  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	pairAddr    = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
)

const pairCreatedSig = "PairCreated(address,address,address,uint256)"

func testChainCfg() *params.ChainConfig {
	return &params.ChainConfig{
		ChainID:            1,
		Name:               "Ethereum",
		RPCURLs:            []string{"stub"},
		StartBlock:         100,
		ConfirmationBlocks: 5,
		Contracts: map[string]params.ContractConfig{
			"uniswap_v2_factory": {
				Name:          "uniswap_v2_factory",
				Address:       factoryAddr.Hex(),
				CreationBlock: 100,
				Events: map[string]params.EventConfig{
					"PairCreated": {Signature: pairCreatedSig, Parser: "uniswap_v2"},
				},
			},
		},
	}
}

func padAddress(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}

func pairCreatedLog(block uint64) gethtypes.Log {
	data := append(padAddress(pairAddr), make([]byte, 32)...)
	return gethtypes.Log{
		Address: factoryAddr,
		Topics: []common.Hash{
			keccakTopic(pairCreatedSig),
			common.BytesToHash(token0Addr.Bytes()),
			common.BytesToHash(token1Addr.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash("0xbeef"),
		Index:       1,
	}
}

func keccakTopic(sig string) common.Hash {
	return crypto.Keccak256Hash([]byte(sig))
}

func newTestService(t *testing.T, chain *fakeChain, db *dbtesting.Store, dedup *fakeDedup, locks *fakeLocks) *Service {
	t.Helper()
	cfg := testChainCfg()
	settings := params.DefaultSettings()
	settings.WorkerInterval = 10 * time.Millisecond
	return New(context.Background(), &Config{
		Chain:    cfg,
		Settings: settings,
		Client:   chain,
		DB:       db,
		Dedup:    dedup,
		Locks:    locks,
		Registry: parsers.NewRegistry(cfg),
	})
}

func TestCreationTick_IndexesPoolAndAdvancesCursors(t *testing.T) {
	chain := &fakeChain{
		head: 1200,
		logs: map[common.Address][]gethtypes.Log{factoryAddr: {pairCreatedLog(150)}},
	}
	db := dbtesting.NewStore()
	dedup := newFakeDedup()
	s := newTestService(t, chain, db, dedup, &fakeLocks{})

	require.NoError(t, s.creationTick(context.Background()))

	pool, err := db.PoolByAddress(context.Background(), 1, "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc")
	require.NoError(t, err)
	require.NotNil(t, pool)
	assert.Equal(t, types.ProtocolUniswapV2, pool.Protocol)
	assert.Equal(t, uint64(150), pool.CreationBlock)

	// Both creation-side cursors land on the window end: head - confirmations.
	for _, stream := range []types.Stream{types.StreamPools, types.StreamCoinTokens} {
		cursor, err := db.Get(context.Background(), 1, stream, "")
		require.NoError(t, err)
		require.NotNil(t, cursor, "missing %s cursor", stream)
		assert.Equal(t, uint64(1099), cursor.LastProcessed)
		assert.Equal(t, types.CursorRunning, cursor.Status)
	}

	processed, err := dedup.IsPoolProcessed(context.Background(), 1, pool.PoolAddress)
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestCreationTick_SecondPassIsIdempotent(t *testing.T) {
	chain := &fakeChain{
		head: 1200,
		logs: map[common.Address][]gethtypes.Log{factoryAddr: {pairCreatedLog(150)}},
	}
	db := dbtesting.NewStore()
	dedup := newFakeDedup()
	s := newTestService(t, chain, db, dedup, &fakeLocks{})

	require.NoError(t, s.creationTick(context.Background()))
	require.Len(t, db.Pools, 1)

	// Replaying the same window (e.g. after a crash before the cursor write)
	// must not duplicate or error.
	require.NoError(t, db.Delete(context.Background(), 1, types.StreamPools, ""))
	require.NoError(t, s.creationTick(context.Background()))
	assert.Len(t, db.Pools, 1)
}

func TestCreationTick_ErrorDoesNotAdvanceCursor(t *testing.T) {
	chain := &fakeChain{head: 1200, failFilter: true, logs: map[common.Address][]gethtypes.Log{}}
	db := dbtesting.NewStore()
	s := newTestService(t, chain, db, newFakeDedup(), &fakeLocks{})

	// Pre-seed a cursor so the error path has something to mark.
	require.NoError(t, db.Upsert(context.Background(), 1, types.StreamPools, "", 500, types.CursorRunning, ""))

	err := s.creationTick(context.Background())
	require.Error(t, err)

	cursor, gerr := db.Get(context.Background(), 1, types.StreamPools, "")
	require.NoError(t, gerr)
	require.NotNil(t, cursor)
	assert.Equal(t, uint64(500), cursor.LastProcessed)
	assert.Equal(t, types.CursorError, cursor.Status)
	assert.NotEmpty(t, cursor.ErrorMessage)
}

func TestCreationTick_FirstRunErrorLeavesCursorAbsent(t *testing.T) {
	chain := &fakeChain{head: 1200, failFilter: true, logs: map[common.Address][]gethtypes.Log{}}
	db := dbtesting.NewStore()
	s := newTestService(t, chain, db, newFakeDedup(), &fakeLocks{})

	require.Error(t, s.creationTick(context.Background()))

	cursor, err := db.Get(context.Background(), 1, types.StreamPools, "")
	require.NoError(t, err)
	assert.Nil(t, cursor, "a failed first run must not materialize a cursor")
}

func TestCreationTick_LockContested(t *testing.T) {
	chain := &fakeChain{head: 1200, logs: map[common.Address][]gethtypes.Log{factoryAddr: {pairCreatedLog(150)}}}
	db := dbtesting.NewStore()
	s := newTestService(t, chain, db, newFakeDedup(), &fakeLocks{contested: true})

	require.NoError(t, s.creationTick(context.Background()))
	assert.Empty(t, db.Pools)
}

func TestHandlePoolCreation_MarkerOnlyAfterPersist(t *testing.T) {
	db := dbtesting.NewStore()
	db.FailPoolWrites = true
	dedup := newFakeDedup()
	s := newTestService(t, &fakeChain{}, db, dedup, &fakeLocks{})

	pool := &types.Pool{ChainID: 1, PoolAddress: "0xpool", Protocol: types.ProtocolUniswapV2, Status: types.PoolActive}
	require.Error(t, s.handlePoolCreation(context.Background(), pool))

	processed, err := dedup.IsPoolProcessed(context.Background(), 1, "0xpool")
	require.NoError(t, err)
	assert.False(t, processed, "dedup marker must not be written when the store write failed")

	// After the store recovers the same event goes through and marks.
	db.FailPoolWrites = false
	require.NoError(t, s.handlePoolCreation(context.Background(), pool))
	processed, err = dedup.IsPoolProcessed(context.Background(), 1, "0xpool")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestHandlePoolCreation_SkipsMarkedPool(t *testing.T) {
	db := dbtesting.NewStore()
	dedup := newFakeDedup()
	require.NoError(t, dedup.MarkPoolProcessed(context.Background(), 1, "0xpool"))
	s := newTestService(t, &fakeChain{}, db, dedup, &fakeLocks{})

	pool := &types.Pool{ChainID: 1, PoolAddress: "0xpool", Status: types.PoolActive}
	require.NoError(t, s.handlePoolCreation(context.Background(), pool))
	assert.Empty(t, db.Pools)
}

func TestHandleSwap_MarkerOnlyAfterPersist(t *testing.T) {
	db := dbtesting.NewStore()
	db.FailSwapWrites = true
	dedup := newFakeDedup()
	s := newTestService(t, &fakeChain{}, db, dedup, &fakeLocks{})

	swap := &types.SwapEvent{TxHash: "0xbeef", LogIndex: 2, ChainID: 1, PoolAddress: "0xpool"}
	require.Error(t, s.handleSwap(context.Background(), swap))
	marked, err := dedup.IsSwapProcessed(context.Background(), "0xbeef", 2)
	require.NoError(t, err)
	assert.False(t, marked)

	db.FailSwapWrites = false
	require.NoError(t, s.handleSwap(context.Background(), swap))
	require.Len(t, db.Swaps, 1)
	marked, err = dedup.IsSwapProcessed(context.Background(), "0xbeef", 2)
	require.NoError(t, err)
	assert.True(t, marked)

	// A marked swap is a no-op even if the store forgot it.
	delete(db.Swaps, "0xbeef:2")
	require.NoError(t, s.handleSwap(context.Background(), swap))
	assert.Empty(t, db.Swaps)
}

func swapLog(pool common.Address, block uint64, logIndex uint) gethtypes.Log {
	amount := func(v int64) []byte {
		out := make([]byte, 32)
		big.NewInt(v).FillBytes(out)
		return out
	}
	data := append(amount(1000), amount(0)...)
	data = append(data, amount(0)...)
	data = append(data, amount(995)...)
	return gethtypes.Log{
		Address: pool,
		Topics: []common.Hash{
			parsers.PoolEventTopics(types.ProtocolUniswapV2)[0],
			common.BytesToHash(token0Addr.Bytes()),
			common.BytesToHash(token1Addr.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash("0xfeed"),
		Index:       logIndex,
	}
}

func TestSwapTick_IndexesPoolWindow(t *testing.T) {
	chain := &fakeChain{
		head: 1200,
		logs: map[common.Address][]gethtypes.Log{pairAddr: {swapLog(pairAddr, 1150, 4)}},
	}
	db := dbtesting.NewStore()
	pool := &types.Pool{
		ChainID:       1,
		PoolAddress:   "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc",
		Protocol:      types.ProtocolUniswapV2,
		CreationBlock: 1100,
		CreationTime:  time.Now().UTC(),
		Status:        types.PoolActive,
	}
	require.NoError(t, db.UpsertPool(context.Background(), pool))
	s := newTestService(t, chain, db, newFakeDedup(), &fakeLocks{})

	require.NoError(t, s.swapTick(context.Background()))

	require.Len(t, db.Swaps, 1)
	swap := db.Swaps["0x000000000000000000000000000000000000000000000000000000000000feed:4"]
	require.NotNil(t, swap)
	assert.Equal(t, "1000", swap.Amount0In)
	assert.Equal(t, "995", swap.Amount1Out)

	cursor, err := db.Get(context.Background(), 1, types.StreamSwaps, pool.PoolAddress)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, uint64(1195), cursor.LastProcessed)

	stored, err := db.PoolByAddress(context.Background(), 1, pool.PoolAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(1195), stored.LastIndexed)
}

func TestSwapTick_BalancerPoolUsesVault(t *testing.T) {
	vault := common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	idBytes := make([]byte, 32)
	copy(idBytes, pairAddr.Bytes())
	poolID := common.BytesToHash(idBytes)

	amount := func(v int64) []byte {
		out := make([]byte, 32)
		big.NewInt(v).FillBytes(out)
		return out
	}
	// Balancer swaps come from the vault keyed by poolId, never from the
	// pool's own address.
	vaultSwap := gethtypes.Log{
		Address: vault,
		Topics: []common.Hash{
			parsers.PoolEventTopics(types.ProtocolBalancerV2)[0],
			poolID,
			common.BytesToHash(token0Addr.Bytes()),
			common.BytesToHash(token1Addr.Bytes()),
		},
		Data:        append(amount(1000), amount(995)...),
		BlockNumber: 1150,
		TxHash:      common.HexToHash("0xfeed"),
		Index:       9,
	}
	chain := &fakeChain{
		head: 1200,
		logs: map[common.Address][]gethtypes.Log{vault: {vaultSwap}},
	}
	db := dbtesting.NewStore()
	pool := &types.Pool{
		ChainID:        1,
		PoolAddress:    "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc",
		Protocol:       types.ProtocolBalancerV2,
		FactoryAddress: "0xba12222222228d8ba445958a75a0704d566bf2c8",
		CreationBlock:  1100,
		CreationTime:   time.Now().UTC(),
		Status:         types.PoolActive,
		Metadata:       map[string]interface{}{"balancer_pool_id": poolID.Hex()},
	}
	require.NoError(t, db.UpsertPool(context.Background(), pool))
	s := newTestService(t, chain, db, newFakeDedup(), &fakeLocks{})

	require.NoError(t, s.swapTick(context.Background()))

	require.Len(t, db.Swaps, 1)
	swap := db.Swaps["0x000000000000000000000000000000000000000000000000000000000000feed:9"]
	require.NotNil(t, swap)
	assert.Equal(t, pool.PoolAddress, swap.PoolAddress)
	assert.Equal(t, "1000", swap.Amount0In)
	assert.Equal(t, "995", swap.Amount1Out)

	cursor, err := db.Get(context.Background(), 1, types.StreamSwaps, pool.PoolAddress)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, uint64(1195), cursor.LastProcessed)
}

func TestSwapTick_BackfillQueueDrained(t *testing.T) {
	chain := &fakeChain{head: 1200, logs: map[common.Address][]gethtypes.Log{}}
	db := dbtesting.NewStore()
	s := newTestService(t, chain, db, newFakeDedup(), &fakeLocks{})

	// A pool handed over by the creation stream but not yet enumerable.
	s.backfill <- &types.Pool{
		ChainID:       1,
		PoolAddress:   "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc",
		Protocol:      types.ProtocolUniswapV2,
		CreationBlock: 1190,
		CreationTime:  time.Now().UTC(),
		Status:        types.PoolActive,
	}
	require.NoError(t, s.swapTick(context.Background()))

	cursor, err := db.Get(context.Background(), 1, types.StreamSwaps, "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, uint64(1195), cursor.LastProcessed)
}

func TestSeedStaticPools(t *testing.T) {
	cfg := testChainCfg()
	cfg.Pools = []string{pairAddr.Hex()}
	db := dbtesting.NewStore()
	s := New(context.Background(), &Config{
		Chain:    cfg,
		Settings: params.DefaultSettings(),
		Client:   &fakeChain{},
		DB:       db,
		Dedup:    newFakeDedup(),
		Locks:    &fakeLocks{},
		Registry: parsers.NewRegistry(cfg),
	})

	s.seedStaticPools(context.Background())

	pool, err := db.PoolByAddress(context.Background(), 1, "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc")
	require.NoError(t, err)
	require.NotNil(t, pool)
	assert.Equal(t, types.ProtocolUniswapV2, pool.Protocol)
	assert.Equal(t, uint64(100), pool.CreationBlock)

	// The seeded pool is handed straight to the swap loop.
	select {
	case queued := <-s.backfill:
		assert.Equal(t, pool.PoolAddress, queued.PoolAddress)
	default:
		t.Fatal("seeded pool was not queued for backfill")
	}

	// Re-seeding is a no-op once the row exists.
	s.seedStaticPools(context.Background())
	assert.Len(t, db.Pools, 1)
}

func TestServiceStartStop(t *testing.T) {
	chain := &fakeChain{head: 1200, logs: map[common.Address][]gethtypes.Log{}}
	s := newTestService(t, chain, dbtesting.NewStore(), newFakeDedup(), &fakeLocks{})

	s.Start()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Stop())
	assert.NoError(t, s.Status())
}
