package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexstream/indexer/config/params"
	"github.com/dexstream/indexer/indexer/types"
)

func contract(name string, creation uint64) params.ContractConfig {
	return params.ContractConfig{Name: name, CreationBlock: creation}
}

func TestFirstRunStart(t *testing.T) {
	head := uint64(20_000_000)

	t.Run("smallest recent creation block wins", func(t *testing.T) {
		contracts := []params.ContractConfig{
			contract("a", 12_000_000),
			contract("b", 15_000_000),
		}
		assert.Equal(t, uint64(12_000_000), FirstRunStart(contracts, head, 0))
	})

	t.Run("stale creation blocks fall back to the newest", func(t *testing.T) {
		contracts := []params.ContractConfig{
			contract("old", 1_000_000),
			contract("older", 500_000),
		}
		// Both are more than the recency window behind head.
		assert.Equal(t, uint64(1_000_000), FirstRunStart(contracts, head, 0))
	})

	t.Run("future creation blocks are dropped", func(t *testing.T) {
		contracts := []params.ContractConfig{
			contract("future", head+100),
			contract("sane", 15_000_000),
		}
		assert.Equal(t, uint64(15_000_000), FirstRunStart(contracts, head, 0))
	})

	t.Run("no declared blocks uses recency floor", func(t *testing.T) {
		assert.Equal(t, head-params.MaxScanWindow, FirstRunStart(nil, head, 0))
	})

	t.Run("configured start beats the floor", func(t *testing.T) {
		assert.Equal(t, uint64(19_000_000), FirstRunStart(nil, head, 19_000_000))
	})

	t.Run("short chain floors at zero", func(t *testing.T) {
		assert.Equal(t, uint64(0), FirstRunStart(nil, 5_000, 0))
	})
}

func cursorAt(block uint64) *types.ProgressCursor {
	return &types.ProgressCursor{LastProcessed: block}
}

func TestCreationWindow_Progression(t *testing.T) {
	contracts := []params.ContractConfig{contract("factory", 100)}

	// First pass with no cursor starts at the creation block.
	w, ok := CreationWindow(nil, contracts, 10_000, 0, 1000, 5)
	require.True(t, ok)
	assert.Equal(t, Window{From: 100, To: 1099}, w)

	// The next pass resumes one past the stored cursor.
	w, ok = CreationWindow(cursorAt(1099), contracts, 10_000, 0, 1000, 5)
	require.True(t, ok)
	assert.Equal(t, Window{From: 1100, To: 2099}, w)
}

func TestCreationWindow_ConfirmationHorizon(t *testing.T) {
	contracts := []params.ContractConfig{contract("factory", 100)}

	// Head is close: the window is truncated to head - confirmations.
	w, ok := CreationWindow(cursorAt(9_900), contracts, 10_000, 0, 1000, 5)
	require.True(t, ok)
	assert.Equal(t, Window{From: 9_901, To: 9_995}, w)

	// Caught up to the horizon: nothing to do.
	_, ok = CreationWindow(cursorAt(9_995), contracts, 10_000, 0, 1000, 5)
	assert.False(t, ok)

	// Head below the confirmation count is a degenerate chain.
	_, ok = CreationWindow(nil, contracts, 3, 0, 1000, 5)
	assert.False(t, ok)
}

func TestSwapWindow(t *testing.T) {
	// A fresh pool starts at its creation block.
	w, ok := SwapWindow(nil, 9_500, 10_000, 1000, 5)
	require.True(t, ok)
	assert.Equal(t, Window{From: 9_500, To: 9_995}, w)

	// A fresh but old pool never starts more than one request window back.
	w, ok = SwapWindow(nil, 1_000, 10_000, 1000, 5)
	require.True(t, ok)
	assert.Equal(t, Window{From: 9_000, To: 9_995}, w)

	// With a cursor the window resumes one past it.
	w, ok = SwapWindow(cursorAt(9_200), 1_000, 10_000, 1000, 5)
	require.True(t, ok)
	assert.Equal(t, Window{From: 9_201, To: 9_995}, w)
}

func TestWindowLen(t *testing.T) {
	w := Window{From: 100, To: 1099}
	assert.Equal(t, uint64(1000), w.Len())
}

func TestPrioritizePools(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	head := uint64(10_000)

	fresh := &types.Pool{PoolAddress: "fresh", CreationTime: now.Add(-30 * time.Minute), CreationBlock: 9_900, LastIndexed: 9_950}
	freshLagging := &types.Pool{PoolAddress: "fresh-lagging", CreationTime: now.Add(-45 * time.Minute), CreationBlock: 9_800, LastIndexed: 9_850}
	settled := &types.Pool{PoolAddress: "settled", CreationTime: now.Add(-100 * time.Hour), CreationBlock: 1_000, LastIndexed: 9_995}
	oldLagging := &types.Pool{PoolAddress: "old-lagging", CreationTime: now.Add(-100 * time.Hour), CreationBlock: 1_000, LastIndexed: 5_000}

	pools := []*types.Pool{settled, oldLagging, fresh, freshLagging}
	PrioritizePools(pools, head, now)

	// Both fresh pools share the zero-hour age bucket; the one further
	// behind head drains first. Old pools follow, again lag first.
	assert.Equal(t, "fresh-lagging", pools[0].PoolAddress)
	assert.Equal(t, "fresh", pools[1].PoolAddress)
	assert.Equal(t, "old-lagging", pools[2].PoolAddress)
	assert.Equal(t, "settled", pools[3].PoolAddress)
}

func TestBatches(t *testing.T) {
	pools := []*types.Pool{{}, {}, {}, {}, {}}
	batches := Batches(pools, 2)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[2], 1)

	assert.Len(t, Batches(pools, 0), 5)
	assert.Empty(t, Batches(nil, 2))
}
