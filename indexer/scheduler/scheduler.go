// Package scheduler computes the next block window for each stream and
// orders pools for the swap loop. Everything here is pure so windows are
// easy to reason about and test; loops live in the pipeline.
package scheduler

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dexstream/indexer/config/params"
	"github.com/dexstream/indexer/indexer/types"
)

var log = logrus.WithField("prefix", "scheduler")

// Window is an inclusive block range.
type Window struct {
	From uint64
	To   uint64
}

// Len is the number of blocks in the window.
func (w Window) Len() uint64 {
	return w.To - w.From + 1
}

// firstRunRecency bounds how far behind head a contract creation block may
// be and still anchor a first run.
const firstRunRecency = params.MaxScanWindow

// FirstRunStart picks where a creation stream starts when no cursor exists:
// the smallest creation block among enabled contracts that is at or before
// head and within the recency window; failing that, the newest declared
// creation block; failing that, max(head - recency, configuredStart).
// Creation blocks beyond head are misconfiguration and are dropped with a
// warning.
func FirstRunStart(contracts []params.ContractConfig, head, configuredStart uint64) uint64 {
	var usable []uint64
	var all []uint64
	for _, c := range contracts {
		if c.CreationBlock == 0 {
			continue
		}
		if c.CreationBlock > head {
			log.WithFields(logrus.Fields{
				"contract":       c.Name,
				"creation_block": c.CreationBlock,
				"head":           head,
			}).Warn("Contract creation block is beyond head, ignoring")
			continue
		}
		all = append(all, c.CreationBlock)
		if head-c.CreationBlock <= firstRunRecency {
			usable = append(usable, c.CreationBlock)
		}
	}
	if len(usable) > 0 {
		min := usable[0]
		for _, b := range usable[1:] {
			if b < min {
				min = b
			}
		}
		return min
	}
	if len(all) > 0 {
		max := all[0]
		for _, b := range all[1:] {
			if b > max {
				max = b
			}
		}
		return max
	}
	floor := uint64(0)
	if head > firstRunRecency {
		floor = head - firstRunRecency
	}
	if configuredStart > floor {
		return configuredStart
	}
	return floor
}

// CreationWindow computes the next window for the pool/coin-creation
// stream. ok is false when the stream is caught up to the confirmation
// horizon.
func CreationWindow(cursor *types.ProgressCursor, contracts []params.ContractConfig, head, configuredStart, maxBlocks, confirmations uint64) (Window, bool) {
	var from uint64
	if cursor != nil {
		from = cursor.LastProcessed + 1
	} else {
		from = FirstRunStart(contracts, head, configuredStart)
	}
	return clampWindow(from, head, maxBlocks, confirmations)
}

// SwapWindow computes the next window for one pool's swap/liquidity stream.
// A fresh pool starts at its creation block, but never further back than
// one full request window behind head.
func SwapWindow(cursor *types.ProgressCursor, poolCreationBlock, head, maxBlocks, confirmations uint64) (Window, bool) {
	var from uint64
	if cursor != nil {
		from = cursor.LastProcessed + 1
	} else {
		from = poolCreationBlock
		if head > maxBlocks && head-maxBlocks > from {
			from = head - maxBlocks
		}
	}
	return clampWindow(from, head, maxBlocks, confirmations)
}

func clampWindow(from, head, maxBlocks, confirmations uint64) (Window, bool) {
	if head < confirmations {
		return Window{}, false
	}
	horizon := head - confirmations
	to := from + maxBlocks - 1
	if to > horizon {
		to = horizon
	}
	if from > to {
		return Window{}, false
	}
	return Window{From: from, To: to}, true
}

// PrioritizePools orders pools for the swap loop: newest first, and among
// pools of similar age the one furthest behind head first, so fresh and
// lagging pools drain before settled ones.
func PrioritizePools(pools []*types.Pool, head uint64, now time.Time) {
	sort.SliceStable(pools, func(i, j int) bool {
		hi := int64(now.Sub(pools[i].CreationTime).Hours())
		hj := int64(now.Sub(pools[j].CreationTime).Hours())
		if hi != hj {
			return hi < hj
		}
		return blocksBehind(pools[i], head) > blocksBehind(pools[j], head)
	})
}

func blocksBehind(pool *types.Pool, head uint64) uint64 {
	last := pool.LastIndexed
	if last == 0 {
		last = pool.CreationBlock
	}
	if head <= last {
		return 0
	}
	return head - last
}

// Batches splits pools into batches of size n for the swap worker pool.
func Batches(pools []*types.Pool, n int) [][]*types.Pool {
	if n <= 0 {
		n = 1
	}
	var out [][]*types.Pool
	for start := 0; start < len(pools); start += n {
		end := start + n
		if end > len(pools) {
			end = len(pools)
		}
		out = append(out, pools[start:end])
	}
	return out
}
