package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/dexstream/indexer/indexer/cache"
	"github.com/dexstream/indexer/indexer/parsers"
	"github.com/dexstream/indexer/indexer/scheduler"
	"github.com/dexstream/indexer/indexer/types"
)

// swapTick runs one pass of the per-pool swap/liquidity stream: enumerate
// the chain's pools, order them so fresh and lagging pools drain first, and
// work through them in bounded batches. Each pool is guarded by its own
// cross-worker lock; contested pools are skipped quietly.
func (s *Service) swapTick(ctx context.Context) error {
	head, err := s.cfg.Client.LatestBlock(ctx)
	if err != nil {
		return errors.Wrap(err, "could not fetch chain head")
	}

	pools, err := s.cfg.DB.PoolsByChain(ctx, s.cfg.Chain.ChainID)
	if err != nil {
		return errors.Wrap(err, "could not enumerate pools")
	}
	pools = s.mergeBackfill(pools)
	if len(pools) == 0 {
		return nil
	}
	scheduler.PrioritizePools(pools, head, time.Now().UTC())

	collector := newErrCollector()
	for _, batch := range scheduler.Batches(pools, s.cfg.Settings.WorkerPoolSize) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var wg sync.WaitGroup
		for _, pool := range batch {
			wg.Add(1)
			go func(pool *types.Pool) {
				defer wg.Done()
				if err := s.indexPool(ctx, pool, head); err != nil {
					collector.add(err)
				}
			}(pool)
		}
		wg.Wait()
	}
	return collector.err()
}

// mergeBackfill drains the immediate-backfill queue fed by the creation
// stream and unions it with the enumerated pools.
func (s *Service) mergeBackfill(pools []*types.Pool) []*types.Pool {
	seen := make(map[string]bool, len(pools))
	for _, p := range pools {
		seen[p.PoolAddress] = true
	}
	for {
		select {
		case p := <-s.backfill:
			if !seen[p.PoolAddress] {
				seen[p.PoolAddress] = true
				pools = append(pools, p)
			}
		default:
			return pools
		}
	}
}

// indexPool drains one pool's window under its stream lock.
func (s *Service) indexPool(ctx context.Context, pool *types.Pool, head uint64) error {
	lock, err := s.cfg.Locks.AcquireLock(ctx,
		cache.SwapIndexerLockKey(pool.ChainID, pool.PoolAddress), s.cfg.Settings.LockTimeout)
	if errors.Is(err, cache.ErrLockContested) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "could not acquire swap lock for %s", pool.PoolAddress)
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			s.log.WithError(err).WithField("pool", pool.PoolAddress).Warn("Could not release swap lock")
		}
	}()

	cursor, err := s.cfg.DB.Get(ctx, pool.ChainID, types.StreamSwaps, pool.PoolAddress)
	if err != nil {
		return errors.Wrap(err, "could not fetch swap cursor")
	}
	maxBlocks := s.cfg.Chain.BlockRangeCap(s.cfg.Settings.MaxBlocksPerRequest)
	w, ok := scheduler.SwapWindow(cursor, pool.CreationBlock, head, maxBlocks, s.cfg.Chain.ConfirmationBlocks)
	if !ok {
		return nil
	}

	logs, err := s.poolLogs(ctx, pool, w)
	if err != nil {
		s.recordStreamError(ctx, types.StreamSwaps, cursor, err)
		return err
	}
	if err := s.processLogs(ctx, types.StreamSwaps, logs, poolDispatch(pool)); err != nil {
		s.recordStreamError(ctx, types.StreamSwaps, cursor, err)
		return err
	}

	if err := s.cfg.DB.Upsert(ctx, pool.ChainID, types.StreamSwaps, pool.PoolAddress, w.To, types.CursorRunning, ""); err != nil {
		return errors.Wrap(err, "could not advance swap cursor")
	}
	if pool.Protocol == types.ProtocolUniswapV4 {
		if err := s.cfg.DB.Upsert(ctx, pool.ChainID, types.StreamLiquidity, pool.PoolAddress, w.To, types.CursorRunning, ""); err != nil {
			return errors.Wrap(err, "could not advance liquidity cursor")
		}
	}
	if err := s.cfg.DB.UpdatePoolStatus(ctx, pool.ChainID, pool.PoolAddress, types.PoolActive, w.To); err != nil {
		s.log.WithError(err).WithField("pool", pool.PoolAddress).Warn("Could not update pool indexing state")
	}
	return nil
}

// poolLogs queries the window's logs for one pool. V4 pools live inside
// the singleton manager and Balancer swaps are emitted by the vault, so
// those queries target the singleton address filtered by the poolId topic.
func (s *Service) poolLogs(ctx context.Context, pool *types.Pool, w scheduler.Window) ([]gethtypes.Log, error) {
	topics := parsers.PoolEventTopics(pool.Protocol)
	if len(topics) == 0 {
		return nil, nil
	}
	switch pool.Protocol {
	case types.ProtocolUniswapV4:
		manager, poolID, ok := parsers.SplitSyntheticPoolID(pool.PoolAddress)
		if !ok {
			return nil, errors.Errorf("malformed synthetic pool id %q", pool.PoolAddress)
		}
		return s.cfg.Client.FilterLogs(ctx, w.From, w.To,
			[]common.Address{manager}, [][]common.Hash{topics, {poolID}})
	case types.ProtocolBalancerV2:
		raw, _ := pool.Metadata["balancer_pool_id"].(string)
		if raw == "" || pool.FactoryAddress == "" {
			return nil, errors.Errorf("balancer pool %s has no vault pool id", pool.PoolAddress)
		}
		return s.cfg.Client.FilterLogs(ctx, w.From, w.To,
			[]common.Address{common.HexToAddress(pool.FactoryAddress)},
			[][]common.Hash{topics, {common.HexToHash(raw)}})
	}
	return s.cfg.Client.FilterLogs(ctx, w.From, w.To,
		[]common.Address{common.HexToAddress(pool.PoolAddress)}, [][]common.Hash{topics})
}

// poolDispatch routes a pool's logs by the protocol's fixed event table.
func poolDispatch(pool *types.Pool) dispatchFunc {
	table, _ := parsers.PoolEventTable(pool.Protocol)
	return func(lg gethtypes.Log) (parsers.ParseFunc, types.Protocol, bool) {
		if len(lg.Topics) == 0 {
			return nil, "", false
		}
		fn, ok := table[lg.Topics[0]]
		if !ok {
			return nil, "", false
		}
		return fn, pool.Protocol, true
	}
}
