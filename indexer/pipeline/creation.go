package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/dexstream/indexer/indexer/cache"
	"github.com/dexstream/indexer/indexer/parsers"
	"github.com/dexstream/indexer/indexer/scheduler"
	"github.com/dexstream/indexer/indexer/types"
)

// creationTick runs one pass of the pool/coin-creation stream: acquire the
// chain-wide stream lock, compute the window, fan out over the catalog
// contracts, and advance the cursor only if the whole window settled.
func (s *Service) creationTick(ctx context.Context) error {
	lock, err := s.cfg.Locks.AcquireLock(ctx, cache.PoolIndexerLockKey(s.cfg.Chain.ChainID), s.cfg.Settings.LockTimeout)
	if errors.Is(err, cache.ErrLockContested) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "could not acquire creation stream lock")
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			s.log.WithError(err).Warn("Could not release creation stream lock")
		}
	}()

	head, err := s.cfg.Client.LatestBlock(ctx)
	if err != nil {
		return errors.Wrap(err, "could not fetch chain head")
	}
	cursor, err := s.cfg.DB.Get(ctx, s.cfg.Chain.ChainID, types.StreamPools, "")
	if err != nil {
		return errors.Wrap(err, "could not fetch creation cursor")
	}

	maxBlocks := s.cfg.Chain.BlockRangeCap(s.cfg.Settings.MaxBlocksPerRequest)
	w, ok := scheduler.CreationWindow(cursor, s.cfg.Chain.EnabledContracts(), head,
		s.cfg.Chain.StartBlock, maxBlocks, s.cfg.Chain.ConfirmationBlocks)
	if !ok {
		return nil
	}

	if err := s.processCreationWindow(ctx, w); err != nil {
		s.recordStreamError(ctx, types.StreamPools, cursor, err)
		return err
	}
	for _, stream := range []types.Stream{types.StreamPools, types.StreamCoinTokens} {
		if err := s.cfg.DB.Upsert(ctx, s.cfg.Chain.ChainID, stream, "", w.To, types.CursorRunning, ""); err != nil {
			return errors.Wrap(err, "could not advance creation cursor")
		}
		cursorBlockGauge.WithLabelValues(s.chainLabel(), string(stream)).Set(float64(w.To))
	}
	s.log.WithFields(map[string]interface{}{"from": w.From, "to": w.To}).Debug("Creation window processed")
	return nil
}

// recordStreamError marks the cursor errored without advancing it. A
// missing cursor is left missing so the first-run window stays intact.
func (s *Service) recordStreamError(ctx context.Context, stream types.Stream, cursor *types.ProgressCursor, cause error) {
	if cursor == nil {
		return
	}
	if err := s.cfg.DB.Upsert(ctx, s.cfg.Chain.ChainID, stream, cursor.Scope,
		cursor.LastProcessed, types.CursorError, cause.Error()); err != nil {
		s.log.WithError(err).Warn("Could not record stream error on cursor")
	}
}

// processCreationWindow queries every watched contract in parallel, bounded
// by the contract concurrency limit, and processes the returned logs.
func (s *Service) processCreationWindow(ctx context.Context, w scheduler.Window) error {
	sem := semaphore.NewWeighted(s.cfg.Settings.MaxConcurrentContracts)
	var wg sync.WaitGroup
	collector := newErrCollector()

	for _, addr := range s.cfg.Registry.Addresses() {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func(addr common.Address) {
			defer wg.Done()
			defer sem.Release(1)
			logs, err := s.cfg.Client.FilterLogs(ctx, w.From, w.To,
				[]common.Address{addr}, [][]common.Hash{s.cfg.Registry.TopicsFor(addr)})
			if err != nil {
				collector.add(errors.Wrapf(err, "could not query logs for %s", addr.Hex()))
				return
			}
			if err := s.processLogs(ctx, types.StreamPools, logs, s.registryDispatch); err != nil {
				collector.add(err)
			}
		}(addr)
	}
	wg.Wait()
	return collector.err()
}

// registryDispatch routes catalog-contract logs through the chain's
// decoder registry.
func (s *Service) registryDispatch(lg gethtypes.Log) (parsers.ParseFunc, types.Protocol, bool) {
	if len(lg.Topics) == 0 {
		return nil, "", false
	}
	binding, ok := s.cfg.Registry.Dispatch(lg.Address, lg.Topics[0])
	if !ok {
		return nil, "", false
	}
	return binding.Parse, binding.Protocol, true
}

type dispatchFunc func(lg gethtypes.Log) (parsers.ParseFunc, types.Protocol, bool)

// processLogs groups logs by block, processes blocks in bounded batches,
// fetches each block timestamp exactly once, and hands decoded records to
// the entity handlers. Decode failures are skipped; entity and block level
// failures are collected without aborting siblings.
func (s *Service) processLogs(ctx context.Context, stream types.Stream, logs []gethtypes.Log, dispatch dispatchFunc) error {
	if len(logs) == 0 {
		return nil
	}
	byBlock := make(map[uint64][]gethtypes.Log)
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		byBlock[lg.BlockNumber] = append(byBlock[lg.BlockNumber], lg)
	}
	blocks := make([]uint64, 0, len(byBlock))
	for b := range byBlock {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	collector := newErrCollector()
	batchSize := s.cfg.Settings.EventProcessingBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	sem := semaphore.NewWeighted(s.cfg.Settings.MaxConcurrentBlocks)
	for start := 0; start < len(blocks); start += batchSize {
		end := start + batchSize
		if end > len(blocks) {
			end = len(blocks)
		}
		var wg sync.WaitGroup
		for _, block := range blocks[start:end] {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			wg.Add(1)
			go func(block uint64) {
				defer wg.Done()
				defer sem.Release(1)
				if err := s.processBlock(ctx, stream, block, byBlock[block], dispatch); err != nil {
					collector.add(err)
				}
			}(block)
		}
		wg.Wait()
	}
	return collector.err()
}

// processBlock decodes and persists every log of one block. The block's
// timestamp is fetched once through the transport's cache.
func (s *Service) processBlock(ctx context.Context, stream types.Stream, block uint64, logs []gethtypes.Log, dispatch dispatchFunc) error {
	ts, err := s.cfg.Client.BlockTimestamp(ctx, block)
	if err != nil {
		return errors.Wrapf(err, "could not fetch timestamp for block %d", block)
	}

	collector := newErrCollector()
	var wg sync.WaitGroup
	for _, lg := range logs {
		fn, protocol, ok := dispatch(lg)
		if !ok {
			logsSkippedCount.WithLabelValues(s.chainLabel(), string(stream)).Inc()
			continue
		}
		pctx := &parsers.Context{
			ChainID:   s.cfg.Chain.ChainID,
			Protocol:  protocol,
			BlockTime: ts,
			Caller:    s.cfg.Client,
			V4Manager: s.cfg.Registry.V4Manager(),
		}
		ev, err := fn(ctx, pctx, lg)
		if err != nil {
			if errors.Is(err, parsers.ErrNotParsable) {
				logsSkippedCount.WithLabelValues(s.chainLabel(), string(stream)).Inc()
				s.log.WithError(err).WithFields(map[string]interface{}{
					"block": block,
					"tx":    lg.TxHash.Hex(),
				}).Debug("Skipping unparsable log")
				continue
			}
			collector.add(err)
			continue
		}
		logsProcessedCount.WithLabelValues(s.chainLabel(), string(stream)).Inc()
		wg.Add(1)
		go func(ev parsers.Event) {
			defer wg.Done()
			if err := s.handleEvent(ctx, ev); err != nil {
				collector.add(err)
			}
		}(ev)
	}
	wg.Wait()
	return collector.err()
}

func (s *Service) chainLabel() string {
	return fmt.Sprintf("%d", s.cfg.Chain.ChainID)
}

// errCollector accumulates sibling errors without cancelling anything.
type errCollector struct {
	mu   sync.Mutex
	errs []error
}

func newErrCollector() *errCollector {
	return &errCollector{}
}

func (c *errCollector) add(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

// err returns the first collected error, annotated with the total count.
func (c *errCollector) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) == 0 {
		return nil
	}
	if len(c.errs) == 1 {
		return c.errs[0]
	}
	return errors.Wrapf(c.errs[0], "and %d more errors", len(c.errs)-1)
}
