// Package pipeline runs the per-chain indexing streams: the factory-scoped
// pool/coin-creation stream and the pool-scoped swap/liquidity stream. Fan
// out is bounded at every level (contracts, blocks, entities) and a window's
// cursor is only advanced once all its work settled.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dexstream/indexer/config/params"
	"github.com/dexstream/indexer/indexer/db/iface"
	"github.com/dexstream/indexer/indexer/parsers"
	"github.com/dexstream/indexer/indexer/types"
)

// ChainClient is the RPC surface the pipeline needs from the transport.
type ChainClient interface {
	LatestBlock(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, n uint64) (time.Time, error)
	FilterLogs(ctx context.Context, from, to uint64, addresses []common.Address, topics [][]common.Hash) ([]gethtypes.Log, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// DedupCache is the marker surface from the short-lived key/value store.
// Markers are written strictly after the store commit, so a failed persist
// never leaves a marker behind and no removal path is needed.
type DedupCache interface {
	IsPoolProcessed(ctx context.Context, chainID uint64, addr string) (bool, error)
	MarkPoolProcessed(ctx context.Context, chainID uint64, addr string) error
	IsSwapProcessed(ctx context.Context, txHash string, logIndex uint64) (bool, error)
	MarkSwapProcessed(ctx context.Context, txHash string, logIndex uint64) error
	BeginTokenWork(ctx context.Context, chainID uint64, addr string) (bool, error)
	EndTokenWork(ctx context.Context, chainID uint64, addr string) error
}

// StreamLock is a held cross-worker mutex.
type StreamLock interface {
	Release(ctx context.Context) error
}

// Locks acquires cross-worker stream locks. Contention is reported as
// cache.ErrLockContested.
type Locks interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (StreamLock, error)
}

// Publisher is the bus sink. Failures never fail the pipeline.
type Publisher interface {
	PublishTokenCreated(ctx context.Context, chainID uint64, token *types.Token) error
	PublishTokenAuditRequest(ctx context.Context, chainID uint64, token *types.Token) error
}

// Notifier is the human-facing sink. Delivery is best effort.
type Notifier interface {
	NotifyPoolCreated(ctx context.Context, pool *types.Pool, chainName string)
	NotifyTokenCreated(ctx context.Context, token *types.Token, chainName string)
}

// Config wires one chain's pipeline service.
type Config struct {
	Chain     *params.ChainConfig
	Settings  *params.Settings
	Client    ChainClient
	DB        iface.Database
	Dedup     DedupCache
	Locks     Locks
	Registry  *parsers.Registry
	Publisher Publisher
	Notifier  Notifier
}

// Service drives both streams of one chain.
type Service struct {
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	guard    *keyedGuard
	backfill chan *types.Pool

	mu      sync.Mutex
	lastErr error

	log *logrus.Entry
}

// New builds the pipeline service for one chain.
func New(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		guard:    newKeyedGuard(),
		backfill: make(chan *types.Pool, 256),
		log: logrus.WithFields(logrus.Fields{
			"prefix":   "pipeline",
			"chain_id": cfg.Chain.ChainID,
		}),
	}
}

// Start launches the stream loops.
func (s *Service) Start() {
	s.log.WithField("chain", s.cfg.Chain.Name).Info("Starting chain pipeline")
	s.seedStaticPools(s.ctx)
	s.wg.Add(2)
	go s.runLoop(types.StreamPools, s.creationTick)
	go s.runLoop(types.StreamSwaps, s.swapTick)
}

// seedStaticPools registers the chain file's static pool list so chains
// without a watched factory still index swaps. Entries are assumed to expose
// the v2 pair interface; factory discovery overwrites these rows with richer
// data when a creation log surfaces later.
func (s *Service) seedStaticPools(ctx context.Context) {
	for _, addr := range s.cfg.Chain.Pools {
		a := strings.ToLower(common.HexToAddress(addr).Hex())
		existing, err := s.cfg.DB.PoolByAddress(ctx, s.cfg.Chain.ChainID, a)
		if err != nil {
			s.log.WithError(err).WithField("pool", a).Warn("Could not look up configured pool")
			continue
		}
		if existing != nil {
			continue
		}
		now := time.Now().UTC()
		pool := &types.Pool{
			ChainID:       s.cfg.Chain.ChainID,
			PoolAddress:   a,
			Protocol:      types.ProtocolUniswapV2,
			CreationBlock: s.cfg.Chain.StartBlock,
			CreationTime:  now,
			Status:        types.PoolActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.cfg.DB.UpsertPool(ctx, pool); err != nil {
			s.log.WithError(err).WithField("pool", a).Warn("Could not seed configured pool")
			continue
		}
		s.log.WithField("pool", a).Info("Seeded configured pool")
		select {
		case s.backfill <- pool:
		default:
		}
	}
}

// Stop cancels both loops and waits up to the shutdown budget for them to
// drain.
func (s *Service) Stop() error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(30 * time.Second):
		return errors.Errorf("chain %d pipeline did not stop in time", s.cfg.Chain.ChainID)
	}
}

// Status reports the last catastrophic stream error, if any.
func (s *Service) Status() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Service) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// runLoop drives one stream: tick, then interruptible sleep. Every tick
// failure is recorded on the service status and retried next tick.
func (s *Service) runLoop(stream types.Stream, tick func(context.Context) error) {
	defer s.wg.Done()
	slog := s.log.WithField("stream", stream)
	slog.Info("Stream loop starting")
	for {
		if s.ctx.Err() != nil {
			slog.Info("Stream loop stopped")
			return
		}
		if err := tick(s.ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				slog.Info("Stream loop stopped")
				return
			}
			s.setErr(err)
			slog.WithError(err).Error("Stream tick failed")
		} else {
			s.setErr(nil)
		}
		if !sleepCtx(s.ctx, s.cfg.Settings.WorkerInterval) {
			slog.Info("Stream loop stopped")
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
