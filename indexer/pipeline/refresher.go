package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dexstream/indexer/config/params"
	"github.com/dexstream/indexer/indexer/db/iface"
	"github.com/dexstream/indexer/indexer/types"
)

var (
	slot0Selector       = crypto.Keccak256([]byte("slot0()"))[:4]
	liquiditySelector   = crypto.Keccak256([]byte("liquidity()"))[:4]
	getReservesSelector = crypto.Keccak256([]byte("getReserves()"))[:4]
)

// refreshInterval spaces pool-state refresh passes well apart; state reads
// are an enrichment, not part of the indexing critical path.
const refreshInterval = 5 * time.Minute

// Refresher periodically refreshes on-chain pool state (V3 slot0 and
// liquidity, V2 reserves) for a chain's active pools. It is feature-flagged
// and off by default.
type Refresher struct {
	chain  *params.ChainConfig
	client ChainClient
	db     iface.EntityStore

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logrus.Entry
}

// NewRefresher builds the optional pool-state refresher.
func NewRefresher(ctx context.Context, chain *params.ChainConfig, client ChainClient, db iface.EntityStore) *Refresher {
	ctx, cancel := context.WithCancel(ctx)
	return &Refresher{
		chain:  chain,
		client: client,
		db:     db,
		ctx:    ctx,
		cancel: cancel,
		log: logrus.WithFields(logrus.Fields{
			"prefix":   "refresher",
			"chain_id": chain.ChainID,
		}),
	}
}

// Start launches the refresh loop.
func (r *Refresher) Start() {
	r.log.Info("Starting pool state refresher")
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			if err := r.refreshAll(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.WithError(err).Warn("Pool state refresh pass failed")
			}
			if !sleepCtx(r.ctx, refreshInterval) {
				return
			}
		}
	}()
}

// Stop cancels the loop.
func (r *Refresher) Stop() error {
	r.cancel()
	r.wg.Wait()
	return nil
}

// Status is always healthy; refresh failures only log.
func (r *Refresher) Status() error { return nil }

func (r *Refresher) refreshAll(ctx context.Context) error {
	pools, err := r.db.PoolsByChain(ctx, r.chain.ChainID)
	if err != nil {
		return errors.Wrap(err, "could not enumerate pools for refresh")
	}
	for _, pool := range pools {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.refreshPool(ctx, pool); err != nil {
			r.log.WithError(err).WithField("pool", pool.PoolAddress).Debug("Could not refresh pool state")
		}
	}
	return nil
}

func (r *Refresher) refreshPool(ctx context.Context, pool *types.Pool) error {
	switch pool.Protocol {
	case types.ProtocolUniswapV3, types.ProtocolSushiV3, types.ProtocolPancakeV3:
		return r.refreshV3(ctx, pool)
	case types.ProtocolUniswapV2, types.ProtocolSushiV2, types.ProtocolPancakeV2, types.ProtocolAerodrome:
		return r.refreshV2(ctx, pool)
	default:
		return nil
	}
}

// refreshV3 reads slot0() and liquidity() from the pool contract.
func (r *Refresher) refreshV3(ctx context.Context, pool *types.Pool) error {
	addr := common.HexToAddress(pool.PoolAddress)
	slot0, err := r.client.CallContract(ctx, addr, slot0Selector)
	if err != nil {
		return errors.Wrap(err, "slot0 call failed")
	}
	if len(slot0) < 2*32 {
		return errors.New("short slot0 return")
	}
	sqrtPrice := new(big.Int).SetBytes(slot0[:32])
	tickRaw := uint32(slot0[61])<<16 | uint32(slot0[62])<<8 | uint32(slot0[63])
	tick := int32(tickRaw<<8) >> 8 // arithmetic shift sign-extends the int24

	liq, err := r.client.CallContract(ctx, addr, liquiditySelector)
	if err != nil {
		return errors.Wrap(err, "liquidity call failed")
	}
	if len(liq) < 32 {
		return errors.New("short liquidity return")
	}

	pool.SqrtPriceX96 = sqrtPrice.String()
	pool.CurrentTick = fmt.Sprintf("%d", tick)
	pool.Liquidity = new(big.Int).SetBytes(liq[:32]).String()
	return r.db.UpsertPool(ctx, pool)
}

// refreshV2 reads getReserves() from the pair contract.
func (r *Refresher) refreshV2(ctx context.Context, pool *types.Pool) error {
	addr := common.HexToAddress(pool.PoolAddress)
	out, err := r.client.CallContract(ctx, addr, getReservesSelector)
	if err != nil {
		return errors.Wrap(err, "getReserves call failed")
	}
	if len(out) < 3*32 {
		return errors.New("short getReserves return")
	}
	pool.Reserve0 = new(big.Int).SetBytes(out[:32]).String()
	pool.Reserve1 = new(big.Int).SetBytes(out[32:64]).String()
	return r.db.UpsertPool(ctx, pool)
}
