package pipeline

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/dexstream/indexer/indexer/parsers"
	"github.com/dexstream/indexer/indexer/types"
)

// handleEvent persists one decoded record and fans it out to the sinks.
// The dedup marker is only written after the store commit; if the store
// write fails no marker survives, so a retry can proceed.
func (s *Service) handleEvent(ctx context.Context, ev parsers.Event) error {
	switch e := ev.(type) {
	case parsers.PoolCreation:
		return s.handlePoolCreation(ctx, e.Pool)
	case parsers.CoinCreation:
		return s.handleCoinCreation(ctx, e.Token)
	case parsers.SwapRecord:
		return s.handleSwap(ctx, e.Swap)
	case parsers.LiquidityRecord:
		return s.handleLiquidity(ctx, e.Event)
	default:
		return errors.Errorf("unknown event type %T", ev)
	}
}

func (s *Service) handlePoolCreation(ctx context.Context, pool *types.Pool) error {
	unlock := s.guard.lock(fmt.Sprintf("pool:%d:%s", pool.ChainID, pool.PoolAddress))
	defer unlock()

	processed, err := s.cfg.Dedup.IsPoolProcessed(ctx, pool.ChainID, pool.PoolAddress)
	if err != nil {
		s.log.WithError(err).Warn("Could not check pool dedup marker, proceeding")
	}
	if processed {
		return nil
	}
	if err := s.cfg.DB.UpsertPool(ctx, pool); err != nil {
		entityErrorsCount.WithLabelValues(s.chainLabel(), "pool").Inc()
		return errors.Wrapf(err, "could not persist pool %s", pool.PoolAddress)
	}
	entitiesPersistedCount.WithLabelValues(s.chainLabel(), "pool").Inc()
	if err := s.cfg.Dedup.MarkPoolProcessed(ctx, pool.ChainID, pool.PoolAddress); err != nil {
		s.log.WithError(err).WithField("pool", pool.PoolAddress).Warn("Could not write pool dedup marker")
	}

	// Hand the new pool to the swap loop so its backfill starts without
	// waiting for the next enumeration tick.
	select {
	case s.backfill <- pool:
	default:
	}

	if s.cfg.Notifier != nil {
		s.cfg.Notifier.NotifyPoolCreated(ctx, pool, s.cfg.Chain.Name)
	}
	s.log.WithFields(map[string]interface{}{
		"pool":     pool.PoolAddress,
		"protocol": pool.Protocol,
		"block":    pool.CreationBlock,
	}).Info("New pool indexed")
	return nil
}

func (s *Service) handleCoinCreation(ctx context.Context, token *types.Token) error {
	unlock := s.guard.lock(fmt.Sprintf("token:%d:%s", token.ChainID, token.TokenAddress))
	defer unlock()

	// The in-flight guard keeps two workers from racing the same token;
	// it is not a persistence marker.
	acquired, err := s.cfg.Dedup.BeginTokenWork(ctx, token.ChainID, token.TokenAddress)
	if err != nil {
		s.log.WithError(err).Warn("Could not take token in-flight guard, proceeding")
	} else if !acquired {
		return nil
	}
	defer func() {
		if err := s.cfg.Dedup.EndTokenWork(ctx, token.ChainID, token.TokenAddress); err != nil {
			s.log.WithError(err).Debug("Could not release token in-flight guard")
		}
	}()

	if err := s.cfg.DB.UpsertToken(ctx, token); err != nil {
		entityErrorsCount.WithLabelValues(s.chainLabel(), "token").Inc()
		return errors.Wrapf(err, "could not persist token %s", token.TokenAddress)
	}
	entitiesPersistedCount.WithLabelValues(s.chainLabel(), "token").Inc()

	if s.cfg.Publisher != nil {
		if err := s.cfg.Publisher.PublishTokenCreated(ctx, token.ChainID, token); err != nil {
			s.log.WithError(err).Warn("Could not publish token created message")
		}
		if err := s.cfg.Publisher.PublishTokenAuditRequest(ctx, token.ChainID, token); err != nil {
			s.log.WithError(err).Warn("Could not publish token audit request")
		}
	}
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.NotifyTokenCreated(ctx, token, s.cfg.Chain.Name)
	}
	s.log.WithFields(map[string]interface{}{
		"token":  token.TokenAddress,
		"source": token.Source,
		"block":  token.CreationBlock,
	}).Info("New token indexed")
	return nil
}

func (s *Service) handleSwap(ctx context.Context, swap *types.SwapEvent) error {
	processed, err := s.cfg.Dedup.IsSwapProcessed(ctx, swap.TxHash, swap.LogIndex)
	if err != nil {
		s.log.WithError(err).Warn("Could not check swap dedup marker, proceeding")
	}
	if processed {
		return nil
	}
	if err := s.cfg.DB.InsertSwap(ctx, swap); err != nil {
		entityErrorsCount.WithLabelValues(s.chainLabel(), "swap").Inc()
		return errors.Wrapf(err, "could not persist swap %s:%d", swap.TxHash, swap.LogIndex)
	}
	entitiesPersistedCount.WithLabelValues(s.chainLabel(), "swap").Inc()
	if err := s.cfg.Dedup.MarkSwapProcessed(ctx, swap.TxHash, swap.LogIndex); err != nil {
		s.log.WithError(err).Debug("Could not write swap dedup marker")
	}
	return nil
}

func (s *Service) handleLiquidity(ctx context.Context, ev *types.LiquidityEvent) error {
	processed, err := s.cfg.Dedup.IsSwapProcessed(ctx, ev.TxHash, ev.LogIndex)
	if err != nil {
		s.log.WithError(err).Warn("Could not check liquidity dedup marker, proceeding")
	}
	if processed {
		return nil
	}
	if err := s.cfg.DB.InsertLiquidity(ctx, ev); err != nil {
		entityErrorsCount.WithLabelValues(s.chainLabel(), "liquidity").Inc()
		return errors.Wrapf(err, "could not persist liquidity event %s:%d", ev.TxHash, ev.LogIndex)
	}
	entitiesPersistedCount.WithLabelValues(s.chainLabel(), "liquidity").Inc()
	if err := s.cfg.Dedup.MarkSwapProcessed(ctx, ev.TxHash, ev.LogIndex); err != nil {
		s.log.WithError(err).Debug("Could not write liquidity dedup marker")
	}
	return nil
}
