// Package testing provides an in-memory iface.Database for pipeline and
// scheduler tests.
package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dexstream/indexer/indexer/db/iface"
	"github.com/dexstream/indexer/indexer/types"
)

// Store is a map-backed iface.Database. Optional error hooks let tests
// inject write failures.
type Store struct {
	mu        sync.Mutex
	Pools     map[string]*types.Pool
	Tokens    map[string]*types.Token
	Swaps     map[string]*types.SwapEvent
	Liquidity map[string]*types.LiquidityEvent
	Cursors   map[string]*types.ProgressCursor

	// FailPoolWrites and friends make the corresponding writes error.
	FailPoolWrites  bool
	FailTokenWrites bool
	FailSwapWrites  bool
}

var _ = iface.Database(&Store{})

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		Pools:     make(map[string]*types.Pool),
		Tokens:    make(map[string]*types.Token),
		Swaps:     make(map[string]*types.SwapEvent),
		Liquidity: make(map[string]*types.LiquidityEvent),
		Cursors:   make(map[string]*types.ProgressCursor),
	}
}

func poolKey(chainID uint64, addr string) string  { return fmt.Sprintf("%d:%s", chainID, addr) }
func eventKey(tx string, logIndex uint64) string  { return fmt.Sprintf("%s:%d", tx, logIndex) }
func cursorKey(chainID uint64, stream types.Stream, scope string) string {
	return fmt.Sprintf("%d:%s:%s", chainID, stream, scope)
}

// UpsertPool stores a copy keyed by (chain_id, pool_address).
func (s *Store) UpsertPool(_ context.Context, pool *types.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPoolWrites {
		return fmt.Errorf("injected pool write failure")
	}
	cp := *pool
	s.Pools[poolKey(pool.ChainID, pool.PoolAddress)] = &cp
	return nil
}

// UpsertToken stores a copy keyed by (chain_id, token_address).
func (s *Store) UpsertToken(_ context.Context, token *types.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailTokenWrites {
		return fmt.Errorf("injected token write failure")
	}
	cp := *token
	s.Tokens[poolKey(token.ChainID, token.TokenAddress)] = &cp
	return nil
}

// InsertSwap is idempotent on (tx_hash, log_index).
func (s *Store) InsertSwap(_ context.Context, swap *types.SwapEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSwapWrites {
		return fmt.Errorf("injected swap write failure")
	}
	key := eventKey(swap.TxHash, swap.LogIndex)
	if _, ok := s.Swaps[key]; ok {
		return nil
	}
	cp := *swap
	s.Swaps[key] = &cp
	return nil
}

// InsertLiquidity is idempotent on (tx_hash, log_index).
func (s *Store) InsertLiquidity(_ context.Context, ev *types.LiquidityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := eventKey(ev.TxHash, ev.LogIndex)
	if _, ok := s.Liquidity[key]; ok {
		return nil
	}
	cp := *ev
	s.Liquidity[key] = &cp
	return nil
}

// UpdatePoolStatus mutates status and moves last_indexed_block forward.
func (s *Store) UpdatePoolStatus(_ context.Context, chainID uint64, poolAddress string, status types.PoolStatus, lastIndexedBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.Pools[poolKey(chainID, poolAddress)]
	if !ok {
		return nil
	}
	pool.Status = status
	if lastIndexedBlock > pool.LastIndexed {
		pool.LastIndexed = lastIndexedBlock
	}
	pool.UpdatedAt = time.Now().UTC()
	return nil
}

// PoolByAddress returns a copy, nil when absent.
func (s *Store) PoolByAddress(_ context.Context, chainID uint64, poolAddress string) (*types.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.Pools[poolKey(chainID, poolAddress)]
	if !ok {
		return nil, nil
	}
	cp := *pool
	return &cp, nil
}

// PoolsByChain returns copies of every active pool of the chain.
func (s *Store) PoolsByChain(_ context.Context, chainID uint64) ([]*types.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Pool
	for _, pool := range s.Pools {
		if pool.ChainID == chainID && pool.Status == types.PoolActive {
			cp := *pool
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Get returns a cursor copy, (nil, nil) when absent.
func (s *Store) Get(_ context.Context, chainID uint64, stream types.Stream, scope string) (*types.ProgressCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Cursors[cursorKey(chainID, stream, scope)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// Upsert advances a cursor; last_processed_block never moves backwards.
func (s *Store) Upsert(_ context.Context, chainID uint64, stream types.Stream, scope string, lastProcessed uint64, status types.CursorStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == "" {
		status = types.CursorRunning
	}
	key := cursorKey(chainID, stream, scope)
	c, ok := s.Cursors[key]
	if !ok {
		s.Cursors[key] = &types.ProgressCursor{
			ChainID:       chainID,
			Stream:        stream,
			Scope:         scope,
			LastProcessed: lastProcessed,
			TargetBlock:   lastProcessed,
			Status:        status,
			ErrorMessage:  errMsg,
			StartedAt:     time.Now().UTC(),
			UpdatedAt:     time.Now().UTC(),
		}
		return nil
	}
	if lastProcessed > c.LastProcessed {
		c.LastProcessed = lastProcessed
	}
	c.Status = status
	c.ErrorMessage = errMsg
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes one cursor.
func (s *Store) Delete(_ context.Context, chainID uint64, stream types.Stream, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Cursors, cursorKey(chainID, stream, scope))
	return nil
}

// DeleteChain removes every cursor of a chain.
func (s *Store) DeleteChain(_ context.Context, chainID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.Cursors {
		if c.ChainID == chainID {
			delete(s.Cursors, key)
		}
	}
	return nil
}

// EnsureIndexes is a no-op for the in-memory store.
func (s *Store) EnsureIndexes(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close(_ context.Context) error { return nil }
