// Package iface defines the storage interfaces the pipeline depends on, so
// tests can substitute in-memory fakes for the document store.
package iface

import (
	"context"

	"github.com/dexstream/indexer/indexer/types"
)

// EntityStore persists pools, tokens and events. All writes are idempotent
// against the entity uniqueness keys.
type EntityStore interface {
	UpsertPool(ctx context.Context, pool *types.Pool) error
	UpsertToken(ctx context.Context, token *types.Token) error
	InsertSwap(ctx context.Context, swap *types.SwapEvent) error
	InsertLiquidity(ctx context.Context, ev *types.LiquidityEvent) error
	UpdatePoolStatus(ctx context.Context, chainID uint64, poolAddress string, status types.PoolStatus, lastIndexedBlock uint64) error
	PoolByAddress(ctx context.Context, chainID uint64, poolAddress string) (*types.Pool, error)
	PoolsByChain(ctx context.Context, chainID uint64) ([]*types.Pool, error)
}

// ProgressStore persists the per-(chain, stream, scope) cursors. Get
// returns (nil, nil) when no cursor exists.
type ProgressStore interface {
	Get(ctx context.Context, chainID uint64, stream types.Stream, scope string) (*types.ProgressCursor, error)
	Upsert(ctx context.Context, chainID uint64, stream types.Stream, scope string, lastProcessed uint64, status types.CursorStatus, errMsg string) error
	Delete(ctx context.Context, chainID uint64, stream types.Stream, scope string) error
	DeleteChain(ctx context.Context, chainID uint64) error
}

// Database is the full storage surface a chain pipeline connects to.
type Database interface {
	EntityStore
	ProgressStore
	EnsureIndexes(ctx context.Context) error
	Close(ctx context.Context) error
}
