// Package mongo is the document-store implementation of the indexer's
// entity and progress stores.
package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dexstream/indexer/indexer/db/iface"
	"github.com/dexstream/indexer/indexer/types"
)

var log = logrus.WithField("prefix", "mongodb")

const (
	poolsCollection     = "pools"
	tokensCollection    = "tokens"
	swapsCollection     = "swap_events"
	liquidityCollection = "pool_liquidity"
	progressCollection  = "indexer_progress"

	connectTimeout = 10 * time.Second
)

// Store implements iface.Database over a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ = iface.Database(&Store{})

// NewStore connects to the given MongoDB URI and pings it before returning.
func NewStore(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "could not connect to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "could not ping mongodb")
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// UpsertPool writes a pool keyed by (chain_id, pool_address). created_at is
// only set on first insert.
func (s *Store) UpsertPool(ctx context.Context, pool *types.Pool) error {
	filter := bson.M{"chain_id": pool.ChainID, "pool_address": pool.PoolAddress}
	update := bson.M{
		"$set": bson.M{
			"protocol":           pool.Protocol,
			"token0_address":     pool.Token0Address,
			"token1_address":     pool.Token1Address,
			"factory_address":    pool.FactoryAddress,
			"fee_tier":           pool.FeeTier,
			"tick_spacing":       pool.TickSpacing,
			"hooks_address":      pool.HooksAddress,
			"sqrt_price_x96":     pool.SqrtPriceX96,
			"current_tick":       pool.CurrentTick,
			"liquidity":          pool.Liquidity,
			"reserve0":           pool.Reserve0,
			"reserve1":           pool.Reserve1,
			"creation_block":     pool.CreationBlock,
			"creation_tx_hash":   pool.CreationTxHash,
			"creation_timestamp": pool.CreationTime,
			"status":             pool.Status,
			"metadata":           pool.Metadata,
			"updated_at":         time.Now().UTC(),
		},
		"$max": bson.M{"last_indexed_block": pool.LastIndexed},
		"$setOnInsert": bson.M{"created_at": time.Now().UTC()},
	}
	_, err := s.db.Collection(poolsCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return errors.Wrap(err, "could not upsert pool")
}

// UpsertToken writes a token keyed by (chain_id, token_address).
func (s *Store) UpsertToken(ctx context.Context, token *types.Token) error {
	filter := bson.M{"chain_id": token.ChainID, "token_address": token.TokenAddress}
	update := bson.M{
		"$set": bson.M{
			"source":             token.Source,
			"name":               token.Name,
			"symbol":             token.Symbol,
			"creator":            token.Creator,
			"admin":              token.Admin,
			"payout_recipient":   token.PayoutRecipient,
			"platform_referrer":  token.PlatformRef,
			"pools":              token.Pools,
			"metadata_uri":       token.MetadataURI,
			"metadata":           token.Metadata,
			"creation_block":     token.CreationBlock,
			"creation_tx_hash":   token.CreationTxHash,
			"creation_timestamp": token.CreationTime,
			"status":             token.Status,
			"updated_at":         time.Now().UTC(),
		},
		"$setOnInsert": bson.M{"created_at": time.Now().UTC()},
	}
	_, err := s.db.Collection(tokensCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return errors.Wrap(err, "could not upsert token")
}

// InsertSwap appends a swap. A duplicate (tx_hash, log_index) is a no-op so
// reprocessing a window is idempotent.
func (s *Store) InsertSwap(ctx context.Context, swap *types.SwapEvent) error {
	_, err := s.db.Collection(swapsCollection).InsertOne(ctx, swap)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return errors.Wrap(err, "could not insert swap")
}

// InsertLiquidity appends a liquidity event with the same idempotency rule
// as swaps.
func (s *Store) InsertLiquidity(ctx context.Context, ev *types.LiquidityEvent) error {
	_, err := s.db.Collection(liquidityCollection).InsertOne(ctx, ev)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return errors.Wrap(err, "could not insert liquidity event")
}

// UpdatePoolStatus updates the operational state of a pool. The indexed
// block only moves forward.
func (s *Store) UpdatePoolStatus(ctx context.Context, chainID uint64, poolAddress string, status types.PoolStatus, lastIndexedBlock uint64) error {
	filter := bson.M{"chain_id": chainID, "pool_address": poolAddress}
	update := bson.M{
		"$set": bson.M{"status": status, "updated_at": time.Now().UTC()},
		"$max": bson.M{"last_indexed_block": lastIndexedBlock},
	}
	_, err := s.db.Collection(poolsCollection).UpdateOne(ctx, filter, update)
	return errors.Wrap(err, "could not update pool status")
}

// PoolByAddress fetches a single pool, nil when absent.
func (s *Store) PoolByAddress(ctx context.Context, chainID uint64, poolAddress string) (*types.Pool, error) {
	pool := &types.Pool{}
	err := s.db.Collection(poolsCollection).
		FindOne(ctx, bson.M{"chain_id": chainID, "pool_address": poolAddress}).
		Decode(pool)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not fetch pool")
	}
	return pool, nil
}

// PoolsByChain returns every active pool of a chain for the swap
// scheduler's enumeration.
func (s *Store) PoolsByChain(ctx context.Context, chainID uint64) ([]*types.Pool, error) {
	cursor, err := s.db.Collection(poolsCollection).
		Find(ctx, bson.M{"chain_id": chainID, "status": types.PoolActive})
	if err != nil {
		return nil, errors.Wrap(err, "could not list pools")
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			log.WithError(err).Debug("Could not close pools cursor")
		}
	}()
	var pools []*types.Pool
	if err := cursor.All(ctx, &pools); err != nil {
		return nil, errors.Wrap(err, "could not decode pools")
	}
	return pools, nil
}
