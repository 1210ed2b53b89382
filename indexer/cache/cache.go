// Package cache implements the short-TTL dedup markers and the distributed
// locks every worker coordinates through, on a single Redis connection.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "cache")

// Marker TTLs. Swap markers live longer because swap backfills can revisit
// old windows days later.
const (
	PoolMarkerTTL  = 24 * time.Hour
	TokenMarkerTTL = 24 * time.Hour
	SwapMarkerTTL  = 7 * 24 * time.Hour
	InFlightTTL    = 5 * time.Minute
)

// Cache wraps the Redis client used for markers and locks.
type Cache struct {
	rdb *redis.Client
}

// New connects to the Redis URL and pings it.
func New(ctx context.Context, url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "could not ping redis")
	}
	return &Cache{rdb: rdb}, nil
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func poolMarkerKey(chainID uint64, addr string) string {
	return fmt.Sprintf("pool_processed:%d:%s", chainID, addr)
}

func swapMarkerKey(txHash string, logIndex uint64) string {
	return fmt.Sprintf("swap_processed:%s:%d", txHash, logIndex)
}

func tokenInFlightKey(chainID uint64, addr string) string {
	return fmt.Sprintf("token_processing:%d:%s", chainID, addr)
}

// MarkPoolProcessed records that a pool row is durably persisted. Call only
// after the entity-store write committed.
func (c *Cache) MarkPoolProcessed(ctx context.Context, chainID uint64, addr string) error {
	return c.rdb.Set(ctx, poolMarkerKey(chainID, addr), "1", PoolMarkerTTL).Err()
}

// IsPoolProcessed reports whether a pool marker exists.
func (c *Cache) IsPoolProcessed(ctx context.Context, chainID uint64, addr string) (bool, error) {
	n, err := c.rdb.Exists(ctx, poolMarkerKey(chainID, addr)).Result()
	return n > 0, err
}

// MarkSwapProcessed records a persisted swap or liquidity event.
func (c *Cache) MarkSwapProcessed(ctx context.Context, txHash string, logIndex uint64) error {
	return c.rdb.Set(ctx, swapMarkerKey(txHash, logIndex), "1", SwapMarkerTTL).Err()
}

// IsSwapProcessed reports whether an event marker exists.
func (c *Cache) IsSwapProcessed(ctx context.Context, txHash string, logIndex uint64) (bool, error) {
	n, err := c.rdb.Exists(ctx, swapMarkerKey(txHash, logIndex)).Result()
	return n > 0, err
}

// BeginTokenWork takes the short in-flight guard for a token. It returns
// false when another worker already holds it. This guard is not a
// persistence marker; it only serializes concurrent work on one token.
func (c *Cache) BeginTokenWork(ctx context.Context, chainID uint64, addr string) (bool, error) {
	return c.rdb.SetNX(ctx, tokenInFlightKey(chainID, addr), "1", InFlightTTL).Result()
}

// EndTokenWork releases the in-flight guard.
func (c *Cache) EndTokenWork(ctx context.Context, chainID uint64, addr string) error {
	return c.rdb.Del(ctx, tokenInFlightKey(chainID, addr)).Err()
}
