package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// ErrLockContested is returned when another worker holds the lock. Stream
// loops treat it as "skip this tick".
var ErrLockContested = errors.New("lock held by another worker")

// releaseScript deletes the lock only when the caller still owns it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// extendScript refreshes the TTL only when the caller still owns the lock.
const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return 0`

// Lock is a held distributed mutex. The random value fences releases so a
// worker cannot drop a lock a slow predecessor lost to TTL expiry.
type Lock struct {
	rdb   *redis.Client
	key   string
	value string
	ttl   time.Duration
}

// PoolIndexerLockKey is the stream lock for a chain's creation stream.
func PoolIndexerLockKey(chainID uint64) string {
	return fmt.Sprintf("pool_indexer:%d", chainID)
}

// SwapIndexerLockKey is the stream lock for one pool's swap stream.
func SwapIndexerLockKey(chainID uint64, pool string) string {
	return fmt.Sprintf("swap_indexer:%d:%s", chainID, pool)
}

// AcquireLock takes a distributed mutex with SET NX EX. ErrLockContested
// means another worker owns the work unit.
func (c *Cache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, errors.Wrap(err, "could not generate lock token")
	}
	value := hex.EncodeToString(buf)
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "could not acquire lock")
	}
	if !ok {
		return nil, ErrLockContested
	}
	return &Lock{rdb: c.rdb, key: key, value: value, ttl: ttl}, nil
}

// Release drops the lock if still owned.
func (l *Lock) Release(ctx context.Context) error {
	err := l.rdb.Eval(ctx, releaseScript, []string{l.key}, l.value).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "could not release lock")
	}
	return nil
}

// Extend refreshes the TTL for long windows. It reports false when
// ownership was lost.
func (l *Lock) Extend(ctx context.Context) (bool, error) {
	res, err := l.rdb.Eval(ctx, extendScript, []string{l.key}, l.value, int(l.ttl.Seconds())).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, errors.Wrap(err, "could not extend lock")
	}
	return res == 1, nil
}
