package rpc

import (
	"context"
	"math/big"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/dexstream/indexer/config/params"
)

// ErrAllEndpointsFailed is returned when a logical call exhausted every
// eligible endpoint. The last per-endpoint cause is attached.
var ErrAllEndpointsFailed = errors.New("all rpc endpoints failed")

const (
	latestBlockCacheKey = "latest_block"
	latestBlockCacheTTL = 3 * time.Second
	backoffCap          = 30 * time.Second
	timestampCacheSize  = 8192
)

// Client is the failover transport for one chain. A single logical call may
// traverse several endpoints before succeeding.
type Client struct {
	cfg             *params.ChainConfig
	requestTimeout  time.Duration
	switchThreshold int

	primaries []*Endpoint
	backups   []*Endpoint
	current   uint64 // round-robin index into primaries

	headCache *gocache.Cache
	tsCache   *lru.Cache
	tsGroup   singleflight.Group

	log *logrus.Entry
}

// NewClient builds a client over the chain's primary and backup URL lists.
// Primaries are shuffled so that multiple workers spread their load.
func NewClient(cfg *params.ChainConfig, settings *params.Settings) *Client {
	c := &Client{
		cfg:             cfg,
		requestTimeout:  settings.RPCRequestTimeout,
		switchThreshold: settings.RPCSwitchThreshold,
		headCache:       gocache.New(latestBlockCacheTTL, time.Minute),
		log:             logrus.WithFields(logrus.Fields{"prefix": "rpc", "chain_id": cfg.ChainID}),
	}
	c.tsCache, _ = lru.New(timestampCacheSize)

	urls := append([]string{}, cfg.RPCURLs...)
	rand.Shuffle(len(urls), func(i, j int) { urls[i], urls[j] = urls[j], urls[i] })
	for _, u := range urls {
		c.primaries = append(c.primaries, &Endpoint{URL: u})
	}
	for _, u := range cfg.BackupRPCURLs {
		if strings.Contains(u, "${") {
			c.log.WithField("url", u).Warn("Skipping backup RPC URL with unresolved placeholder")
			continue
		}
		c.backups = append(c.backups, &Endpoint{URL: u, IsBackup: true})
	}
	return c
}

// Connect dials every endpoint and verifies its eth_chainId against the
// configured chain. Endpoints that cannot be dialed or report the wrong
// chain are dropped for this connection attempt. At least one primary must
// survive.
func (c *Client) Connect(ctx context.Context) error {
	c.primaries = c.dialAll(ctx, c.primaries)
	c.backups = c.dialAll(ctx, c.backups)
	if len(c.primaries) == 0 && len(c.backups) == 0 {
		return errors.Errorf("chain %d: no usable rpc endpoints", c.cfg.ChainID)
	}
	if len(c.primaries) == 0 {
		c.log.Warn("No usable primary RPC endpoints, running on backups only")
	}
	return nil
}

func (c *Client) dialAll(ctx context.Context, eps []*Endpoint) []*Endpoint {
	usable := make([]*Endpoint, 0, len(eps))
	for _, ep := range eps {
		dialCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		client, err := gethrpc.DialContext(dialCtx, ep.URL)
		cancel()
		if err != nil {
			c.log.WithError(err).WithField("endpoint", ep.URL).Warn("Could not dial RPC endpoint")
			continue
		}
		var id hexutil.Big
		callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		err = client.CallContext(callCtx, &id, "eth_chainId")
		cancel()
		if err != nil {
			c.log.WithError(err).WithField("endpoint", ep.URL).Warn("Could not fetch chain id from endpoint")
			client.Close()
			continue
		}
		if got := id.ToInt().Uint64(); got != c.cfg.ChainID {
			c.log.WithFields(logrus.Fields{
				"endpoint": ep.URL,
				"got":      got,
				"want":     c.cfg.ChainID,
			}).Error("Endpoint reports wrong chain id, refusing")
			client.Close()
			continue
		}
		ep.client = client
		usable = append(usable, ep)
	}
	return usable
}

// Close releases every endpoint connection.
func (c *Client) Close() {
	for _, ep := range append(append([]*Endpoint{}, c.primaries...), c.backups...) {
		if ep.client != nil {
			ep.client.Close()
		}
	}
}

// attemptList builds the ordered endpoint list for one logical call:
// primaries in round-robin order starting at the current selector, up to
// twice the primary count, followed by the backups.
func (c *Client) attemptList() []*Endpoint {
	n := len(c.primaries)
	var attempts []*Endpoint
	if n > 0 {
		start := atomic.AddUint64(&c.current, 1)
		for i := 0; i < 2*n; i++ {
			attempts = append(attempts, c.primaries[(start+uint64(i))%uint64(n)])
		}
	}
	return append(attempts, c.backups...)
}

// call performs one logical JSON-RPC call with failover. It respects the
// parent context and abandons in-flight retries promptly on cancellation.
func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	attempts := c.attemptList()
	if len(attempts) == 0 {
		return errors.Wrap(ErrAllEndpointsFailed, "endpoint pool is empty")
	}
	now := time.Now()
	var lastErr error
	tried := 0
	for i, ep := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !ep.EligibleForRetry(now) {
			continue
		}
		tried++
		callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		err := ep.client.CallContext(callCtx, result, method, args...)
		cancel()
		if err == nil {
			ep.recordSuccess()
			return nil
		}
		ep.recordFailure()
		rpcFailuresTotal.WithLabelValues(method).Inc()
		lastErr = err
		c.log.WithError(err).WithFields(logrus.Fields{
			"endpoint": ep.URL,
			"method":   method,
			"attempt":  i,
		}).Debug("RPC call failed, trying next endpoint")
		if int(ep.ConsecutiveFailures()) >= c.switchThreshold {
			c.log.WithField("endpoint", ep.URL).Warn("Endpoint over failure threshold, switching")
			rpcEndpointSwitches.Inc()
		}
		if !sleepCtx(ctx, backoff(i)) {
			return ctx.Err()
		}
	}
	if tried == 0 {
		return errors.Wrapf(ErrAllEndpointsFailed, "%s: every endpoint is cooling down", method)
	}
	return errors.Wrapf(ErrAllEndpointsFailed, "%s: last error: %v", method, lastErr)
}

// backoff returns 2^i seconds capped at backoffCap.
func backoff(attempt int) time.Duration {
	d := time.Second << uint(attempt)
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
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

// LatestBlock returns the chain head, cached in-process for three seconds
// to absorb polling bursts from concurrent streams.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	if v, ok := c.headCache.Get(latestBlockCacheKey); ok {
		return v.(uint64), nil
	}
	var head hexutil.Uint64
	if err := c.call(ctx, &head, "eth_blockNumber"); err != nil {
		return 0, err
	}
	c.headCache.SetDefault(latestBlockCacheKey, uint64(head))
	return uint64(head), nil
}

type rpcHeader struct {
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// BlockTimestamp returns the timestamp of block n. Results are cached in an
// LRU and concurrent lookups for the same block are collapsed so each block
// costs at most one eth_getBlockByNumber call.
func (c *Client) BlockTimestamp(ctx context.Context, n uint64) (time.Time, error) {
	if v, ok := c.tsCache.Get(n); ok {
		return v.(time.Time), nil
	}
	v, err, _ := c.tsGroup.Do(hexutil.Uint64(n).String(), func() (interface{}, error) {
		var header rpcHeader
		if err := c.call(ctx, &header, "eth_getBlockByNumber", hexutil.Uint64(n).String(), false); err != nil {
			return time.Time{}, err
		}
		ts := time.Unix(int64(header.Timestamp), 0).UTC()
		c.tsCache.Add(n, ts)
		return ts, nil
	})
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "could not fetch timestamp for block %d", n)
	}
	return v.(time.Time), nil
}

type filterArg struct {
	FromBlock string           `json:"fromBlock"`
	ToBlock   string           `json:"toBlock"`
	Address   []common.Address `json:"address,omitempty"`
	Topics    [][]common.Hash  `json:"topics,omitempty"`
}

// FilterLogs runs eth_getLogs over [from,to] for the given addresses and
// optional topic filter. A null result is treated as an empty log set.
func (c *Client) FilterLogs(ctx context.Context, from, to uint64, addresses []common.Address, topics [][]common.Hash) ([]gethtypes.Log, error) {
	arg := filterArg{
		FromBlock: hexutil.Uint64(from).String(),
		ToBlock:   hexutil.Uint64(to).String(),
		Address:   addresses,
		Topics:    topics,
	}
	var logs []gethtypes.Log
	if err := c.call(ctx, &logs, "eth_getLogs", arg); err != nil {
		return nil, err
	}
	return logs, nil
}

type callArg struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// CallContract performs eth_call against latest.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var out hexutil.Bytes
	if err := c.call(ctx, &out, "eth_call", callArg{To: to, Data: data}, "latest"); err != nil {
		return nil, err
	}
	return out, nil
}

// CodeAt fetches the deployed bytecode at addr. A null result is valid and
// yields an empty byte slice.
func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	var out hexutil.Bytes
	if err := c.call(ctx, &out, "eth_getCode", addr, "latest"); err != nil {
		return nil, err
	}
	return out, nil
}

// ChainID fetches eth_chainId as a big integer.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := c.call(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

// Stats snapshots every endpoint for operator inspection.
func (c *Client) Stats() []EndpointStats {
	out := make([]EndpointStats, 0, len(c.primaries)+len(c.backups))
	for _, ep := range c.primaries {
		out = append(out, ep.stats())
	}
	for _, ep := range c.backups {
		out = append(out, ep.stats())
	}
	return out
}
