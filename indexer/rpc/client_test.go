package rpc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexstream/indexer/config/params"
)

// fakeCaller scripts CallContext behavior per endpoint.
type fakeCaller struct {
	calls  uint64
	handle func(result interface{}, method string, args ...interface{}) error
}

func (f *fakeCaller) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	atomic.AddUint64(&f.calls, 1)
	return f.handle(result, method, args...)
}

func (f *fakeCaller) Close() {}

func headHandler(head uint64) func(result interface{}, method string, args ...interface{}) error {
	return func(result interface{}, method string, _ ...interface{}) error {
		switch method {
		case "eth_blockNumber":
			*result.(*hexutil.Uint64) = hexutil.Uint64(head)
			return nil
		case "eth_getBlockByNumber":
			result.(*rpcHeader).Timestamp = hexutil.Uint64(1_700_000_000)
			return nil
		default:
			return errors.Errorf("unexpected method %s", method)
		}
	}
}

func failingHandler() func(result interface{}, method string, args ...interface{}) error {
	return func(_ interface{}, _ string, _ ...interface{}) error {
		return errors.New("connection refused")
	}
}

func testClient(t *testing.T, eps ...*Endpoint) *Client {
	t.Helper()
	cfg := &params.ChainConfig{ChainID: 8453, Name: "Base", RPCURLs: []string{"stub"}}
	c := NewClient(cfg, params.DefaultSettings())
	c.primaries, c.backups = nil, nil
	for _, ep := range eps {
		if ep.IsBackup {
			c.backups = append(c.backups, ep)
		} else {
			c.primaries = append(c.primaries, ep)
		}
	}
	return c
}

func TestCall_FailsOverToHealthyEndpoint(t *testing.T) {
	bad := &Endpoint{URL: "http://bad", client: &fakeCaller{handle: failingHandler()}}
	good := &Endpoint{URL: "http://good", client: &fakeCaller{handle: headHandler(123)}}
	c := testClient(t, bad, good)

	head, err := c.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(123), head)

	// The failing endpoint, if tried, must have recorded its failure.
	if atomic.LoadUint64(&bad.client.(*fakeCaller).calls) > 0 {
		assert.NotZero(t, bad.ConsecutiveFailures())
	}
	assert.True(t, good.Healthy())
}

func TestCall_UsesBackupsWhenPrimariesExhausted(t *testing.T) {
	// Unhealthy primaries inside their cooldown are skipped outright, so the
	// call lands on the backup without burning retry sleeps.
	bad := &Endpoint{URL: "http://bad", client: &fakeCaller{handle: failingHandler()}}
	bad.consecutiveFails = unhealthyThreshold
	bad.lastFailureUnix = time.Now().UnixNano()

	backup := &Endpoint{URL: "http://backup", IsBackup: true, client: &fakeCaller{handle: headHandler(77)}}
	c := testClient(t, bad, backup)

	head, err := c.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(77), head)
	assert.Zero(t, atomic.LoadUint64(&bad.client.(*fakeCaller).calls))
}

func TestCall_AllEndpointsCoolingDown(t *testing.T) {
	// Endpoints inside their cooldown are skipped without any call, and the
	// error says so instead of reporting a nil last failure.
	bad := &Endpoint{URL: "http://bad", client: &fakeCaller{handle: failingHandler()}}
	bad.consecutiveFails = unhealthyThreshold
	bad.lastFailureUnix = time.Now().UnixNano()
	c := testClient(t, bad)

	_, err := c.LatestBlock(context.Background())
	require.ErrorIs(t, err, ErrAllEndpointsFailed)
	assert.Contains(t, err.Error(), "cooling down")
	assert.NotContains(t, err.Error(), "<nil>")
	assert.Zero(t, atomic.LoadUint64(&bad.client.(*fakeCaller).calls))
}

func TestCall_EmptyPool(t *testing.T) {
	c := testClient(t)
	_, err := c.LatestBlock(context.Background())
	require.ErrorIs(t, err, ErrAllEndpointsFailed)
}

func TestAttemptList_Bounded(t *testing.T) {
	var eps []*Endpoint
	for i := 0; i < 3; i++ {
		eps = append(eps, &Endpoint{URL: "http://p"})
	}
	eps = append(eps, &Endpoint{URL: "http://b", IsBackup: true})
	c := testClient(t, eps...)

	attempts := c.attemptList()
	// At most twice around the primaries, then the backups.
	assert.Len(t, attempts, 2*3+1)
	assert.True(t, attempts[len(attempts)-1].IsBackup)
}

func TestAttemptList_RotatesStart(t *testing.T) {
	a := &Endpoint{URL: "http://a"}
	b := &Endpoint{URL: "http://b"}
	c := testClient(t, a, b)

	first := c.attemptList()[0]
	second := c.attemptList()[0]
	assert.NotSame(t, first, second)
}

func TestLatestBlock_Cached(t *testing.T) {
	fake := &fakeCaller{handle: headHandler(500)}
	c := testClient(t, &Endpoint{URL: "http://a", client: fake})

	for i := 0; i < 5; i++ {
		head, err := c.LatestBlock(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(500), head)
	}
	assert.Equal(t, uint64(1), atomic.LoadUint64(&fake.calls))
}

func TestBlockTimestamp_Cached(t *testing.T) {
	fake := &fakeCaller{handle: headHandler(500)}
	c := testClient(t, &Endpoint{URL: "http://a", client: fake})

	want := time.Unix(1_700_000_000, 0).UTC()
	for i := 0; i < 3; i++ {
		ts, err := c.BlockTimestamp(context.Background(), 42)
		require.NoError(t, err)
		assert.Equal(t, want, ts)
	}
	assert.Equal(t, uint64(1), atomic.LoadUint64(&fake.calls))
}

func TestEndpoint_HealthLifecycle(t *testing.T) {
	ep := &Endpoint{URL: "http://a"}
	assert.True(t, ep.Healthy())

	for i := 0; i < unhealthyThreshold; i++ {
		ep.recordFailure()
	}
	assert.False(t, ep.Healthy())
	assert.False(t, ep.EligibleForRetry(time.Now()))
	assert.True(t, ep.EligibleForRetry(time.Now().Add(cooldownCap)))

	ep.recordSuccess()
	assert.True(t, ep.Healthy())

	s := ep.stats()
	assert.Equal(t, uint64(unhealthyThreshold+1), s.TotalRequests)
	assert.Equal(t, uint64(unhealthyThreshold), s.TotalFailures)
	assert.True(t, s.Healthy)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(0))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, backoffCap, backoff(10))
	assert.Equal(t, backoffCap, backoff(200))
}

func TestNewClient_SkipsPlaceholderBackups(t *testing.T) {
	cfg := &params.ChainConfig{
		ChainID:       1,
		RPCURLs:       []string{"https://a.invalid"},
		BackupRPCURLs: []string{"https://${BACKUP_RPC_KEY}.invalid", "https://b.invalid"},
	}
	c := NewClient(cfg, params.DefaultSettings())
	require.Len(t, c.backups, 1)
	assert.Equal(t, "https://b.invalid", c.backups[0].URL)
}
