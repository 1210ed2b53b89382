// Package rpc implements the failover JSON-RPC transport used by every
// chain pipeline. A Client owns a pool of endpoints (shuffled primaries
// plus backups), tracks per-endpoint health with atomic counters, and
// retries each logical call across the pool with exponential backoff.
package rpc

import (
	"context"
	"sync/atomic"
	"time"
)

// caller is the JSON-RPC surface an endpoint needs from its connection.
// *gethrpc.Client satisfies it; tests substitute fakes.
type caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

const (
	// unhealthyThreshold is the consecutive-failure count after which an
	// endpoint is considered unhealthy.
	unhealthyThreshold = 3
	// cooldownBase grows the retry cooldown linearly per failure.
	cooldownBase = 30 * time.Second
	// cooldownCap bounds the retry cooldown.
	cooldownCap = 5 * time.Minute
)

// Endpoint is the runtime state kept for a single RPC URL. All counters are
// mutated from concurrent pipeline tasks and therefore use atomics.
type Endpoint struct {
	URL      string
	IsBackup bool

	client caller

	consecutiveFails uint64
	totalRequests    uint64
	totalFailures    uint64
	lastSuccessUnix  int64
	lastFailureUnix  int64
}

// Healthy reports whether the endpoint is below the failure threshold.
func (e *Endpoint) Healthy() bool {
	return atomic.LoadUint64(&e.consecutiveFails) < unhealthyThreshold
}

// EligibleForRetry reports whether an unhealthy endpoint may be tried again:
// healthy endpoints always are, unhealthy ones once their cooldown elapsed.
// The cooldown grows linearly with the consecutive failure count, capped.
func (e *Endpoint) EligibleForRetry(now time.Time) bool {
	if e.Healthy() {
		return true
	}
	fails := atomic.LoadUint64(&e.consecutiveFails)
	cooldown := time.Duration(fails) * cooldownBase
	if cooldown > cooldownCap {
		cooldown = cooldownCap
	}
	last := time.Unix(0, atomic.LoadInt64(&e.lastFailureUnix))
	return now.Sub(last) >= cooldown
}

func (e *Endpoint) recordSuccess() {
	atomic.AddUint64(&e.totalRequests, 1)
	atomic.StoreUint64(&e.consecutiveFails, 0)
	atomic.StoreInt64(&e.lastSuccessUnix, time.Now().UnixNano())
}

func (e *Endpoint) recordFailure() {
	atomic.AddUint64(&e.totalRequests, 1)
	atomic.AddUint64(&e.totalFailures, 1)
	atomic.AddUint64(&e.consecutiveFails, 1)
	atomic.StoreInt64(&e.lastFailureUnix, time.Now().UnixNano())
}

// ConsecutiveFailures returns the current consecutive failure count.
func (e *Endpoint) ConsecutiveFailures() uint64 {
	return atomic.LoadUint64(&e.consecutiveFails)
}

// EndpointStats is a read-only snapshot of an endpoint for rpc-stats output.
type EndpointStats struct {
	URL                 string    `json:"url"`
	IsBackup            bool      `json:"is_backup"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures uint64    `json:"consecutive_failures"`
	TotalRequests       uint64    `json:"total_requests"`
	TotalFailures       uint64    `json:"total_failures"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
}

func (e *Endpoint) stats() EndpointStats {
	s := EndpointStats{
		URL:                 e.URL,
		IsBackup:            e.IsBackup,
		Healthy:             e.Healthy(),
		ConsecutiveFailures: atomic.LoadUint64(&e.consecutiveFails),
		TotalRequests:       atomic.LoadUint64(&e.totalRequests),
		TotalFailures:       atomic.LoadUint64(&e.totalFailures),
	}
	if v := atomic.LoadInt64(&e.lastSuccessUnix); v != 0 {
		s.LastSuccess = time.Unix(0, v)
	}
	if v := atomic.LoadInt64(&e.lastFailureUnix); v != 0 {
		s.LastFailure = time.Unix(0, v)
	}
	return s
}
