package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_rpc_failures_total",
			Help: "Failed JSON-RPC attempts by method, across all endpoints",
		},
		[]string{"method"},
	)
	rpcEndpointSwitches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_rpc_endpoint_switches_total",
			Help: "Times an endpoint crossed the failure threshold and the selector moved on",
		},
	)
)
