package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	logsProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_logs_processed_total",
			Help: "Logs decoded into records, by chain and stream",
		},
		[]string{"chain_id", "stream"},
	)
	logsSkippedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_logs_skipped_total",
			Help: "Logs no decoder could parse, by chain and stream",
		},
		[]string{"chain_id", "stream"},
	)
	entitiesPersistedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_entities_persisted_total",
			Help: "Entities written to the store, by chain and kind",
		},
		[]string{"chain_id", "kind"},
	)
	entityErrorsCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_entity_errors_total",
			Help: "Entity-level processing failures, by chain and kind",
		},
		[]string{"chain_id", "kind"},
	)
	cursorBlockGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_cursor_block",
			Help: "Last processed block per chain and stream",
		},
		[]string{"chain_id", "stream"},
	)
)
