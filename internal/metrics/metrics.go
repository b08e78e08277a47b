// Package metrics holds the Prometheus instruments of the bridge pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decode outcomes by kind: skip or malformed.
	DecodeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgewatch_decode_outcomes_total",
			Help: "Account blocks that did not decode into a transaction, by outcome",
		},
		[]string{"outcome"},
	)

	DecodedTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgewatch_decoded_transactions_total",
			Help: "Decoded bridge transactions by type",
		},
		[]string{"type"},
	)

	StoreOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgewatch_store_outcomes_total",
			Help: "Event store record outcomes: inserted, duplicate or error",
		},
		[]string{"outcome"},
	)

	DispatchJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgewatch_dispatch_jobs_total",
			Help: "Notification jobs by result",
		},
		[]string{"result"},
	)

	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridgewatch_dispatch_queue_depth",
			Help: "Notification jobs waiting for a worker",
		},
	)

	SubscribersDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridgewatch_subscribers_deactivated_total",
			Help: "Subscribers deactivated after repeated delivery failures",
		},
	)

	FilterEntriesPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filter_entries_purged_total",
			Help: "Subscriber filter entries removed because the type is no longer known",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridgewatch_reconnects_total",
			Help: "Node connection attempts after a failure",
		},
	)

	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridgewatch_connection_state",
			Help: "Connection manager state (0 disconnected, 1 backoff, 2 connecting, 3 subscribed, 4 streaming)",
		},
	)

	ConnectionOffline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "connection_offline",
			Help: "1 when reconnect attempts exceeded the configured threshold",
		},
	)

	BackfillBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridgewatch_backfill_blocks_total",
			Help: "Account blocks replayed by gap recovery",
		},
	)

	StatsCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgewatch_stats_cache_requests_total",
			Help: "Stats cache lookups by result",
		},
		[]string{"result"},
	)

	PrunedTransactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridgewatch_pruned_transactions_total",
			Help: "Transactions deleted by the retention pruner",
		},
	)
)

// Decode outcome labels.
const (
	OutcomeSkip      = "skip"
	OutcomeMalformed = "malformed"
)

// Store outcome labels.
const (
	OutcomeInserted  = "inserted"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)
