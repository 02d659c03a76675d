package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransactionsTotal counts finished writes per surface, call and outcome (confirmed|failed).
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoyield_transactions_total",
			Help: "Ledger writes by surface, kind and outcome",
		},
		[]string{"surface", "kind", "outcome"},
	)

	// HistoryFallbacks counts history fetches served from cache or placeholder.
	HistoryFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoyield_history_fallbacks_total",
			Help: "History fetches that fell back after a failed log query",
		},
		[]string{"source", "kind"},
	)

	RelayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoyield_relay_requests_total",
			Help: "Relayed JSON-RPC requests by outcome",
		},
		[]string{"outcome"},
	)

	RelayLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autoyield_relay_latency_seconds",
			Help:    "Round trip to the backing node",
			Buckets: prometheus.DefBuckets,
		},
	)

	OverviewPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoyield_overview_polls_total",
			Help: "Overview polls by outcome",
		},
		[]string{"outcome"},
	)

	registerOnce sync.Once
)

// Handler serves the /metrics endpoint.
var Handler = promhttp.Handler

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(TransactionsTotal)
		prometheus.MustRegister(HistoryFallbacks)
		prometheus.MustRegister(RelayRequests)
		prometheus.MustRegister(RelayLatency)
		prometheus.MustRegister(OverviewPolls)
	})
}
