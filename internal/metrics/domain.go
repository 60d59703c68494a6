package metrics

import "github.com/prometheus/client_golang/prometheus"

// Document workflow metrics.
var (
	MutationStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Name:      "mutation_stage_total",
			Help:      "Mutations entering each lifecycle stage",
		},
		[]string{"operation", "stage"},
	)

	PermissionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Name:      "permission_checks_total",
			Help:      "Permission decisions by action and outcome",
		},
		[]string{"action", "decision"}, // "allow" / "deny" / "error"
	)

	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docvault",
			Name:      "search_duration_seconds",
			Help:      "Authorized search duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	SearchHitsFilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Name:      "search_hits_filtered_total",
			Help:      "Index hits dropped before reaching the caller",
		},
		[]string{"reason"}, // "closure" / "recheck" / "filter"
	)
)

// Index propagation metrics.
var (
	IndexQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docvault",
			Name:      "index_queue_depth",
			Help:      "Documents waiting for index propagation",
		},
	)

	IndexSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Name:      "index_sync_total",
			Help:      "Index propagation attempts by result",
		},
		[]string{"result"}, // "ok" / "retry" / "failed"
	)

	IndexRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Name:      "index_retries_total",
			Help:      "Index propagation retries",
		},
	)

	IndexEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docvault",
			Name:      "index_entries",
			Help:      "Document versions held by the search index",
		},
	)
)

// HTTP edge metrics.
var RateLimitedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "docvault",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-principal rate limit",
	},
)

// Identity service metrics.
var (
	IdentityRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Name:      "identity_requests_total",
			Help:      "Identity service requests by operation and status",
		},
		[]string{"op", "status"},
	)

	IdentityRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docvault",
			Name:      "identity_request_duration_seconds",
			Help:      "Identity service request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"op"},
	)
)

var (
	domainMetricsRegistered   bool
	identityMetricsRegistered bool
)

// RegisterDomainMetrics registers workflow and index metrics. Must be called once from main.
func RegisterDomainMetrics() {
	if domainMetricsRegistered {
		return
	}
	prometheus.MustRegister(MutationStageTotal)
	prometheus.MustRegister(PermissionChecksTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchHitsFilteredTotal)
	prometheus.MustRegister(IndexQueueDepth)
	prometheus.MustRegister(IndexSyncTotal)
	prometheus.MustRegister(IndexRetriesTotal)
	prometheus.MustRegister(IndexEntries)
	prometheus.MustRegister(RateLimitedTotal)
	domainMetricsRegistered = true
}

// RegisterIdentityMetrics registers identity client metrics. Must be called once from main.
func RegisterIdentityMetrics() {
	if identityMetricsRegistered {
		return
	}
	prometheus.MustRegister(IdentityRequestsTotal)
	prometheus.MustRegister(IdentityRequestDuration)
	identityMetricsRegistered = true
}
