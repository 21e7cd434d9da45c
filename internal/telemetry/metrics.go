// Package telemetry defines the process-wide Prometheus collectors,
// registered on the default registry that the admin API serves on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PicksTotal counts scheduler Pick outcomes by policy and result.
	PicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_picks_total",
		Help: "Total number of scheduler picks by policy and outcome",
	}, []string{"policy", "outcome"})

	// FeedbackTotal counts ReportSuccess/ReportFailure calls by policy.
	FeedbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_feedback_total",
		Help: "Total number of relay feedback reports by policy and kind",
	}, []string{"policy", "kind"})

	// ProbeDuration tracks health-check probe latency.
	ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proxypool_probe_duration_seconds",
		Help:    "Duration of a single node health probe",
		Buckets: prometheus.DefBuckets,
	})

	// ProbeResultsTotal counts probe outcomes by result (success, failure,
	// error).
	ProbeResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_probe_results_total",
		Help: "Total number of health probe results",
	}, []string{"result"})

	// NodesHealthy reports the current healthy-and-active node count.
	NodesHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proxypool_nodes_healthy",
		Help: "Current number of healthy, active nodes",
	})

	// NodesTotal reports the current total node count.
	NodesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proxypool_nodes_total",
		Help: "Current total number of registered nodes",
	})

	// RelayBytesTotal counts bytes moved through the full-duplex relay.
	RelayBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_relay_bytes_total",
		Help: "Total bytes relayed between client and upstream",
	}, []string{"direction"})

	// ActiveConnections tracks concurrently open client connections by
	// front-end.
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "proxypool_active_connections",
		Help: "Current number of open client connections",
	}, []string{"frontend"})

	// AdminRequestsTotal counts admin API requests by route and status.
	AdminRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_admin_requests_total",
		Help: "Total number of admin API requests",
	}, []string{"route", "status"})

	// AdminRateLimited counts requests rejected by the admin API limiter.
	AdminRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxypool_admin_rate_limited_total",
		Help: "Total number of admin API requests rejected for exceeding the rate limit",
	})
)
