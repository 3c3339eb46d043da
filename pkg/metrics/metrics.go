package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	WorkersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "constellation_workers_connected",
			Help: "Number of workers currently admitted to the registry",
		},
	)

	WorkersHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "constellation_workers_healthy",
			Help: "Number of admitted workers currently marked healthy",
		},
	)

	BindingsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "constellation_bindings_total",
			Help: "Number of resource keys currently pinned to a worker",
		},
	)

	// Proxy metrics
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_proxy_requests_total",
			Help: "Total number of proxied requests by outcome",
		},
		[]string{"outcome"},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "constellation_dispatch_duration_seconds",
			Help:    "Round-trip time from frame dispatch to response delivery",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Heartbeat metrics
	HeartbeatFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_heartbeat_failures_total",
			Help: "Total number of heartbeat send failures by worker",
		},
		[]string{"worker"},
	)
)

func init() {
	prometheus.MustRegister(WorkersConnected)
	prometheus.MustRegister(WorkersHealthy)
	prometheus.MustRegister(BindingsTotal)
	prometheus.MustRegister(ProxyRequestsTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(HeartbeatFailures)
}

// Proxy request outcomes
const (
	OutcomeForwarded   = "forwarded"
	OutcomeNoWorkers   = "no_workers"
	OutcomeProxyFailed = "proxy_failed"
	OutcomeTimeout     = "timeout"
	OutcomeInternal    = "internal_error"
)

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
