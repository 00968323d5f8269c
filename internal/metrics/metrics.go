package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carlot",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	liveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "carlot",
			Name:      "ws_connections",
			Help:      "Currently registered websocket connections.",
		},
	)

	broadcasts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "carlot",
			Name:      "ws_broadcasts_total",
			Help:      "Frames fanned out to the live connection set.",
		},
	)

	broadcastFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "carlot",
			Name:      "ws_broadcast_failures_total",
			Help:      "Per-connection send failures during fan-out.",
		},
	)

	syncJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carlot",
			Name:      "sync_jobs_total",
			Help:      "Sync queue jobs by outcome.",
		},
		[]string{"outcome"}, // enqueued, completed, retried, failed, skipped
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, liveConnections, broadcasts, broadcastFailures, syncJobs)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncConnections() { liveConnections.Inc() }
func DecConnections() { liveConnections.Dec() }

func IncBroadcast()        { broadcasts.Inc() }
func IncBroadcastFailure() { broadcastFailures.Inc() }

// IncSyncJob counts a queue job outcome.
func IncSyncJob(outcome string) {
	syncJobs.WithLabelValues(outcome).Inc()
}
