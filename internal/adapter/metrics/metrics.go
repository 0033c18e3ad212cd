// Package metrics wires the core's Prometheus metrics, built the same way
// the teacher's IngestMetrics is: promauto-registered vectors and gauges
// constructed once at startup and threaded by constructor injection.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the core publishes.
type Metrics struct {
	EventsIngestedTotal   *prometheus.CounterVec // status: accepted, dropped
	DispatchTotal         *prometheus.CounterVec // adaptor_type
	AdaptorDeliveryTotal  *prometheus.CounterVec // adaptor_type, outcome: ok, error, dlq, queue_full, panic
	CacheBroadcastTotal   prometheus.Counter
	CacheSize             *prometheus.GaugeVec // source_token
	ClusterListDuration    prometheus.Histogram
	ClusterListPeerTimeouts prometheus.Counter
	RegistrySize          prometheus.Gauge
}

// New initializes and registers every metric.
func New() *Metrics {
	return &Metrics{
		EventsIngestedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logflare",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of events processed by the ingestion pipeline, by outcome.",
		}, []string{"status"}),
		DispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logflare",
			Subsystem: "dispatch",
			Name:      "invocations_total",
			Help:      "Total number of dispatcher invocations per adaptor type.",
		}, []string{"adaptor_type"}),
		AdaptorDeliveryTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logflare",
			Subsystem: "adaptor",
			Name:      "delivery_total",
			Help:      "Total number of adaptor delivery attempts, by adaptor type and outcome.",
		}, []string{"adaptor_type", "outcome"}),
		CacheBroadcastTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "logflare",
			Subsystem: "cache",
			Name:      "broadcast_total",
			Help:      "Total number of insert-rate broadcast ticks published.",
		}),
		CacheSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "logflare",
			Subsystem: "cache",
			Name:      "size",
			Help:      "Current number of events held in a source's recent-logs cache.",
		}, []string{"source_token"}),
		ClusterListDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "logflare",
			Subsystem: "cluster",
			Name:      "list_duration_seconds",
			Help:      "Duration of list_for_cluster fan-out calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		ClusterListPeerTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "logflare",
			Subsystem: "cluster",
			Name:      "list_peer_timeouts_total",
			Help:      "Total number of peer requests that missed the cluster list deadline.",
		}),
		RegistrySize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "logflare",
			Subsystem: "registry",
			Name:      "entries",
			Help:      "Current number of entries in the process registry.",
		}),
	}
}
