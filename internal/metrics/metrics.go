// Package metrics holds the Prometheus collectors recorded by the engine.
//
// Collectors live in a package registry so tests and embedders get a clean
// set that does not collide with the process default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector in this package.
var Registry = prometheus.NewRegistry()

var f = promauto.With(Registry)

var (
	// MutationsTotal counts settled mutations by outcome
	// (ok, failed, rejected, discarded).
	MutationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimist_mutations_total",
			Help: "Total settled mutations",
		},
		[]string{"collection", "op", "outcome"},
	)

	// RealtimeEventsTotal counts realtime frames by reconciliation outcome.
	RealtimeEventsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimist_realtime_events_total",
			Help: "Total realtime frames handled",
		},
		[]string{"collection", "outcome"},
	)

	// QueryFetchesTotal counts collection fetches by outcome.
	QueryFetchesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimist_query_fetches_total",
			Help: "Total collection fetches",
		},
		[]string{"collection", "outcome"},
	)

	// RemoteLatency records remote source call latency.
	RemoteLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optimist_remote_latency_seconds",
			Help:    "Remote source operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "op"},
	)

	// CachedEntities tracks the visible entity count per collection.
	CachedEntities = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "optimist_cached_entities",
			Help: "Number of visible entities in the cache",
		},
		[]string{"collection"},
	)
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
}

// ObserveMutation records a settled mutation.
func ObserveMutation(collection, op, outcome string) {
	MutationsTotal.WithLabelValues(collection, op, outcome).Inc()
}

// ObserveRealtime records one handled realtime frame.
func ObserveRealtime(collection, outcome string) {
	RealtimeEventsTotal.WithLabelValues(collection, outcome).Inc()
}

// ObserveQuery records one fetch.
func ObserveQuery(collection, outcome string) {
	QueryFetchesTotal.WithLabelValues(collection, outcome).Inc()
}

// ObserveRemote records the latency of a remote call started at start.
// Intended for use with defer.
func ObserveRemote(collection, op string, start time.Time) {
	RemoteLatency.WithLabelValues(collection, op).Observe(time.Since(start).Seconds())
}

// SetCached records the visible entity count.
func SetCached(collection string, n int) {
	CachedEntities.WithLabelValues(collection).Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
