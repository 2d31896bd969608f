// Package metrics defines the Prometheus collectors exported by the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coinfall"

// Settle failure reasons
const (
	ReasonConflict = "conflict"
	ReasonStore    = "store"
)

// Metrics holds every collector the application updates
type Metrics struct {
	registry *prometheus.Registry

	RoundsStarted  prometheus.Counter
	RoundsSettled  prometheus.Counter
	RoundScore     prometheus.Histogram
	ItemsSpawned   prometheus.Counter
	ItemsCollected prometheus.Counter
	SettleRetries  prometheus.Counter
	SettleFailures *prometheus.CounterVec
	LoadFailures   prometheus.Counter
	ActiveEngines  prometheus.Gauge
	EnginesEvicted prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RoundsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_started_total",
			Help:      "Rounds started.",
		}),
		RoundsSettled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_settled_total",
			Help:      "Rounds whose score was folded into the balance.",
		}),
		RoundScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_score",
			Help:      "Score of settled rounds.",
			Buckets:   []float64{0, 5, 10, 20, 30, 40, 50, 60},
		}),
		ItemsSpawned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_spawned_total",
			Help:      "Collectible items spawned.",
		}),
		ItemsCollected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_collected_total",
			Help:      "Collectible items successfully collected.",
		}),
		SettleRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settle_retries_total",
			Help:      "Retried settle writes.",
		}),
		SettleFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settle_failures_total",
			Help:      "Settle writes that were not persisted.",
		}, []string{"reason"}),
		LoadFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_failures_total",
			Help:      "Session loads that gave up after retrying.",
		}),
		ActiveEngines: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_engines",
			Help:      "Session engines held in memory.",
		}),
		EnginesEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engines_evicted_total",
			Help:      "Idle session engines evicted by the janitor.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one served HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
