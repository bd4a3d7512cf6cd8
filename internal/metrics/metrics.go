package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by the API client and the stores.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
	reloads     *prometheus.CounterVec
	collection  *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardsched",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Remote API requests by operation and outcome",
		}, []string{"op", "outcome"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "guardsched",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Remote API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardsched",
			Subsystem: "store",
			Name:      "reloads_total",
			Help:      "Store collection reloads by store and result",
		}, []string{"store", "result"}),
		collection: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "guardsched",
			Subsystem: "store",
			Name:      "items",
			Help:      "Number of items currently held by each store",
		}, []string{"store"}),
	}
	reg.MustRegister(m.apiRequests, m.apiDuration, m.reloads, m.collection)
	return m
}

// ObserveRequest records one API call. outcome is a short label such as
// "2xx", "4xx", "5xx", "network" or "invalid_url".
func (m *Metrics) ObserveRequest(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(op, outcome).Inc()
	m.apiDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveReload records a store reload and the resulting collection size.
func (m *Metrics) ObserveReload(store, result string, items int) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(store, result).Inc()
	m.collection.WithLabelValues(store).Set(float64(items))
}
