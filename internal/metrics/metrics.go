// Package metrics exposes Prometheus instrumentation for the sync layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by the API client and the event
// channel manager. All methods are safe on a nil receiver so callers can
// skip instrumentation entirely.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestRetries  prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dedupShares     prometheus.Counter
	reconnects      prometheus.Counter
	eventsDelivered *prometheus.CounterVec
}

// New creates and registers the collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hearthhub_requests_total",
			Help: "REST requests issued, by method and outcome.",
		}, []string{"method", "outcome"}),
		requestRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthhub_request_retries_total",
			Help: "REST request retry attempts.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthhub_cache_hits_total",
			Help: "GET responses served from the client cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthhub_cache_misses_total",
			Help: "GET requests not satisfied by the client cache.",
		}),
		dedupShares: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthhub_dedup_shares_total",
			Help: "Callers attached to an already in-flight identical GET.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthhub_channel_reconnects_total",
			Help: "Event channel reconnect attempts.",
		}),
		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hearthhub_channel_events_total",
			Help: "Push-channel events dispatched, by table and operation.",
		}, []string{"table", "op"}),
	}
	reg.MustRegister(
		m.requestsTotal, m.requestRetries,
		m.cacheHits, m.cacheMisses, m.dedupShares,
		m.reconnects, m.eventsDelivered,
	)
	return m
}

// Request records a finished REST request.
func (m *Metrics) Request(method, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, outcome).Inc()
}

// Retry records a retry attempt.
func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.requestRetries.Inc()
}

// CacheHit records a cache hit.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// CacheMiss records a cache miss.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// DedupShare records a caller joining an in-flight request.
func (m *Metrics) DedupShare() {
	if m == nil {
		return
	}
	m.dedupShares.Inc()
}

// Reconnect records an event channel reconnect attempt.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// Event records a dispatched push-channel event.
func (m *Metrics) Event(table, op string) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(table, op).Inc()
}
