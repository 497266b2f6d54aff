// Package prom exports cache events as Prometheus metrics.
//
//	m := prom.New(prometheus.NewRegistry(), "shop")
//	orders, _ := deltacache.New[*Order](deltacache.ListOptions[*Order]{..., Hooks: m})
//	http.Handle("/metrics", m.Handler())
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unkn0wn-root/deltacache"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	fullLoads     *prometheus.CounterVec
	fullLoadTime  *prometheus.HistogramVec
	remoteHits    *prometheus.CounterVec
	deltaMerges   *prometheus.CounterVec
	deltaItems    *prometheus.HistogramVec
	deltaTime     *prometheus.HistogramVec
	refreshFails  *prometheus.CounterVec
	selfHeals     *prometheus.CounterVec
	writeFailures *prometheus.CounterVec
	outages       prometheus.Counter
}

var _ deltacache.Hooks = (*Metrics)(nil)

// New registers the cache metrics on reg under namespace. A nil reg uses
// prometheus.DefaultRegisterer. Registering twice on the same registry panics.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const sub = "deltacache"
	m := &Metrics{
		fullLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "full_loads_total",
			Help: "Lists and values built from the loader.",
		}, []string{"ns"}),
		fullLoadTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: sub,
			Name:    "full_load_seconds",
			Help:    "Duration of full loads.",
			Buckets: prometheus.DefBuckets,
		}, []string{"ns"}),
		remoteHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "remote_hits_total",
			Help: "Entries materialized from the remote tier.",
		}, []string{"ns"}),
		deltaMerges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "delta_merges_total",
			Help: "Refreshes completed by delta merge.",
		}, []string{"ns"}),
		deltaItems: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: sub,
			Name:    "delta_items",
			Help:    "Items per delta.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"ns"}),
		deltaTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: sub,
			Name:    "delta_seconds",
			Help:    "Duration of delta load and merge.",
			Buckets: prometheus.DefBuckets,
		}, []string{"ns"}),
		refreshFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "refresh_failures_total",
			Help: "Refreshes that failed and served the stale entry.",
		}, []string{"ns", "stage"}),
		selfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "self_heals_total",
			Help: "Unreadable remote entries deleted on read.",
		}, []string{"reason"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "remote_write_failures_total",
			Help: "Remote writes that failed (error) or were refused (rejected).",
		}, []string{"kind"}),
		outages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "invalidate_outages_total",
			Help: "Invalidations whose remote delete failed.",
		}),
	}
	reg.MustRegister(
		m.fullLoads, m.fullLoadTime, m.remoteHits,
		m.deltaMerges, m.deltaItems, m.deltaTime,
		m.refreshFails, m.selfHeals, m.writeFailures, m.outages,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) FullLoad(ns, _ string, _ int, took time.Duration) {
	m.fullLoads.WithLabelValues(ns).Inc()
	m.fullLoadTime.WithLabelValues(ns).Observe(took.Seconds())
}

func (m *Metrics) RemoteHit(ns, _ string) { m.remoteHits.WithLabelValues(ns).Inc() }

func (m *Metrics) DeltaMerged(ns, _ string, delta, _ int, took time.Duration) {
	m.deltaMerges.WithLabelValues(ns).Inc()
	m.deltaItems.WithLabelValues(ns).Observe(float64(delta))
	m.deltaTime.WithLabelValues(ns).Observe(took.Seconds())
}

func (m *Metrics) RefreshFailed(ns, _, stage string, _ error) {
	m.refreshFails.WithLabelValues(ns, stage).Inc()
}

func (m *Metrics) SelfHeal(_, reason string) { m.selfHeals.WithLabelValues(reason).Inc() }

func (m *Metrics) RemoteWriteFailed(_ string, err error) {
	kind := "rejected"
	if err != nil {
		kind = "error"
	}
	m.writeFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) InvalidateOutage(string, error) { m.outages.Inc() }
