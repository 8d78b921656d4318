package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the portal.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration     *prometheus.HistogramVec
	sourceErrors        *prometheus.CounterVec
	recordsFetched      *prometheus.CounterVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
	activeSubscriptions prometheus.Gauge
	staleDiscarded      prometheus.Counter
	roleRejections      prometheus.Counter
	liveRefreshes       *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_operation_duration_seconds",
				Help:    "Duration of portal operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		sourceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_source_errors_total",
				Help: "Failed fetches per physical table.",
			},
			[]string{"table"},
		),
		recordsFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_records_fetched_total",
				Help: "Rows fetched per physical table.",
			},
			[]string{"table"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		activeSubscriptions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_live_subscriptions",
				Help: "Open change-feed subscriptions.",
			},
		),
		staleDiscarded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_stale_results_discarded_total",
				Help: "Fetch results dropped because the selection changed meanwhile.",
			},
		),
		roleRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_role_switch_rejections_total",
				Help: "Admin view-mode requests from users without privilege.",
			},
		),
		liveRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_live_refreshes_total",
				Help: "Debounced refreshes triggered by change events.",
			},
			[]string{"view"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrSourceError counts a failed table fetch.
func (m *Metrics) IncrSourceError(table string) {
	m.sourceErrors.WithLabelValues(table).Inc()
}

// AddRecordsFetched counts rows read from a table.
func (m *Metrics) AddRecordsFetched(table string, n int) {
	m.recordsFetched.WithLabelValues(table).Add(float64(n))
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// SubscriptionOpened and SubscriptionClosed track the live gauge.
func (m *Metrics) SubscriptionOpened() { m.activeSubscriptions.Inc() }
func (m *Metrics) SubscriptionClosed() { m.activeSubscriptions.Dec() }

// IncrStaleDiscarded counts a dropped out-of-date result.
func (m *Metrics) IncrStaleDiscarded() { m.staleDiscarded.Inc() }

// IncrRoleRejection counts a refused switch to admin mode.
func (m *Metrics) IncrRoleRejection() { m.roleRejections.Inc() }

// IncrLiveRefresh counts a debounced refresh.
func (m *Metrics) IncrLiveRefresh(view string) {
	m.liveRefreshes.WithLabelValues(view).Inc()
}

// ActiveSubscriptions reads the live gauge.
func (m *Metrics) ActiveSubscriptions() float64 {
	return metricValue(m.activeSubscriptions)
}

// StaleDiscarded reads the stale-result counter.
func (m *Metrics) StaleDiscarded() float64 {
	return metricValue(m.staleDiscarded)
}

// SourceErrors reads the failure counter of one table.
func (m *Metrics) SourceErrors(table string) float64 {
	return metricValue(m.sourceErrors.WithLabelValues(table))
}

// metricValue extracts the current value of a counter or gauge.
func metricValue(c prometheus.Metric) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	switch {
	case m.Counter != nil && m.Counter.Value != nil:
		return *m.Counter.Value
	case m.Gauge != nil && m.Gauge.Value != nil:
		return *m.Gauge.Value
	}
	return 0
}
