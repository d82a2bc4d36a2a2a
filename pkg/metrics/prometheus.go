// Package metrics provides Prometheus metrics for the Roomies Hub engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every Prometheus collector of the service. A nil *Manager is
// valid and records nothing, so components may run without metrics.
type Manager struct {
	namespace         string
	subsystem         string
	histogramBuckets  []float64
	runtimeCollectors bool
	registry          *prometheus.Registry

	// Ledger
	awardsApplied  *prometheus.CounterVec
	awardFailures  *prometheus.CounterVec
	awardRetries   prometheus.Counter
	awardLatency   prometheus.Histogram
	levelUps       prometheus.Counter
	badgesEarned   *prometheus.CounterVec
	milestonesHit  *prometheus.CounterVec
	pointsAwarded  prometheus.Counter
	pointsDeducted prometheus.Counter

	// Analytics
	analyticsDuration   *prometheus.HistogramVec
	dataQualityWarnings *prometheus.CounterVec
	cacheRequests       *prometheus.CounterVec
	circuitState        *prometheus.GaugeVec

	// Event bus
	eventsPublished *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec

	// Scheduler
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	// Realtime
	wsClients prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a metrics manager on its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "roomies",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	if m.runtimeCollectors {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	// ─── Ledger ───
	m.awardsApplied = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "awards_applied_total",
		Help:      "Total number of committed point mutations by reason",
	}, []string{"reason"})

	m.awardFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "award_failures_total",
		Help:      "Total number of failed point mutations by error kind",
	}, []string{"kind"})

	m.awardRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "award_retries_total",
		Help:      "Total number of retried ledger transactions",
	})

	m.awardLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "award_duration_seconds",
		Help:      "Duration of a ledger award including retries",
		Buckets:   m.histogramBuckets,
	})

	m.levelUps = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "level_ups_total",
		Help:      "Total number of level increases",
	})

	m.badgesEarned = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "badges_earned_total",
		Help:      "Total number of badges earned by badge id",
	}, []string{"badge"})

	m.milestonesHit = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "milestones_recorded_total",
		Help:      "Total number of legendary milestones recorded by threshold",
	}, []string{"threshold"})

	m.pointsAwarded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "points_awarded_total",
		Help:      "Sum of applied positive balance changes",
	})

	m.pointsDeducted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "points_deducted_total",
		Help:      "Sum of applied negative balance changes (after clamping)",
	})

	// ─── Analytics ───
	m.analyticsDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "analytics_compute_duration_seconds",
		Help:      "Duration of analytics snapshot computation",
		Buckets:   m.histogramBuckets,
	}, []string{"outcome"})

	m.dataQualityWarnings = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "data_quality_warnings_total",
		Help:      "Non-finite values replaced by zero in analytics, by field",
	}, []string{"field"})

	m.cacheRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "analytics_cache_requests_total",
		Help:      "Analytics cache lookups by result",
	}, []string{"result"})

	m.circuitState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"name"})

	// ─── Event bus ───
	m.eventsPublished = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_published_total",
		Help:      "Total number of events published by type",
	}, []string{"type"})

	m.handlerFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "event_handler_failures_total",
		Help:      "Total number of failed event handler invocations by type",
	}, []string{"type"})

	// ─── Scheduler ───
	m.jobRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scheduler_job_runs_total",
		Help:      "Scheduled job runs by job and status",
	}, []string{"job", "status"})

	m.jobDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scheduler_job_duration_seconds",
		Help:      "Scheduled job duration by job",
		Buckets:   m.histogramBuckets,
	}, []string{"job"})

	// ─── Realtime ───
	m.wsClients = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "websocket_clients",
		Help:      "Currently connected WebSocket clients",
	})

	// ─── HTTP ───
	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by route, method and status",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration by route and method",
		Buckets:   m.histogramBuckets,
	}, []string{"route", "method"})
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ═══════════════════════════════════════════════════════════════════════════
// LEDGER
// ═══════════════════════════════════════════════════════════════════════════

// RecordAward records a committed mutation with its applied delta.
func (m *Manager) RecordAward(reason string, appliedDelta int, d time.Duration) {
	if m == nil {
		return
	}
	m.awardsApplied.WithLabelValues(reason).Inc()
	m.awardLatency.Observe(d.Seconds())
	switch {
	case appliedDelta > 0:
		m.pointsAwarded.Add(float64(appliedDelta))
	case appliedDelta < 0:
		m.pointsDeducted.Add(float64(-appliedDelta))
	}
}

// RecordAwardFailure records a failed mutation by error kind.
func (m *Manager) RecordAwardFailure(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.awardFailures.WithLabelValues(kind).Inc()
	m.awardLatency.Observe(d.Seconds())
}

// RecordAwardRetry records one retried ledger transaction.
func (m *Manager) RecordAwardRetry() {
	if m == nil {
		return
	}
	m.awardRetries.Inc()
}

// RecordLevelUp records a level increase.
func (m *Manager) RecordLevelUp() {
	if m == nil {
		return
	}
	m.levelUps.Inc()
}

// RecordBadge records an earned badge.
func (m *Manager) RecordBadge(badgeID string) {
	if m == nil {
		return
	}
	m.badgesEarned.WithLabelValues(badgeID).Inc()
}

// RecordMilestone records a newly recorded legendary threshold.
func (m *Manager) RecordMilestone(threshold string) {
	if m == nil {
		return
	}
	m.milestonesHit.WithLabelValues(threshold).Inc()
}

// ═══════════════════════════════════════════════════════════════════════════
// ANALYTICS
// ═══════════════════════════════════════════════════════════════════════════

// RecordAnalyticsCompute records a snapshot computation.
func (m *Manager) RecordAnalyticsCompute(d time.Duration, degraded bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	m.analyticsDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordDataQuality records a non-finite value replaced in a snapshot.
func (m *Manager) RecordDataQuality(field string) {
	if m == nil {
		return
	}
	m.dataQualityWarnings.WithLabelValues(field).Inc()
}

// RecordCacheHit records an analytics cache hit.
func (m *Manager) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records an analytics cache miss.
func (m *Manager) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues("miss").Inc()
}

// RecordCacheError records a failed cache call.
func (m *Manager) RecordCacheError() {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues("error").Inc()
}

// SetCircuitState exposes a breaker state as a gauge.
func (m *Manager) SetCircuitState(name string, state int) {
	if m == nil {
		return
	}
	m.circuitState.WithLabelValues(name).Set(float64(state))
}

// ═══════════════════════════════════════════════════════════════════════════
// EVENTS / REALTIME / HTTP
// ═══════════════════════════════════════════════════════════════════════════

// RecordEventPublished records a published event.
func (m *Manager) RecordEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordHandlerFailure records a failed event handler invocation.
func (m *Manager) RecordHandlerFailure(eventType string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(eventType).Inc()
}

// RecordJobRun records a finished scheduler job run.
func (m *Manager) RecordJobRun(job string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// SetWebSocketClients sets the number of connected WebSocket clients.
func (m *Manager) SetWebSocketClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

// RecordHTTPRequest records a served HTTP request.
func (m *Manager) RecordHTTPRequest(route, method, statusCode string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
