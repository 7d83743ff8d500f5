package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the supervisor.
type Metrics struct {
	// Analysis metrics
	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec

	// Provider metrics
	ProviderCalls *prometheus.CounterVec
	ProviderState *prometheus.GaugeVec

	// Action metrics
	ActionsExecuted  *prometheus.CounterVec
	DangerousBlocked prometheus.Counter
	AwaitingApproval prometheus.Gauge

	// Session metrics
	SessionsActive prometheus.Gauge
	Uptime         prometheus.Gauge

	registry  *prometheus.Registry
	startTime time.Time
}

// NewMetrics creates a new metrics collector on its own registry, so
// multiple instances can coexist in one process.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),

		AnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overseer_analyses_total",
				Help: "Total number of session analyses",
			},
			[]string{"source", "outcome"},
		),
		AnalysisDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "overseer_analysis_duration_seconds",
				Help:    "Analysis duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"source"},
		),

		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overseer_provider_calls_total",
				Help: "Total number of AI provider calls",
			},
			[]string{"provider", "status"},
		),
		ProviderState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "overseer_provider_state",
				Help: "Provider health state (0=healthy, 1=degraded, 2=failed)",
			},
			[]string{"provider"},
		),

		ActionsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overseer_actions_executed_total",
				Help: "Total number of synthesized keystroke sequences sent",
			},
			[]string{"action_type"},
		),
		DangerousBlocked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "overseer_dangerous_actions_blocked_total",
				Help: "Total number of actions held for mandatory confirmation",
			},
		),
		AwaitingApproval: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "overseer_sessions_awaiting_approval",
				Help: "Number of sessions awaiting manual confirmation",
			},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "overseer_sessions_active",
				Help: "Number of supervised sessions",
			},
		),
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "overseer_uptime_seconds",
				Help: "Supervisor uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// Handler serves this collector's registry in Prometheus exposition
// format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// updateUptime continuously updates the uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordAnalysis records one completed analysis. All methods tolerate a
// nil receiver so callers can run without metrics in tests.
func (m *Metrics) RecordAnalysis(source, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(source, outcome).Inc()
	m.AnalysisDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordProviderCall records one AI provider call.
func (m *Metrics) RecordProviderCall(provider, status string) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(provider, status).Inc()
}

// SetProviderState records a provider health transition.
func (m *Metrics) SetProviderState(provider string, state int) {
	if m == nil {
		return
	}
	m.ProviderState.WithLabelValues(provider).Set(float64(state))
}

// RecordAction records one executed keystroke sequence.
func (m *Metrics) RecordAction(actionType string) {
	if m == nil {
		return
	}
	m.ActionsExecuted.WithLabelValues(actionType).Inc()
}

// IncDangerousBlocked counts an action held for confirmation.
func (m *Metrics) IncDangerousBlocked() {
	if m == nil {
		return
	}
	m.DangerousBlocked.Inc()
}

// SetAwaitingApproval sets the number of sessions held for confirmation.
func (m *Metrics) SetAwaitingApproval(count int) {
	if m == nil {
		return
	}
	m.AwaitingApproval.Set(float64(count))
}

// SetSessionsActive sets the number of supervised sessions.
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}
