package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every method is safe on a nil
// receiver so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Injection metrics
	Navigations        *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	Handshakes         *prometheus.CounterVec
	Retriaged          prometheus.Counter
	TardyOutcomes      *prometheus.CounterVec
	ReportsDropped     prometheus.Counter
	ExecutorAttempts   *prometheus.CounterVec
	OneShotsActive     prometheus.Gauge
	DiagnosticsLogged  *prometheus.CounterVec
	DiagnosticsDeduped prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON health endpoint
type Snapshot struct {
	Navigations   int64 `json:"navigations"`
	Stalls        int64 `json:"stalls"`
	ExecFailures  int64 `json:"exec_failures"`
	HTTPRequests  int64 `json:"http_requests"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	m := &Metrics{registry: reg, startTime: time.Now()}

	m.RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "injectcore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "injectcore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	m.Navigations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "injectcore_navigations_total",
			Help: "Navigations processed by the content side",
		},
		[]string{"platform"},
	)
	m.Deliveries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "injectcore_script_deliveries_total",
			Help: "Scripts physically delivered, by realm and run phase",
		},
		[]string{"realm", "run_at"},
	)
	m.Handshakes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "injectcore_vault_handshakes_total",
			Help: "Vault handshake outcomes",
		},
		[]string{"outcome"},
	)
	m.Retriaged = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "injectcore_retriaged_scripts_total",
			Help: "Page-realm scripts moved to the isolated realm by a late policy",
		},
	)
	m.TardyOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "injectcore_tardy_checks_total",
			Help: "Stall detector check outcomes",
		},
		[]string{"outcome"},
	)
	m.ReportsDropped = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "injectcore_issue_reports_dropped_total",
			Help: "Script issue reports dropped by the open circuit breaker",
		},
	)
	m.ExecutorAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "injectcore_executor_attempts_total",
			Help: "Execution adapter strategy attempts",
		},
		[]string{"strategy", "status"},
	)
	m.OneShotsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "injectcore_one_shot_registrations",
			Help: "Tracked one-shot registrations awaiting cleanup",
		},
	)
	m.DiagnosticsLogged = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "injectcore_diagnostics_logged_total",
			Help: "Script issues recorded, by classification",
		},
		[]string{"kind"},
	)
	m.DiagnosticsDeduped = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "injectcore_diagnostics_deduped_total",
			Help: "Script issues suppressed inside the dedupe window",
		},
	)
	m.WSConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "injectcore_ws_connections",
			Help: "Number of active WebSocket connections",
		},
	)
	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "injectcore_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.HTTPRequests++
	m.mu.Unlock()
}

// RecordNavigation counts a processed navigation
func (m *Metrics) RecordNavigation(platform string) {
	if m == nil {
		return
	}
	m.Navigations.WithLabelValues(platform).Inc()

	m.mu.Lock()
	m.snapshot.Navigations++
	m.mu.Unlock()
}

// RecordDelivery counts one physical script delivery
func (m *Metrics) RecordDelivery(realm, runAt string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(realm, runAt).Inc()
}

// RecordHandshake counts a vault handshake outcome
func (m *Metrics) RecordHandshake(outcome string) {
	if m == nil {
		return
	}
	m.Handshakes.WithLabelValues(outcome).Inc()
}

// AddRetriaged counts scripts flipped to the isolated realm
func (m *Metrics) AddRetriaged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Retriaged.Add(float64(n))
}

// RecordTardy counts a stall detector outcome
func (m *Metrics) RecordTardy(outcome string) {
	if m == nil {
		return
	}
	m.TardyOutcomes.WithLabelValues(outcome).Inc()
	if outcome == "suspected-stall" {
		m.mu.Lock()
		m.snapshot.Stalls++
		m.mu.Unlock()
	}
}

// IncReportsDropped counts a report rejected by the breaker
func (m *Metrics) IncReportsDropped() {
	if m == nil {
		return
	}
	m.ReportsDropped.Inc()
}

// RecordExecutorAttempt counts a strategy attempt
func (m *Metrics) RecordExecutorAttempt(strategy, status string) {
	if m == nil {
		return
	}
	m.ExecutorAttempts.WithLabelValues(strategy, status).Inc()
	if status == "error" {
		m.mu.Lock()
		m.snapshot.ExecFailures++
		m.mu.Unlock()
	}
}

// SetOneShotsActive sets the tracked one-shot registration count
func (m *Metrics) SetOneShotsActive(n int) {
	if m == nil {
		return
	}
	m.OneShotsActive.Set(float64(n))
}

// RecordDiagnostic counts a recorded script issue
func (m *Metrics) RecordDiagnostic(kind string) {
	if m == nil {
		return
	}
	m.DiagnosticsLogged.WithLabelValues(kind).Inc()
}

// IncDiagnosticsDeduped counts a suppressed duplicate
func (m *Metrics) IncDiagnosticsDeduped() {
	if m == nil {
		return
	}
	m.DiagnosticsDeduped.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// GetSnapshot returns the current counters for the JSON API
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = int64(time.Since(m.startTime).Seconds())
	return s
}
