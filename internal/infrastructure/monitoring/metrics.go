package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Terminal lifecycle metrics
	TerminalsActive  prometheus.Gauge
	TerminalsCreated prometheus.Counter
	Transitions      *prometheus.CounterVec

	// Platform adapter metrics
	ProvisionTotal   *prometheus.CounterVec
	ProvisionRetries prometheus.Counter
	TerminateTotal   *prometheus.CounterVec

	// Callback ingestion metrics
	CallbacksTotal *prometheus.CounterVec

	// Per-unit resource usage, as reported by supervisors
	UnitCPUPercent  *prometheus.GaugeVec
	UnitMemoryBytes *prometheus.GaugeVec

	// Reclamation metrics
	SweepDuration prometheus.Histogram
	SweepReclaims *prometheus.CounterVec
	SweepErrors   prometheus.Counter
}

// New creates a metrics collector backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminals_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "terminals_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		TerminalsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "terminals_active",
				Help: "Number of terminals not yet in an absorbing state",
			},
		),
		TerminalsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "terminals_created_total",
				Help: "Total number of terminals created",
			},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminals_transitions_total",
				Help: "State transitions applied, by source and destination status",
			},
			[]string{"from", "to"},
		),

		ProvisionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminals_provision_total",
				Help: "Platform provisioning attempts by outcome",
			},
			[]string{"backend", "outcome"},
		),
		ProvisionRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "terminals_provision_retries_total",
				Help: "Transient provisioning failures that were retried",
			},
		),
		TerminateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminals_terminate_total",
				Help: "Platform termination calls by outcome",
			},
			[]string{"backend", "outcome"},
		),

		CallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminals_callbacks_total",
				Help: "Supervisor callbacks by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		UnitCPUPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "terminals_unit_cpu_percent",
				Help: "CPU usage of the unit as last reported by its supervisor",
			},
			[]string{"terminal_id"},
		),
		UnitMemoryBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "terminals_unit_memory_bytes",
				Help: "Memory usage of the unit as last reported by its supervisor",
			},
			[]string{"terminal_id"},
		),

		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "terminals_sweep_duration_seconds",
				Help:    "Duration of reclamation sweep cycles",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
			},
		),
		SweepReclaims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminals_sweep_reclaims_total",
				Help: "Records reclaimed by the sweeper, by reason",
			},
			[]string{"reason"},
		),
		SweepErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "terminals_sweep_errors_total",
				Help: "Per-record sweep failures (retried next cycle)",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration,
		m.TerminalsActive, m.TerminalsCreated, m.Transitions,
		m.ProvisionTotal, m.ProvisionRetries, m.TerminateTotal,
		m.CallbacksTotal,
		m.UnitCPUPercent, m.UnitMemoryBytes,
		m.SweepDuration, m.SweepReclaims, m.SweepErrors,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTransition increments the transition counter.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

// RecordCallback increments the callback counter.
func (m *Metrics) RecordCallback(kind, outcome string) {
	if m == nil {
		return
	}
	m.CallbacksTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordUnitStats publishes the latest supervisor-reported resource usage
// for a terminal's unit.
func (m *Metrics) RecordUnitStats(terminalID string, cpuPercent, memoryBytes float64) {
	if m == nil {
		return
	}
	m.UnitCPUPercent.WithLabelValues(terminalID).Set(cpuPercent)
	m.UnitMemoryBytes.WithLabelValues(terminalID).Set(memoryBytes)
}

// ClearUnitStats drops a terminal's usage series once it reaches an
// absorbing state, so retired units stop appearing in scrapes.
func (m *Metrics) ClearUnitStats(terminalID string) {
	if m == nil {
		return
	}
	m.UnitCPUPercent.DeleteLabelValues(terminalID)
	m.UnitMemoryBytes.DeleteLabelValues(terminalID)
}

// ObserveSweep records one sweep cycle.
func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}
