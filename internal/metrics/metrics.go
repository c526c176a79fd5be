// Package metrics instruments the bridge with Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can take one
// optionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Flush pass reasons.
const (
	ReasonTimer     = "timer"
	ReasonSoon      = "soon"
	ReasonImmediate = "immediate"
	ReasonCoherent  = "coherent"
	ReasonCacheDrop = "cacheDrop"
)

// Command outcomes.
const (
	ResultOK         = "ok"
	ResultFailed     = "failed"
	ResultUnroutable = "unroutable"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	flushPasses     *prometheus.CounterVec
	updatesSent     *prometheus.CounterVec
	updateEntries   prometheus.Histogram
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	queuedCommands  prometheus.Counter
	namedContexts   prometheus.Gauge
}

// New creates a Metrics with its own registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		flushPasses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listbridge_flush_passes_total",
				Help: "Batch manager flush passes by trigger.",
			},
			[]string{"reason"},
		),
		updatesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listbridge_updates_sent_total",
				Help: "Update messages sent to views by TOC type and coherence.",
			},
			[]string{"toc", "coherent"},
		),
		updateEntries: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "listbridge_update_entries",
				Help:    "Change entries or window ids carried by one update.",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
			},
		),
		commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listbridge_commands_total",
				Help: "Commands received from views by type and result.",
			},
			[]string{"type", "result"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "listbridge_command_duration_seconds",
				Help:    "Command duration from dispatch to settlement in seconds.",
				Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"type"},
		),
		queuedCommands: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "listbridge_commands_queued_total",
				Help: "Commands deferred behind an in-flight command on the same handle.",
			},
		),
		namedContexts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "listbridge_named_contexts",
				Help: "Live named contexts.",
			},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// FlushPass counts one batch flush pass.
func (m *Metrics) FlushPass(reason string) {
	if m == nil {
		return
	}
	m.flushPasses.WithLabelValues(reason).Inc()
}

// UpdateSent counts one update message carrying entries items.
func (m *Metrics) UpdateSent(tocType string, coherent bool, entries int) {
	if m == nil {
		return
	}
	c := "false"
	if coherent {
		c = "true"
	}
	m.updatesSent.WithLabelValues(tocType, c).Inc()
	m.updateEntries.Observe(float64(entries))
}

// CommandDone records a settled command.
func (m *Metrics) CommandDone(msgType, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(msgType, result).Inc()
	if result != ResultUnroutable {
		m.commandDuration.WithLabelValues(msgType).Observe(d.Seconds())
	}
}

// CommandQueued counts a command deferred behind another.
func (m *Metrics) CommandQueued() {
	if m == nil {
		return
	}
	m.queuedCommands.Inc()
}

// ContextOpened and ContextClosed track live named contexts.
func (m *Metrics) ContextOpened() {
	if m == nil {
		return
	}
	m.namedContexts.Inc()
}

func (m *Metrics) ContextClosed() {
	if m == nil {
		return
	}
	m.namedContexts.Dec()
}
