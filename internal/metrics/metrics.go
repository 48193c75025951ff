// Package metrics holds the Prometheus instruments of the rule engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rulechain"

// Chain run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Metrics is a set of instruments registered on one registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	chainRuns         *prometheus.CounterVec
	chainTerminals    *prometheus.CounterVec
	nodeDispatches    *prometheus.CounterVec
	scriptDuration    prometheus.Histogram
	deviceUpdates     *prometheus.CounterVec
	batchDuration     prometheus.Histogram
	telemetryMessages prometheus.Counter
}

// New creates the instruments and registers them on a fresh registry,
// together with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,

		chainRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "runs_total",
			Help:      "Rule chain traversals by outcome",
		}, []string{"outcome"}),

		chainTerminals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "terminations_total",
			Help:      "Completed traversals by the reason they stopped",
		}, []string{"reason"}),

		nodeDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "dispatches_total",
			Help:      "Nodes dispatched by node type",
		}, []string{"type"}),

		scriptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "duration_seconds",
			Help:      "Wall clock time of script node evaluation",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5},
		}),

		deviceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "updates_total",
			Help:      "Device attribute updates by status",
		}, []string{"status"}),

		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Wall clock time of a full batch run",
			Buckets:   prometheus.DefBuckets,
		}),

		telemetryMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "telemetry_messages_total",
			Help:      "Telemetry messages applied to the device context",
		}),
	}

	reg.MustRegister(
		m.chainRuns,
		m.chainTerminals,
		m.nodeDispatches,
		m.scriptDuration,
		m.deviceUpdates,
		m.batchDuration,
		m.telemetryMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RegisterBuildInfo adds a constant gauge labelled with the engine version
// and integration.
func (m *Metrics) RegisterBuildInfo(version, integrationID string) error {
	if m == nil {
		return nil
	}
	return m.Registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Engine version and integration, always 1",
		ConstLabels: prometheus.Labels{"version": version, "integration_id": integrationID},
	}, func() float64 { return 1 }))
}

// RegisterGauge adds a gauge whose value is read from fn at scrape time.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) error {
	if m == nil {
		return nil
	}
	return m.Registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// RegisterCounter adds a counter whose value is read from fn at scrape time.
func (m *Metrics) RegisterCounter(name, help string, fn func() float64) error {
	if m == nil {
		return nil
	}
	return m.Registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) ObserveChainRun(outcome string) {
	if m == nil {
		return
	}
	m.chainRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTerminal(reason string) {
	if m == nil {
		return
	}
	m.chainTerminals.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveNode(nodeType string) {
	if m == nil {
		return
	}
	m.nodeDispatches.WithLabelValues(nodeType).Inc()
}

func (m *Metrics) ObserveScript(d time.Duration) {
	if m == nil {
		return
	}
	m.scriptDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveDeviceUpdate(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.deviceUpdates.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveTelemetry() {
	if m == nil {
		return
	}
	m.telemetryMessages.Inc()
}
