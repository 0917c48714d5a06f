// Package telemetry exposes executions as Prometheus metrics and OpenTelemetry
// traces.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dagflow/flows"
)

// Metrics is a flows.Monitor that counts runs and node executions. Each
// Metrics owns its registry so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	Runs         *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	NodeDuration *prometheus.HistogramVec
	NodeErrors   *prometheus.CounterVec
	InFlight     prometheus.Gauge
}

// NewMetrics creates and registers the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of executions by executor and status.",
			},
			[]string{"executor", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of whole executions.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"executor"},
		),
		NodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Wall time of individual node bodies.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node"},
		),
		NodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_errors_total",
				Help:      "Total number of failed node executions.",
			},
			[]string{"node"},
		),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Executions currently running.",
		}),
	}
	m.registry.MustRegister(m.Runs, m.RunDuration, m.NodeDuration, m.NodeErrors, m.InFlight)
	return m
}

var _ flows.Monitor = (*Metrics)(nil)

func (m *Metrics) Notify(_ context.Context, ev flows.FlowEvent) {
	switch ev.Type {
	case flows.FlowEventTypeFlowStart:
		m.InFlight.Inc()
	case flows.FlowEventTypeNodeEnd:
		m.NodeDuration.WithLabelValues(ev.Node).Observe(ev.Duration.Seconds())
	case flows.FlowEventTypeNodeError:
		m.NodeDuration.WithLabelValues(ev.Node).Observe(ev.Duration.Seconds())
		m.NodeErrors.WithLabelValues(ev.Node).Inc()
	case flows.FlowEventTypeFlowComplete:
		m.InFlight.Dec()
		status := "success"
		if ev.Err != nil {
			status = "error"
		}
		m.Runs.WithLabelValues(ev.Executor, status).Inc()
		m.RunDuration.WithLabelValues(ev.Executor).Observe(ev.Duration.Seconds())
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
