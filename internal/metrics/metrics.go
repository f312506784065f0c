// Package metrics exposes Prometheus instrumentation for tenber operations.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the service layer reports to.
type Recorder interface {
	RecordOperation(ctx context.Context, operation, status string, d time.Duration)
	RecordStake(ctx context.Context, delta float64)
	RecordTier(ctx context.Context, tier string)
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	stakeDelta        *prometheus.CounterVec
	tierReads         *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenber_operations_total",
				Help: "Total number of tenber operations by type and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenber_operation_duration_seconds",
				Help:    "Duration of tenber operations by type",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5},
			},
			[]string{"operation"},
		),
		stakeDelta: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenber_conviction_moved_total",
				Help: "Conviction added to or withdrawn from ideas",
			},
			[]string{"direction"},
		),
		tierReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenber_vitality_reads_total",
				Help: "Ideas served by vitality tier",
			},
			[]string{"tier"},
		),
		registry: registry,
	}

	registry.MustRegister(c.operationsTotal)
	registry.MustRegister(c.operationDuration)
	registry.MustRegister(c.stakeDelta)
	registry.MustRegister(c.tierReads)
	registry.MustRegister(collectors.NewGoCollector())
	return c
}

func (c *Collector) RecordOperation(_ context.Context, operation, status string, d time.Duration) {
	c.operationsTotal.WithLabelValues(operation, status).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (c *Collector) RecordStake(_ context.Context, delta float64) {
	switch {
	case delta > 0:
		c.stakeDelta.WithLabelValues("in").Add(delta)
	case delta < 0:
		c.stakeDelta.WithLabelValues("out").Add(-delta)
	}
}

func (c *Collector) RecordTier(_ context.Context, tier string) {
	c.tierReads.WithLabelValues(tier).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordOperation(context.Context, string, string, time.Duration) {}
func (Nop) RecordStake(context.Context, float64)                          {}
func (Nop) RecordTier(context.Context, string)                            {}
