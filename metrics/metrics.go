// Package metrics exposes Prometheus instruments for complaint runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/songzhibin97/complaint-engine/types"
)

const (
	namespace = "complaint"
	subsystem = "engine"
)

// Collector owns a registry so several engines, e.g. in tests, never collide.
type Collector struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	fallbacks     *prometheus.CounterVec
	stageErrors   *prometheus.CounterVec
	runs          *prometheus.CounterVec
	iterations    prometheus.Histogram
}

// NewCollector registers the engine instruments plus the Go and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_duration_seconds",
			Help:      "Stage execution time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"stage"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_fallbacks_total",
			Help:      "Stage results produced by rules although a reasoner was configured.",
		}, []string{"stage"}),
		stageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_errors_total",
			Help:      "Stage invocations that failed and were replaced by defaults.",
		}, []string{"stage"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Finished complaint runs by terminal status.",
		}, []string{"status"}),
		iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "iterations",
			Help:      "Response drafting iterations per run.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),
	}
}

// ObserveStage records one stage invocation.
func (c *Collector) ObserveStage(stage string, elapsed time.Duration, failed, fallback bool) {
	c.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if failed {
		c.stageErrors.WithLabelValues(stage).Inc()
	}
	if fallback {
		c.fallbacks.WithLabelValues(stage).Inc()
	}
}

// ObserveRun records a finished run.
func (c *Collector) ObserveRun(status types.Status, iterations int) {
	c.runs.WithLabelValues(string(status)).Inc()
	c.iterations.Observe(float64(iterations))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
