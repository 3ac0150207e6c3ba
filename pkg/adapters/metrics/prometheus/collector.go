package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aescanero/scaleout/pkg/ports"
)

var _ ports.MetricsCollector = (*Collector)(nil)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	ticks         prometheus.Counter
	jobsExecuted  *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	staleCleared  prometheus.Counter
	replications  prometheus.Counter
	restarts      prometheus.Counter
	busy          prometheus.Gauge
	lastTickStamp prometheus.Gauge
}

// NewCollector registers the worker metrics with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in
// tests.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		ticks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scaleout_worker_ticks_total",
				Help: "Total number of reconciliation ticks",
			},
		),
		jobsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scaleout_jobs_executed_total",
				Help: "Total number of jobs executed",
			},
			[]string{"status"},
		),
		jobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scaleout_job_duration_seconds",
				Help:    "Job execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		staleCleared: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scaleout_stale_jobs_cleared_total",
				Help: "Total number of stale tracker assignments cleared",
			},
		),
		replications: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scaleout_replications_total",
				Help: "Total number of jobs installed by replication",
			},
		),
		restarts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scaleout_worker_restarts_total",
				Help: "Total number of supervisor restarts",
			},
		),
		busy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scaleout_worker_busy",
				Help: "1 while a job is executing",
			},
		),
		lastTickStamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scaleout_worker_last_tick_timestamp_seconds",
				Help: "Unix time of the last reconciliation tick",
			},
		),
	}
}

// RecordTick records a reconciliation tick
func (c *Collector) RecordTick() {
	c.ticks.Inc()
	c.lastTickStamp.SetToCurrentTime()
}

// RecordJobExecuted records a job execution and its duration
func (c *Collector) RecordJobExecuted(status string, duration time.Duration) {
	c.jobsExecuted.WithLabelValues(status).Inc()
	c.jobDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordStaleCleared() { c.staleCleared.Inc() }

func (c *Collector) RecordReplication() { c.replications.Inc() }

func (c *Collector) RecordRestart() { c.restarts.Inc() }

// SetBusy sets the busy gauge
func (c *Collector) SetBusy(busy bool) {
	if busy {
		c.busy.Set(1)
		return
	}
	c.busy.Set(0)
}
