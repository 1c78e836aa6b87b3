package sched

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts scheduler activity.
type Metrics struct {
	// Submitted counts queued jobs.
	// Labels: kind (merge|full-refresh|spontaneous|stroke)
	Submitted *prometheus.CounterVec

	// Completed counts executed jobs.
	// Labels: kind, status (ok|error)
	Completed *prometheus.CounterVec

	// Dropped counts jobs removed without running.
	// Labels: kind, reason (missing-node|overridden|cancelled|merged|closed)
	Dropped *prometheus.CounterVec

	// Queued is the number of jobs waiting to start.
	Queued prometheus.Gauge

	// Running is the number of jobs executing.
	Running prometheus.Gauge

	// Duration observes job run time in seconds.
	// Labels: kind
	Duration *prometheus.HistogramVec
}

// NewMetrics creates scheduler metrics registered with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiled_sched_jobs_submitted_total",
			Help: "Jobs queued by kind",
		}, []string{"kind"}),
		Completed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiled_sched_jobs_completed_total",
			Help: "Jobs executed by kind and status",
		}, []string{"kind", "status"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiled_sched_jobs_dropped_total",
			Help: "Jobs removed without running by kind and reason",
		}, []string{"kind", "reason"}),
		Queued: f.NewGauge(prometheus.GaugeOpts{
			Name: "tiled_sched_queued_jobs",
			Help: "Jobs waiting to start",
		}),
		Running: f.NewGauge(prometheus.GaugeOpts{
			Name: "tiled_sched_running_jobs",
			Help: "Jobs executing",
		}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tiled_sched_job_duration_seconds",
			Help:    "Job run time",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"kind"}),
	}
}
