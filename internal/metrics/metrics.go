// Package metrics exposes the Prometheus collectors shared by workers and the registry.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "appfw"

// Job outcomes used as label values.
const (
	OutcomeDone    = "done"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

type Metrics struct {
	jobs      *prometheus.CounterVec
	depth     *prometheus.GaugeVec
	wait      *prometheus.HistogramVec
	endpoints *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg (skipped when reg is nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Jobs that reached a terminal state, by worker and outcome.",
		}, []string{"worker", "outcome"}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_depth",
			Help:      "Jobs waiting in a worker lane.",
		}, []string{"worker", "lane"}),
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "sync_wait_seconds",
			Help:      "Time callers spent blocked in a synchronous submission.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"worker"}),
		endpoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "endpoints",
			Help:      "Endpoints held by the service registry, by role.",
		}, []string{"role"}),
	}

	if reg != nil {
		reg.MustRegister(m.jobs, m.depth, m.wait, m.endpoints)
	}

	return m
}

func (m *Metrics) JobFinished(worker, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(worker, outcome).Inc()
}

func (m *Metrics) QueueDepth(worker, lane string, n int) {
	if m == nil {
		return
	}
	m.depth.WithLabelValues(worker, lane).Set(float64(n))
}

func (m *Metrics) SyncWait(worker string, d time.Duration) {
	if m == nil {
		return
	}
	m.wait.WithLabelValues(worker).Observe(d.Seconds())
}

func (m *Metrics) Endpoints(role string, n int) {
	if m == nil {
		return
	}
	m.endpoints.WithLabelValues(role).Set(float64(n))
}
