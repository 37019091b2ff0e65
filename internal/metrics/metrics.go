// Package metrics holds the Prometheus collectors for the lifecycle
// controller. A nil *Metrics is valid and records nothing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "campaign"

type Metrics struct {
	classifications *prometheus.CounterVec
	resumptions     *prometheus.CounterVec
	closes          *prometheus.CounterVec
	expiries        *prometheus.CounterVec
	jobs            *prometheus.CounterVec
	jobLag          *prometheus.HistogramVec
	utilization     prometheus.Gauge
	collecting      prometheus.Gauge
}

var (
	defaultOnce sync.Once
	defaultReg  *Metrics
)

// Default returns the lazily-initialised collectors registered on the
// global Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultReg = New(prometheus.DefaultRegisterer)
	})
	return defaultReg
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "classifications_total",
			Help:      "Campaign state classifications segmented by resulting state.",
		}, []string{"state"}),
		resumptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "resumptions_total",
			Help:      "Workflow resumptions segmented by step and outcome.",
		}, []string{"step", "outcome"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "closes_total",
			Help:      "Campaign close attempts segmented by outcome.",
		}, []string{"outcome"}),
		expiries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "expiries_total",
			Help:      "Expiry deliveries segmented by outcome (applied, skipped, failed).",
		}, []string{"outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "jobs_total",
			Help:      "Scheduled job executions segmented by event and result.",
		}, []string{"event", "result"}),
		jobLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "delivery_lag_seconds",
			Help:      "Delay between a job's execute_at and the moment a worker picked it up.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"event"}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratebudget",
			Name:      "utilization_percent",
			Help:      "Projected read quota utilization for campaigns currently collecting.",
		}),
		collecting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratebudget",
			Name:      "collecting_campaigns",
			Help:      "Campaigns in the collecting (Running) phase at the last admission check.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.classifications,
			m.resumptions,
			m.closes,
			m.expiries,
			m.jobs,
			m.jobLag,
			m.utilization,
			m.collecting,
		)
	}
	return m
}

func (m *Metrics) ObserveClassification(state string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveResume(step, outcome string) {
	if m == nil {
		return
	}
	m.resumptions.WithLabelValues(step, outcome).Inc()
}

func (m *Metrics) ObserveClose(outcome string) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveExpiry(outcome string) {
	if m == nil {
		return
	}
	m.expiries.WithLabelValues(outcome).Inc()
}

// ObserveJob records a finished job and how late it started.
func (m *Metrics) ObserveJob(event, result string, lag time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(event, result).Inc()
	if lag < 0 {
		lag = 0
	}
	m.jobLag.WithLabelValues(event).Observe(lag.Seconds())
}

// SetRateBudget publishes the admission snapshot.
func (m *Metrics) SetRateBudget(collecting int, utilizationPct float64) {
	if m == nil {
		return
	}
	m.collecting.Set(float64(collecting))
	m.utilization.Set(utilizationPct)
}
