// Package metrics exposes Prometheus instruments for the delivery pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	jobs          *prometheus.CounterVec
	sends         *prometheus.CounterVec
	deactivated   prometheus.Counter
	batchDuration prometheus.Histogram
	detections    *prometheus.CounterVec
	enqueued      *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgetbell_jobs_processed_total",
				Help: "Queue jobs processed by outcome",
			},
			[]string{"outcome"},
		),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgetbell_push_sends_total",
				Help: "Push transmissions by result",
			},
			[]string{"result"},
		),
		deactivated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "budgetbell_subscriptions_deactivated_total",
				Help: "Subscriptions deactivated after a permanent push failure",
			},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "budgetbell_batch_duration_seconds",
				Help:    "Wall-clock time of one dispatcher batch",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgetbell_detections_total",
				Help: "Detector firings by detector and kind",
			},
			[]string{"detector", "kind"},
		),
		enqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgetbell_jobs_enqueued_total",
				Help: "Jobs written to the queue by type",
			},
			[]string{"type"},
		),
	}
	reg.MustRegister(m.jobs, m.sends, m.deactivated, m.batchDuration, m.detections, m.enqueued)
	return m
}

// Job outcomes.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeRetried  = "retried"
	OutcomeDeferred = "deferred"
)

// Push send results.
const (
	SendOK        = "ok"
	SendGone      = "gone"
	SendTransient = "transient"
)

func (m *Metrics) JobProcessed(outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PushSent(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
	if result == SendGone {
		m.deactivated.Inc()
	}
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

func (m *Metrics) Detected(detector, kind string) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(detector, kind).Inc()
}

func (m *Metrics) Enqueued(notifType string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(notifType).Inc()
}
