package msgrate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for a Guard.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	decisions        *prometheus.CounterVec
	retryAfter       *prometheus.HistogramVec
	decisionDuration *prometheus.HistogramVec
	trackedKeys      *prometheus.GaugeVec
	publishErrors    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgrate_decisions_total",
				Help: "Total number of admission decisions",
			},
			[]string{"policy", "result"},
		),

		retryAfter: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "msgrate_retry_after_seconds",
				Help:    "Wait reported to rejected callers",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"policy"},
		),

		decisionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "msgrate_decision_duration_seconds",
				Help:    "Time spent deciding on an action",
				Buckets: prometheus.ExponentialBuckets(0.000001, 4, 8),
			},
			[]string{"policy"},
		),

		trackedKeys: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "msgrate_tracked_keys",
				Help: "Keys holding limiter state after the last sweep",
			},
			[]string{"policy"},
		),

		publishErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgrate_publish_errors_total",
				Help: "Decision events that could not be handed to the publisher",
			},
			[]string{"policy"},
		),
	}
}

func (m *Metrics) observeDecision(policy string, allowed bool, retryAfter, took time.Duration) {
	if m == nil {
		return
	}

	result := "accepted"
	if !allowed {
		result = "rejected"
		if retryAfter != 0 {
			m.retryAfter.WithLabelValues(policy).Observe(retryAfter.Seconds())
		}
	}
	m.decisions.WithLabelValues(policy, result).Inc()
	m.decisionDuration.WithLabelValues(policy).Observe(took.Seconds())
}

func (m *Metrics) observeTrackedKeys(policy string, n int) {
	if m == nil {
		return
	}
	m.trackedKeys.WithLabelValues(policy).Set(float64(n))
}

func (m *Metrics) observePublishError(policy string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(policy).Inc()
}
