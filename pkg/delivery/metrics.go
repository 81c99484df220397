package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the delivery engine. A nil
// *Metrics is valid and records nothing, so library users without
// Prometheus pay no cost.
type Metrics struct {
	sent       *prometheus.CounterVec
	failed     *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
}

// NewMetrics creates delivery metrics registered on reg. A nil registerer
// uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		sent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aicm_delivery_sent_total",
				Help: "Usage records confirmed by the ingestion endpoint",
			},
			[]string{"strategy"},
		),
		failed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aicm_delivery_failed_total",
				Help: "Usage records dropped or terminally failed",
			},
			[]string{"strategy"},
		),
		dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aicm_delivery_dropped_total",
				Help: "Usage records dropped because the queue was full",
			},
			[]string{"strategy"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aicm_delivery_queue_depth",
				Help: "Usage records currently waiting to ship",
			},
			[]string{"strategy"},
		),
	}
}

func (m *Metrics) addSent(strategy string, n int) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(strategy).Add(float64(n))
}

func (m *Metrics) addFailed(strategy string, n int) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(strategy).Add(float64(n))
}

func (m *Metrics) addDropped(strategy string, n int) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(strategy).Add(float64(n))
}

func (m *Metrics) setQueueDepth(strategy string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(strategy).Set(float64(depth))
}
