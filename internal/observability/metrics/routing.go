package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// RoutingMetrics implements ports.RoutingObserver on top of a Prometheus registry.
type RoutingMetrics struct {
	service string

	decisionsTotal *prometheus.CounterVec
	degradedTotal  *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
}

func NewRoutingMetrics(service string, registerer prometheus.Registerer) *RoutingMetrics {
	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Routing decisions by query intent.",
		},
		[]string{"service", "intent", "decision", "degraded"},
	)
	degradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "routing",
			Name:      "retrieval_degraded_total",
			Help:      "Queries answered without context after retrieval failed.",
		},
		[]string{"service"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "routing",
			Name:      "stage_duration_seconds",
			Help:      "Duration of routing stages by outcome.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "stage", "status"},
	)

	registerer.MustRegister(decisionsTotal, degradedTotal, stageDuration)

	return &RoutingMetrics{
		service:        service,
		decisionsTotal: decisionsTotal,
		degradedTotal:  degradedTotal,
		stageDuration:  stageDuration,
	}
}

func (m *RoutingMetrics) ObserveRouting(intent domain.IntentLabel, decision domain.RoutingDecision, degraded bool) {
	m.decisionsTotal.WithLabelValues(m.service, string(intent), string(decision), strconv.FormatBool(degraded)).Inc()
	if degraded {
		m.degradedTotal.WithLabelValues(m.service).Inc()
	}
}

func (m *RoutingMetrics) ObserveStage(stage string, status string, seconds float64) {
	if status == "" {
		status = "unknown"
	}
	m.stageDuration.WithLabelValues(m.service, stage, status).Observe(seconds)
}
