package ledger

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/veridoc/narrative/compliance"
)

// Metrics holds the Prometheus instruments for the generation pipeline.
type Metrics struct {
	Generations        *prometheus.CounterVec
	ValidationFailures prometheus.Counter
	AuditsDropped      prometheus.Counter
	EstimatedCost      prometheus.Counter
	Duration           prometheus.Histogram
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "narrative",
			Name:      "generations_total",
			Help:      "Narrative generations by source (model name, cache-hit, template-fallback).",
		}, []string{"source"}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "narrative",
			Name:      "validation_failures_total",
			Help:      "Accepted narratives that failed validation.",
		}),
		AuditsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "narrative",
			Name:      "audits_dropped_total",
			Help:      "Audit records dropped because the sink queue was full.",
		}),
		EstimatedCost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "narrative",
			Name:      "estimated_cost_usd_total",
			Help:      "Estimated model spend in USD (length/4 token estimate).",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "narrative",
			Name:      "generation_duration_seconds",
			Help:      "End-to-end narrative generation duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Generations, m.ValidationFailures, m.AuditsDropped, m.EstimatedCost, m.Duration)
	}
	return m
}

// Observe updates the instruments for one completed generation.
func (m *Metrics) Observe(audit *compliance.Audit) {
	m.Generations.WithLabelValues(audit.Model).Inc()
	if !audit.ValidationPassed {
		m.ValidationFailures.Inc()
	}
	if audit.CostEstimated > 0 {
		m.EstimatedCost.Add(audit.CostEstimated)
	}
	m.Duration.Observe(audit.Duration.Seconds())
}
