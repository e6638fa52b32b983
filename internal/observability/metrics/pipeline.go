package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

// PipelineMetrics records stage machine, aggregation and generation events.
type PipelineMetrics struct {
	service string

	transitionsTotal    *prometheus.CounterVec
	aggregationTotal    *prometheus.CounterVec
	aggregationDuration *prometheus.HistogramVec
	coalescedTotal      *prometheus.CounterVec
	generationTotal     *prometheus.CounterVec
	generationDuration  *prometheus.HistogramVec
	retriesTotal        *prometheus.CounterVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		service: service,
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "documents",
				Name:      "stage_transitions_total",
				Help:      "Document processing stage transitions.",
			},
			[]string{"service", "from", "to"},
		),
		aggregationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "aggregation",
				Name:      "runs_total",
				Help:      "Case aggregation runs by result.",
			},
			[]string{"service", "result"},
		),
		aggregationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "aggregation",
				Name:      "duration_seconds",
				Help:      "Case aggregation duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		coalescedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "aggregation",
				Name:      "coalesced_requests_total",
				Help:      "Aggregation requests folded into a pending run.",
			},
			[]string{"service"},
		),
		generationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "documents_total",
				Help:      "Generation requests by document type and status.",
			},
			[]string{"service", "document_type", "status"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "duration_seconds",
				Help:      "Document generation duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "document_type"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "retries_total",
				Help:      "Retries scheduled against extraction and queue backends.",
			},
			[]string{"service", "operation"},
		),
	}
	registerer.MustRegister(
		m.transitionsTotal,
		m.aggregationTotal,
		m.aggregationDuration,
		m.coalescedTotal,
		m.generationTotal,
		m.generationDuration,
		m.retriesTotal,
	)
	return m
}

func (m *PipelineMetrics) ObserveTransition(from, to domain.ProcessingStatus) {
	m.transitionsTotal.WithLabelValues(m.service, string(from), string(to)).Inc()
}

func (m *PipelineMetrics) ObserveAggregation(duration time.Duration, applied bool, err error) {
	result := "applied"
	switch {
	case err != nil:
		result = "error"
	case !applied:
		result = "skipped"
	}
	m.aggregationTotal.WithLabelValues(m.service, result).Inc()
	m.aggregationDuration.WithLabelValues(m.service).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveCoalesced() {
	m.coalescedTotal.WithLabelValues(m.service).Inc()
}

func (m *PipelineMetrics) ObserveGeneration(docType domain.DocumentType, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.generationTotal.WithLabelValues(m.service, string(docType), status).Inc()
	m.generationDuration.WithLabelValues(m.service, string(docType)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveRetry(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}
