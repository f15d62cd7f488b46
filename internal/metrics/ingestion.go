package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingestion pipeline Prometheus metrics.
var (
	IngestionDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vera",
			Name:      "ingestion_documents_total",
			Help:      "Documents processed by the ingestion pipeline",
		},
		[]string{"document_type", "status"}, // status: success / failed
	)

	IngestionChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vera",
			Name:      "ingestion_chunks_total",
			Help:      "Chunks upserted into the knowledge index",
		},
		[]string{"document_type"},
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vera",
			Name:      "ingestion_duration_seconds",
			Help:      "Wall-clock duration of a full ingestion run",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	ToolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vera",
			Name:      "tool_invocations_total",
			Help:      "Tool adapter invocations by outcome",
		},
		[]string{"tool", "status"}, // status: success / error kind
	)
)

var ingestionMetricsRegistered bool

// RegisterIngestionMetrics registers pipeline and tool metrics. Must be called once from main.
func RegisterIngestionMetrics() {
	if ingestionMetricsRegistered {
		return
	}
	prometheus.MustRegister(IngestionDocumentsTotal)
	prometheus.MustRegister(IngestionChunksTotal)
	prometheus.MustRegister(IngestionDuration)
	prometheus.MustRegister(ToolInvocationsTotal)
	ingestionMetricsRegistered = true
}
