package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledged_ingest_tasks_total",
		Help: "Ingestion tasks processed, by final status.",
	}, []string{"status"})

	documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledged_ingest_documents_total",
		Help: "Documents processed, by final status.",
	}, []string{"status"})

	segmentsIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "knowledged_ingest_segments_indexed_total",
		Help: "Segments written to the vector store.",
	})

	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "knowledged_ingest_task_duration_seconds",
		Help:    "Wall time per ingestion task.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	})
)
