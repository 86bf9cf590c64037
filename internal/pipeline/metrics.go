package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sandy",
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Pipeline runs by final stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	stageSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sandy",
			Subsystem: "pipeline",
			Name:      "stage_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"stage"},
	)

	validationScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sandy",
			Name:      "validation_overall_score",
			Help:      "Overall validation score of assembled records",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	corpusRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sandy",
			Name:      "corpus_records",
			Help:      "Records held in the in-memory corpus",
		},
	)
)
