package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"assetsy/internal/core"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsy_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"result"}, // result: ok|aborted|canceled
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assetsy_pipeline_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	extractDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetsy_extract_duration_seconds",
			Help:    "Source extraction duration in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"source"},
	)

	extractFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsy_extract_failures_total",
			Help: "Total number of failed extractions",
		},
		[]string{"source"},
	)

	storeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsy_store_failures_total",
			Help: "Total number of storage failures while processing a source",
		},
		[]string{"source", "op"},
	)

	changesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsy_source_changes_total",
			Help: "Total number of detected snapshot changes",
		},
		[]string{"source"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsy_deliveries_total",
			Help: "Total number of notification deliveries",
		},
		[]string{"source", "outcome"}, // outcome: delivered|failed
	)

	lastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assetsy_pipeline_last_success_timestamp_seconds",
			Help: "Unix time of the last run that was not aborted",
		},
	)
)

func recordRun(result string, took time.Duration) {
	runsTotal.WithLabelValues(result).Inc()
	runDuration.Observe(took.Seconds())
	if result == "ok" {
		lastSuccess.SetToCurrentTime()
	}
}

func recordExtract(src core.Source, took time.Duration, err error) {
	extractDuration.WithLabelValues(string(src)).Observe(took.Seconds())
	if err != nil {
		extractFailures.WithLabelValues(string(src)).Inc()
	}
}

func recordDeliveries(src core.Source, delivered, failed int) {
	if delivered > 0 {
		deliveriesTotal.WithLabelValues(string(src), "delivered").Add(float64(delivered))
	}
	if failed > 0 {
		deliveriesTotal.WithLabelValues(string(src), "failed").Add(float64(failed))
	}
}
