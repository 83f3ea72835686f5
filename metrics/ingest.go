// Package metrics provides the Prometheus metrics of the ingestion pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics contains all Prometheus metrics related to uploads.
type IngestMetrics struct {
	Outcomes        *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	DecoderInFlight prometheus.Gauge
	UploadSize      prometheus.Histogram
	CollectionSize  prometheus.Histogram
}

// NewIngestMetrics creates the metrics and registers them with registry.
func NewIngestMetrics(registry prometheus.Registerer) (*IngestMetrics, error) {
	m := &IngestMetrics{}
	m.initMetrics()
	if registry == nil {
		return m, nil
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register ingest metrics: %w", err)
	}
	return m, nil
}

func (m *IngestMetrics) initMetrics() {
	m.Outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caff_ingest_outcomes_total",
		Help: "Total number of finished ingestions by outcome (ok or the failure kind)",
	}, []string{"outcome"})

	m.StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caff_ingest_stage_duration_seconds",
		Help:    "Duration of each ingestion stage in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	m.DecoderInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "caff_decoder_in_flight",
		Help: "Number of parser processes currently running or waiting for a slot",
	})

	m.UploadSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "caff_upload_size_bytes",
		Help:    "Size of accepted uploads in bytes",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})

	m.CollectionSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "caff_collection_animations",
		Help:    "Number of animation entries per ingested collection",
		Buckets: prometheus.LinearBuckets(1, 5, 10),
	})
}

// RecordOutcome counts one finished ingestion.
func (m *IngestMetrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage took.
func (m *IngestMetrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// DecoderStarted and DecoderFinished bracket one parser invocation.
func (m *IngestMetrics) DecoderStarted() {
	if m == nil {
		return
	}
	m.DecoderInFlight.Inc()
}

func (m *IngestMetrics) DecoderFinished() {
	if m == nil {
		return
	}
	m.DecoderInFlight.Dec()
}

// ObserveUpload records the size of a staged upload.
func (m *IngestMetrics) ObserveUpload(bytes int64) {
	if m == nil {
		return
	}
	m.UploadSize.Observe(float64(bytes))
}

// ObserveAnimations records the entry count of a persisted collection.
func (m *IngestMetrics) ObserveAnimations(n int) {
	if m == nil {
		return
	}
	m.CollectionSize.Observe(float64(n))
}

// Collect implements the prometheus.Collector interface.
func (m *IngestMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Outcomes.Collect(ch)
	m.StageDuration.Collect(ch)
	ch <- m.DecoderInFlight
	ch <- m.UploadSize
	ch <- m.CollectionSize
}

// Describe implements the prometheus.Collector interface.
func (m *IngestMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Outcomes.Describe(ch)
	m.StageDuration.Describe(ch)
	ch <- m.DecoderInFlight.Desc()
	ch <- m.UploadSize.Desc()
	ch <- m.CollectionSize.Desc()
}
