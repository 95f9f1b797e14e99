package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records counters and latencies across the detection pipeline.
type PipelineMetrics struct {
	chunksReceived   *prometheus.CounterVec
	uploadsCompleted prometheus.Counter
	duplicateHits    prometheus.Counter
	analyses         *prometheus.CounterVec
	detectorDuration *prometheus.HistogramVec
	detectorFailures *prometheus.CounterVec
	verdictCache     *prometheus.CounterVec
	verdicts         *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	chunksReceived := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_chunks_received_total",
		Help: "Chunks accepted into upload sessions.",
	}, []string{"outcome"})
	uploadsCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uploads_completed_total",
		Help: "Upload sessions finalized into stored videos.",
	})
	duplicateHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upload_duplicates_total",
		Help: "Finalized uploads deduplicated against existing content.",
	})
	analyses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "analyses_total",
		Help: "Analysis jobs by terminal outcome.",
	}, []string{"outcome"})
	detectorDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "detector_eval_duration_seconds",
		Help:    "Duration of detector adapter evaluations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"detector"})
	detectorFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detector_failures_total",
		Help: "Detector adapter evaluations that exhausted retries.",
	}, []string{"detector"})
	verdictCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verdict_cache_total",
		Help: "Verdict cache lookups by result.",
	}, []string{"result"})
	verdicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fused_verdicts_total",
		Help: "Fused verdicts by label.",
	}, []string{"label"})
	reg.MustRegister(
		chunksReceived,
		uploadsCompleted,
		duplicateHits,
		analyses,
		detectorDuration,
		detectorFailures,
		verdictCache,
		verdicts,
	)
	return &PipelineMetrics{
		chunksReceived:   chunksReceived,
		uploadsCompleted: uploadsCompleted,
		duplicateHits:    duplicateHits,
		analyses:         analyses,
		detectorDuration: detectorDuration,
		detectorFailures: detectorFailures,
		verdictCache:     verdictCache,
		verdicts:         verdicts,
	}
}

// IncChunkReceived records one accepted or rejected chunk.
func (p *PipelineMetrics) IncChunkReceived(outcome string) {
	if p == nil || p.chunksReceived == nil {
		return
	}
	p.chunksReceived.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncUploadCompleted records one finalized upload.
func (p *PipelineMetrics) IncUploadCompleted() {
	if p == nil || p.uploadsCompleted == nil {
		return
	}
	p.uploadsCompleted.Inc()
}

// IncDuplicateHit records one content-hash dedup hit.
func (p *PipelineMetrics) IncDuplicateHit() {
	if p == nil || p.duplicateHits == nil {
		return
	}
	p.duplicateHits.Inc()
}

// IncAnalysis records one analysis job reaching the given terminal outcome.
func (p *PipelineMetrics) IncAnalysis(outcome string) {
	if p == nil || p.analyses == nil {
		return
	}
	p.analyses.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveDetectorDuration records the evaluation duration for a detector.
func (p *PipelineMetrics) ObserveDetectorDuration(detector string, duration time.Duration) {
	if p == nil || p.detectorDuration == nil {
		return
	}
	p.detectorDuration.WithLabelValues(normalizeLabel(detector)).Observe(duration.Seconds())
}

// IncDetectorFailure records one detector that exhausted its retries.
func (p *PipelineMetrics) IncDetectorFailure(detector string) {
	if p == nil || p.detectorFailures == nil {
		return
	}
	p.detectorFailures.WithLabelValues(normalizeLabel(detector)).Inc()
}

// IncVerdictCache records one cache lookup result (hit or miss).
func (p *PipelineMetrics) IncVerdictCache(result string) {
	if p == nil || p.verdictCache == nil {
		return
	}
	p.verdictCache.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncVerdict records one fused verdict with the given label.
func (p *PipelineMetrics) IncVerdict(label string) {
	if p == nil || p.verdicts == nil {
		return
	}
	p.verdicts.WithLabelValues(normalizeLabel(label)).Inc()
}
