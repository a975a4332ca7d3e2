// Package metrics counts what each pipeline stage did and writes the result
// in the Prometheus text format, so batch runs can be compared or scraped
// through a node exporter textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ivlev/shadowmosh/internal/compositor"
	"github.com/ivlev/shadowmosh/internal/motion"
	"github.com/ivlev/shadowmosh/internal/stream"
)

// Pipeline holds one run's collectors on a private registry.
type Pipeline struct {
	Registry *prometheus.Registry

	Frames             *prometheus.CounterVec
	MaskFallbacks      *prometheus.CounterVec
	TrailDepth         prometheus.Histogram
	IntraSubstituted   prometheus.Counter
	StreamFrames       prometheus.Gauge
	TransplantedBlocks prometheus.Counter
	ChunkDuration      prometheus.Histogram
	StageDuration      *prometheus.HistogramVec
}

func New() *Pipeline {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Pipeline{
		Registry: reg,
		Frames: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shadowmosh_frames_total",
				Help: "Frames written, by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		MaskFallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shadowmosh_mask_fallbacks_total",
				Help: "Frames that reused the previous mask",
			},
			[]string{"stage"},
		),
		TrailDepth: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shadowmosh_trail_depth",
				Help:    "Masks projected into the motion trail per frame",
				Buckets: prometheus.LinearBuckets(1, 4, 10),
			},
		),
		IntraSubstituted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "shadowmosh_intra_frames_substituted_total",
				Help: "Intra frames replaced by their predecessor",
			},
		),
		StreamFrames: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "shadowmosh_stream_frames",
				Help: "Frames in the edited stream",
			},
		),
		TransplantedBlocks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "shadowmosh_transplanted_blocks_total",
				Help: "Motion vector blocks changed by transplant",
			},
		),
		ChunkDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shadowmosh_chunk_duration_seconds",
				Help:    "Wall time of one motion transplant chunk",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shadowmosh_stage_duration_seconds",
				Help:    "Wall time of each pipeline stage",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"stage"},
		),
	}
}

// FrameObserver records compositor results for stage. It is safe for
// concurrent use.
func (p *Pipeline) FrameObserver(stage string) func(compositor.Result) {
	return func(r compositor.Result) {
		p.Frames.WithLabelValues(stage, r.Outcome.String()).Inc()
		if r.Fallback {
			p.MaskFallbacks.WithLabelValues(stage).Inc()
		}
		if r.Trail > 0 {
			p.TrailDepth.Observe(float64(r.Trail))
		}
	}
}

func (p *Pipeline) ObserveStream(r stream.Report) {
	if r.Skipped {
		return
	}
	p.IntraSubstituted.Add(float64(len(r.Replaced)))
	p.StreamFrames.Set(float64(r.Frames))
}

func (p *Pipeline) ObserveChunks(results []motion.ChunkResult) {
	for _, r := range results {
		if r.Skipped {
			continue
		}
		p.TransplantedBlocks.Add(float64(r.Stats.Blocks))
		p.ChunkDuration.Observe(r.Elapsed.Seconds())
	}
}

func (p *Pipeline) ObserveStage(stage string, elapsed time.Duration) {
	p.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// WriteTextfile writes every collector to path atomically.
func (p *Pipeline) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, p.Registry)
}
