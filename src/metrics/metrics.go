// Package metrics exposes Prometheus collectors for the recording pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline holds the collectors for recording cycles. A nil *Pipeline
// records nothing.
type Pipeline struct {
	cycles          *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	recordedSeconds prometheus.Histogram
	encodedBytes    prometheus.Histogram
}

// NewPipeline registers the pipeline collectors with reg.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)
	return &Pipeline{
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_cycles_total",
				Help: "Recording cycles by outcome",
			},
			[]string{"outcome"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voice_stage_duration_seconds",
				Help:    "Duration of each pipeline stage",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		recordedSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voice_recording_duration_seconds",
				Help:    "Length of captured recordings",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
		),
		encodedBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voice_encoded_bytes",
				Help:    "Size of the WAV sent for transcription",
				Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
			},
		),
	}
}

// ObserveStage records how long a stage took.
func (m *Pipeline) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRecording records the captured duration and encoded size.
func (m *Pipeline) ObserveRecording(seconds float64, encodedBytes int) {
	if m == nil {
		return
	}
	m.recordedSeconds.Observe(seconds)
	m.encodedBytes.Observe(float64(encodedBytes))
}

// CycleFinished counts a completed cycle. outcome is "success" or the
// name of the failed stage.
func (m *Pipeline) CycleFinished(outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

// Handler serves the metrics gathered by reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
