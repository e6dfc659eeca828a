// Package pipeline runs one recording cycle: stop the capture, decode it,
// render it at the recogniser's rate, encode it as WAV and transcribe it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stephanwesten/ayurveda-voice/src/audio"
	"github.com/stephanwesten/ayurveda-voice/src/logger"
	"github.com/stephanwesten/ayurveda-voice/src/metrics"
)

// Stage names a step of the cycle.
type Stage string

const (
	StageStop       Stage = "stop"
	StageDecode     Stage = "decode"
	StageRender     Stage = "render"
	StageEncode     Stage = "encode"
	StageTranscribe Stage = "transcribe"
)

// Capture is the active recording session.
type Capture interface {
	// Stop ends capture, releases the device and returns the captured audio.
	Stop() (audio.Blob, error)
}

// Transcriber turns a WAV recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Cycle carries the state of one recording from stop to transcript.
type Cycle struct {
	ID         string
	Blob       audio.Blob
	Decoded    *audio.PCM
	Rendered   *audio.PCM
	Encoded    []byte
	Transcript string

	// Failed is the stage that aborted the cycle, empty on success.
	Failed  Stage
	Err     error
	Timings map[Stage]time.Duration
}

// Pipeline wires the stages together.
type Pipeline struct {
	resampler   *audio.Resampler
	transcriber Transcriber
	metrics     *metrics.Pipeline
	log         *slog.Logger
}

// New creates a pipeline rendering at audio.TargetSampleRate. m may be nil.
func New(transcriber Transcriber, m *metrics.Pipeline, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		resampler:   audio.NewResampler(audio.TargetSampleRate),
		transcriber: transcriber,
		metrics:     m,
		log:         log,
	}
}

// Run executes the stages strictly in order. It logs through the context
// logger when ctx carries one, and passes a cycle-scoped logger on to the
// transcriber. The first failure aborts the
// cycle; nothing is retried. The capture device is released by the stop
// stage before any other stage runs.
func (p *Pipeline) Run(ctx context.Context, capture Capture) (*Cycle, error) {
	c := &Cycle{
		ID:      uuid.NewString(),
		Timings: make(map[Stage]time.Duration),
	}
	log := logger.FromContext(ctx, p.log).With(slog.String("cycle", c.ID))
	ctx = logger.WithContext(ctx, log)

	stages := []struct {
		stage Stage
		run   func() error
	}{
		{StageStop, func() (err error) {
			c.Blob, err = capture.Stop()
			return err
		}},
		{StageDecode, func() (err error) {
			c.Decoded, err = audio.Decode(c.Blob)
			return err
		}},
		{StageRender, func() (err error) {
			c.Rendered, err = p.resampler.Render(c.Decoded)
			return err
		}},
		{StageEncode, func() (err error) {
			c.Encoded, err = audio.EncodeWAV(c.Rendered)
			if err == nil {
				p.metrics.ObserveRecording(c.Decoded.Duration(), len(c.Encoded))
			}
			return err
		}},
		{StageTranscribe, func() (err error) {
			if p.transcriber == nil {
				return nil
			}
			c.Transcript, err = p.transcriber.Transcribe(ctx, c.Encoded)
			return err
		}},
	}

	for _, s := range stages {
		start := time.Now()
		err := s.run()
		elapsed := time.Since(start)
		c.Timings[s.stage] = elapsed
		p.metrics.ObserveStage(string(s.stage), elapsed)

		if err != nil {
			c.Failed = s.stage
			c.Err = fmt.Errorf("%s: %w", s.stage, err)
			p.metrics.CycleFinished(string(s.stage))
			log.Error("recording cycle failed", slog.String("stage", string(s.stage)), slog.String("error", err.Error()))
			return c, c.Err
		}
	}

	p.metrics.CycleFinished("success")
	log.Info("recording cycle complete",
		slog.Float64("seconds", c.Decoded.Duration()),
		slog.Int("source_rate", c.Decoded.SampleRate),
		slog.Int("wav_bytes", len(c.Encoded)),
		slog.Int("transcript_chars", len(c.Transcript)),
	)
	return c, nil
}
