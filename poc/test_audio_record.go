//go:build ignore

// Records from the default microphone and writes the 16 kHz WAV that would
// be sent for transcription.
//
//	go run poc/test_audio_record.go 5 test.wav
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/stephanwesten/ayurveda-voice/src/audio"
	"github.com/stephanwesten/ayurveda-voice/src/logger"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run test_audio_record.go <duration_seconds> <output.wav>")
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: slog.LevelDebug})
	seconds, err := strconv.Atoi(os.Args[1])
	if err != nil || seconds <= 0 {
		log.Error("invalid duration", slog.String("value", os.Args[1]))
		os.Exit(1)
	}
	outputFile := os.Args[2]

	device, err := audio.NewPortAudioDevice(1)
	if err != nil {
		log.Error("failed to initialize audio", slog.String("error", err.Error()))
		os.Exit(1)
	}
	recorder := audio.NewRecorder(device, log)
	defer recorder.Close()

	if err := recorder.Start(); err != nil {
		log.Error("failed to start recording", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("recording, speak into your microphone", slog.Int("seconds", seconds))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	select {
	case <-time.After(time.Duration(seconds) * time.Second):
	case <-sigChan:
		log.Info("recording interrupted")
	}

	blob, err := recorder.Stop()
	if err != nil {
		log.Error("failed to stop recording", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pcm, err := audio.Decode(blob)
	if err != nil {
		log.Error("failed to decode", slog.String("error", err.Error()))
		os.Exit(1)
	}
	rendered, err := audio.NewResampler(audio.TargetSampleRate).Render(pcm)
	if err != nil {
		log.Error("failed to resample", slog.String("error", err.Error()))
		os.Exit(1)
	}
	wav, err := audio.EncodeWAV(rendered)
	if err != nil {
		log.Error("failed to encode", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := os.WriteFile(outputFile, wav, 0o644); err != nil {
		log.Error("failed to write WAV", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("audio saved",
		slog.String("file", outputFile),
		slog.Int("source_rate", pcm.SampleRate),
		slog.Float64("seconds", rendered.Duration()),
		slog.Int("bytes", len(wav)))
}
