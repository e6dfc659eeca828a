//go:build ignore

// Transcribes a WAV file with the local Whisper model. Any sample rate or
// channel count is accepted.
//
//	go run poc/test_whisper.go ~/.go-whisper/models/ggml-small.en.bin sample.wav
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/stephanwesten/ayurveda-voice/src/chat"
	"github.com/stephanwesten/ayurveda-voice/src/logger"
	"github.com/stephanwesten/ayurveda-voice/src/whisper"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run test_whisper.go <model_path> <audio_path>")
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: slog.LevelDebug})

	data, err := os.ReadFile(os.Args[2])
	if err != nil {
		log.Error("failed to read audio file", slog.String("error", err.Error()))
		os.Exit(1)
	}

	transcriber, err := whisper.NewTranscriber(whisper.Config{ModelPath: os.Args[1]}, log)
	if err != nil {
		log.Error("failed to load model", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer transcriber.Close()

	text, err := transcriber.Transcribe(context.Background(), data)
	if err != nil {
		log.Error("transcription failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cmd := chat.ParseCommand(text)
	fmt.Println("=== Transcription ===")
	fmt.Println(text)
	fmt.Printf("clipboard=%v send=%v text=%q\n", cmd.Clipboard, cmd.Send, cmd.Text)
}
