package whisper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	whispergo "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/stephanwesten/ayurveda-voice/src/api"
	"github.com/stephanwesten/ayurveda-voice/src/audio"
	"github.com/stephanwesten/ayurveda-voice/src/logger"
)

// Config configures the local recogniser.
type Config struct {
	ModelPath string
	Language  string
	Threads   uint
}

// Transcriber handles audio transcription using a local Whisper model
type Transcriber struct {
	model  whispergo.Model
	config Config
	log    *slog.Logger
	mu     sync.Mutex
}

// NewTranscriber loads the model at config.ModelPath.
func NewTranscriber(config Config, log *slog.Logger) (*Transcriber, error) {
	modelPath, err := expandHome(config.ModelPath)
	if err != nil {
		return nil, err
	}
	if config.Threads == 0 {
		config.Threads = 4
	}
	if log == nil {
		log = slog.Default()
	}

	model, err := whispergo.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	log.Info("whisper model loaded", slog.String("path", modelPath))

	return &Transcriber{
		model:  model,
		config: config,
		log:    log,
	}, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

// Transcribe decodes a WAV recording and runs it through the model.
// Recogniser failures wrap api.ErrServer.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	samples, err := monoSamples(wav)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Create a fresh context for each transcription
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("%w: failed to create context: %v", api.ErrServer, err)
	}
	wctx.SetThreads(t.config.Threads)
	if t.config.Language != "" {
		if err := wctx.SetLanguage(t.config.Language); err != nil {
			return "", fmt.Errorf("%w: failed to set language %q: %v", api.ErrServer, t.config.Language, err)
		}
	}
	wctx.ResetTimings()

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("%w: failed to process audio: %v", api.ErrServer, err)
	}

	var result strings.Builder
	segments := 0
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("%w: error getting segment: %v", api.ErrServer, err)
		}

		segments++
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			if result.Len() > 0 {
				result.WriteString(" ")
			}
			result.WriteString(text)
		}
	}

	log := logger.FromContext(ctx, t.log)
	if segments == 0 {
		log.Info("no speech detected", slog.Int("samples", len(samples)))
		return "", nil
	}

	log.Info("transcription complete", slog.Int("segments", segments), slog.Int("samples", len(samples)))
	return result.String(), nil
}

// monoSamples decodes wav into 16 kHz mono float samples.
func monoSamples(wav []byte) ([]float32, error) {
	pcm, err := audio.Decode(audio.Blob{Encoding: audio.EncodingWAV, Data: wav})
	if err != nil {
		return nil, err
	}
	if pcm.SampleRate != whispergo.SampleRate {
		pcm, err = audio.NewResampler(whispergo.SampleRate).Render(pcm)
		if err != nil {
			return nil, err
		}
	}
	return audio.MixToMono(pcm), nil
}

// Close cleans up the transcriber
func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}
