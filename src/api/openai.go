package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/stephanwesten/ayurveda-voice/src/logger"
)

// OpenAIConfig configures the OpenAI transcription backend.
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// OpenAITranscriber transcribes through the OpenAI audio API.
type OpenAITranscriber struct {
	client   *openai.Client
	model    string
	language string
	log      *slog.Logger
}

// NewOpenAITranscriber creates a transcriber for the OpenAI audio API.
func NewOpenAITranscriber(config OpenAIConfig, log *slog.Logger) (*OpenAITranscriber, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	cfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}
	if config.Model == "" {
		config.Model = openai.Whisper1
	}
	if log == nil {
		log = slog.Default()
	}

	return &OpenAITranscriber{
		client:   openai.NewClientWithConfig(cfg),
		model:    config.Model,
		language: config.Language,
		log:      log,
	}, nil
}

// Transcribe sends one WAV recording. Failures are not retried.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "recording.wav",
		Reader:   bytes.NewReader(wav),
		Language: t.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", classifyOpenAI(err)
	}

	logger.FromContext(ctx, t.log).Info("transcription received", slog.String("model", t.model), slog.Int("chars", len(resp.Text)))
	return resp.Text, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ServerError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ServerError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
