package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Transcription providers.
const (
	ProviderHTTP    = "http"
	ProviderOpenAI  = "openai"
	ProviderWhisper = "whisper"
)

// Config is the application configuration. Values come from an optional
// YAML file, overridden by environment variables.
type Config struct {
	Backend       BackendConfig       `yaml:"backend"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Audio         AudioConfig         `yaml:"audio"`
	Chat          ChatConfig          `yaml:"chat"`
	Hotkey        HotkeyConfig        `yaml:"hotkey"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// BackendConfig locates the assistant backend.
type BackendConfig struct {
	URL     string        `yaml:"url" env:"BACKEND_URL" env-default:"http://localhost:8000"`
	Timeout time.Duration `yaml:"timeout" env:"BACKEND_TIMEOUT" env-default:"60s"`
}

// TranscriptionConfig selects and configures the recogniser.
type TranscriptionConfig struct {
	Provider       string `yaml:"provider" env:"TRANSCRIPTION_PROVIDER" env-default:"http"`
	Language       string `yaml:"language" env:"TRANSCRIPTION_LANGUAGE"`
	OpenAIKey      string `yaml:"openai_key" env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `yaml:"openai_base_url" env:"OPENAI_BASE_URL"`
	OpenAIModel    string `yaml:"openai_model" env:"OPENAI_TRANSCRIPTION_MODEL" env-default:"whisper-1"`
	WhisperModel   string `yaml:"whisper_model" env:"WHISPER_MODEL" env-default:"~/.go-whisper/models/ggml-small.en.bin"`
	WhisperThreads uint   `yaml:"whisper_threads" env:"WHISPER_THREADS" env-default:"4"`
}

// AudioConfig configures capture. The target sample rate is fixed.
type AudioConfig struct {
	Channels int `yaml:"channels" env:"AUDIO_CHANNELS" env-default:"1"`
}

// ChatConfig holds the initial model settings.
type ChatConfig struct {
	Model        string  `yaml:"model" env:"CHAT_MODEL" env-default:"llama3"`
	Temperature  float64 `yaml:"temperature" env:"CHAT_TEMPERATURE" env-default:"0.7"`
	TopP         float64 `yaml:"top_p" env:"CHAT_TOP_P" env-default:"0.9"`
	MaxTokens    int     `yaml:"max_tokens" env:"CHAT_MAX_TOKENS" env-default:"1024"`
	SystemPrompt string  `yaml:"system_prompt" env:"CHAT_SYSTEM_PROMPT"`
}

// HotkeyConfig controls the global recording hotkey.
type HotkeyConfig struct {
	Enabled bool `yaml:"enabled" env:"HOTKEY_ENABLED" env-default:"true"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// MetricsConfig enables the Prometheus listener when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR"`
}

// Load reads .env if present, then the YAML file at path (if any) and the
// environment, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend URL cannot be empty")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive, got %s", c.Backend.Timeout)
	}

	switch c.Transcription.Provider {
	case ProviderHTTP:
	case ProviderOpenAI:
		if c.Transcription.OpenAIKey == "" {
			return fmt.Errorf("OpenAI provider requires an API key")
		}
	case ProviderWhisper:
		if c.Transcription.WhisperModel == "" {
			return fmt.Errorf("whisper provider requires a model path")
		}
	default:
		return fmt.Errorf("unknown transcription provider %q", c.Transcription.Provider)
	}

	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("audio channels must be 1 or 2, got %d", c.Audio.Channels)
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	if f := c.Logging.Format; f != "text" && f != "json" {
		return fmt.Errorf("log format must be text or json, got %q", f)
	}
	return nil
}

// SlogLevel parses the configured level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", l.Level)
	}
	return level, nil
}
