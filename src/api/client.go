// Package api is the REST client for the Sanskrit & Ayurveda assistant
// backend: chat, model settings, reference document upload and transcription.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/stephanwesten/ayurveda-voice/src/logger"
)

var (
	// ErrNetwork is returned when the backend could not be reached.
	ErrNetwork = errors.New("network error")
	// ErrServer is returned when the backend answered with a failure.
	ErrServer = errors.New("server error")
)

// ServerError is a non-2xx or unreadable backend response.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrServer) match any *ServerError.
func (e *ServerError) Is(target error) bool {
	return target == ErrServer
}

// Config contains backend client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the assistant backend.
type Client struct {
	config     Config
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a backend client.
func NewClient(config Config, log *slog.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		log: log,
	}, nil
}

// Settings are the model parameters a user can configure.
type Settings struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
	MaxTokens    int     `json:"max_tokens"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// Validate checks that the settings are in range.
func (s Settings) Validate() error {
	switch {
	case s.Model == "":
		return fmt.Errorf("model cannot be empty")
	case s.Temperature < 0 || s.Temperature > 2:
		return fmt.Errorf("temperature must be between 0 and 2, got %g", s.Temperature)
	case s.TopP <= 0 || s.TopP > 1:
		return fmt.Errorf("top_p must be in (0, 1], got %g", s.TopP)
	case s.MaxTokens <= 0:
		return fmt.Errorf("max_tokens must be positive, got %d", s.MaxTokens)
	}
	return nil
}

// ChatRequest is one user turn.
type ChatRequest struct {
	Message  string    `json:"message"`
	ChatID   string    `json:"chat_id,omitempty"`
	Settings *Settings `json:"settings,omitempty"`
}

// ChatResponse is the assistant reply.
type ChatResponse struct {
	Response string `json:"response"`
}

// UploadResponse acknowledges an uploaded document.
type UploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename,omitempty"`
}

// Chat sends a message and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("message cannot be empty")
	}

	var resp ChatResponse
	if err := c.postJSON(ctx, "/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateSettings validates and stores model settings on the backend.
func (c *Client) UpdateSettings(ctx context.Context, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return c.postJSON(ctx, "/settings", settings, nil)
}

var documentExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".md":   true,
	".docx": true,
}

// UploadDocument uploads a reference document for the assistant.
func (c *Client) UploadDocument(ctx context.Context, filename string, r io.Reader) (*UploadResponse, error) {
	name := filepath.Base(filename)
	if ext := strings.ToLower(filepath.Ext(name)); !documentExtensions[ext] {
		return nil, fmt.Errorf("unsupported document type %q", ext)
	}

	body, contentType, err := multipartBody("file", name, "application/octet-stream", r)
	if err != nil {
		return nil, err
	}

	var resp UploadResponse
	if err := c.do(ctx, "/upload", contentType, body, &resp); err != nil {
		return nil, err
	}
	logger.FromContext(ctx, c.log).Info("document uploaded", slog.String("filename", name))
	return &resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, path, "application/json", bytes.NewReader(payload), out)
}

// do performs a single POST. There are no retries.
func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %v", ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %v", ErrNetwork, err)
	}

	logger.FromContext(ctx, c.log).Debug("backend request",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ServerError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &ServerError{StatusCode: resp.StatusCode, Body: "failed to parse response JSON: " + err.Error()}
	}
	return nil
}

func multipartBody(field, filename, contentType string, r io.Reader) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
