package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testOpenAI(t *testing.T, url string) *OpenAITranscriber {
	t.Helper()
	tr, err := NewOpenAITranscriber(OpenAIConfig{APIKey: "sk-test", BaseURL: url + "/v1"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewOpenAITranscriber() error = %v", err)
	}
	return tr
}

func TestOpenAITranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if _, header, err := r.FormFile("file"); err != nil || header.Filename != "recording.wav" {
			t.Errorf("file part = %v, %v", header, err)
		}
		if model := r.FormValue("model"); model != "whisper-1" {
			t.Errorf("model = %q, want whisper-1", model)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"ashwagandha"}`))
	}))
	defer srv.Close()

	text, err := testOpenAI(t, srv.URL).Transcribe(context.Background(), []byte("RIFF"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "ashwagandha" {
		t.Errorf("Transcribe() = %q", text)
	}
}

func TestOpenAITranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := testOpenAI(t, srv.URL).Transcribe(context.Background(), []byte("RIFF"))
	if !errors.Is(err, ErrServer) {
		t.Fatalf("Transcribe() error = %v, want ErrServer", err)
	}
	var serverErr *ServerError
	if errors.As(err, &serverErr) && serverErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", serverErr.StatusCode)
	}
}

func TestOpenAITranscribeNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testOpenAI(t, url).Transcribe(context.Background(), []byte("RIFF"))
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("Transcribe() error = %v, want ErrNetwork", err)
	}
}

func TestNewOpenAITranscriberRequiresKey(t *testing.T) {
	if _, err := NewOpenAITranscriber(OpenAIConfig{}, nil); err == nil {
		t.Error("NewOpenAITranscriber() error = nil, want error")
	}
}
