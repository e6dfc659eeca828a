package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: url}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func validSettings() Settings {
	return Settings{Model: "llama3", Temperature: 0.7, TopP: 0.9, MaxTokens: 512}
}

func TestTranscribeUpload(t *testing.T) {
	wav := []byte("RIFF....WAVEfmt fake")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transcribe" {
			t.Errorf("request = %s %s, want POST /transcribe", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("FormFile(audio) error = %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()

		if header.Filename != "recording.wav" {
			t.Errorf("filename = %q, want recording.wav", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("part content type = %q, want audio/wav", ct)
		}
		got, _ := io.ReadAll(file)
		if string(got) != string(wav) {
			t.Errorf("uploaded %q, want %q", got, wav)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transcript":"namaste"}`))
	}))
	defer srv.Close()

	text, err := testClient(t, srv.URL).Transcribe(context.Background(), wav)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "namaste" {
		t.Errorf("Transcribe() = %q, want namaste", text)
	}
}

func TestTranscribeFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		status  int
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model crashed", http.StatusInternalServerError)
			},
			status: http.StatusInternalServerError,
		},
		{
			name: "bad request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "no audio", http.StatusBadRequest)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"transcript":`))
			},
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			_, err := testClient(t, srv.URL).Transcribe(context.Background(), []byte("wav"))
			if !errors.Is(err, ErrServer) {
				t.Fatalf("Transcribe() error = %v, want ErrServer", err)
			}
			var serverErr *ServerError
			if !errors.As(err, &serverErr) || serverErr.StatusCode != tt.status {
				t.Errorf("ServerError = %+v, want status %d", serverErr, tt.status)
			}
			if n := calls.Load(); n != 1 {
				t.Errorf("server called %d times, want exactly 1 (no retry)", n)
			}
		})
	}
}

func TestTranscribeNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testClient(t, url).Transcribe(context.Background(), []byte("wav"))
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("Transcribe() error = %v, want ErrNetwork", err)
	}
	if errors.Is(err, ErrServer) {
		t.Error("network failure reported as server error")
	}
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			t.Errorf("path = %s, want /chat", r.URL.Path)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Message != "What is vata?" || req.ChatID != "c1" || req.Settings == nil || req.Settings.Model != "llama3" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(ChatResponse{Response: "Vata is the dosha of air and space."})
	}))
	defer srv.Close()

	s := validSettings()
	resp, err := testClient(t, srv.URL).Chat(context.Background(), ChatRequest{Message: "What is vata?", ChatID: "c1", Settings: &s})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !strings.Contains(resp.Response, "dosha") {
		t.Errorf("Chat() = %q", resp.Response)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:1")
	if _, err := c.Chat(context.Background(), ChatRequest{Message: "   "}); err == nil {
		t.Error("Chat() error = nil, want error")
	}
}

func TestUpdateSettings(t *testing.T) {
	received := make(chan Settings, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s Settings
		json.NewDecoder(r.Body).Decode(&s)
		received <- s
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if err := c.UpdateSettings(context.Background(), validSettings()); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}
	if got := <-received; got != validSettings() {
		t.Errorf("server received %+v", got)
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"valid", func(s *Settings) {}, false},
		{"zero temperature", func(s *Settings) { s.Temperature = 0 }, false},
		{"no model", func(s *Settings) { s.Model = "" }, true},
		{"temperature too high", func(s *Settings) { s.Temperature = 2.5 }, true},
		{"negative temperature", func(s *Settings) { s.Temperature = -0.1 }, true},
		{"zero top_p", func(s *Settings) { s.TopP = 0 }, true},
		{"top_p above one", func(s *Settings) { s.TopP = 1.1 }, true},
		{"zero max tokens", func(s *Settings) { s.MaxTokens = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(&s)
			if err := s.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUploadDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile(file) error = %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		if header.Filename != "charaka.txt" || string(body) != "sutrasthana" {
			t.Errorf("uploaded %q = %q", header.Filename, body)
		}
		w.Write([]byte(`{"message":"indexed","filename":"charaka.txt"}`))
	}))
	defer srv.Close()

	resp, err := testClient(t, srv.URL).UploadDocument(context.Background(), "/tmp/docs/charaka.txt", strings.NewReader("sutrasthana"))
	if err != nil {
		t.Fatalf("UploadDocument() error = %v", err)
	}
	if resp.Message != "indexed" {
		t.Errorf("UploadDocument() = %+v", resp)
	}
}

func TestUploadDocumentRejectsType(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:1")
	if _, err := c.UploadDocument(context.Background(), "virus.exe", strings.NewReader("")); err == nil {
		t.Error("UploadDocument() error = nil, want error")
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Error("NewClient() error = nil, want error")
	}
}
