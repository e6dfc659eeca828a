package audio

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sync"

	goaudio "github.com/go-audio/audio"
)

// Device is a platform capture facility.
type Device interface {
	// Open acquires the microphone and starts calling deliver with captured
	// chunks until the returned stream is closed.
	Open(deliver func(Chunk)) (Stream, error)
}

// Stream is an open capture stream.
type Stream interface {
	Encoding() Encoding
	Format() goaudio.Format
	// Close stops capture and releases the device.
	Close() error
}

// Recorder is the capture session. It owns the device for the duration of
// one recording and accumulates the chunks the device delivers.
type Recorder struct {
	device Device
	log    *slog.Logger

	mu          sync.Mutex
	stream      Stream
	chunks      []Chunk
	session     uint64
	isRecording bool
	released    bool
	// closing is non-nil while Stop is releasing the device.
	closing chan struct{}
}

// NewRecorder creates a recorder over device.
func NewRecorder(device Device, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		device:   device,
		log:      log,
		released: true,
	}
}

// Start begins recording. Calling Start while recording is a no-op. If the
// previous recording is still releasing the device, Start waits for it.
func (r *Recorder) Start() error {
	r.mu.Lock()
	for r.closing != nil {
		closing := r.closing
		r.mu.Unlock()
		<-closing
		r.mu.Lock()
	}
	if r.isRecording {
		r.mu.Unlock()
		r.log.Debug("start ignored, already recording")
		return nil
	}
	r.isRecording = true
	r.session++
	session := r.session
	r.chunks = nil
	r.mu.Unlock()

	// The device may deliver from its own thread before Open returns, so the
	// lock is not held here.
	stream, err := r.device.Open(func(c Chunk) { r.appendChunk(session, c) })

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.isRecording = false
		r.chunks = nil
		return fmt.Errorf("failed to open microphone: %w", err)
	}
	r.stream = stream
	r.released = false
	r.log.Info("recording started", slog.Uint64("session", session))
	return nil
}

func (r *Recorder) appendChunk(session uint64, c Chunk) {
	if len(c) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isRecording || session != r.session {
		return
	}
	r.chunks = append(r.chunks, c)
}

// Stop ends the recording, releases the device and returns the captured
// blob. No chunk is appended once Stop has been called.
func (r *Recorder) Stop() (Blob, error) {
	r.mu.Lock()
	if !r.isRecording || r.stream == nil {
		r.mu.Unlock()
		return Blob{}, ErrNotRecording
	}
	stream := r.stream
	chunks := r.chunks
	session := r.session
	r.stream = nil
	r.chunks = nil
	r.isRecording = false
	closing := make(chan struct{})
	r.closing = closing
	r.mu.Unlock()

	// Closing may wait for an in-flight device callback, which takes r.mu.
	if err := stream.Close(); err != nil {
		r.log.Warn("failed to close capture stream", slog.Uint64("session", session), slog.String("error", err.Error()))
	}

	r.mu.Lock()
	r.released = true
	r.closing = nil
	close(closing)
	r.mu.Unlock()

	blob := Blob{
		Encoding: stream.Encoding(),
		Format:   stream.Format(),
		Data:     concat(chunks),
	}
	r.log.Info("recording stopped",
		slog.Uint64("session", session),
		slog.Int("chunks", len(chunks)),
		slog.Int("bytes", len(blob.Data)),
	)
	return blob, nil
}

// IsRecording returns true if currently recording.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isRecording
}

// Released reports whether the device is not held by this recorder.
func (r *Recorder) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Close stops any active recording and closes the device if it is closable.
func (r *Recorder) Close() error {
	if _, err := r.Stop(); err != nil && err != ErrNotRecording {
		return err
	}
	if c, ok := r.device.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func concat(chunks []Chunk) []byte {
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	var buf bytes.Buffer
	buf.Grow(size)
	for _, c := range chunks {
		buf.Write(c)
	}
	return buf.Bytes()
}
