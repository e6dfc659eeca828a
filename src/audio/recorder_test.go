package audio

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
)

// fakeDevice delivers chunks on demand through Emit.
type fakeDevice struct {
	mu       sync.Mutex
	opens    int
	openErr  error
	closeErr error
	block    chan struct{}
	closing  chan struct{}
	deliver  func(Chunk)
	streams  []*fakeStream
}

type fakeStream struct {
	closed bool
	err    error
	// block, when set, holds Close until it is closed.
	block chan struct{}
	// closing is signalled when Close is entered.
	closing chan struct{}
}

func (s *fakeStream) Encoding() Encoding { return EncodingFloat32LE }
func (s *fakeStream) Format() goaudio.Format {
	return goaudio.Format{NumChannels: 1, SampleRate: 44100}
}
func (s *fakeStream) Close() error {
	if s.closing != nil {
		close(s.closing)
	}
	if s.block != nil {
		<-s.block
	}
	s.closed = true
	return s.err
}

func (d *fakeDevice) Open(deliver func(Chunk)) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.deliver = deliver
	s := &fakeStream{err: d.closeErr, block: d.block, closing: d.closing}
	d.block, d.closing = nil, nil
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) Emit(c Chunk) {
	d.mu.Lock()
	deliver := d.deliver
	d.mu.Unlock()
	deliver(c)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorderLifecycle(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRecorder(dev, testLogger())

	if !r.Released() {
		t.Error("new recorder should not hold the device")
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !r.IsRecording() || r.Released() {
		t.Errorf("after Start: recording=%v released=%v", r.IsRecording(), r.Released())
	}

	dev.Emit(Chunk{1, 2, 3, 4})
	dev.Emit(Chunk{5, 6, 7, 8})

	blob, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := blob.Data; len(got) != 8 || got[0] != 1 || got[7] != 8 {
		t.Errorf("blob data = %v, want chunks concatenated in order", got)
	}
	if blob.Encoding != EncodingFloat32LE || blob.Format.SampleRate != 44100 {
		t.Errorf("blob = %q at %d Hz", blob.Encoding, blob.Format.SampleRate)
	}
	if r.IsRecording() || !r.Released() || !dev.streams[0].closed {
		t.Errorf("after Stop: recording=%v released=%v closed=%v", r.IsRecording(), r.Released(), dev.streams[0].closed)
	}
}

func TestRecorderStartWhileRecordingIsNoop(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRecorder(dev, testLogger())

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	dev.Emit(Chunk{1})
	if err := r.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	dev.Emit(Chunk{2})

	if dev.opens != 1 {
		t.Errorf("device opened %d times, want 1", dev.opens)
	}

	blob, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(blob.Data) != 2 {
		t.Errorf("blob has %d bytes, want both chunks", len(blob.Data))
	}
}

func TestRecorderConcurrentStart(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRecorder(dev, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Start()
		}()
	}
	wg.Wait()

	if dev.opens != 1 {
		t.Errorf("device opened %d times, want 1", dev.opens)
	}
}

func TestRecorderDropsChunksAfterStop(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRecorder(dev, testLogger())

	r.Start()
	dev.Emit(Chunk{1})
	blob, _ := r.Stop()
	dev.Emit(Chunk{2})

	if len(blob.Data) != 1 {
		t.Errorf("blob has %d bytes, want 1", len(blob.Data))
	}

	// A late chunk from the old session must not leak into the next one.
	r.Start()
	stale := dev.deliver
	r.Stop()
	r.Start()
	stale(Chunk{9})
	blob, _ = r.Stop()
	if len(blob.Data) != 0 {
		t.Errorf("stale chunk leaked into new session: %v", blob.Data)
	}
}

func TestRecorderFreshSequencePerStart(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRecorder(dev, testLogger())

	r.Start()
	dev.Emit(Chunk{1, 1})
	first, _ := r.Stop()

	r.Start()
	dev.Emit(Chunk{2})
	second, _ := r.Stop()

	if len(first.Data) != 2 || len(second.Data) != 1 || second.Data[0] != 2 {
		t.Errorf("first=%v second=%v", first.Data, second.Data)
	}
}

func TestRecorderOpenErrors(t *testing.T) {
	for _, kind := range []error{ErrPermission, ErrDevice} {
		t.Run(kind.Error(), func(t *testing.T) {
			dev := &fakeDevice{openErr: kind}
			r := NewRecorder(dev, testLogger())

			err := r.Start()
			if !errors.Is(err, kind) {
				t.Fatalf("Start() error = %v, want %v", err, kind)
			}
			if r.IsRecording() || !r.Released() {
				t.Errorf("after failed Start: recording=%v released=%v", r.IsRecording(), r.Released())
			}

			// Failure is local to the attempt.
			dev.openErr = nil
			if err := r.Start(); err != nil {
				t.Errorf("retry Start() error = %v", err)
			}
		})
	}
}

func TestRecorderReleasesEvenWhenCloseFails(t *testing.T) {
	dev := &fakeDevice{closeErr: errors.New("stream stuck")}
	r := NewRecorder(dev, testLogger())

	r.Start()
	if _, err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !r.Released() {
		t.Error("device not released after close failure")
	}
}

func TestRecorderStopWhenIdle(t *testing.T) {
	r := NewRecorder(&fakeDevice{}, testLogger())
	if _, err := r.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop() error = %v, want ErrNotRecording", err)
	}
}

func TestRecorderStartWaitsForRelease(t *testing.T) {
	block := make(chan struct{})
	closing := make(chan struct{})
	dev := &fakeDevice{block: block, closing: closing}
	r := NewRecorder(dev, testLogger())

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		r.Stop()
	}()
	<-closing

	started := make(chan error, 1)
	go func() { started <- r.Start() }()

	select {
	case <-started:
		t.Fatal("Start() returned while the previous stream was still closing")
	case <-time.After(50 * time.Millisecond):
	}
	dev.mu.Lock()
	opens := dev.opens
	dev.mu.Unlock()
	if opens != 1 {
		t.Errorf("device opened %d times while closing, want 1", opens)
	}

	close(block)
	<-stopped
	if err := <-started; err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if !r.IsRecording() || r.Released() {
		t.Errorf("after second Start: recording=%v released=%v", r.IsRecording(), r.Released())
	}
	if dev.opens != 2 {
		t.Errorf("device opened %d times, want 2", dev.opens)
	}

	if _, err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !r.Released() {
		t.Error("device not released after final Stop")
	}
}
