package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/gordonklaus/portaudio"
)

// PortAudioDevice captures from the default input device at its native
// sample rate. Samples are delivered as raw little-endian float32.
type PortAudioDevice struct {
	channels int
}

// NewPortAudioDevice initializes PortAudio. Call Close when done.
func NewPortAudioDevice(channels int) (*PortAudioDevice, error) {
	if channels <= 0 {
		channels = 1
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrDevice, err)
	}
	return &PortAudioDevice{channels: channels}, nil
}

// Open opens and starts an input stream on the default device.
func (d *PortAudioDevice) Open(deliver func(Chunk)) (Stream, error) {
	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: no default input device: %v", ErrDevice, err)
	}
	if info.MaxInputChannels < d.channels {
		return nil, fmt.Errorf("%w: %s supports %d input channels, need %d", ErrDevice, info.Name, info.MaxInputChannels, d.channels)
	}

	stream, err := portaudio.OpenDefaultStream(d.channels, 0, info.DefaultSampleRate, 0, func(in []float32) {
		deliver(float32Chunk(in))
	})
	if err != nil {
		return nil, classify("failed to open stream", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, classify("failed to start stream", err)
	}

	return &portAudioStream{
		stream: stream,
		format: goaudio.Format{NumChannels: d.channels, SampleRate: int(info.DefaultSampleRate)},
	}, nil
}

// Close terminates PortAudio.
func (d *PortAudioDevice) Close() error {
	return portaudio.Terminate()
}

func classify(msg string, err error) error {
	if errors.Is(err, portaudio.DeviceUnavailable) {
		return fmt.Errorf("%w: %s: %v", ErrPermission, msg, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrDevice, msg, err)
}

type portAudioStream struct {
	stream *portaudio.Stream
	format goaudio.Format
}

func (s *portAudioStream) Encoding() Encoding     { return EncodingFloat32LE }
func (s *portAudioStream) Format() goaudio.Format { return s.format }

// Close stops the stream and always closes it, even if stopping fails.
func (s *portAudioStream) Close() error {
	stopErr := s.stream.Stop()
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	if stopErr != nil {
		return fmt.Errorf("failed to stop stream: %w", stopErr)
	}
	return nil
}

// float32Chunk copies the callback buffer, which PortAudio reuses.
func float32Chunk(in []float32) Chunk {
	c := make(Chunk, 4*len(in))
	for i, s := range in {
		binary.LittleEndian.PutUint32(c[i*4:], math.Float32bits(s))
	}
	return c
}
