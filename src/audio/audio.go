// Package audio captures microphone input and turns it into the 16 kHz
// PCM WAV the recogniser expects.
package audio

import (
	"errors"

	goaudio "github.com/go-audio/audio"
)

// TargetSampleRate is the rate the recogniser expects.
const TargetSampleRate = 16000

var (
	// ErrPermission is returned when microphone access is denied.
	ErrPermission = errors.New("microphone access denied")
	// ErrDevice is returned when no input device exists or the stream fails.
	ErrDevice = errors.New("audio device error")
	// ErrDecode is returned when captured audio cannot be decoded or rendered.
	ErrDecode = errors.New("error processing audio")
	// ErrNotRecording is returned by Stop when no session is active.
	ErrNotRecording = errors.New("not recording")
)

// Encoding names the container of a captured blob.
type Encoding string

const (
	// EncodingFloat32LE is raw interleaved little-endian float32 PCM.
	EncodingFloat32LE Encoding = "audio/pcm;format=f32le"
	// EncodingWAV is a RIFF/WAVE file.
	EncodingWAV Encoding = "audio/wav"
)

// Chunk is an opaque fragment of captured audio.
type Chunk []byte

// Blob is the concatenation of all chunks of one recording.
type Blob struct {
	Encoding Encoding
	// Format describes raw encodings; WAV blobs describe themselves.
	Format goaudio.Format
	Data   []byte
}

// PCM holds per-channel float samples in [-1, 1] at SampleRate.
type PCM struct {
	SampleRate int
	Channels   [][]float32
}

// NumChannels returns the channel count.
func (p *PCM) NumChannels() int {
	return len(p.Channels)
}

// Len returns the number of frames (samples per channel).
func (p *PCM) Len() int {
	if len(p.Channels) == 0 {
		return 0
	}
	return len(p.Channels[0])
}

// Duration returns the length in seconds.
func (p *PCM) Duration() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(p.Len()) / float64(p.SampleRate)
}

func (p *PCM) validate() error {
	if p == nil || len(p.Channels) == 0 {
		return errors.New("no channels")
	}
	if p.SampleRate <= 0 {
		return errors.New("sample rate must be positive")
	}
	n := len(p.Channels[0])
	for _, ch := range p.Channels[1:] {
		if len(ch) != n {
			return errors.New("channel lengths differ")
		}
	}
	return nil
}
