package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Decode turns a captured blob into per-channel float samples at the
// blob's source rate. Every failure wraps ErrDecode.
func Decode(blob Blob) (*PCM, error) {
	if len(blob.Data) == 0 {
		return nil, fmt.Errorf("%w: empty recording", ErrDecode)
	}

	switch blob.Encoding {
	case EncodingFloat32LE:
		return decodeFloat32(blob.Data, blob.Format)
	case EncodingWAV:
		return decodeWAV(blob.Data)
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %q", ErrDecode, blob.Encoding)
	}
}

func decodeFloat32(data []byte, format goaudio.Format) (*PCM, error) {
	if format.NumChannels <= 0 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid format %d channels at %d Hz", ErrDecode, format.NumChannels, format.SampleRate)
	}

	frameSize := 4 * format.NumChannels
	if len(data)%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-byte frames", ErrDecode, len(data), frameSize)
	}

	frames := len(data) / frameSize
	pcm := newPCM(format.NumChannels, frames, format.SampleRate)
	for i := 0; i < frames; i++ {
		for j := 0; j < format.NumChannels; j++ {
			off := i*frameSize + j*4
			pcm.Channels[j][i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
		}
	}
	return pcm, nil
}

func decodeWAV(data []byte) (*PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode WAV: %v", ErrDecode, err)
	}
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("%w: WAV has no format", ErrDecode)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: unsupported WAV audio format %d", ErrDecode, dec.WavAudioFormat)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid WAV format %d channels at %d Hz", ErrDecode, channels, buf.Format.SampleRate)
	}

	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(dec.BitDepth)
	}
	if depth < 8 || depth > 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, depth)
	}

	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, fmt.Errorf("%w: WAV contains no samples", ErrDecode)
	}

	scale := float64(int64(1) << uint(depth-1))
	pcm := newPCM(channels, frames, buf.Format.SampleRate)
	for i := 0; i < frames*channels; i++ {
		v := float64(buf.Data[i])
		if depth == 8 {
			// 8-bit WAV samples are unsigned.
			v -= 128
		}
		pcm.Channels[i%channels][i/channels] = float32(v / scale)
	}
	return pcm, nil
}

func newPCM(channels, frames, sampleRate int) *PCM {
	pcm := &PCM{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for j := range pcm.Channels {
		pcm.Channels[j] = make([]float32, frames)
	}
	return pcm
}

// MixToMono averages all channels into one.
func MixToMono(pcm *PCM) []float32 {
	if pcm.NumChannels() == 1 {
		out := make([]float32, pcm.Len())
		copy(out, pcm.Channels[0])
		return out
	}

	out := make([]float32, pcm.Len())
	n := float32(pcm.NumChannels())
	for _, ch := range pcm.Channels {
		for i, s := range ch {
			out[i] += s / n
		}
	}
	return out
}
