package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const wavHeaderSize = 44

// Header is the canonical 44-byte PCM WAV header.
type Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data length
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * 2
	BlockAlign    uint16 // NumChannels * 2
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // data length in bytes
}

// NumFrames returns the number of samples per channel in the data chunk.
func (h *Header) NumFrames() int {
	if h.BlockAlign == 0 {
		return 0
	}
	return int(h.Subchunk2Size) / int(h.BlockAlign)
}

const (
	wavFormatPCM = 1
	// maxDataSize is the largest data chunk whose RIFF size still fits in 32 bits.
	maxDataSize = math.MaxUint32 - 36
)

func wavDataSize(frames, channels int) (uint32, error) {
	size := uint64(frames) * uint64(channels) * 2
	if size > maxDataSize {
		return 0, fmt.Errorf("%d frames of %d channels exceed the WAV size limit", frames, channels)
	}
	return uint32(size), nil
}

// EncodeWAV serializes pcm as 16-bit little-endian PCM WAV.
func EncodeWAV(pcm *PCM) ([]byte, error) {
	if err := pcm.validate(); err != nil {
		return nil, fmt.Errorf("cannot encode audio: %w", err)
	}

	channels := pcm.NumChannels()
	frames := pcm.Len()
	dataSize, err := wavDataSize(frames, channels)
	if err != nil {
		return nil, fmt.Errorf("cannot encode audio: %w", err)
	}

	header := Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(pcm.SampleRate),
		ByteRate:      uint32(pcm.SampleRate) * uint32(channels) * 2,
		BlockAlign:    uint16(channels * 2),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataSize)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	data := make([]byte, dataSize)
	off := 0
	for i := 0; i < frames; i++ {
		for j := 0; j < channels; j++ {
			binary.LittleEndian.PutUint16(data[off:], uint16(quantize(pcm.Channels[j][i])))
			off += 2
		}
	}
	buf.Write(data)

	return buf.Bytes(), nil
}

// quantize clamps s to [-1, 1] and scales it to int16 using the asymmetric
// PCM range: negatives by 32768, non-negatives by 32767. Halves round up.
func quantize(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(math.Floor(v*32768 + 0.5))
	}
	return int16(math.Floor(v*32767 + 0.5))
}

// ParseHeader reads and validates the canonical header at the start of data.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < wavHeaderSize {
		return nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	var h Header
	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(h.ChunkID[:]) != "RIFF":
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(h.Format[:]) != "WAVE":
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(h.Subchunk1ID[:]) != "fmt ":
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	case string(h.Subchunk2ID[:]) != "data":
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	case h.AudioFormat != wavFormatPCM:
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", h.AudioFormat)
	}

	return &h, nil
}
