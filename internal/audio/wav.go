package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// HeaderSize is the size of the canonical PCM WAV header written by this package
const HeaderSize = 44

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// Format describes uncompressed PCM audio
type Format struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultFormat is mono 16-bit PCM at 8000 Hz
var DefaultFormat = Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}

// BlockAlign returns the size of one frame in bytes
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// Validate checks the format can be written as PCM WAV
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", f.Channels)
	}
	if f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("bits per sample must be a positive multiple of 8, got %d", f.BitsPerSample)
	}
	return nil
}

func newHeader(f Format, dataSize int) WAVHeader {
	padded := dataSize + dataSize%2
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + padded),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate * f.BlockAlign()),
		BlockAlign:    uint16(f.BlockAlign()),
		BitsPerSample: uint16(f.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

// EncodeWAV wraps raw PCM frames in a WAV container.
// An odd-sized data chunk is followed by a RIFF pad byte.
func EncodeWAV(frames []byte, f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(frames)+1))

	if err := binary.Write(buf, binary.LittleEndian, newHeader(f, len(frames))); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	buf.Write(frames)
	if len(frames)%2 != 0 {
		buf.WriteByte(0)
	}

	return buf.Bytes(), nil
}

// DecodeWAV parses a WAV container and returns its format and whole frames.
// Trailing bytes that do not form a complete frame are discarded.
func DecodeWAV(data []byte) (Format, []byte, error) {
	if err := ValidateWAV(data); err != nil {
		return Format{}, nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return Format{}, nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.AudioFormat != 1 {
		return Format{}, nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	f := Format{
		SampleRate:    int(header.SampleRate),
		Channels:      int(header.NumChannels),
		BitsPerSample: int(header.BitsPerSample),
	}
	if err := f.Validate(); err != nil {
		return Format{}, nil, fmt.Errorf("invalid WAV format: %w", err)
	}

	dataSize := int(header.Subchunk2Size)
	if HeaderSize+dataSize > len(data) {
		return Format{}, nil, fmt.Errorf("WAV data chunk truncated: header says %d bytes, got %d", dataSize, len(data)-HeaderSize)
	}

	whole := dataSize / f.BlockAlign() * f.BlockAlign()
	frames := make([]byte, whole)
	copy(frames, data[HeaderSize:HeaderSize+whole])

	return f, frames, nil
}

// ValidateWAV validates a WAV file format without decoding the audio data
func ValidateWAV(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", HeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// CreateWAV writes an empty WAV container at path, replacing any existing file
func CreateWAV(path string, f Format) error {
	data, err := EncodeWAV(nil, f)
	if err != nil {
		return fmt.Errorf("failed to encode empty WAV: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to create WAV file %s: %w", path, err)
	}

	return nil
}

// AppendFrames appends raw PCM bytes to the WAV file at path by reading the
// existing frames and rewriting the container with the chunk added.
// It returns the number of whole frames in the file afterwards.
func AppendFrames(path string, chunk []byte) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read WAV file %s: %w", path, err)
	}

	f, frames, err := DecodeWAV(data)
	if err != nil {
		return 0, fmt.Errorf("failed to decode WAV file %s: %w", path, err)
	}

	combined := make([]byte, 0, len(frames)+len(chunk))
	combined = append(combined, frames...)
	combined = append(combined, chunk...)

	out, err := EncodeWAV(combined, f)
	if err != nil {
		return 0, fmt.Errorf("failed to encode WAV file %s: %w", path, err)
	}

	if err := os.WriteFile(path, out, 0644); err != nil {
		return 0, fmt.Errorf("failed to write WAV file %s: %w", path, err)
	}

	return len(combined) / f.BlockAlign(), nil
}

// WAVInfo describes a WAV file
type WAVInfo struct {
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	BitsPerSample int     `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      int     `json:"data_size_bytes"`
	NumFrames     int     `json:"num_frames"`
}

// GetWAVInfo extracts metadata from WAV data
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	f, frames, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	numFrames := len(frames) / f.BlockAlign()

	return &WAVInfo{
		SampleRate:    f.SampleRate,
		Channels:      f.Channels,
		BitsPerSample: f.BitsPerSample,
		Duration:      float64(numFrames) / float64(f.SampleRate),
		DataSize:      len(frames),
		NumFrames:     numFrames,
	}, nil
}

// ReadWAVInfo reads metadata from the WAV file at path
func ReadWAVInfo(path string) (*WAVInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV file %s: %w", path, err)
	}
	return GetWAVInfo(data)
}
