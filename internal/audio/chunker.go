package audio

import (
	"encoding/binary"
	"fmt"
)

// Chunk splits data into consecutive pieces of at most size bytes in their original order.
// The pieces share data's backing array.
func Chunk(data []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}

	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}

	return chunks, nil
}

// Shape describes decoded PCM as frames x channels
type Shape struct {
	Frames   int
	Channels int
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d)", s.Frames, s.Channels)
}

// DecodePCM16 interprets raw little-endian signed 16-bit PCM.
// The length must be a whole number of frames for the given channel count.
func DecodePCM16(raw []byte, channels int) ([]int16, Shape, error) {
	if channels <= 0 {
		return nil, Shape{}, fmt.Errorf("channel count must be positive, got %d", channels)
	}

	frameSize := 2 * channels
	if len(raw)%frameSize != 0 {
		return nil, Shape{}, fmt.Errorf("audio data length %d is not a multiple of frame size %d", len(raw), frameSize)
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}

	return samples, Shape{Frames: len(raw) / frameSize, Channels: channels}, nil
}
