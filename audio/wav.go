package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Sample rates accepted from inbound WAV data
const (
	MinWAVRate = 8000
	MaxWAVRate = 192000
)

// wavHeader is the canonical 44-byte PCM WAV header
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	const numChannels, bitsPerSample = 1, 16
	dataSize := uint32(len(samples) * 2)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * numChannels * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV decodes 16-bit PCM WAV data. Samples are interleaved when
// channels > 1. Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(data []byte) (samples []int16, sampleRate, channels int, err error) {
	if len(data) < 12 {
		return nil, 0, 0, fmt.Errorf("WAV data too short: got %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, 0, 0, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		haveFmt       bool
		audioFormat   uint16
		bitsPerSample uint16
		pcm           []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		body := data[off+8:]
		size := len(body)
		// streamed WAVs often carry a placeholder size
		if declared := uint64(binary.LittleEndian.Uint32(data[off+4 : off+8])); declared < uint64(size) {
			size = int(declared)
		}
		body = body[:size]

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, fmt.Errorf("invalid WAV file: short fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
		case "data":
			pcm = body
		}

		// chunks are word aligned
		off += 8 + size + size%2
	}

	if !haveFmt {
		return nil, 0, 0, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if pcm == nil {
		return nil, 0, 0, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if audioFormat != 1 {
		return nil, 0, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", audioFormat)
	}
	if bitsPerSample != 16 {
		return nil, 0, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", bitsPerSample)
	}
	if channels < 1 {
		return nil, 0, 0, fmt.Errorf("invalid WAV format: %d channels", channels)
	}
	if sampleRate < MinWAVRate || sampleRate > MaxWAVRate {
		return nil, 0, 0, fmt.Errorf("%w: WAV sample rate %d Hz", ErrUnsupportedFormat, sampleRate)
	}

	return PCM16ToInt16(pcm), sampleRate, channels, nil
}
