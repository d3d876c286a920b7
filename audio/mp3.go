package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 stream to mono 16-bit samples.
func DecodeMP3(data []byte) ([]int16, int, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("open mp3: %w", err)
	}

	// go-mp3 always yields 16-bit little-endian stereo
	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}
	return Downmix(PCM16ToInt16(pcm), 2), decoder.SampleRate(), nil
}
