package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/room4-2/companion/messages"
)

// ErrUnsupportedFormat is returned for audio formats the device cannot play
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Decoded is mono audio ready for resampling
type Decoded struct {
	Samples    []float32
	SampleRate int
}

// DecodeMessage turns an audio message into mono float samples. rawRate is
// the sample rate assumed for headerless PCM.
//
// Formats look like "bytes.wav" or "base64.mp3"; base64 formats carry text
// content.
func DecodeMessage(msg *messages.Message, rawRate int) (Decoded, error) {
	encoding, container, ok := strings.Cut(msg.Format, ".")
	if !ok {
		encoding, container = "bytes", msg.Format
	}

	var data []byte
	switch encoding {
	case "bytes":
		b, isBinary := msg.Content.Bytes()
		if !isBinary {
			return Decoded{}, fmt.Errorf("%w: %s with text content", ErrUnsupportedFormat, msg.Format)
		}
		data = b
	case "base64":
		text, isText := msg.Content.Text()
		if !isText {
			return Decoded{}, fmt.Errorf("%w: %s with binary content", ErrUnsupportedFormat, msg.Format)
		}
		b, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return Decoded{}, fmt.Errorf("decode base64 audio: %w", err)
		}
		data = b
	default:
		return Decoded{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, msg.Format)
	}

	switch container {
	case "raw", "pcm", "pcm16":
		return Decoded{Samples: Int16ToFloat(PCM16ToInt16(data)), SampleRate: rawRate}, nil
	case "wav":
		samples, rate, channels, err := DecodeWAV(data)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Samples: Int16ToFloat(Downmix(samples, channels)), SampleRate: rate}, nil
	case "mp3":
		samples, rate, err := DecodeMP3(data)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Samples: Int16ToFloat(samples), SampleRate: rate}, nil
	case "mulaw", "ulaw":
		return Decoded{Samples: Int16ToFloat(DecodeMuLaw(data)), SampleRate: 8000}, nil
	default:
		return Decoded{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, msg.Format)
	}
}
