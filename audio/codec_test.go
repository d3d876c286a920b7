package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/room4-2/companion/messages"
)

func TestPCM16Conversion(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{1.5, 32767},
		{-1, -32767},
		{-2, -32767},
	}
	for _, tt := range tests {
		if got := FloatToInt16(tt.in); got != tt.want {
			t.Errorf("FloatToInt16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}

	pcm := PCM16Bytes([]float32{1, -1})
	samples := PCM16ToInt16(append(pcm, 0x7f)) // odd trailing byte
	if len(samples) != 2 || samples[0] != 32767 || samples[1] != -32767 {
		t.Errorf("Unexpected round trip %v", samples)
	}
}

func TestMuLawRoundTrip(t *testing.T) {
	in := []int16{0, 1000, -1000, 8000, -8000, 32767, -32768}
	out := DecodeMuLaw(EncodeMuLaw(in))
	if len(out) != len(in) {
		t.Fatalf("Expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		diff := int(in[i]) - int(out[i])
		if diff < 0 {
			diff = -diff
		}
		// mu-law step size grows with amplitude
		limit := 16 + abs(int(in[i]))/16
		if diff > limit {
			t.Errorf("sample %d: %d decoded as %d", i, in[i], out[i])
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestWAVRoundTrip(t *testing.T) {
	in := []int16{1, -2, 300, -32768}
	data, err := EncodeWAV(in, 22050)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if len(data) != 44+8 {
		t.Errorf("Expected 52 bytes, got %d", len(data))
	}

	samples, rate, channels, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 22050 || channels != 1 {
		t.Errorf("Expected 22050 Hz mono, got %d Hz %d channels", rate, channels)
	}
	for i := range in {
		if samples[i] != in[i] {
			t.Errorf("sample %d: expected %d, got %d", i, in[i], samples[i])
		}
	}

	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("Expected error for empty samples")
	}
}

// wavWithList builds a stereo WAV with a LIST chunk ahead of the data chunk
func wavWithList(samples []int16, rate int) []byte {
	fmtChunk := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtChunk[0:], 1)
	binary.LittleEndian.PutUint16(fmtChunk[2:], 2)
	binary.LittleEndian.PutUint32(fmtChunk[4:], uint32(rate))
	binary.LittleEndian.PutUint32(fmtChunk[8:], uint32(rate*4))
	binary.LittleEndian.PutUint16(fmtChunk[12:], 4)
	binary.LittleEndian.PutUint16(fmtChunk[14:], 16)

	pcm := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(s))
	}

	chunk := func(id string, body []byte) []byte {
		out := append([]byte(id), 0, 0, 0, 0)
		binary.LittleEndian.PutUint32(out[4:], uint32(len(body)))
		out = append(out, body...)
		if len(body)%2 == 1 {
			out = append(out, 0)
		}
		return out
	}

	var body []byte
	body = append(body, "WAVE"...)
	body = append(body, chunk("fmt ", fmtChunk)...)
	body = append(body, chunk("LIST", []byte("INFOabc"))...)
	body = append(body, chunk("data", pcm)...)

	out := append([]byte("RIFF"), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(body)))
	return append(out, body...)
}

func TestDecodeWAVSkipsUnknownChunks(t *testing.T) {
	data := wavWithList([]int16{100, 300, -100, -300}, 8000)
	samples, rate, channels, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 8000 || channels != 2 || len(samples) != 4 {
		t.Fatalf("Unexpected decode: %d Hz, %d channels, %d samples", rate, channels, len(samples))
	}

	mono := Downmix(samples, channels)
	if len(mono) != 2 || mono[0] != 200 || mono[1] != -200 {
		t.Errorf("Unexpected downmix %v", mono)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	for name, data := range map[string][]byte{
		"short":    []byte("RIFF"),
		"not riff": []byte("RIFX\x00\x00\x00\x00WAVEfmt "),
		"no fmt":   []byte("RIFF\x00\x00\x00\x00WAVEdata\x00\x00\x00\x00"),
	} {
		if _, _, _, err := DecodeWAV(data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDecodeWAVRejectsOutOfRangeRate(t *testing.T) {
	for _, rate := range []int{1, MinWAVRate - 1, MaxWAVRate + 1} {
		data := wavWithList([]int16{1, 2, 3, 4}, rate)
		if _, _, _, err := DecodeWAV(data); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("%d Hz: expected ErrUnsupportedFormat, got %v", rate, err)
		}
	}
}

func TestDecodeWAVClampsOversizedChunk(t *testing.T) {
	data, _ := EncodeWAV([]int16{7, -7, 70}, 16000)
	// data chunk claims 4 GiB, as streamed WAVs do
	binary.LittleEndian.PutUint32(data[40:], 0xffffffff)

	samples, _, _, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if len(samples) != 3 || samples[2] != 70 {
		t.Errorf("Unexpected samples %v", samples)
	}
}

func TestDecodeMessageFormats(t *testing.T) {
	pcm := []byte{0x00, 0x40, 0x00, 0xc0} // 16384, -16384
	wav, _ := EncodeWAV([]int16{16384, -16384}, 16000)

	tests := []struct {
		name    string
		format  string
		content messages.Content
		rate    int
	}{
		{"raw bytes", "bytes.raw", messages.BinaryContent(pcm), 24000},
		{"bare container", "pcm16", messages.BinaryContent(pcm), 24000},
		{"wav bytes", "bytes.wav", messages.BinaryContent(wav), 16000},
		{"base64 raw", "base64.raw", messages.TextContent(base64.StdEncoding.EncodeToString(pcm)), 24000},
		{"base64 wav", "base64.wav", messages.TextContent(base64.StdEncoding.EncodeToString(wav)), 16000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &messages.Message{Kind: messages.KindAudio, Format: tt.format, Content: tt.content}
			got, err := DecodeMessage(msg, 24000)
			if err != nil {
				t.Fatalf("DecodeMessage failed: %v", err)
			}
			if got.SampleRate != tt.rate {
				t.Errorf("Expected %d Hz, got %d", tt.rate, got.SampleRate)
			}
			if len(got.Samples) != 2 || got.Samples[0] != 0.5 || got.Samples[1] != -0.5 {
				t.Errorf("Unexpected samples %v", got.Samples)
			}
		})
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		content messages.Content
	}{
		{"unknown container", "bytes.flac", messages.BinaryContent([]byte{1, 2})},
		{"unknown encoding", "hex.raw", messages.TextContent("0102")},
		{"bytes with text", "bytes.raw", messages.TextContent("abc")},
		{"base64 with bytes", "base64.raw", messages.BinaryContent([]byte{1, 2})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &messages.Message{Kind: messages.KindAudio, Format: tt.format, Content: tt.content}
			if _, err := DecodeMessage(msg, 24000); !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
			}
		})
	}

	msg := &messages.Message{Kind: messages.KindAudio, Format: "base64.raw", Content: messages.TextContent("!!!")}
	if _, err := DecodeMessage(msg, 24000); err == nil {
		t.Error("Expected error for invalid base64")
	}

	msg = &messages.Message{Kind: messages.KindAudio, Format: "bytes.mp3", Content: messages.BinaryContent([]byte("not an mp3"))}
	if _, err := DecodeMessage(msg, 24000); err == nil {
		t.Error("Expected error for invalid mp3")
	}
}

func TestResample(t *testing.T) {
	in := []float32{0, 1, 0, -1}

	if got := Resample(in, 16000, 16000); len(got) != 4 {
		t.Errorf("Same rate should be a no-op, got %d samples", len(got))
	}

	up := Resample(in, 8000, 16000)
	if len(up) != 8 {
		t.Fatalf("Expected 8 samples, got %d", len(up))
	}
	if up[1] != 0.5 || up[2] != 1 {
		t.Errorf("Unexpected interpolation %v", up)
	}

	down := Resample(in, 16000, 8000)
	if len(down) != 2 || down[0] != 0 || down[1] != 0 {
		t.Errorf("Unexpected decimation %v", down)
	}
}
