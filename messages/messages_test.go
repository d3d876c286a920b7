package messages

import (
	"testing"

	"github.com/bytedance/sonic"
)

func TestDecodeControlFrame(t *testing.T) {
	f, err := DecodeControlFrame([]byte(`{"role":"assistant","type":"audio","format":"bytes.wav","start":true}`))
	if err != nil {
		t.Fatalf("DecodeControlFrame failed: %v", err)
	}
	if f.Kind != FrameControl {
		t.Fatalf("Expected control frame, got %s", f.Kind)
	}
	if f.Field(KeyRole) != "assistant" || f.Field(KeyFormat) != "bytes.wav" {
		t.Errorf("Unexpected fields: %v", f.Control)
	}
	if !f.Flag(KeyStart) || f.Flag(KeyEnd) {
		t.Errorf("Unexpected flags: %v", f.Control)
	}

	if _, err := DecodeControlFrame([]byte(`[1,2]`)); err == nil {
		t.Error("Expected error for a JSON array")
	}
	if _, err := DecodeControlFrame([]byte(`null`)); err == nil {
		t.Error("Expected error for null")
	}
}

func TestKeepAlive(t *testing.T) {
	f, err := DecodeControlFrame([]byte(NewKeepAlive().Text))
	if err != nil {
		t.Fatalf("DecodeControlFrame failed: %v", err)
	}
	if !f.IsKeepAlive() {
		t.Error("Expected keepalive frame")
	}
	if NewBinaryFrame([]byte{1}).IsKeepAlive() {
		t.Error("Binary frame reported as keepalive")
	}
}

func TestTranscript(t *testing.T) {
	f, err := DecodeControlFrame([]byte(`{"channel":{"alternatives":[{"transcript":"hello there","confidence":0.9}]}}`))
	if err != nil {
		t.Fatalf("DecodeControlFrame failed: %v", err)
	}
	text, ok := f.Transcript()
	if !ok || text != "hello there" {
		t.Errorf("Expected transcript, got %q %v", text, ok)
	}

	f, _ = DecodeControlFrame([]byte(`{"channel":{"alternatives":[]}}`))
	if _, ok := f.Transcript(); ok {
		t.Error("Expected no transcript for empty alternatives")
	}
}

func TestKindFromType(t *testing.T) {
	tests := map[string]Kind{
		"":             "",
		"text":         KindText,
		"message":      KindText,
		"audio":        KindAudio,
		"image":        KindImage,
		"code":         KindControl,
		"confirmation": KindControl,
	}
	for in, want := range tests {
		if got := KindFromType(in); got != want {
			t.Errorf("KindFromType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContentCompatibility(t *testing.T) {
	tests := []struct {
		content ContentKind
		kind    Kind
		format  string
		want    bool
	}{
		{ContentBinary, KindAudio, "bytes.wav", true},
		{ContentBinary, KindImage, "", true},
		{ContentBinary, KindText, "", false},
		{ContentBinary, KindControl, "", false},
		{ContentText, KindText, "", true},
		{ContentText, KindControl, "", true},
		{ContentText, KindAudio, "base64.wav", true},
		{ContentText, KindAudio, "bytes.wav", false},
		{ContentNone, KindText, "", true},
	}
	for _, tt := range tests {
		if got := tt.content.CompatibleWith(tt.kind, tt.format); got != tt.want {
			t.Errorf("%s.CompatibleWith(%s, %q) = %v, want %v", tt.content, tt.kind, tt.format, got, tt.want)
		}
	}
}

func TestImageItemShape(t *testing.T) {
	item, err := NewImageItem("data:image/png;base64,AAAA", "")
	if err != nil {
		t.Fatalf("NewImageItem failed: %v", err)
	}
	if item.Kind != ItemText {
		t.Fatalf("Expected text item")
	}

	var got map[string]any
	if err := sonic.Unmarshal([]byte(item.Text), &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	want := map[string]string{"role": "user", "type": "image", "format": "base64.png", "content": "data:image/png;base64,AAAA"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Expected %s=%q, got %v", k, v, got[k])
		}
	}
	if _, ok := got["turn_id"]; ok {
		t.Error("Empty turn id should be omitted")
	}
}

func TestTurnMarkers(t *testing.T) {
	start, err := NewTurnStart("turn-1")
	if err != nil {
		t.Fatalf("NewTurnStart failed: %v", err)
	}
	f, err := DecodeControlFrame([]byte(start.Text))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !f.Flag(KeyStart) || f.Field(KeyTurnID) != "turn-1" || f.Field(KeyFormat) != FormatRawAudio {
		t.Errorf("Unexpected start marker: %s", start.Text)
	}

	end, _ := NewTurnEnd("turn-1")
	f, _ = DecodeControlFrame([]byte(end.Text))
	if !f.Flag(KeyEnd) || f.Flag(KeyStart) {
		t.Errorf("Unexpected end marker: %s", end.Text)
	}
}
