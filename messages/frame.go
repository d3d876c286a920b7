package messages

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Wire keys recognized in control frames
const (
	KeyRole    = "role"
	KeyType    = "type"
	KeyFormat  = "format"
	KeyContent = "content"
	KeyStart   = "start"
	KeyEnd     = "end"
	KeyTurnID  = "turn_id"

	TypeKeepAlive = "KeepAlive"
)

// FrameKind discriminates wire frames
type FrameKind uint8

const (
	FrameBinary FrameKind = iota + 1
	FrameControl
)

func (k FrameKind) String() string {
	switch k {
	case FrameBinary:
		return "binary"
	case FrameControl:
		return "control"
	default:
		return "unknown"
	}
}

// Frame is one unit received from the wire: raw bytes or a decoded JSON object.
type Frame struct {
	Kind    FrameKind
	Data    []byte
	Control map[string]any
}

// NewBinaryFrame wraps b without copying. The frame owns b afterwards.
func NewBinaryFrame(b []byte) Frame {
	return Frame{Kind: FrameBinary, Data: b}
}

// NewControlFrame wraps an already decoded control payload.
func NewControlFrame(m map[string]any) Frame {
	return Frame{Kind: FrameControl, Control: m}
}

// DecodeControlFrame parses a text frame body into a control frame.
func DecodeControlFrame(data []byte) (Frame, error) {
	var m map[string]any
	if err := sonic.Unmarshal(data, &m); err != nil {
		return Frame{}, fmt.Errorf("decode control frame: %w", err)
	}
	if m == nil {
		return Frame{}, fmt.Errorf("decode control frame: not a JSON object")
	}
	return NewControlFrame(m), nil
}

// IsKeepAlive reports whether the frame is a {"type":"KeepAlive"} heartbeat.
func (f Frame) IsKeepAlive() bool {
	if f.Kind != FrameControl {
		return false
	}
	t, _ := f.Control[KeyType].(string)
	return t == TypeKeepAlive
}

// Flag returns a boolean control key such as "start" or "end".
func (f Frame) Flag(key string) bool {
	if f.Kind != FrameControl {
		return false
	}
	v, _ := f.Control[key].(bool)
	return v
}

// Field returns a string control key, or "" when missing or not a string.
func (f Frame) Field(key string) string {
	if f.Kind != FrameControl {
		return ""
	}
	v, _ := f.Control[key].(string)
	return v
}

// Transcript extracts channel.alternatives[0].transcript from a speech-to-text
// result frame.
func (f Frame) Transcript() (string, bool) {
	if f.Kind != FrameControl {
		return "", false
	}
	channel, ok := f.Control["channel"].(map[string]any)
	if !ok {
		return "", false
	}
	alternatives, ok := channel["alternatives"].([]any)
	if !ok || len(alternatives) == 0 {
		return "", false
	}
	first, ok := alternatives[0].(map[string]any)
	if !ok {
		return "", false
	}
	transcript, ok := first["transcript"].(string)
	return transcript, ok
}
