// Package accumulator reassembles wire frames into complete messages.
//
// Control frames merge role/type/format/content into the message being
// built; binary frames append bytes to it. A control frame with "end": true
// finalizes the message, "start": true discards whatever is in progress.
// Text and bytes are never mixed in one message: a frame that would switch
// the content representation discards the partial message and starts over
// from that frame.
package accumulator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/room4-2/companion/messages"
)

var (
	// ErrMalformedMessage is returned when a message cannot be finalized.
	// The partial message has been dropped.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrContentSwitch is returned when a frame changed the content
	// representation mid-message. The old partial was dropped and the frame
	// started a new one.
	ErrContentSwitch = errors.New("content representation switched mid-message")
)

// MaxMessageSize bounds the content of one message. A partial that grows
// past it is dropped as malformed.
const MaxMessageSize = 64 << 20

// ChunkAccumulator is not safe for concurrent use. Frames of one connection
// are fed to it sequentially in arrival order.
type ChunkAccumulator struct {
	p     partial
	limit int
}

// New creates an empty accumulator
func New() *ChunkAccumulator {
	return &ChunkAccumulator{limit: MaxMessageSize}
}

func (a *ChunkAccumulator) tooLarge(n int) error {
	size := len(a.p.data) + a.p.text.Len() + n
	if size <= a.limit {
		return nil
	}
	a.p.reset()
	return fmt.Errorf("%w: content exceeds %d bytes", ErrMalformedMessage, a.limit)
}

type partial struct {
	role    string
	typ     string
	kind    messages.Kind
	format  string
	content messages.ContentKind
	text    strings.Builder
	data    []byte
	frames  int
}

func (p *partial) active() bool {
	return p.frames > 0
}

func (p *partial) reset() {
	p.role, p.typ, p.format = "", "", ""
	p.kind = ""
	p.content = messages.ContentNone
	p.text.Reset()
	// the byte slice now belongs to an emitted message, or is garbage
	p.data = nil
	p.frames = 0
}

// fields are the non-null recognized keys of one control frame
type fields struct {
	role, typ, format, text string

	hasRole, hasType, hasFormat, hasText bool
}

func parseFields(ctrl map[string]any) (fields, error) {
	var fs fields
	if v, ok := ctrl[messages.KeyRole].(string); ok {
		fs.role, fs.hasRole = v, true
	}
	if v, ok := ctrl[messages.KeyType].(string); ok {
		fs.typ, fs.hasType = v, true
	}
	if v, ok := ctrl[messages.KeyFormat].(string); ok {
		fs.format, fs.hasFormat = v, true
	}

	switch v := ctrl[messages.KeyContent].(type) {
	case nil:
	case string:
		fs.text, fs.hasText = v, true
	default:
		// structured content (e.g. a confirmation payload) travels as JSON text
		b, err := sonic.Marshal(v)
		if err != nil {
			return fs, fmt.Errorf("%w: encode structured content: %v", ErrMalformedMessage, err)
		}
		fs.text, fs.hasText = string(b), true
	}
	return fs, nil
}

// compatible reports whether merging fs into p keeps the content
// representation consistent with the message kind.
func (p *partial) compatible(fs fields) bool {
	kind, format, content := p.kind, p.format, p.content
	if fs.hasType {
		kind = messages.KindFromType(fs.typ)
	}
	if fs.hasFormat {
		format = fs.format
	}
	if fs.hasText {
		if content == messages.ContentBinary {
			return false
		}
		content = messages.ContentText
	}
	return content.CompatibleWith(kind, format)
}

func (p *partial) apply(fs fields) {
	if fs.hasRole {
		p.role = fs.role
	}
	if fs.hasType {
		p.typ = fs.typ
		p.kind = messages.KindFromType(fs.typ)
	}
	if fs.hasFormat {
		p.format = fs.format
	}
	if fs.hasText {
		p.content = messages.ContentText
		p.text.WriteString(fs.text)
	}
	p.frames++
}

// Accumulate feeds one frame. It returns a Message when the frame completed
// one. A returned Message is always valid; err may still be ErrContentSwitch
// when the same frame both restarted and finalized a message.
func (a *ChunkAccumulator) Accumulate(f messages.Frame) (*messages.Message, error) {
	switch f.Kind {
	case messages.FrameBinary:
		return nil, a.appendBinary(f.Data)
	case messages.FrameControl:
		return a.mergeControl(f)
	default:
		return nil, fmt.Errorf("%w: unknown frame kind %d", ErrMalformedMessage, f.Kind)
	}
}

func (a *ChunkAccumulator) appendBinary(b []byte) error {
	var err error
	if a.p.content == messages.ContentText || !messages.ContentBinary.CompatibleWith(a.p.kind, a.p.format) {
		a.p.reset()
		err = ErrContentSwitch
	}

	if tooBig := a.tooLarge(len(b)); tooBig != nil {
		return tooBig
	}
	a.p.content = messages.ContentBinary
	if a.p.data == nil {
		a.p.data = b
	} else {
		a.p.data = append(a.p.data, b...)
	}
	a.p.frames++
	return err
}

func (a *ChunkAccumulator) mergeControl(f messages.Frame) (*messages.Message, error) {
	if f.IsKeepAlive() {
		return nil, nil
	}

	fs, err := parseFields(f.Control)
	if err != nil {
		a.p.reset()
		return nil, err
	}

	if f.Flag(messages.KeyStart) {
		a.p.reset()
	}

	// a frame whose own fields disagree can't start a message either
	var own partial
	if !own.compatible(fs) {
		a.p.reset()
		return nil, fmt.Errorf("%w: text content cannot carry type %q format %q", ErrMalformedMessage, fs.typ, fs.format)
	}

	var switchErr error
	if !a.p.compatible(fs) {
		a.p.reset()
		switchErr = ErrContentSwitch
	}
	if err := a.tooLarge(len(fs.text)); err != nil {
		return nil, err
	}
	a.p.apply(fs)

	if !f.Flag(messages.KeyEnd) {
		return nil, switchErr
	}
	msg, err := a.finalize()
	if err != nil {
		return nil, err
	}
	return msg, switchErr
}

func (a *ChunkAccumulator) finalize() (*messages.Message, error) {
	p := &a.p
	defer p.reset()

	if p.kind == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if p.content == messages.ContentNone || (p.content == messages.ContentText && p.text.Len() == 0) ||
		(p.content == messages.ContentBinary && len(p.data) == 0) {
		return nil, fmt.Errorf("%w: empty %s content", ErrMalformedMessage, p.kind)
	}
	if p.kind.NeedsFormat() && p.format == "" {
		return nil, fmt.Errorf("%w: %s message without format", ErrMalformedMessage, p.kind)
	}

	var role messages.Role
	if p.role != "" {
		r, ok := messages.ParseRole(p.role)
		if !ok {
			return nil, fmt.Errorf("%w: unknown role %q", ErrMalformedMessage, p.role)
		}
		role = r
	}

	msg := &messages.Message{
		Role:   role,
		Kind:   p.kind,
		Type:   p.typ,
		Format: p.format,
	}
	if p.content == messages.ContentBinary {
		msg.Content = messages.BinaryContent(p.data)
	} else {
		msg.Content = messages.TextContent(p.text.String())
	}
	return msg, nil
}

// InProgress reports whether a partial message is being assembled
func (a *ChunkAccumulator) InProgress() bool {
	return a.p.active()
}

// Reset discards the partial message, e.g. on connection loss. It reports
// whether anything was discarded.
func (a *ChunkAccumulator) Reset() bool {
	had := a.p.active()
	a.p.reset()
	return had
}
