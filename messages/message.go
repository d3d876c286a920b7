package messages

import "strings"

// Role of a message author
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole returns the role for s, or false for unknown roles.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleSystem:
		return Role(s), true
	default:
		return "", false
	}
}

// Kind is the payload discriminator of a message
type Kind string

const (
	KindText    Kind = "text"
	KindAudio   Kind = "audio"
	KindImage   Kind = "image"
	KindControl Kind = "control"
)

// KindFromType maps a raw wire "type" to a Kind. Anything that is not text,
// audio or image is a control directive (code, console, confirmation...).
func KindFromType(t string) Kind {
	switch t {
	case "":
		return ""
	case "text", "message":
		return KindText
	case "audio":
		return KindAudio
	case "image":
		return KindImage
	default:
		return KindControl
	}
}

// NeedsFormat reports whether messages of this kind must carry a format.
func (k Kind) NeedsFormat() bool {
	return k == KindAudio || k == KindImage
}

// ContentKind tags which variant of Content is populated
type ContentKind uint8

const (
	ContentNone ContentKind = iota
	ContentText
	ContentBinary
)

func (k ContentKind) String() string {
	switch k {
	case ContentText:
		return "text"
	case ContentBinary:
		return "binary"
	default:
		return "none"
	}
}

// Content is either text or bytes, never both.
type Content struct {
	kind ContentKind
	text string
	data []byte
}

// TextContent returns a text variant
func TextContent(s string) Content {
	return Content{kind: ContentText, text: s}
}

// BinaryContent returns a binary variant that takes ownership of b.
func BinaryContent(b []byte) Content {
	return Content{kind: ContentBinary, data: b}
}

func (c Content) Kind() ContentKind { return c.kind }

// Text returns the text variant.
func (c Content) Text() (string, bool) {
	return c.text, c.kind == ContentText
}

// Bytes returns the binary variant. Callers must not modify the slice.
func (c Content) Bytes() ([]byte, bool) {
	return c.data, c.kind == ContentBinary
}

// Len is the length of whichever variant is populated
func (c Content) Len() int {
	switch c.kind {
	case ContentText:
		return len(c.text)
	case ContentBinary:
		return len(c.data)
	default:
		return 0
	}
}

func (c Content) IsEmpty() bool { return c.Len() == 0 }

// CompatibleWith reports whether content of kind c may carry a message of kind k.
// Text content may carry audio or images only in a base64 format.
func (c ContentKind) CompatibleWith(k Kind, format string) bool {
	if k == "" || c == ContentNone {
		return true
	}
	switch c {
	case ContentBinary:
		return k == KindAudio || k == KindImage
	case ContentText:
		switch k {
		case KindText, KindControl:
			return true
		case KindAudio, KindImage:
			return format == "" || strings.HasPrefix(format, "base64")
		}
	}
	return false
}

// Message is a completed unit of conversation content. It is not modified
// after it leaves the accumulator.
type Message struct {
	Role    Role
	Kind    Kind
	Type    string // raw wire type, e.g. "code" for a control message
	Format  string
	Content Content
}
