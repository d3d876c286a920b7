package messages

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Outbound formats
const (
	FormatPNG      = "base64.png"
	FormatRawAudio = "bytes.raw"
)

// ItemKind is the frame type an outbound item is sent as
type ItemKind uint8

const (
	ItemText ItemKind = iota + 1
	ItemBinary
)

// OutboundItem is a fully serialized unit ready to send.
type OutboundItem struct {
	Kind  ItemKind
	Text  string
	Data  []byte
	Label string // what the item carries, for logs and metrics
}

// Size is the payload length in bytes
func (i OutboundItem) Size() int {
	if i.Kind == ItemBinary {
		return len(i.Data)
	}
	return len(i.Text)
}

// Envelope is the JSON shape of every outbound text frame
type Envelope struct {
	Role    string `json:"role,omitempty"`
	Type    string `json:"type"`
	Format  string `json:"format,omitempty"`
	Content string `json:"content,omitempty"`
	Start   bool   `json:"start,omitempty"`
	End     bool   `json:"end,omitempty"`
	TurnID  string `json:"turn_id,omitempty"`
}

// EnvelopeItem serializes env into a text item.
func EnvelopeItem(label string, env Envelope) (OutboundItem, error) {
	b, err := sonic.Marshal(env)
	if err != nil {
		return OutboundItem{}, fmt.Errorf("encode %s envelope: %w", label, err)
	}
	return OutboundItem{Kind: ItemText, Text: string(b), Label: label}, nil
}

// NewKeepAlive creates the heartbeat frame {"type":"KeepAlive"}
func NewKeepAlive() OutboundItem {
	return OutboundItem{Kind: ItemText, Text: `{"type":"KeepAlive"}`, Label: "keepalive"}
}

// NewAudioItem wraps raw PCM bytes as a binary item
func NewAudioItem(pcm []byte) OutboundItem {
	return OutboundItem{Kind: ItemBinary, Data: pcm, Label: "audio"}
}

// NewImageItem creates a user image message carrying a PNG data URI
func NewImageItem(dataURI, turnID string) (OutboundItem, error) {
	return EnvelopeItem("image", Envelope{
		Role:    string(RoleUser),
		Type:    string(KindImage),
		Format:  FormatPNG,
		Content: dataURI,
		TurnID:  turnID,
	})
}

// NewTextItem creates a complete user text message
func NewTextItem(text, turnID string) (OutboundItem, error) {
	return EnvelopeItem("text", Envelope{
		Role:    string(RoleUser),
		Type:    string(KindText),
		Content: text,
		TurnID:  turnID,
	})
}

// NewTurnStart marks the beginning of a user audio turn
func NewTurnStart(turnID string) (OutboundItem, error) {
	return EnvelopeItem("turn_start", Envelope{
		Role:   string(RoleUser),
		Type:   string(KindAudio),
		Format: FormatRawAudio,
		Start:  true,
		TurnID: turnID,
	})
}

// NewTurnEnd marks the end of a user audio turn
func NewTurnEnd(turnID string) (OutboundItem, error) {
	return EnvelopeItem("turn_end", Envelope{
		Role:   string(RoleUser),
		Type:   string(KindAudio),
		Format: FormatRawAudio,
		End:    true,
		TurnID: turnID,
	})
}
