// Command loopback is a local stand-in for the conversation server. It
// accepts a device connection, logs every turn it receives and answers each
// turn with a streamed text reply plus the recorded audio played back.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/room4-2/companion/audio"
	"github.com/room4-2/companion/messages"
)

// inbound is the subset of envelope fields the device sends
type inbound struct {
	Role    string `json:"role"`
	Type    string `json:"type"`
	Format  string `json:"format"`
	Content string `json:"content"`
	Start   bool   `json:"start"`
	End     bool   `json:"end"`
	TurnID  string `json:"turn_id"`
}

type turn struct {
	id     string
	images int
	pcm    bytes.Buffer
}

type loopback struct {
	upgrader   websocket.Upgrader
	sampleRate int
	reply      []byte // optional canned reply audio
	format     string
	logger     *slog.Logger
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	rate := flag.Int("rate", 44100, "sample rate of the device's microphone audio")
	replyFile := flag.String("file", "", "reply with this WAV or MP3 file instead of echoing the turn")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	lb := &loopback{
		upgrader:   websocket.Upgrader{ReadBufferSize: 64 * 1024, WriteBufferSize: 64 * 1024},
		sampleRate: *rate,
		logger:     logger,
	}
	if *replyFile != "" {
		data, format, err := loadAudioFile(*replyFile)
		if err != nil {
			logger.Error("failed to load reply audio", "error", err)
			os.Exit(1)
		}
		lb.reply, lb.format = data, format
	}

	http.HandleFunc("/ws", lb.handle)
	logger.Info("loopback server listening", "url", "ws://"+*addr+"/ws")
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// loadAudioFile picks the wire format from the file extension
func loadAudioFile(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return data, "bytes.wav", nil
	case ".mp3":
		return data, "bytes.mp3", nil
	case ".pcm", ".raw":
		return data, "bytes.raw", nil
	default:
		return nil, "", fmt.Errorf("unsupported reply file %s", path)
	}
}

func (lb *loopback) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := lb.upgrader.Upgrade(w, r, nil)
	if err != nil {
		lb.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := lb.logger.With("remote", r.RemoteAddr)
	logger.Info("device connected")

	var current *turn
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info("device disconnected", "error", err)
			return
		}

		if messageType == websocket.BinaryMessage {
			if current == nil {
				logger.Warn("audio outside a turn", "bytes", len(data))
				continue
			}
			current.pcm.Write(data)
			continue
		}

		var msg inbound
		if err := sonic.Unmarshal(data, &msg); err != nil {
			logger.Warn("bad frame", "error", err)
			continue
		}

		switch {
		case msg.Type == messages.TypeKeepAlive:
			logger.Debug("keepalive")
		case msg.Type == "image":
			if current == nil || current.id != msg.TurnID {
				current = &turn{id: msg.TurnID}
			}
			current.images++
			logger.Info("image received", "turn_id", msg.TurnID, "bytes", len(msg.Content))
		case msg.Type == "audio" && msg.Start:
			if current == nil || current.id != msg.TurnID {
				current = &turn{id: msg.TurnID}
			}
			logger.Info("turn started", "turn_id", msg.TurnID, "images", current.images)
		case msg.Type == "audio" && msg.End:
			if current == nil {
				continue
			}
			logger.Info("turn ended", "turn_id", current.id, "bytes", current.pcm.Len())
			if err := lb.respond(conn, current); err != nil {
				logger.Warn("reply failed", "error", err)
				return
			}
			current = nil
		case msg.Type == "text" || msg.Type == "message":
			logger.Info("text received", "turn_id", msg.TurnID, "text", msg.Content)
			if err := lb.respondText(conn, "You said: "+msg.Content); err != nil {
				logger.Warn("reply failed", "error", err)
				return
			}
		default:
			logger.Info("ignored frame", "type", msg.Type)
		}
	}
}

func (lb *loopback) respond(conn *websocket.Conn, t *turn) error {
	seconds := float64(t.pcm.Len()/2) / float64(lb.sampleRate)
	if err := lb.respondText(conn, fmt.Sprintf("Heard %.1f seconds of audio and %d images.", seconds, t.images)); err != nil {
		return err
	}

	data, format := lb.reply, lb.format
	if data == nil {
		if t.pcm.Len() < 2 {
			return nil
		}
		wav, err := audio.EncodeWAV(audio.PCM16ToInt16(t.pcm.Bytes()), lb.sampleRate)
		if err != nil {
			return err
		}
		data, format = wav, "bytes.wav"
	}

	if err := writeEnvelope(conn, messages.Envelope{Role: "assistant", Type: "audio", Format: format, Start: true}); err != nil {
		return err
	}
	// stream in chunks, as a real server would
	const chunk = 16 * 1024
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		if err := conn.WriteMessage(websocket.BinaryMessage, data[off:end]); err != nil {
			return err
		}
	}
	return writeEnvelope(conn, messages.Envelope{Role: "assistant", Type: "audio", Format: format, End: true})
}

// respondText streams text word by word as deltas
func (lb *loopback) respondText(conn *websocket.Conn, text string) error {
	if err := writeEnvelope(conn, messages.Envelope{Role: "assistant", Type: "message", Start: true}); err != nil {
		return err
	}
	for i, word := range strings.Fields(text) {
		if i > 0 {
			word = " " + word
		}
		if err := writeEnvelope(conn, messages.Envelope{Role: "assistant", Type: "message", Content: word}); err != nil {
			return err
		}
	}
	return writeEnvelope(conn, messages.Envelope{Role: "assistant", Type: "message", End: true})
}

func writeEnvelope(conn *websocket.Conn, env messages.Envelope) error {
	data, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
