package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/companion/accumulator"
	"github.com/room4-2/companion/messages"
	"github.com/room4-2/companion/metrics"
)

// ErrConnectFailure wraps transport-level failures to establish the connection.
var ErrConnectFailure = errors.New("connect failure")

const maxFrameSize = 8 * 1024 * 1024

// AudioSink receives completed audio messages for playback
type AudioSink interface {
	Enqueue(msg *messages.Message) error
}

// TextSink receives completed text and control messages
type TextSink interface {
	Deliver(msg *messages.Message)
}

// Options configure a ConnectionManager
type Options struct {
	URL               string
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
	Header            http.Header
}

// ConnectionManager owns the device's single logical connection. It drains
// the outbound queue, feeds inbound frames to the accumulator, sends
// heartbeats, and reconnects until its context is cancelled.
type ConnectionManager struct {
	ID string

	opts    Options
	dialer  *websocket.Dialer
	queue   *OutboundQueue
	acc     *accumulator.ChunkAccumulator
	audio   AudioSink
	text    TextSink
	logger  *slog.Logger
	metrics *metrics.Metrics

	state        atomic.Int32
	lastActivity atomic.Int64

	mu        sync.Mutex
	observers []func(ConnState)
}

// NewConnectionManager wires a manager. Run starts it.
func NewConnectionManager(id string, opts Options, queue *OutboundQueue, acc *accumulator.ChunkAccumulator,
	audio AudioSink, text TextSink, logger *slog.Logger, m *metrics.Metrics) *ConnectionManager {
	cm := &ConnectionManager{
		ID:   id,
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  64 * 1024,
		},
		queue:   queue,
		acc:     acc,
		audio:   audio,
		text:    text,
		logger:  logger.With("session", shortID(id), "component", "connection"),
		metrics: m,
	}
	cm.state.Store(int32(StateConnecting))
	return cm
}

// OnStateChange registers fn to be called after every state transition.
// Register observers before Run.
func (cm *ConnectionManager) OnStateChange(fn func(ConnState)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.observers = append(cm.observers, fn)
}

// State returns the current connection state
func (cm *ConnectionManager) State() ConnState {
	return ConnState(cm.state.Load())
}

// LastActivity returns when the last inbound frame was seen
func (cm *ConnectionManager) LastActivity() time.Time {
	return time.Unix(0, cm.lastActivity.Load())
}

func (cm *ConnectionManager) setState(to ConnState) {
	from := cm.State()
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		cm.logger.Warn("invalid state transition ignored", "from", from, "to", to)
		return
	}
	cm.state.Store(int32(to))
	cm.metrics.ConnectionState.Set(float64(to))
	cm.logger.Info("connection state changed", "from", from, "to", to)

	cm.mu.Lock()
	observers := cm.observers
	cm.mu.Unlock()
	for _, fn := range observers {
		fn(to)
	}
}

// Run connects and serves until ctx is cancelled. Connection failures are
// logged and retried with exponential backoff; they never end Run.
func (cm *ConnectionManager) Run(ctx context.Context) error {
	delay := cm.opts.ReconnectDelay

	for {
		if ctx.Err() != nil {
			cm.setState(StateClosing)
			return nil
		}

		cm.setState(StateConnecting)
		conn, err := cm.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				cm.setState(StateClosing)
				return nil
			}
			cm.metrics.ConnectFailures.Inc()
			cm.logger.Warn("connect failed, retrying", "error", err, "retry_in", delay)
			cm.setState(StateReconnecting)
			cm.metrics.Reconnects.Inc()
			if !sleepCtx(ctx, delay) {
				cm.setState(StateClosing)
				return nil
			}
			delay = min(delay*2, cm.opts.ReconnectMaxDelay)
			continue
		}

		delay = cm.opts.ReconnectDelay
		cm.setState(StateOpen)
		err = cm.serve(ctx, conn)

		// partially accumulated messages never survive a disconnect
		if cm.acc.Reset() {
			cm.metrics.PartialsDropped.Inc()
			cm.logger.Warn("discarded partial message on disconnect")
		}

		if ctx.Err() != nil {
			cm.setState(StateClosing)
			return nil
		}

		cm.logger.Warn("connection lost", "error", err, "queued", cm.queue.Len())
		cm.setState(StateReconnecting)
		cm.metrics.Reconnects.Inc()
		if !sleepCtx(ctx, delay) {
			cm.setState(StateClosing)
			return nil
		}
	}
}

func (cm *ConnectionManager) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := cm.dialer.DialContext(ctx, cm.opts.URL, cm.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s (status %d)", ErrConnectFailure, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}
	conn.SetReadLimit(maxFrameSize)
	cm.touch()
	cm.logger.Info("connected", "url", cm.opts.URL)
	return conn, nil
}

// serve runs the receive and send loops until either fails or ctx ends.
func (cm *ConnectionManager) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	writeErr := make(chan error, 1)
	go func() { readErr <- cm.readLoop(conn) }()
	go func() { writeErr <- cm.writeLoop(connCtx, conn) }()

	var err error
	select {
	case err = <-readErr:
		cancel()
		<-writeErr
	case err = <-writeErr:
		// unblocks the pending read
		conn.Close()
		<-readErr
	}
	conn.Close()
	return err
}

// readLoop feeds frames to the accumulator in arrival order. It is the only
// goroutine touching the accumulator while the connection is open.
func (cm *ConnectionManager) readLoop(conn *websocket.Conn) error {
	for {
		// no inbound traffic for the idle ceiling tears the connection down
		if err := conn.SetReadDeadline(time.Now().Add(cm.opts.IdleTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		cm.touch()

		var frame messages.Frame
		switch messageType {
		case websocket.BinaryMessage:
			frame = messages.NewBinaryFrame(data)
		case websocket.TextMessage:
			frame, err = messages.DecodeControlFrame(data)
			if err != nil {
				cm.metrics.MalformedMessages.Inc()
				cm.logger.Warn("dropping undecodable text frame", "error", err, "bytes", len(data))
				continue
			}
		default:
			continue
		}
		cm.metrics.FramesReceived.WithLabelValues(frame.Kind.String()).Inc()
		cm.handleFrame(frame)
	}
}

func (cm *ConnectionManager) handleFrame(frame messages.Frame) {
	// speech-to-text results bypass the accumulator
	if transcript, ok := frame.Transcript(); ok {
		if transcript != "" {
			cm.text.Deliver(&messages.Message{
				Role:    messages.RoleUser,
				Kind:    messages.KindText,
				Type:    "transcript",
				Content: messages.TextContent(transcript),
			})
		}
		return
	}

	msg, err := cm.acc.Accumulate(frame)
	if err != nil {
		if errors.Is(err, accumulator.ErrContentSwitch) {
			cm.metrics.ContentSwitches.Inc()
			cm.logger.Warn("content switched mid-message, restarted partial")
		} else {
			cm.metrics.MalformedMessages.Inc()
			cm.logger.Warn("dropped malformed message", "error", err)
		}
	}
	if msg == nil {
		return
	}

	cm.metrics.MessagesCompleted.WithLabelValues(string(msg.Kind)).Inc()
	switch msg.Kind {
	case messages.KindAudio:
		if err := cm.audio.Enqueue(msg); err != nil {
			cm.logger.Warn("failed to queue audio for playback", "format", msg.Format, "error", err)
		}
	case messages.KindText, messages.KindControl:
		cm.text.Deliver(msg)
	default:
		cm.logger.Warn("ignoring unexpected inbound message", "kind", msg.Kind, "type", msg.Type)
	}
}

// writeLoop is the only writer on conn. Items leave the queue only after
// they were written, so a failed write keeps them for the next connection.
func (cm *ConnectionManager) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	heartbeat := time.NewTicker(cm.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		for {
			item, ok := cm.queue.Front()
			if !ok {
				break
			}
			if err := cm.write(conn, item); err != nil {
				return err
			}
			cm.queue.Pop()
			cm.metrics.ItemsSent.WithLabelValues(item.Label).Inc()
			cm.metrics.BytesSent.Add(float64(item.Size()))
			if ctx.Err() != nil {
				break
			}
		}
		cm.metrics.QueueDepth.Set(float64(cm.queue.Len()))

		select {
		case <-ctx.Done():
			// Send close message before exiting
			conn.SetWriteDeadline(time.Now().Add(cm.opts.WriteTimeout))
			conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			return ctx.Err()
		case <-cm.queue.Notify():
		case <-heartbeat.C:
			if err := cm.write(conn, messages.NewKeepAlive()); err != nil {
				return err
			}
		}
	}
}

func (cm *ConnectionManager) write(conn *websocket.Conn, item messages.OutboundItem) error {
	if err := conn.SetWriteDeadline(time.Now().Add(cm.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	var err error
	switch item.Kind {
	case messages.ItemBinary:
		err = conn.WriteMessage(websocket.BinaryMessage, item.Data)
	default:
		err = conn.WriteMessage(websocket.TextMessage, []byte(item.Text))
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", item.Label, err)
	}
	return nil
}

func (cm *ConnectionManager) touch() {
	cm.lastActivity.Store(time.Now().UnixNano())
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
