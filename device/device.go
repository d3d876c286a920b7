// Package device is the façade the shell talks to. It owns the capture and
// playback pipelines, the camera image queue and the connection manager,
// and turns user actions into ordered outbound turns.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/room4-2/companion/accumulator"
	"github.com/room4-2/companion/audio"
	"github.com/room4-2/companion/camera"
	"github.com/room4-2/companion/config"
	"github.com/room4-2/companion/messages"
	"github.com/room4-2/companion/metrics"
	"github.com/room4-2/companion/session"
	"github.com/room4-2/companion/stt"
)

// ErrDeviceUnavailable is returned for operations on a pipeline whose
// hardware could not be opened. Other pipelines keep working.
var ErrDeviceUnavailable = errors.New("device unavailable")

const (
	flushTimeout      = 2 * time.Second
	transcribeTimeout = 30 * time.Second
)

// Options configure a Device
type Options struct {
	ID                 string
	Name               string
	Session            session.Options
	SampleRate         int
	FramesPerBuffer    int
	PlaybackCapacity   int
	PlaybackSourceRate int
	ForwardTranscripts bool
}

// OptionsFromConfig maps the loaded configuration onto device options
func OptionsFromConfig(cfg *config.Config, id string) (Options, error) {
	url, err := cfg.WebSocketURL()
	if err != nil {
		return Options{}, err
	}
	return Options{
		ID:   id,
		Name: cfg.SessionName,
		Session: session.Options{
			URL:               url,
			HeartbeatInterval: cfg.HeartbeatInterval,
			IdleTimeout:       cfg.IdleTimeout,
			ReconnectDelay:    cfg.ReconnectDelay,
			ReconnectMaxDelay: cfg.ReconnectMaxDelay,
			WriteTimeout:      cfg.WriteTimeout,
			HandshakeTimeout:  cfg.HandshakeTimeout,
		},
		SampleRate:         cfg.SampleRate,
		FramesPerBuffer:    cfg.FramesPerBuffer,
		PlaybackCapacity:   cfg.PlaybackCapacity(),
		PlaybackSourceRate: cfg.PlaybackSourceRate,
		ForwardTranscripts: cfg.ForwardTranscripts,
	}, nil
}

// Deps are the collaborators a Device is built from. Camera, Transcriber and
// Registry are optional.
type Deps struct {
	Audio       audio.Opener
	Camera      camera.Grabber
	Transcriber stt.Transcriber
	Registry    *session.Registry
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Device bridges microphone, speaker and camera to the conversation server
type Device struct {
	id   string
	name string

	queue   *session.OutboundQueue
	acc     *accumulator.ChunkAccumulator
	conn    *session.ConnectionManager
	capture *audio.CapturePipeline
	playout *audio.PlaybackPipeline
	grabber camera.Grabber
	images  *camera.ImageQueue

	transcriber        stt.Transcriber
	registry           *session.Registry
	forwardTranscripts bool

	metrics *metrics.Metrics
	logger  *slog.Logger

	// base context for work started by toggles; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex // serializes toggles
	turnID string
	closed bool
	// closed once the previous turn's transcript is queued
	lastTranscript chan struct{}

	// written by the capture pump while mu may be held by a toggle
	pcmMu   sync.Mutex
	turnPCM bytes.Buffer
}

// New builds a Device. A microphone or speaker that cannot be opened
// disables that pipeline only; the error is logged, not returned.
func New(opts Options, deps Deps) (*Device, error) {
	if deps.Audio == nil {
		return nil, errors.New("audio opener is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewIsolated()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		id:                 opts.ID,
		name:               opts.Name,
		queue:              session.NewOutboundQueue(),
		acc:                accumulator.New(),
		grabber:            deps.Camera,
		images:             camera.NewImageQueue(),
		transcriber:        deps.Transcriber,
		registry:           deps.Registry,
		forwardTranscripts: opts.ForwardTranscripts,
		metrics:            deps.Metrics,
		logger:             deps.Logger.With("session", shortID(opts.ID), "component", "device"),
		ctx:                ctx,
		cancel:             cancel,
	}

	capture, err := audio.NewCapturePipeline(deps.Audio, opts.SampleRate, opts.FramesPerBuffer, d, deps.Logger)
	if err != nil {
		d.logger.Error("microphone unavailable, recording disabled", "error", err)
	} else {
		d.capture = capture
		d.metrics.CounterFunc("capture_overrun_samples_total", "Captured samples lost because the pump fell behind",
			func() float64 { return float64(capture.Overruns()) })
	}

	playout, err := audio.NewPlaybackPipeline(deps.Audio, opts.SampleRate, opts.FramesPerBuffer,
		opts.PlaybackCapacity, opts.PlaybackSourceRate, deps.Logger)
	if err != nil {
		d.logger.Error("speaker unavailable, playback disabled", "error", err)
	} else {
		d.playout = playout
		d.metrics.CounterFunc("playback_underrun_samples_total", "Output samples filled with silence",
			func() float64 { return float64(playout.Underruns()) })
		d.metrics.CounterFunc("playback_overwritten_samples_total", "Buffered samples dropped to make room",
			func() float64 { return float64(playout.Overwritten()) })
		d.metrics.GaugeFunc("playback_buffered_samples", "Samples waiting to be played",
			func() float64 { return float64(playout.Buffered()) })
		// speaking is on from the start
		if err := playout.SetSpeaking(true); err != nil {
			d.logger.Error("failed to start playback", "error", err)
		}
	}

	if d.capture == nil && d.playout == nil {
		cancel()
		return nil, fmt.Errorf("%w: no audio device could be opened", ErrDeviceUnavailable)
	}

	d.conn = session.NewConnectionManager(opts.ID, opts.Session, d.queue, d.acc, d, d, deps.Logger, d.metrics)
	if d.registry != nil {
		d.conn.OnStateChange(d.registry.Observer(opts.ID))
	}
	d.metrics.GaugeFunc("pending_images", "Captured images waiting for the next turn",
		func() float64 { return float64(d.images.Len()) })
	return d, nil
}

// Run starts the capture pump and the connection manager, and blocks until
// ctx is cancelled or Close is called.
func (d *Device) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return session.ErrQueueClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if d.registry != nil {
		d.registry.Register(ctx, d.id, d.name, d.conn.State())
		defer func() {
			rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer rcancel()
			d.registry.Remove(rctx, d.id)
		}()
	}

	if d.capture != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.capture.Run(ctx)
		}()
	}

	d.logger.Info("device running", "recording", d.IsRecording(), "speaking", d.IsSpeaking())
	return d.conn.Run(ctx)
}

// ToggleRecording starts a turn if idle, or ends the current one.
func (d *Device) ToggleRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return fmt.Errorf("%w: no microphone", ErrDeviceUnavailable)
	}
	if d.closed {
		return session.ErrQueueClosed
	}
	if d.capture.Recording() {
		return d.endTurnLocked()
	}
	return d.startTurnLocked()
}

// startTurnLocked queues pending images, then the start marker, then
// opens the microphone.
func (d *Device) startTurnLocked() error {
	turnID := uuid.NewString()

	items, err := d.imageItems(turnID)
	if err != nil {
		return err
	}
	images := len(items)
	if d.transcriber == nil {
		start, err := messages.NewTurnStart(turnID)
		if err != nil {
			return err
		}
		items = append(items, start)
	}
	// one run, so no other producer can slip in between images and marker
	if err := d.queue.PushAll(items...); err != nil {
		return err
	}

	d.turnID = turnID
	d.pcmMu.Lock()
	d.turnPCM.Reset()
	d.pcmMu.Unlock()
	if err := d.capture.SetRecording(d.ctx, true); err != nil {
		d.turnID = ""
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	d.logger.Info("turn started", "turn_id", turnID, "images", images)
	return nil
}

func (d *Device) endTurnLocked() error {
	ctx, cancel := context.WithTimeout(d.ctx, flushTimeout)
	defer cancel()
	// returns once captured audio has reached WritePCM
	if err := d.capture.SetRecording(ctx, false); err != nil {
		return err
	}

	turnID := d.turnID
	d.turnID = ""

	if d.transcriber != nil {
		d.pcmMu.Lock()
		pcm := bytes.Clone(d.turnPCM.Bytes())
		d.turnPCM.Reset()
		d.pcmMu.Unlock()
		prev, done := d.lastTranscript, make(chan struct{})
		d.lastTranscript = done
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer close(done)
			d.sendTranscript(turnID, pcm, prev)
		}()
		d.logger.Info("turn ended, transcribing", "turn_id", turnID, "bytes", len(pcm))
		return nil
	}

	end, err := messages.NewTurnEnd(turnID)
	if err != nil {
		return err
	}
	d.logger.Info("turn ended", "turn_id", turnID)
	return d.queue.Push(end)
}

// sendTranscript transcribes one turn and queues the text once the
// previous turn's transcript (prev) has been queued.
func (d *Device) sendTranscript(turnID string, pcm []byte, prev <-chan struct{}) {
	if len(pcm) == 0 {
		if prev != nil {
			<-prev
		}
		return
	}
	ctx, cancel := context.WithTimeout(d.ctx, transcribeTimeout)
	defer cancel()

	text, err := d.transcriber.Transcribe(ctx, pcm, d.capture.SampleRate())
	// wait even when there is nothing to send, so later turns stay behind prev
	if prev != nil {
		select {
		case <-prev:
		case <-d.ctx.Done():
			return
		}
	}
	if err != nil || text == "" {
		return
	}
	item, err := messages.NewTextItem(text, turnID)
	if err != nil {
		d.logger.Error("failed to encode transcript", "error", err)
		return
	}
	if err := d.queue.Push(item); err != nil {
		d.logger.Warn("transcript dropped", "error", err)
	}
}

// WritePCM receives captured audio from the capture pump
func (d *Device) WritePCM(pcm []byte) {
	if d.transcriber != nil {
		d.pcmMu.Lock()
		d.turnPCM.Write(pcm)
		d.pcmMu.Unlock()
		return
	}
	if err := d.queue.Push(messages.NewAudioItem(pcm)); err != nil {
		d.logger.Debug("audio dropped", "error", err)
		return
	}
	d.metrics.AudioSent.Add(float64(len(pcm)))
}

// ToggleSpeaking pauses or resumes playback. Audio keeps buffering while
// paused.
func (d *Device) ToggleSpeaking() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.playout == nil {
		return fmt.Errorf("%w: no speaker", ErrDeviceUnavailable)
	}
	return d.playout.SetSpeaking(!d.playout.Speaking())
}

// FetchImageFromCamera grabs one frame and holds it for the next turn
func (d *Device) FetchImageFromCamera(ctx context.Context) error {
	if d.grabber == nil {
		return fmt.Errorf("%w: camera disabled", ErrDeviceUnavailable)
	}
	img, err := d.grabber.Grab(ctx)
	if err != nil {
		if errors.Is(err, camera.ErrDeviceUnavailable) {
			return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		return err
	}
	n := d.images.Add(img)
	d.metrics.ImagesCaptured.Inc()
	d.logger.Info(fmt.Sprintf("you now have %d images which will be sent along with your next audio message", n))
	return nil
}

// QueueAllCapturedImages sends every pending image now, oldest first, and
// returns how many were queued.
func (d *Device) QueueAllCapturedImages() (int, error) {
	items, err := d.imageItems("")
	if err != nil {
		return 0, err
	}
	return len(items), d.queue.PushAll(items...)
}

func (d *Device) imageItems(turnID string) ([]messages.OutboundItem, error) {
	captured := d.images.Drain()
	items := make([]messages.OutboundItem, 0, len(captured)+1)
	for _, c := range captured {
		uri, err := camera.EncodePNGDataURI(c.Image)
		if err != nil {
			d.logger.Error("dropping image that failed to encode", "seq", c.Seq, "error", err)
			continue
		}
		item, err := messages.NewImageItem(uri, turnID)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Send queues a prepared item
func (d *Device) Send(item messages.OutboundItem) error {
	return d.queue.Push(item)
}

// SendText sends a typed user message as its own turn, preceded by any
// pending images.
func (d *Device) SendText(text string) error {
	if text == "" {
		return errors.New("empty text")
	}
	turnID := uuid.NewString()
	items, err := d.imageItems(turnID)
	if err != nil {
		return err
	}
	item, err := messages.NewTextItem(text, turnID)
	if err != nil {
		return err
	}
	return d.queue.PushAll(append(items, item)...)
}

// Enqueue hands a completed audio message to playback
func (d *Device) Enqueue(msg *messages.Message) error {
	if d.playout == nil {
		return fmt.Errorf("%w: no speaker", ErrDeviceUnavailable)
	}
	return d.playout.Enqueue(msg)
}

// Deliver receives completed text and control messages
func (d *Device) Deliver(msg *messages.Message) {
	text, _ := msg.Content.Text()

	switch {
	case msg.Type == "transcript":
		d.logger.Info("transcript", "text", text)
		if d.forwardTranscripts {
			item, err := messages.NewTextItem(text, "")
			if err == nil {
				err = d.queue.Push(item)
			}
			if err != nil {
				d.logger.Warn("failed to forward transcript", "error", err)
			}
		}
	case msg.Kind == messages.KindText:
		d.logger.Info("message", "role", msg.Role, "text", text)
	default:
		d.logger.Info("control message", "role", msg.Role, "type", msg.Type, "format", msg.Format, "bytes", msg.Content.Len())
	}
}

// ID returns the device session id
func (d *Device) ID() string { return d.id }

// State returns the connection state
func (d *Device) State() session.ConnState { return d.conn.State() }

// IsRecording reports whether a turn is being recorded
func (d *Device) IsRecording() bool { return d.capture != nil && d.capture.Recording() }

// IsSpeaking reports whether playback is running
func (d *Device) IsSpeaking() bool { return d.playout != nil && d.playout.Speaking() }

// PendingImages returns how many captured images wait for the next turn
func (d *Device) PendingImages() int { return d.images.Len() }

// QueuedItems returns how many outbound items wait to be sent
func (d *Device) QueuedItems() int { return d.queue.Len() }

// Close stops everything. Unsent items, buffered audio and any partial
// inbound message are discarded.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.queue.Close()
	// Run and the capture pump have returned after this, so nothing else
	// touches the pipelines or the accumulator
	d.wg.Wait()

	var errs []error
	if d.capture != nil {
		errs = append(errs, d.capture.Close())
	}
	if d.playout != nil {
		errs = append(errs, d.playout.Close())
	}
	d.acc.Reset()
	if d.transcriber != nil {
		errs = append(errs, d.transcriber.Close())
	}
	return errors.Join(errs...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
