package device

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/room4-2/companion/audio"
	"github.com/room4-2/companion/messages"
)

type fakeStream struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (s *fakeStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeStream) Close() error { return nil }

func (s *fakeStream) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

type fakeOpener struct {
	input    fakeStream
	output   fakeStream
	inputCB  func([]float32)
	outputCB func([]float32)
	noInput  bool
}

func (o *fakeOpener) OpenInput(_, _ int, cb func(in []float32)) (audio.Stream, error) {
	if o.noInput {
		return nil, audio.ErrDeviceUnavailable
	}
	o.inputCB = cb
	return &o.input, nil
}

func (o *fakeOpener) OpenOutput(_, _ int, cb func(out []float32)) (audio.Stream, error) {
	o.outputCB = cb
	return &o.output, nil
}

type fakeGrabber struct {
	err   error
	grabs int
}

func (g *fakeGrabber) Grab(context.Context) (image.Image, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.grabs++
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

type fakeTranscriber struct {
	text string
	got  chan []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, pcm []byte, _ int) (string, error) {
	f.got <- pcm
	if f.text == "" {
		return "", errors.New("no speech")
	}
	return f.text, nil
}
func (f *fakeTranscriber) Name() string { return "fake" }
func (f *fakeTranscriber) Close() error { return nil }

// gatedTranscriber holds its first call until release is closed
type gatedTranscriber struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (g *gatedTranscriber) Transcribe(ctx context.Context, _ []byte, _ int) (string, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if n > 1 {
		return "second", nil
	}
	select {
	case <-g.release:
		return "first", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedTranscriber) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *gatedTranscriber) Name() string { return "gated" }
func (g *gatedTranscriber) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		ID:                 "0123456789abcdef",
		Name:               "test",
		SampleRate:         16000,
		FramesPerBuffer:    4,
		PlaybackCapacity:   1024,
		PlaybackSourceRate: 16000,
	}
}

func newTestDevice(t *testing.T, opener *fakeOpener, deps Deps) *Device {
	t.Helper()
	deps.Audio = opener
	deps.Logger = discardLogger()
	d, err := New(testOptions(), deps)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// startPump runs the capture pump so recording stops can flush
func startPump(t *testing.T, d *Device) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.capture.Run(ctx)
}

func drainQueue(d *Device) []messages.OutboundItem {
	var items []messages.OutboundItem
	for {
		item, ok := d.queue.Front()
		if !ok {
			return items
		}
		d.queue.Pop()
		items = append(items, item)
	}
}

func envelope(t *testing.T, item messages.OutboundItem) messages.Envelope {
	t.Helper()
	var env messages.Envelope
	if err := sonic.UnmarshalString(item.Text, &env); err != nil {
		t.Fatalf("bad envelope %q: %v", item.Text, err)
	}
	return env
}
