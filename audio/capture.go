package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// PCMSink receives captured audio as little-endian 16-bit mono PCM.
// It is called from the capture pump goroutine, never the audio thread.
type PCMSink interface {
	WritePCM(pcm []byte)
}

// CapturePipeline owns the input stream. The audio callback copies samples
// into a lock-free ring and pokes the pump, which converts and forwards them
// on an ordinary goroutine.
type CapturePipeline struct {
	stream    Stream
	ring      *Ring
	notify    chan struct{}
	flushReq  chan chan struct{}
	sink      PCMSink
	chunk     int
	rate      int
	logger    *slog.Logger
	recording atomic.Bool

	mu      sync.Mutex // serializes Start/Stop of the stream
	started bool
}

// NewCapturePipeline opens the input stream without starting it.
func NewCapturePipeline(opener Opener, sampleRate, framesPerBuffer int, sink PCMSink, logger *slog.Logger) (*CapturePipeline, error) {
	p := &CapturePipeline{
		// a second of headroom in case the pump stalls
		ring:     NewRing(sampleRate),
		notify:   make(chan struct{}, 1),
		flushReq: make(chan chan struct{}),
		sink:     sink,
		chunk:    framesPerBuffer,
		rate:     sampleRate,
		logger:   logger.With("component", "capture"),
	}

	stream, err := opener.OpenInput(sampleRate, framesPerBuffer, p.process)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	p.stream = stream
	return p, nil
}

// process is the real-time input callback
func (p *CapturePipeline) process(in []float32) {
	if !p.recording.Load() {
		return
	}
	p.ring.Write(in)
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run pumps captured audio into the sink until ctx is cancelled
func (p *CapturePipeline) Run(ctx context.Context) {
	buf := make([]float32, p.chunk*4)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
			p.pump(buf)
		case done := <-p.flushReq:
			p.pump(buf)
			close(done)
		}
	}
}

func (p *CapturePipeline) pump(buf []float32) {
	for {
		n := p.ring.Read(buf)
		if n == 0 {
			return
		}
		p.sink.WritePCM(PCM16Bytes(buf[:n]))
	}
}

// SampleRate is the capture rate in Hz
func (p *CapturePipeline) SampleRate() int {
	return p.rate
}

// Recording reports whether captured audio is being forwarded
func (p *CapturePipeline) Recording() bool {
	return p.recording.Load()
}

// SetRecording starts or pauses the input stream. Setting the current state
// again does nothing. When pausing, samples already captured are flushed to
// the sink before SetRecording returns, provided Run is active.
func (p *CapturePipeline) SetRecording(ctx context.Context, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if on == p.started {
		return nil
	}

	if on {
		p.ring.Reset()
		if err := p.stream.Start(); err != nil {
			return fmt.Errorf("%w: start input: %v", ErrDeviceUnavailable, err)
		}
		p.started = true
		p.recording.Store(true)
		p.logger.Info("recording started")
		return nil
	}

	p.recording.Store(false)
	if err := p.stream.Stop(); err != nil {
		p.logger.Warn("failed to stop input stream", "error", err)
	}
	p.started = false

	done := make(chan struct{})
	select {
	case p.flushReq <- done:
		<-done
	case <-ctx.Done():
	}
	p.logger.Info("recording stopped")
	return nil
}

// Overruns returns how many captured samples were lost because the pump fell behind
func (p *CapturePipeline) Overruns() uint64 {
	return p.ring.Overwritten()
}

// Close stops and releases the input stream
func (p *CapturePipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recording.Store(false)
	if p.started {
		p.stream.Stop()
		p.started = false
	}
	return p.stream.Close()
}
