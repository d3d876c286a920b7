package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/room4-2/companion/messages"
)

// PlaybackPipeline owns the output stream. Completed audio messages are
// decoded on the network goroutine and written into the ring; the output
// callback drains the ring and fills any shortfall with silence.
type PlaybackPipeline struct {
	stream     Stream
	ring       *Ring
	outputRate int
	rawRate    int
	logger     *slog.Logger

	underruns atomic.Uint64 // zero-filled samples
	trimmed   atomic.Uint64 // output-rate samples cut before reaching the ring

	mu       sync.Mutex // serializes Start/Stop of the stream
	speaking bool
}

// NewPlaybackPipeline opens the output stream without starting it.
// capacity is the ring size in samples; rawRate is assumed for headerless PCM.
func NewPlaybackPipeline(opener Opener, sampleRate, framesPerBuffer, capacity, rawRate int, logger *slog.Logger) (*PlaybackPipeline, error) {
	p := &PlaybackPipeline{
		ring:       NewRing(capacity),
		outputRate: sampleRate,
		rawRate:    rawRate,
		logger:     logger.With("component", "playback"),
	}

	stream, err := opener.OpenOutput(sampleRate, framesPerBuffer, p.process)
	if err != nil {
		return nil, fmt.Errorf("playback: %w", err)
	}
	p.stream = stream
	return p, nil
}

// process is the real-time output callback
func (p *PlaybackPipeline) process(out []float32) {
	if missing := p.ring.Fill(out); missing > 0 {
		p.underruns.Add(uint64(missing))
	}
}

// Enqueue decodes an audio message into the ring. Only one goroutine may
// call it: the connection's receive loop.
func (p *PlaybackPipeline) Enqueue(msg *messages.Message) error {
	decoded, err := DecodeMessage(msg, p.rawRate)
	if err != nil {
		return err
	}
	in := p.fitRing(decoded.Samples, decoded.SampleRate)
	samples := Resample(in, decoded.SampleRate, p.outputRate)
	if len(samples) > p.ring.Cap() {
		p.logger.Debug("audio longer than playback buffer, oldest samples will be dropped",
			"samples", len(samples), "capacity", p.ring.Cap())
	}
	p.ring.Write(samples)
	return nil
}

// fitRing keeps the tail of samples that still fills the whole ring once
// resampled to the output rate. Anything older would be overwritten anyway.
func (p *PlaybackPipeline) fitRing(samples []float32, rate int) []float32 {
	if rate <= 0 || p.outputRate <= 0 {
		return samples
	}
	keep := int64(p.ring.Cap())*int64(rate)/int64(p.outputRate) + 1
	if int64(len(samples)) <= keep {
		return samples
	}
	cut := int64(len(samples)) - keep
	p.trimmed.Add(uint64(cut * int64(p.outputRate) / int64(rate)))
	p.logger.Debug("audio longer than playback buffer, oldest samples dropped",
		"samples", len(samples), "kept", keep, "rate", rate)
	return samples[cut:]
}

// Speaking reports whether the output stream is running
func (p *PlaybackPipeline) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

// SetSpeaking starts or pauses the output stream. Setting the current state
// again does nothing. While paused the ring keeps filling.
func (p *PlaybackPipeline) SetSpeaking(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if on == p.speaking {
		return nil
	}
	if on {
		if err := p.stream.Start(); err != nil {
			return fmt.Errorf("%w: start output: %v", ErrDeviceUnavailable, err)
		}
		p.speaking = true
		p.logger.Info("speaking started")
		return nil
	}

	if err := p.stream.Stop(); err != nil {
		p.logger.Warn("failed to stop output stream", "error", err)
	}
	p.speaking = false
	p.logger.Info("speaking stopped")
	return nil
}

// Buffered returns the number of samples waiting to be played
func (p *PlaybackPipeline) Buffered() int {
	return p.ring.Len()
}

// Underruns returns how many output samples were filled with silence
func (p *PlaybackPipeline) Underruns() uint64 {
	return p.underruns.Load()
}

// Overwritten returns how many buffered samples were dropped to make room
func (p *PlaybackPipeline) Overwritten() uint64 {
	return p.ring.Overwritten() + p.trimmed.Load()
}

// Close stops and releases the output stream. Buffered audio is discarded.
func (p *PlaybackPipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.speaking {
		p.stream.Stop()
		p.speaking = false
	}
	err := p.stream.Close()
	p.ring.Reset()
	return err
}
