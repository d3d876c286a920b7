package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// ErrDeviceUnavailable is returned when an audio device cannot be opened or started
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Stream is a hardware stream driven by a real-time callback
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Opener opens callback streams. Callbacks run on the audio subsystem's
// real-time thread: they must not block, lock, or allocate, and they must not
// retain the buffer they are given.
type Opener interface {
	OpenInput(sampleRate, framesPerBuffer int, cb func(in []float32)) (Stream, error)
	OpenOutput(sampleRate, framesPerBuffer int, cb func(out []float32)) (Stream, error)
}

// PortAudio opens mono streams on the default devices
type PortAudio struct{}

// InitPortAudio initializes the audio subsystem. Call the returned function on shutdown.
func InitPortAudio() (*PortAudio, func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return &PortAudio{}, func() { portaudio.Terminate() }, nil
}

func (PortAudio) OpenInput(sampleRate, framesPerBuffer int, cb func(in []float32)) (Stream, error) {
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, cb)
	if err != nil {
		return nil, fmt.Errorf("%w: open input: %v", ErrDeviceUnavailable, err)
	}
	return stream, nil
}

func (PortAudio) OpenOutput(sampleRate, framesPerBuffer int, cb func(out []float32)) (Stream, error) {
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, cb)
	if err != nil {
		return nil, fmt.Errorf("%w: open output: %v", ErrDeviceUnavailable, err)
	}
	return stream, nil
}
