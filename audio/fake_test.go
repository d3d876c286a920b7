package audio

import (
	"io"
	"log/slog"
	"sync"
)

type fakeStream struct {
	mu     sync.Mutex
	starts int
	stops  int
	closed bool
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

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

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
}

func (o *fakeOpener) OpenInput(_, _ int, cb func(in []float32)) (Stream, error) {
	o.inputCB = cb
	return &o.input, nil
}

func (o *fakeOpener) OpenOutput(_, _ int, cb func(out []float32)) (Stream, error) {
	o.outputCB = cb
	return &o.output, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
