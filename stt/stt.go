// Package stt holds optional on-device speech-to-text backends. When one is
// configured, a recording turn is transcribed locally and sent to the server
// as user text instead of raw audio.
package stt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/room4-2/companion/config"
	"github.com/room4-2/companion/metrics"
)

// Transcriber converts one utterance of little-endian 16-bit mono PCM to text
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
	Name() string
	Close() error
}

// New returns the backend selected by cfg.STTProvider, or nil when the
// server does its own transcription.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Transcriber, error) {
	switch cfg.STTProvider {
	case config.STTServer, "":
		return nil, nil
	case config.STTGemini:
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.STTLanguage)
		if err != nil {
			return nil, err
		}
		logger.Info("on-device transcription enabled", "provider", g.Name(), "model", cfg.GeminiModel)
		return g, nil
	case config.STTYandex:
		y, err := NewYandex(YandexConfig{
			IAMToken: cfg.YandexIAMToken,
			FolderID: cfg.YandexFolderID,
			Language: cfg.STTLanguage,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("on-device transcription enabled", "provider", y.Name())
		return y, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STTProvider)
	}
}

type observed struct {
	Transcriber
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Observe wraps t so every call is counted and timed
func Observe(t Transcriber, m *metrics.Metrics, logger *slog.Logger) Transcriber {
	return &observed{Transcriber: t, metrics: m, logger: logger.With("component", "stt", "provider", t.Name())}
}

func (o *observed) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	start := time.Now()
	text, err := o.Transcriber.Transcribe(ctx, pcm, sampleRate)
	elapsed := time.Since(start)
	o.metrics.TranscriptionDuration.Observe(elapsed.Seconds())

	result := "ok"
	switch {
	case err != nil:
		result = "error"
		o.logger.Warn("transcription failed", "error", err, "bytes", len(pcm))
	case text == "":
		result = "empty"
	default:
		o.logger.Debug("transcribed", "chars", len(text), "took", elapsed)
	}
	o.metrics.Transcriptions.WithLabelValues(o.Name(), result).Inc()
	return text, err
}
