package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/room4-2/companion/audio"
	"github.com/room4-2/companion/camera"
	"github.com/room4-2/companion/config"
	"github.com/room4-2/companion/device"
	"github.com/room4-2/companion/metrics"
	"github.com/room4-2/companion/server"
	"github.com/room4-2/companion/session"
	"github.com/room4-2/companion/stt"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("companion stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("companion stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pa, terminate, err := audio.InitPortAudio()
	if err != nil {
		return err
	}
	defer terminate()

	m := metrics.New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	id := uuid.NewString()

	opts, err := device.OptionsFromConfig(cfg, id)
	if err != nil {
		return err
	}

	deps := device.Deps{
		Audio:    pa,
		Registry: session.NewRegistry(cfg.RedisURL, cfg.RedisPassword, 2*cfg.IdleTimeout, logger),
		Metrics:  m,
		Logger:   logger,
	}
	defer deps.Registry.Close()

	// a missing camera only disables image capture
	if cfg.CameraEnabled {
		grabber, err := camera.NewFFmpegGrabber(cfg.CameraDevice, cfg.CameraWidth, cfg.CameraHeight)
		if err != nil {
			logger.Warn("camera disabled", "error", err)
		} else {
			deps.Camera = grabber
		}
	}

	transcriber, err := stt.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if transcriber != nil {
		deps.Transcriber = stt.Observe(transcriber, m, logger)
	}

	dev, err := device.New(opts, deps)
	if err != nil {
		return err
	}
	defer dev.Close()

	control := server.New(cfg.ControlAddr, dev, m, logger)
	go func() {
		if err := control.Start(); err != nil {
			logger.Error("control server failed", "error", err)
		}
	}()

	logger.Info("companion starting",
		"session", id[:8],
		"server", opts.Session.URL,
		"stt", cfg.STTProvider,
		"camera", deps.Camera != nil,
		"registry", deps.Registry.Enabled())

	err = dev.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := control.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("control server shutdown error", "error", serr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
