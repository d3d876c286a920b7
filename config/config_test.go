package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SERVER_URL", "https://example.ngrok.app")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.HeartbeatInterval != 11*time.Second {
		t.Errorf("Expected 11s heartbeat, got %s", cfg.HeartbeatInterval)
	}
	if cfg.IdleTimeout != 30*time.Minute {
		t.Errorf("Expected 30m idle timeout, got %s", cfg.IdleTimeout)
	}
	if cfg.SampleRate != 44100 {
		t.Errorf("Expected 44100 sample rate, got %d", cfg.SampleRate)
	}

	wsURL, err := cfg.WebSocketURL()
	if err != nil {
		t.Fatalf("WebSocketURL failed: %v", err)
	}
	if wsURL != "wss://example.ngrok.app" {
		t.Errorf("Expected wss rewrite, got %s", wsURL)
	}
}

func TestLoadConfigRequiresServerURL(t *testing.T) {
	t.Setenv("SERVER_URL", "")
	t.Setenv("CONFIG_FILE", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("Expected error without SERVER_URL")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_URL", "http://localhost:10001")
	t.Setenv("HEARTBEAT_INTERVAL", "5")
	t.Setenv("RECONNECT_DELAY", "250")
	t.Setenv("CAMERA_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("Expected 5s heartbeat, got %s", cfg.HeartbeatInterval)
	}
	if cfg.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("Expected 250ms reconnect delay, got %s", cfg.ReconnectDelay)
	}
	if cfg.CameraEnabled {
		t.Error("Expected camera disabled")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected lower-cased log level, got %q", cfg.LogLevel)
	}
	if u, _ := cfg.WebSocketURL(); u != "ws://localhost:10001" {
		t.Errorf("Expected ws rewrite, got %s", u)
	}
}

func TestLoadConfigInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad heartbeat", "HEARTBEAT_INTERVAL", "soon"},
		{"bad sample rate", "SAMPLE_RATE", "-1"},
		{"bad provider", "STT_PROVIDER", "whisper"},
		{"gemini without key", "STT_PROVIDER", "gemini"},
		{"bad log format", "LOG_FORMAT", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			t.Setenv("SERVER_URL", "ws://localhost:10001")
			t.Setenv("GEMINI_API_KEY", "")
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoadConfigFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companion.yaml")
	content := []byte("server_url: wss://from-file.example\nheartbeat_interval: 7s\nplayback_buffer_scale: 2\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_URL", "")
	t.Setenv("HEARTBEAT_INTERVAL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ServerURL != "wss://from-file.example" {
		t.Errorf("Expected server url from file, got %s", cfg.ServerURL)
	}
	if cfg.HeartbeatInterval != 7*time.Second {
		t.Errorf("Expected 7s heartbeat from file, got %s", cfg.HeartbeatInterval)
	}

	// env wins over the file
	t.Setenv("HEARTBEAT_INTERVAL", "3")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.HeartbeatInterval != 3*time.Second {
		t.Errorf("Expected env override 3s, got %s", cfg.HeartbeatInterval)
	}
}

func TestPlaybackCapacity(t *testing.T) {
	cfg := Default()
	cfg.PlaybackBufferScale = 1
	// 50ms at 44.1kHz = 2205 frames, times 1.5 headroom
	if got := cfg.PlaybackCapacity(); got != 3307 {
		t.Errorf("Expected capacity 3307, got %d", got)
	}
}
