package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// STT providers
const (
	STTServer = "server" // raw audio goes to the server, which transcribes it
	STTGemini = "gemini"
	STTYandex = "yandex"
)

// Config holds all device configuration. It is read once at startup.
type Config struct {
	ServerURL   string `yaml:"server_url"`
	SessionName string `yaml:"session_name"`

	// Connection
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`

	// Audio
	SampleRate          int           `yaml:"sample_rate"`
	FramesPerBuffer     int           `yaml:"frames_per_buffer"`
	PlaybackLatency     time.Duration `yaml:"playback_latency"`
	PlaybackBufferScale float64       `yaml:"playback_buffer_scale"`
	PlaybackSourceRate  int           `yaml:"playback_source_rate"` // rate of raw PCM from the server

	// Camera
	CameraEnabled bool   `yaml:"camera_enabled"`
	CameraDevice  string `yaml:"camera_device"`
	CameraWidth   int    `yaml:"camera_width"`
	CameraHeight  int    `yaml:"camera_height"`

	// Speech-to-text
	STTProvider    string `yaml:"stt_provider"`
	STTLanguage    string `yaml:"stt_language"`
	GeminiAPIKey   string `yaml:"gemini_api_key"`
	GeminiModel    string `yaml:"gemini_model"`
	YandexIAMToken string `yaml:"yandex_iam_token"`
	YandexFolderID string `yaml:"yandex_folder_id"`

	RedisURL      string `yaml:"redis_url"` // empty disables the state registry
	RedisPassword string `yaml:"redis_password"`

	ControlAddr        string `yaml:"control_addr"`
	ForwardTranscripts bool   `yaml:"forward_transcripts"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		SessionName:         "companion",
		HeartbeatInterval:   11 * time.Second,
		IdleTimeout:         30 * time.Minute,
		ReconnectDelay:      500 * time.Millisecond,
		ReconnectMaxDelay:   30 * time.Second,
		WriteTimeout:        10 * time.Second,
		HandshakeTimeout:    10 * time.Second,
		SampleRate:          44100,
		FramesPerBuffer:     1024,
		PlaybackLatency:     50 * time.Millisecond,
		PlaybackBufferScale: 40,
		PlaybackSourceRate:  24000,
		CameraEnabled:       true,
		CameraWidth:         640,
		CameraHeight:        480,
		STTProvider:         STTServer,
		STTLanguage:         "en-US",
		GeminiModel:         "gemini-2.5-flash",
		ControlAddr:         "127.0.0.1:8765",
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// LoadConfig loads configuration from an optional YAML file and environment variables.
// Environment variables win over the file.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("SESSION_NAME"); v != "" {
		c.SessionName = v
	}

	// Optional: HEARTBEAT_INTERVAL (in seconds)
	if err := durationEnv("HEARTBEAT_INTERVAL", time.Second, &c.HeartbeatInterval); err != nil {
		return err
	}
	// Optional: IDLE_TIMEOUT (in minutes)
	if err := durationEnv("IDLE_TIMEOUT", time.Minute, &c.IdleTimeout); err != nil {
		return err
	}
	// Optional: RECONNECT_DELAY / RECONNECT_MAX_DELAY (in milliseconds)
	if err := durationEnv("RECONNECT_DELAY", time.Millisecond, &c.ReconnectDelay); err != nil {
		return err
	}
	if err := durationEnv("RECONNECT_MAX_DELAY", time.Millisecond, &c.ReconnectMaxDelay); err != nil {
		return err
	}
	if err := durationEnv("WRITE_TIMEOUT", time.Second, &c.WriteTimeout); err != nil {
		return err
	}
	if err := durationEnv("HANDSHAKE_TIMEOUT", time.Second, &c.HandshakeTimeout); err != nil {
		return err
	}

	if err := intEnv("SAMPLE_RATE", &c.SampleRate); err != nil {
		return err
	}
	if err := intEnv("FRAMES_PER_BUFFER", &c.FramesPerBuffer); err != nil {
		return err
	}
	if err := durationEnv("PLAYBACK_LATENCY_MS", time.Millisecond, &c.PlaybackLatency); err != nil {
		return err
	}
	if v := os.Getenv("PLAYBACK_BUFFER_SCALE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid PLAYBACK_BUFFER_SCALE: %w", err)
		}
		c.PlaybackBufferScale = f
	}
	if err := intEnv("PLAYBACK_SOURCE_RATE", &c.PlaybackSourceRate); err != nil {
		return err
	}

	if err := boolEnv("CAMERA_ENABLED", &c.CameraEnabled); err != nil {
		return err
	}
	if v := os.Getenv("CAMERA_DEVICE"); v != "" {
		c.CameraDevice = v
	}
	if err := intEnv("CAMERA_WIDTH", &c.CameraWidth); err != nil {
		return err
	}
	if err := intEnv("CAMERA_HEIGHT", &c.CameraHeight); err != nil {
		return err
	}

	if v := os.Getenv("STT_PROVIDER"); v != "" {
		c.STTProvider = strings.ToLower(v)
	}
	if v := os.Getenv("STT_LANGUAGE"); v != "" {
		c.STTLanguage = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		c.GeminiModel = v
	}
	if v := os.Getenv("YANDEX_IAM_TOKEN"); v != "" {
		c.YandexIAMToken = v
	}
	if v := os.Getenv("YANDEX_FOLDER_ID"); v != "" {
		c.YandexFolderID = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}

	if v, ok := os.LookupEnv("CONTROL_ADDR"); ok {
		c.ControlAddr = v
	}
	if err := boolEnv("FORWARD_TRANSCRIPTS", &c.ForwardTranscripts); err != nil {
		return err
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = strings.ToLower(v)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("SERVER_URL is required")
	}
	if _, err := c.WebSocketURL(); err != nil {
		return err
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.IdleTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("idle timeout (%s) must exceed heartbeat interval (%s)", c.IdleTimeout, c.HeartbeatInterval)
	}
	if c.ReconnectDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectDelay {
		return fmt.Errorf("invalid reconnect delays: %s..%s", c.ReconnectDelay, c.ReconnectMaxDelay)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.FramesPerBuffer <= 0 {
		return fmt.Errorf("frames per buffer must be positive, got %d", c.FramesPerBuffer)
	}
	if c.PlaybackLatency <= 0 || c.PlaybackBufferScale <= 0 {
		return errors.New("playback latency and buffer scale must be positive")
	}
	if c.PlaybackSourceRate <= 0 {
		return fmt.Errorf("playback source rate must be positive, got %d", c.PlaybackSourceRate)
	}
	if c.CameraEnabled && (c.CameraWidth <= 0 || c.CameraHeight <= 0) {
		return fmt.Errorf("invalid camera size %dx%d", c.CameraWidth, c.CameraHeight)
	}

	switch c.STTProvider {
	case STTServer:
	case STTGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required when STT_PROVIDER is 'gemini'")
		}
	case STTYandex:
		if c.YandexIAMToken == "" || c.YandexFolderID == "" {
			return errors.New("YANDEX_IAM_TOKEN and YANDEX_FOLDER_ID are required when STT_PROVIDER is 'yandex'")
		}
	default:
		return fmt.Errorf("invalid STT_PROVIDER: must be 'server', 'gemini', or 'yandex'")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %q", c.LogFormat)
	}
	return nil
}

// WebSocketURL returns ServerURL with http(s) schemes rewritten to ws(s).
func (c *Config) WebSocketURL() (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid SERVER_URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid SERVER_URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid SERVER_URL: missing host")
	}
	return u.String(), nil
}

// PlaybackCapacity returns the number of samples held by the playback ring.
func (c *Config) PlaybackCapacity() int {
	frames := c.PlaybackLatency.Seconds() * float64(c.SampleRate)
	return int(frames * 1.5 * c.PlaybackBufferScale)
}

func intEnv(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}

func boolEnv(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = b
	return nil
}

func durationEnv(name string, unit time.Duration, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = time.Duration(n) * unit
	return nil
}
