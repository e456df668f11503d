package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice agent service.
type Config struct {
	BindAddr           string
	ShutdownTimeout    time.Duration
	SessionIdleTimeout time.Duration
	JanitorInterval    time.Duration
	MetricsNamespace   string

	AllowAnyOrigin bool

	DefaultLanguage string
	HistoryMaxTurns int

	ChunkSamples       int
	MaxBufferedSamples int
	FrameBytes         int

	// Provider modes. "mock" keeps everything offline; anything else is
	// reserved for real provider integrations.
	STTProvider   string
	TTSProvider   string
	ModelProvider string

	TranscribeMaxAttempts int
	ModelCallTimeout      time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:              envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:      envOrDefault("APP_METRICS_NAMESPACE", "samvad"),
		AllowAnyOrigin:        false,
		DefaultLanguage:       envOrDefault("APP_DEFAULT_LANGUAGE", "en"),
		HistoryMaxTurns:       20,
		ChunkSamples:          1024,
		MaxBufferedSamples:    32000,
		FrameBytes:            640,
		STTProvider:           envOrDefault("STT_PROVIDER", "mock"),
		TTSProvider:           envOrDefault("TTS_PROVIDER", "mock"),
		ModelProvider:         envOrDefault("MODEL_PROVIDER", "mock"),
		TranscribeMaxAttempts: 3,
		ModelCallTimeout:      30 * time.Second,
		DatabaseURL:           stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:       15 * time.Second,
		SessionIdleTimeout:    2 * time.Minute,
		JanitorInterval:       15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("APP_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelCallTimeout, err = durationFromEnv("MODEL_CALL_TIMEOUT", cfg.ModelCallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.HistoryMaxTurns, err = intFromEnv("APP_HISTORY_MAX_TURNS", cfg.HistoryMaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkSamples, err = intFromEnv("APP_CHUNK_SAMPLES", cfg.ChunkSamples)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxBufferedSamples, err = intFromEnv("APP_MAX_BUFFERED_SAMPLES", cfg.MaxBufferedSamples)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameBytes, err = intFromEnv("APP_FRAME_BYTES", cfg.FrameBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscribeMaxAttempts, err = intFromEnv("TRANSCRIBE_MAX_ATTEMPTS", cfg.TranscribeMaxAttempts)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.HistoryMaxTurns <= 0 {
		return Config{}, fmt.Errorf("APP_HISTORY_MAX_TURNS must be positive")
	}
	if cfg.ChunkSamples <= 0 {
		return Config{}, fmt.Errorf("APP_CHUNK_SAMPLES must be positive")
	}
	if cfg.FrameBytes <= 0 || cfg.FrameBytes%2 != 0 {
		return Config{}, fmt.Errorf("APP_FRAME_BYTES must be a positive even number")
	}
	if cfg.TranscribeMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("TRANSCRIBE_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
