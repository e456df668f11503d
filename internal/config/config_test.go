package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.STTProvider != "mock" || cfg.TTSProvider != "mock" || cfg.ModelProvider != "mock" {
		t.Fatalf("providers should default to mock: %+v", cfg)
	}
	if cfg.ChunkSamples != 1024 {
		t.Fatalf("ChunkSamples = %d, want 1024", cfg.ChunkSamples)
	}
	if cfg.SessionIdleTimeout != 2*time.Minute {
		t.Fatalf("SessionIdleTimeout = %v, want 2m", cfg.SessionIdleTimeout)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
	if cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin should default to false")
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("APP_SESSION_IDLE_TIMEOUT", "45s")
	t.Setenv("APP_HISTORY_MAX_TURNS", "8")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "true")
	t.Setenv("DATABASE_URL", " postgres://localhost/samvad ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.SessionIdleTimeout != 45*time.Second {
		t.Fatalf("SessionIdleTimeout = %v", cfg.SessionIdleTimeout)
	}
	if cfg.HistoryMaxTurns != 8 {
		t.Fatalf("HistoryMaxTurns = %d", cfg.HistoryMaxTurns)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin not applied")
	}
	if cfg.DatabaseURL != "postgres://localhost/samvad" {
		t.Fatalf("DatabaseURL = %q, want trimmed value", cfg.DatabaseURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"idle timeout too short", "APP_SESSION_IDLE_TIMEOUT", "1s"},
		{"bad duration", "APP_SHUTDOWN_TIMEOUT", "soon"},
		{"zero history", "APP_HISTORY_MAX_TURNS", "0"},
		{"odd frame bytes", "APP_FRAME_BYTES", "639"},
		{"bad bool", "APP_ALLOW_ANY_ORIGIN", "maybe"},
		{"zero attempts", "TRANSCRIBE_MAX_ATTEMPTS", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() should reject %s=%s", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_IDLE_TIMEOUT",
		"APP_JANITOR_INTERVAL",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_DEFAULT_LANGUAGE",
		"APP_HISTORY_MAX_TURNS",
		"APP_CHUNK_SAMPLES",
		"APP_MAX_BUFFERED_SAMPLES",
		"APP_FRAME_BYTES",
		"STT_PROVIDER",
		"TTS_PROVIDER",
		"MODEL_PROVIDER",
		"TRANSCRIBE_MAX_ATTEMPTS",
		"MODEL_CALL_TIMEOUT",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
