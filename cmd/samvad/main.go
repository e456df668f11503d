package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samvad-ai/samvad/internal/config"
	"github.com/samvad-ai/samvad/internal/convo"
	"github.com/samvad-ai/samvad/internal/history"
	"github.com/samvad-ai/samvad/internal/httpapi"
	"github.com/samvad-ai/samvad/internal/observability"
	"github.com/samvad-ai/samvad/internal/session"
	"github.com/samvad-ai/samvad/internal/synth"
	"github.com/samvad-ai/samvad/internal/transcribe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	archive, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("turn archive init failed: %v", err)
	}
	defer archive.Close()

	var sttProvider transcribe.Provider
	switch mode := strings.ToLower(strings.TrimSpace(cfg.STTProvider)); mode {
	case "mock", "":
		sttProvider = transcribe.NewMockProvider("", cfg.DefaultLanguage)
		log.Printf("stt provider: mock")
	default:
		log.Fatalf("invalid STT_PROVIDER: %q (expected mock)", cfg.STTProvider)
	}

	var ttsProvider synth.Provider
	switch mode := strings.ToLower(strings.TrimSpace(cfg.TTSProvider)); mode {
	case "mock", "":
		ttsProvider = synth.NewMockProvider()
		log.Printf("tts provider: mock")
	default:
		log.Fatalf("invalid TTS_PROVIDER: %q (expected mock)", cfg.TTSProvider)
	}

	var model convo.ModelProvider
	switch mode := strings.ToLower(strings.TrimSpace(cfg.ModelProvider)); mode {
	case "mock", "":
		model = convo.NewMockModel("")
		log.Printf("model provider: mock")
	default:
		log.Fatalf("invalid MODEL_PROVIDER: %q (expected mock)", cfg.ModelProvider)
	}

	engine := convo.NewEngine(model, convo.EngineConfig{
		DefaultLanguage: cfg.DefaultLanguage,
		CallTimeout:     cfg.ModelCallTimeout,
	})

	sessions := session.NewManager(session.Deps{
		Transcriber: transcribe.NewAdapter(sttProvider, cfg.TranscribeMaxAttempts),
		Engine:      engine,
		Synth:       synth.NewAdapter(ttsProvider, synth.DefaultProfiles()),
		Archive:     archive,
		Metrics:     metrics,
	}, session.Config{
		ChunkSamples:       cfg.ChunkSamples,
		MaxBufferedSamples: cfg.MaxBufferedSamples,
		FrameBytes:         cfg.FrameBytes,
		HistoryMaxTurns:    cfg.HistoryMaxTurns,
		LanguageHint:       cfg.DefaultLanguage,
	})

	api := httpapi.New(cfg, sessions, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, cfg.JanitorInterval, cfg.SessionIdleTimeout)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	sessions.Shutdown()

	log.Printf("shutdown complete")
}
