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
	"time"

	"github.com/rahulved/mockboard/internal/auth"
	"github.com/rahulved/mockboard/internal/config"
	"github.com/rahulved/mockboard/internal/httpapi"
	"github.com/rahulved/mockboard/internal/interview"
	"github.com/rahulved/mockboard/internal/observability"
	"github.com/rahulved/mockboard/internal/orchestrator"
	"github.com/rahulved/mockboard/internal/pipeline"
	"github.com/rahulved/mockboard/internal/room"
	"github.com/rahulved/mockboard/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := interview.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("interview store init failed: %v", err)
	}
	defer store.Close()

	provider := pickProvider(cfg)

	sessions := session.NewManager(cfg.SessionIdleTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	rooms := room.NewHub()
	rooms.SetDropHook(func(_ string) {
		metrics.BroadcastDrops.Inc()
	})

	orch := orchestrator.New(
		sessions,
		store,
		rooms,
		provider,
		metrics,
		pipeline.VoiceProfile{Voice: cfg.OpenAISpeechVoice},
		nil,
	)

	api := httpapi.New(cfg, store, orch, auth.NewVerifier(cfg.AuthTokens), metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

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

	log.Printf("shutdown complete")
}

// pickProvider resolves the pipeline backend. "auto" prefers OpenAI when a
// key is configured and falls back to the mock provider otherwise.
func pickProvider(cfg config.Config) pipeline.Provider {
	mode := strings.ToLower(strings.TrimSpace(cfg.PipelineProvider))
	if mode == "" {
		mode = "auto"
	}

	tryOpenAI := func(fatal bool) pipeline.Provider {
		p, err := pipeline.NewOpenAIProvider(pipeline.OpenAIConfig{
			APIKey:          cfg.OpenAIAPIKey,
			BaseURL:         cfg.OpenAIBaseURL,
			TranscribeModel: cfg.OpenAITranscribeModel,
			ChatModel:       cfg.OpenAIChatModel,
			SpeechModel:     cfg.OpenAISpeechModel,
			DefaultVoice:    cfg.OpenAISpeechVoice,
			Timeout:         cfg.OpenAITimeout,
			MaxRetries:      cfg.OpenAIMaxRetries,
		})
		if err != nil {
			if fatal {
				log.Fatalf("openai provider init failed: %v", err)
			}
			log.Printf("openai provider unavailable: %v", err)
			return nil
		}
		log.Printf("pipeline provider: openai")
		return p
	}

	switch mode {
	case "openai":
		return tryOpenAI(true)
	case "mock":
		log.Printf("pipeline provider: mock")
		return pipeline.NewMockProvider()
	case "auto":
		if p := tryOpenAI(false); p != nil {
			return p
		}
		log.Printf("pipeline provider: mock (no openai key configured)")
		return pipeline.NewMockProvider()
	default:
		log.Fatalf("invalid PIPELINE_PROVIDER: %q (expected auto|openai|mock)", cfg.PipelineProvider)
		return nil
	}
}
