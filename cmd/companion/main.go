// Package main boots the petpal companion agent and wires application dependencies.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/cmd/launcher"
	"google.golang.org/adk/cmd/launcher/full"
	"google.golang.org/adk/session/database"
	"gorm.io/driver/postgres"

	internalagent "github.com/easeaico/petpal/internal/agent"
	"github.com/easeaico/petpal/internal/app"
	"github.com/easeaico/petpal/internal/config"
	"github.com/easeaico/petpal/internal/memory"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	slog.Info("configuration loaded",
		"llm_provider", cfg.LLMProvider, "llm_model", cfg.LLMModel,
		"embedding_provider", cfg.EmbeddingProvider, "embedding_model", cfg.EmbeddingModel,
		"character_id", cfg.CharacterID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize services: %v", err)
	}
	defer a.Close()

	if err := a.Warm(ctx); err != nil {
		log.Fatalf("failed to warm memory: %v", err)
	}

	sessionService, err := database.NewSessionService(postgres.Open(cfg.DatabaseURL))
	if err != nil {
		log.Fatalf("failed to create session service: %v", err)
	}
	memoryService := memory.NewADKService(a.Memory, a.ShortTerm, cfg.CharacterID)

	llmAgent, err := internalagent.NewPetAgent(ctx, &cfg, internalagent.Deps{
		Characters:     a.Store.Characters,
		SessionService: sessionService,
		MemoryService:  memoryService,
		ShortTerm:      a.ShortTerm,
		Facts:          a.Extractor.Table(),
	})
	if err != nil {
		log.Fatalf("failed to initialize agent: %v", err)
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	launcherConfig := &launcher.Config{
		SessionService: sessionService,
		MemoryService:  memoryService,
		AgentLoader:    agent.NewSingleLoader(llmAgent),
	}

	l := full.NewLauncher()
	errCh := make(chan error, 1)
	go func() {
		slog.Info("launcher starting")
		errCh <- l.Execute(ctx, launcherConfig, os.Args[1:])
	}()

	var execErr error
	select {
	case execErr = <-errCh:
	case <-ctx.Done():
		fmt.Println("\nshutting down...")
	}

	if execErr != nil && !errors.Is(execErr, context.Canceled) && !errors.Is(execErr, context.DeadlineExceeded) {
		log.Fatalf("failed to run agent: %v\n\n%s", execErr, l.CommandLineSyntax())
	}
	slog.Info("agent shutdown complete")
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err.Error())
		}
	}()
	return srv
}
