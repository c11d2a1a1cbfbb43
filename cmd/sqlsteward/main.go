package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mlodato/sqlsteward/internal/config"
	"github.com/mlodato/sqlsteward/internal/executor"
	"github.com/mlodato/sqlsteward/internal/generator"
	"github.com/mlodato/sqlsteward/internal/httpapi"
	"github.com/mlodato/sqlsteward/internal/memory"
	"github.com/mlodato/sqlsteward/internal/observability"
	"github.com/mlodato/sqlsteward/internal/token"
	"github.com/mlodato/sqlsteward/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer store.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("memory store: in-memory (set DATABASE_URL for durable memory)")
	} else {
		log.Printf("memory store: postgres")
	}

	target, err := executor.OpenSQLite(cfg.TargetDBPath)
	if err != nil {
		log.Fatalf("target database init failed: %v", err)
	}
	defer target.Close()

	gen, err := generator.New(generator.Config{
		Mode:    cfg.GeneratorMode,
		URL:     cfg.GeneratorURL,
		APIKey:  cfg.GeneratorAPIKey,
		Model:   cfg.GeneratorModel,
		Timeout: cfg.GenerationTimeout,
	})
	if err != nil {
		log.Fatalf("generator init failed: %v", err)
	}
	if cfg.GeneratorURL == "" && cfg.GeneratorMode != "http" {
		log.Printf("generator: mock (set GENERATOR_URL for a real backend)")
	}

	secret := cfg.TokenSecret
	if secret == "" {
		secret = randomSecret()
		log.Printf("TOKEN_SECRET not set: using an ephemeral signing secret, pending decisions will not survive restarts")
	}
	codec := token.NewCodec(secret, cfg.TokenTTL)

	flow := workflow.NewService(store, gen, target, target, codec, metrics, workflow.Config{
		HistoryWindow:     cfg.HistoryWindow,
		MaxAttempts:       cfg.MaxRegenerateAttempts,
		GenerationTimeout: cfg.GenerationTimeout,
		ExecutionTimeout:  cfg.ExecutionTimeout,
		TokenTTL:          cfg.TokenTTL,
	})

	api := httpapi.New(cfg, flow, store, target, target, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("generate ephemeral token secret: %v", err)
	}
	return hex.EncodeToString(buf)
}
