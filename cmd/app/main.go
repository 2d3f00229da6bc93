// File: cmd/app/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"novel-ai-core/internal/chunker"
	"novel-ai-core/internal/config"
	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/adapter"
	"novel-ai-core/internal/domain/ports/repository"
	aiAdapters "novel-ai-core/internal/infra/adapters/ai"
	"novel-ai-core/internal/infra/adapters/vectordb"
	"novel-ai-core/internal/infra/cache"
	"novel-ai-core/internal/infra/logging"
	"novel-ai-core/internal/infra/metrics"
	red "novel-ai-core/internal/infra/redis"
	"novel-ai-core/internal/infra/security"
	"novel-ai-core/internal/infra/settings"
	"novel-ai-core/internal/infra/web"
	"novel-ai-core/internal/queue"
	"novel-ai-core/internal/registry"
	"novel-ai-core/internal/scenario"
	"novel-ai-core/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("dev mode enabled, API auth is bypassed")
	}

	// ---- Backend registry ----
	reg := registry.New()
	reg.Register(string(model.ProviderOpenAI), aiAdapters.NewOpenAIBackend())
	reg.Register(string(model.ProviderGemini), aiAdapters.NewGeminiBackend())
	reg.Register(string(model.ProviderOpenAICompatible), aiAdapters.NewCompatBackend())
	reg.Register(string(model.ProviderNoop), aiAdapters.NewNoopBackend())

	// ---- Settings (file-backed, hot-reloaded) ----
	var sealer *security.Sealer
	if cfg.Security.EncryptionKey != "" {
		sealer, err = security.NewSealer(cfg.Security.EncryptionKey)
		if err != nil {
			log.Fatalf("security: %v", err)
		}
	} else {
		logger.Warn().Msg("security.encryption_key not set, api keys stored in plaintext")
	}
	settingsRepo := settings.NewFileRepository(cfg.Settings.Path, sealer, logger)
	settingsUC, err := usecase.NewSettingsUseCase(ctx, settingsRepo, reg, logger)
	if err != nil {
		log.Fatalf("settings: %v", err)
	}
	if err := settingsRepo.Watch(ctx, func(s *model.AISettings) {
		settingsUC.Apply(ctx, s)
	}); err != nil {
		logger.Warn().Err(err).Msg("settings hot-reload disabled")
	}

	// ---- Request queue ----
	dispatcher := queue.NewDispatcher(queue.Config{
		MaxAttempts:   cfg.Queue.MaxAttempts,
		Timeout:       cfg.Queue.Timeout,
		StreamWarnGap: cfg.Queue.StreamWarnGap,
		BackoffBase:   cfg.Queue.BackoffBase,
		BackoffCap:    cfg.Queue.BackoffCap,
	}, logger)
	dispatcher.Start(ctx)

	router := scenario.NewRouter(reg, settingsUC.Current)

	// ---- Embedding cache (memory L1, optional Redis L2) ----
	var embCache repository.EmbeddingCache = cache.NewMemoryEmbeddingCache(cfg.Embedding.CacheSize)
	if rc := cfg.Embedding.Redis; rc != nil {
		redisClient, err := red.NewClient(ctx, rc)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer redisClient.Close()
		embCache = cache.Tiered(embCache, red.NewEmbeddingCache(redisClient, rc.TTL, logger))
		logger.Info().Str("url", rc.URL).Msg("redis embedding cache enabled")
	}

	// ---- Vector store ----
	var store adapter.VectorStore
	switch cfg.VectorDB.Driver {
	case "chroma":
		store = vectordb.NewChromaStore(cfg.VectorDB.URL)
	case "qdrant":
		store, err = vectordb.NewQdrantStore(cfg.VectorDB.URL, cfg.VectorDB.APIKey)
		if err != nil {
			log.Fatalf("qdrant: %v", err)
		}
	default:
		store = vectordb.NewMemoryStore()
	}
	logger.Info().Str("driver", cfg.VectorDB.Driver).Str("collection", cfg.VectorDB.Collection).Msg("vector store ready")

	chunks := chunker.New(chunker.Options{
		MaxChunkSize: cfg.Chunking.MaxChunkSize,
		MinChunkSize: cfg.Chunking.MinChunkSize,
		Overlap:      cfg.Chunking.Overlap,
	})

	// ---- Use cases ----
	chatUC := usecase.NewChatUseCase(router, dispatcher, settingsUC.Current, logger)
	embUC := usecase.NewEmbeddingUseCase(usecase.EmbeddingConfig{
		Collection: cfg.VectorDB.Collection,
		BatchSize:  cfg.Embedding.BatchSize,
		LocalDim:   cfg.Embedding.LocalDim,
	}, router, settingsUC.Current, dispatcher, embCache, store, chunks, logger)

	// ---- HTTP API ----
	metrics.MustRegister()
	auth := web.NewAuthManager(cfg.Server.AuthSecret, 0)
	srv := web.NewServer(chatUC, embUC, settingsUC, auth, logger, cfg.Runtime.Dev)
	server := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler: srv.Routes(),
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	dispatcher.CancelAll()
	cancel()
}
