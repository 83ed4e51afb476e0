package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/mailio/mailvec/internal/config"
	dbRedis "github.com/mailio/mailvec/internal/db/redis"
	"github.com/mailio/mailvec/internal/domain"
	"github.com/mailio/mailvec/internal/domain/query"
	logpkg "github.com/mailio/mailvec/internal/logger"
	"github.com/mailio/mailvec/internal/metrics"
	documentrepo "github.com/mailio/mailvec/internal/repository/document"
	queuerepo "github.com/mailio/mailvec/internal/repository/queue"
	vectorrepo "github.com/mailio/mailvec/internal/repository/vector"
	chiTransport "github.com/mailio/mailvec/internal/transport/chi"
	openaiTransport "github.com/mailio/mailvec/internal/transport/openai"
	healthuc "github.com/mailio/mailvec/internal/usecase/health"
	indexeruc "github.com/mailio/mailvec/internal/usecase/indexer"
	searchuc "github.com/mailio/mailvec/internal/usecase/search"
	"github.com/mailio/mailvec/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting mailvec API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		DB:       cfg.Database.DB,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	vecRepo := vectorrepo.New(store, cfg.Storage.KeyPrefix, cfg.Embedding.Dimensions).
		WithHNSW(vectorrepo.HNSWConfig{
			M:           cfg.Storage.HNSWM,
			EFConstruct: cfg.Storage.HNSWEFConstruct,
		})
	if err := vecRepo.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure vector index", zap.Error(err))
	}
	docRepo := documentrepo.New(store, cfg.Storage.KeyPrefix)
	broker := queuerepo.New(store, cfg.Storage.KeyPrefix, cfg.Queue.Name)

	embedder := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})

	// The rewriter and reranker are optional; without an LLM key the search
	// pipeline runs on raw queries and similarity order.
	var rewriter domain.Rewriter
	var reranker domain.Reranker
	if cfg.LLM.APIKey != "" {
		llmCfg := &openaiTransport.LLMConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Logger:  logger,
		}
		rewriter = openaiTransport.NewRewriter(llmCfg)
		reranker = openaiTransport.NewReranker(llmCfg)
	}

	// Fire-and-forget pool for stale vector cleanup after reconciliation.
	cleanupPool, err := ants.NewPool(cfg.Search.CleanupPoolSize, ants.WithNonblocking(true))
	if err != nil {
		logger.Fatal("Failed to create cleanup pool", zap.Error(err))
	}
	defer cleanupPool.Release()

	searchSvc := searchuc.New(
		vecRepo, docRepo, embedder, rewriter, reranker,
		query.NewComposer(logger), cleanupPool,
		searchuc.Config{
			RecencyWindow:   time.Duration(cfg.Search.RecencyWindowDays) * 24 * time.Hour,
			DescBreadth:     cfg.Search.DescBreadth,
			AscBreadth:      cfg.Search.AscBreadth,
			OverfetchFactor: cfg.Search.OverfetchFactor,
			EmbedTimeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
			LLMTimeout:      time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		},
	)
	indexerSvc := indexeruc.New(docRepo, vecRepo, broker, embedder, cfg.Embedding.Dimensions)
	healthSvc := healthuc.New(store, embedder)

	server := chiTransport.NewServer(searchSvc, indexerSvc, healthSvc, cfg.Embedding.Model, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
