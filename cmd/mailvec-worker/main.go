package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mailio/mailvec/internal/config"
	dbRedis "github.com/mailio/mailvec/internal/db/redis"
	logpkg "github.com/mailio/mailvec/internal/logger"
	"github.com/mailio/mailvec/internal/metrics"
	documentrepo "github.com/mailio/mailvec/internal/repository/document"
	queuerepo "github.com/mailio/mailvec/internal/repository/queue"
	vectorrepo "github.com/mailio/mailvec/internal/repository/vector"
	openaiTransport "github.com/mailio/mailvec/internal/transport/openai"
	indexeruc "github.com/mailio/mailvec/internal/usecase/indexer"
	"github.com/mailio/mailvec/internal/version"
)

const (
	delayMoverInterval = 5 * time.Second
	depthGaugeInterval = 15 * time.Second
)

func main() {
	syncOnce := flag.Bool("sync", false, "schedule embedding jobs for unindexed recent documents and exit")
	flag.Parse()

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

	logger.Info("Starting mailvec worker",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("queue", cfg.Queue.Name),
		zap.Int("workers", cfg.Queue.Workers),
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

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

	svc := indexeruc.New(docRepo, vecRepo, broker, embedder, cfg.Embedding.Dimensions)

	if *syncOnce {
		scheduled, err := svc.SyncAll(logpkg.ContextWithLogger(ctx, logger))
		if err != nil {
			logger.Fatal("Resync failed", zap.Error(err))
		}
		logger.Info("Resync complete", zap.Int("scheduled", scheduled))
		return
	}

	workerCfg := indexeruc.WorkerConfig{
		MaxRetries:     cfg.Queue.MaxRetries,
		RetryDelay:     time.Duration(cfg.Queue.RetryDelaySec) * time.Second,
		ReconnectDelay: time.Duration(cfg.Queue.ReconnectSec) * time.Second,
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Queue.Workers; i++ {
		w := indexeruc.NewWorker(svc, broker, workerCfg, logger.With(zap.Int("worker", i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	// One mover promotes due delayed jobs; one gauge reports queue depth.
	mover := indexeruc.NewWorker(svc, broker, workerCfg, logger)
	wg.Add(2)
	go func() {
		defer wg.Done()
		mover.RunDelayMover(ctx, delayMoverInterval)
	}()
	go func() {
		defer wg.Done()
		mover.RunDepthGauge(ctx, depthGaugeInterval)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Received shutdown signal")
	cancel()
	wg.Wait()
	logger.Info("Worker stopped gracefully")
}
