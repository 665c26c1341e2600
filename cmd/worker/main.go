package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/llm"
	"github.com/kwal0203/opus-blocks/internal/metrics"
	"github.com/kwal0203/opus-blocks/internal/pipeline"
	"github.com/kwal0203/opus-blocks/internal/retrieval"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/internal/vector"
	localvec "github.com/kwal0203/opus-blocks/internal/vector/local"
	"github.com/kwal0203/opus-blocks/internal/vector/milvus"
	"github.com/kwal0203/opus-blocks/pkg/circuitbreaker"
	"github.com/kwal0203/opus-blocks/pkg/config"
	appLogger "github.com/kwal0203/opus-blocks/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Opus Blocks pipeline worker")

	if !cfg.Dispatch.Enabled {
		appLogger.Fatal("Dispatch is disabled; the worker has nothing to consume")
	}

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	provider, err := llm.New(cfg)
	if err != nil {
		appLogger.Fatal("Failed to create LLM provider", zap.Error(err))
	}

	breaker := circuitbreaker.New("llm", circuitbreaker.Config{
		Enabled:          cfg.Breaker.Enabled,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           time.Duration(cfg.Breaker.WindowSeconds) * time.Second,
		Cooldown:         time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
		Logger:           appLogger.GetLogger(),
	})

	if err := vector.ValidateBackend(&cfg.Retrieval); err != nil {
		appLogger.Fatal("Invalid retrieval backend", zap.Error(err))
	}

	embedder := vector.NewStubEmbedder(cfg.LLM.EmbeddingDim)

	var vectors vector.Store
	var retriever retrieval.Retriever = retrieval.NoopRetriever{}
	switch cfg.Retrieval.Backend {
	case "local":
		vectors = localvec.NewStore(store, cfg.LLM.EmbeddingModel)
	case "milvus":
		milvusStore, err := milvus.NewStore(cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus store", zap.Error(err))
		}
		defer milvusStore.Close()
		vectors = milvusStore
	}
	if vectors != nil {
		retriever = retrieval.NewVectorRetriever(vectors, embedder, &cfg.Retrieval)
	}

	metrics.Init()

	runner := pipeline.NewRunner(store, provider, breaker, retriever, vectors, embedder, cfg)

	worker, err := pipeline.NewWorker(cfg, runner)
	if err != nil {
		appLogger.Fatal("Failed to create worker", zap.Error(err))
	}
	defer worker.Close()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		appLogger.Info("Worker shutting down gracefully...")
		cancel()
	}()

	worker.Run(ctx)
	appLogger.Info("Worker stopped")
}
