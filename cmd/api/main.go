package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/api/handlers"
	"github.com/kwal0203/opus-blocks/internal/ingestion"
	"github.com/kwal0203/opus-blocks/internal/llm"
	"github.com/kwal0203/opus-blocks/internal/metrics"
	"github.com/kwal0203/opus-blocks/internal/middleware/ratelimit"
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

	appLogger.Info("Starting Opus Blocks API Server")

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

	processor, err := ingestion.NewProcessor(cfg.Storage.Root)
	if err != nil {
		appLogger.Fatal("Failed to create ingestion processor", zap.Error(err))
	}

	dispatcher, err := pipeline.NewDispatcher(cfg)
	if err != nil {
		appLogger.Fatal("Failed to create dispatcher", zap.Error(err))
	}
	defer dispatcher.Close()

	runner := pipeline.NewRunner(store, provider, breaker, retriever, vectors, embedder, cfg)

	metrics.Init()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	}))

	submitLimiter := ratelimit.New(ratelimit.Config{MaxRequestsPerMinute: 30})
	defer submitLimiter.Stop()

	documentHandler := handlers.NewDocumentHandler(store, processor, dispatcher, runner, cfg)
	manuscriptHandler := handlers.NewManuscriptHandler(store)
	paragraphHandler := handlers.NewParagraphHandler(store, dispatcher, runner, cfg)
	sentenceHandler := handlers.NewSentenceHandler(store)
	factHandler := handlers.NewFactHandler(store, vectors, embedder)
	jobHandler := handlers.NewJobHandler(store)
	runHandler := handlers.NewRunHandler(store)
	metricsHandler := handlers.NewMetricsHandler(store, cfg)
	wsHandler := handlers.NewWebSocketHandler(store)

	api := app.Group("/api/v1")

	api.Post("/documents", submitLimiter.Middleware(), documentHandler.UploadDocument)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Get("/documents/:id", documentHandler.GetDocument)
	api.Get("/documents/:id/facts", documentHandler.ListDocumentFacts)

	api.Post("/manuscripts", manuscriptHandler.CreateManuscript)
	api.Get("/manuscripts", manuscriptHandler.ListManuscripts)
	api.Get("/manuscripts/:id", manuscriptHandler.GetManuscript)
	api.Post("/manuscripts/:id/documents", manuscriptHandler.AttachDocument)

	api.Post("/paragraphs", paragraphHandler.CreateParagraph)
	api.Get("/paragraphs/:id", paragraphHandler.GetParagraph)
	api.Post("/paragraphs/:id/generate", submitLimiter.Middleware(), paragraphHandler.GenerateParagraph)
	api.Post("/paragraphs/:id/verify", submitLimiter.Middleware(), paragraphHandler.VerifyParagraph)
	api.Post("/paragraphs/:id/regenerate", submitLimiter.Middleware(), paragraphHandler.RegenerateSentences)

	api.Patch("/sentences/:id", sentenceHandler.EditSentence)
	api.Post("/sentences/:id/supported", sentenceHandler.MarkSupported)
	api.Post("/sentences/:id/facts", sentenceHandler.LinkFact)

	api.Get("/facts", factHandler.ListFacts)
	api.Post("/facts", factHandler.CreateFact)
	api.Delete("/facts/:id", factHandler.DeleteFact)

	api.Get("/jobs", jobHandler.ListJobs)
	api.Get("/jobs/:id", jobHandler.GetJob)
	api.Get("/runs", runHandler.ListRuns)
	api.Get("/runs/:id", runHandler.GetRun)

	api.Get("/metrics/report", metricsHandler.GetReport)
	api.Post("/metrics/snapshots", metricsHandler.Snapshot)
	api.Get("/metrics/snapshots", metricsHandler.ListSnapshots)
	api.Get("/metrics/alerts", metricsHandler.ListAlerts)
	api.Get("/metrics/dead-letters", metricsHandler.ListDeadLetters)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs", websocket.New(wsHandler.HandleConnection))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
