package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liliang-cn/policyagent/internal/agent"
	"github.com/liliang-cn/policyagent/internal/api"
	"github.com/liliang-cn/policyagent/internal/api/query"
	"github.com/liliang-cn/policyagent/internal/classifier"
	"github.com/liliang-cn/policyagent/internal/config"
	"github.com/liliang-cn/policyagent/internal/ingest"
	"github.com/liliang-cn/policyagent/internal/llm"
	"github.com/liliang-cn/policyagent/internal/memory"
	"github.com/liliang-cn/policyagent/internal/metrics"
	"github.com/liliang-cn/policyagent/internal/repository"
	"github.com/liliang-cn/policyagent/internal/retrieval"
	"github.com/liliang-cn/policyagent/internal/vectorindex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	ingestDir  = flag.String("ingest", "", "Directory of policy documents to index before serving")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("PolicyAgent stopped", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Chunk vectors
	indexDB, err := repository.NewDB(cfg.RAG.IndexPath)
	if err != nil {
		return fmt.Errorf("open index database: %w", err)
	}
	defer indexDB.Close()

	index := vectorindex.NewFlatIndex(cfg.RAG.Dimension, repository.NewChunkRepository(indexDB), logger)
	if err := index.Load(ctx); err != nil {
		return fmt.Errorf("load vector index: %w", err)
	}

	// Archived conversations
	archiveDB, err := repository.NewDB(cfg.Session.ArchivePath)
	if err != nil {
		return fmt.Errorf("open archive database: %w", err)
	}
	defer archiveDB.Close()

	capability, err := llm.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create llm provider: %w", err)
	}

	if *ingestDir != "" {
		processor, err := ingest.NewProcessor(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, logger)
		if err != nil {
			return err
		}
		svc := ingest.NewService(processor, capability, index, cfg.RAG.EmbeddingBatchSize, m, logger)
		stats, err := svc.IngestDirectory(ctx, *ingestDir)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", *ingestDir, err)
		}
		logger.Info("Documents ingested",
			zap.Int("chunks", stats.TotalChunks),
			zap.Int("sources", stats.UniqueSources),
		)
	}
	if index.Count() == 0 {
		logger.Warn("Vector index is empty, policy questions will get the no-information answer")
	}

	store := memory.NewStore(cfg.Session.MaxConversationHistory, cfg.Session.Timeout,
		memory.WithArchiver(repository.NewTranscriptRepository(archiveDB)),
		memory.WithLogger(logger),
	)

	a := agent.New(cfg, agent.Deps{
		LLM:        capability,
		Memory:     store,
		Classifier: classifier.New(capability, m, logger),
		Retriever:  retrieval.New(capability, index, cfg.RAG.TopKResults, cfg.RAG.SimilarityThreshold, m, logger),
		Index:      index,
		Metrics:    m,
		Logger:     logger,
	})

	router := api.SetupRouter(query.NewHandler(a, cfg.IsProduction(), logger), api.RouterConfig{
		AllowOrigins: cfg.Server.CORSOrigins,
		Environment:  cfg.Environment,
		Provider:     a.Provider(),
		VectorStore:  cfg.VectorStoreKind(),
		Gatherer:     reg,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting PolicyAgent server",
			zap.String("address", cfg.Address()),
			zap.String("environment", cfg.Environment),
			zap.String("provider", a.Provider()),
			zap.Int("indexed_chunks", index.Count()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return memory.NewSweeper(store, cfg.Session.CleanupInterval, m, logger).Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "text" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	zc.OutputPaths = []string{"stdout"}
	return zc.Build()
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config path] [-ingest dir]\n", os.Args[0])
		flag.PrintDefaults()
	}
}
