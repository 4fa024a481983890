// Command contracting-api serves the generation and phase-gate HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/agent"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/cache"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/config"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/consistency"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/coordinator"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/embedding"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/extraction"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/increment"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/llm"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/phasegate"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/project"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/queue"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/registry"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/retrieval"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/taskstore"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/vectorstore"
)

const version = "1.0.0"

var (
	configPath  string
	showVersion bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
}

func main() {
	flag.Parse()

	if showVersion {
		fmt.Printf("contracting-api version %s\n", version)
		os.Exit(0)
	}

	// Ignore error if .env doesn't exist.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "contracting-api",
	})

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	// Cache backend.
	var cacheClient cache.Client
	if cfg.Cache.Driver == "redis" {
		rc, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		cacheClient = rc
		logger.Info().Str("addr", cfg.Cache.Redis.Addr).Msg("using redis cache")
	} else {
		cacheClient = cache.NewMemoryClient(cfg.Cache.MaxEntries)
		logger.Info().Msg("using in-memory cache")
	}
	defer cacheClient.Close()

	// Embedder; without an API key the deterministic mock keeps local
	// development working end to end.
	var embedder embedding.Embedder
	if cfg.Embedding.APIKey != "" {
		client, err := embedding.NewClient(embedding.Config{
			APIKey:    cfg.Embedding.APIKey,
			BaseURL:   cfg.Embedding.BaseURL,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   cfg.Embedding.Timeout,
		})
		if err != nil {
			return fmt.Errorf("embedding client: %w", err)
		}
		embedder = client
	} else {
		logger.Warn().Msg("no embedding API key, using deterministic mock embedder")
		embedder = embedding.NewMockEmbedder(cfg.Vector.Dimension)
	}
	embedder = embedding.NewCachedEmbedder(embedder, cacheClient, logger)

	// Vector store and ingestion.
	store := vectorstore.NewStore(embedder, vectorstore.StoreConfig{Path: cfg.Vector.IndexPath}, logger)
	if err := store.Load(); err != nil {
		return fmt.Errorf("load vector index: %w", err)
	}
	ingestor := vectorstore.NewIngestor(store, cacheClient, vectorstore.IngestConfig{
		ChunkSize:    cfg.Ingestion.ChunkSize,
		ChunkOverlap: cfg.Ingestion.ChunkOverlap,
	}, logger)

	retriever := retrieval.NewRetriever(store, cacheClient, retrieval.Config{
		TopK:           cfg.Retrieval.TopK,
		ScoreThreshold: cfg.Retrieval.ScoreThreshold,
		GuidanceChars:  cfg.Retrieval.GuidanceChars,
		CacheResults:   cfg.Retrieval.CacheResults,
	}, logger)

	// Model client.
	var llmClient llm.Client
	if cfg.LLM.APIKey != "" {
		client, err := llm.NewHTTPClient(llm.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			return fmt.Errorf("llm client: %w", err)
		}
		llmClient = client
	} else {
		logger.Warn().Msg("no LLM API key, using canned mock responses")
		llmClient = &llm.MockClient{Responses: []string{"# Draft\n\nNo model configured.\n"}}
	}

	extractor := extraction.NewExtractor(llmClient, extraction.Config{
		MinCharsForLLM: cfg.Coordinator.ExtractionMinChars,
	}, logger)

	// Persistence.
	reg, err := registry.NewRegistry(cfg.Registry.Dir, logger)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	lineage, err := registry.NewLineageWriter(cfg.Registry.Dir, logger)
	if err != nil {
		return fmt.Errorf("open lineage: %w", err)
	}

	driver := "sqlite3"
	if cfg.TaskStore.Driver == "postgres" {
		driver = "postgres"
	}
	tasks, err := taskstore.Open(driver, cfg.TaskStore.DSN, logger)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer tasks.Close()

	startCtx, startCancel := context.WithCancel(context.Background())
	defer startCancel()
	if _, err := tasks.FailRunning(startCtx, "server restarted"); err != nil {
		logger.Warn().Err(err).Msg("orphan task cleanup failed")
	}

	// Generation pipeline.
	incCache := increment.NewCache(cacheClient, logger)
	coord, err := coordinator.New(coordinator.Deps{
		Graph:     coordinator.BuiltinGraph(),
		Agents:    agent.NewBuiltinRegistry(llmClient, nil, logger),
		Retriever: retriever,
		Extractor: extractor,
		IncCache:  incCache,
		Registry:  reg,
		Lineage:   lineage,
		Tasks:     tasks,
		Cache:     cacheClient,
		AgentFP: increment.AgentFingerprint{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Version:     cfg.LLM.Version,
		},
	}, coordinator.Config{
		AncestorContentCap: cfg.Coordinator.AncestorContentCap,
		ParallelChains:     cfg.Coordinator.ParallelChains,
		RetrievalTopK:      cfg.Retrieval.TopK,
	}, logger)
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}

	pool := queue.NewPool(queue.Config{
		Workers:       cfg.Queues.Workers,
		HighWeight:    cfg.Queues.HighWeight,
		BatchWeight:   cfg.Queues.BatchWeight,
		QualityWeight: cfg.Queues.QualityWeight,
		Deadlines: queue.Deadlines{
			High:    cfg.Queues.TaskDeadlines.High,
			Batch:   cfg.Queues.TaskDeadlines.Batch,
			Quality: cfg.Queues.TaskDeadlines.Quality,
		},
	}, logger)
	pool.Start(startCtx)
	defer pool.Close()

	// Phase gates.
	var rules *phasegate.Rules
	if cfg.PhaseGate.RequiredDocsPath != "" {
		rules, err = phasegate.LoadRules(cfg.PhaseGate.RequiredDocsPath)
		if err != nil {
			return fmt.Errorf("load phase rules: %w", err)
		}
	}
	gates := phasegate.NewService(rules, phasegate.Config{
		BlockOnUnapproved: cfg.PhaseGate.BlockOnUnapproved,
	}, logger)

	srv := newServer(serverDeps{
		projects:    project.NewStore(),
		coordinator: coord,
		pool:        pool,
		tasks:       tasks,
		gates:       gates,
		registry:    reg,
		lineage:     lineage,
		validator:   consistency.NewValidator(nil, logger),
		ingestor:    ingestor,
		vectors:     store,
		cache:       cacheClient,
		inccache:    incCache,
		logger:      logger,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err := store.Save(); err != nil {
		logger.Warn().Err(err).Msg("vector index save on shutdown failed")
	}
	return nil
}
