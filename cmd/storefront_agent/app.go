package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/storefront-agent/internal/analysis"
	"github.com/jonathan/storefront-agent/internal/blobstore"
	"github.com/jonathan/storefront-agent/internal/config"
	"github.com/jonathan/storefront-agent/internal/db"
	"github.com/jonathan/storefront-agent/internal/db/memstore"
	"github.com/jonathan/storefront-agent/internal/generation"
	"github.com/jonathan/storefront-agent/internal/llm"
	"github.com/jonathan/storefront-agent/internal/logging"
	"github.com/jonathan/storefront-agent/internal/marketplace"
	"github.com/jonathan/storefront-agent/internal/pipeline"
	"github.com/jonathan/storefront-agent/internal/publish"
	"github.com/jonathan/storefront-agent/internal/quality"
	"github.com/jonathan/storefront-agent/internal/reconcile"
	"github.com/jonathan/storefront-agent/internal/rendering"
	"github.com/jonathan/storefront-agent/internal/research"
	"github.com/jonathan/storefront-agent/internal/server"
)

// store is everything the commands read and write
type store interface {
	pipeline.Store
	publish.Store
	reconcile.Store
	server.Store
	marketplace.CredentialStore
}

// app is the wired set of components shared by every command
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      store
	market     *marketplace.Client
	blobs      *blobstore.FS
	supervisor *pipeline.Supervisor
	orch       *pipeline.Orchestrator
	reconciler *reconcile.Reconciler

	closers []func()
}

// loadConfig reads the effective configuration and builds the logger
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(verbose || cfg.Verbose)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// openStore connects to PostgreSQL, or returns the in-memory store with --memory
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store, func(), error) {
	if useMemory {
		logger.Warn("using_memory_store")
		return memstore.New(), func() {}, nil
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required (or pass --memory)")
	}
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, database.Close, nil
}

// newApp wires the store, the marketplace client and the reconciler. The LLM-backed
// workflow is wired separately by withWorkflow because only some commands need it.
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: st, closers: []func(){closeStore}}
	a.market = marketplace.New(cfg.MarketplaceClientConfig(), st, logger)
	a.reconciler = reconcile.New(st, a.market, logger)
	return a, nil
}

// withWorkflow wires the LLM client, the phase collaborators and the orchestrator
func (a *app) withWorkflow(ctx context.Context) error {
	if a.cfg.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	client, err := llm.NewClient(ctx, llm.LoadFromEnv(), a.cfg.GeminiAPIKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })

	var opts []research.Option
	if a.cfg.SearchAPIKey != "" {
		web, err := research.NewCustomSearch(ctx, a.cfg.SearchAPIKey, a.cfg.SearchEngineID)
		if err != nil {
			return fmt.Errorf("failed to create web search: %w", err)
		}
		opts = append(opts, research.WithWebSearch(web))
	}

	blobs, err := blobstore.New(a.cfg.BlobDir, a.cfg.BlobBaseURL)
	if err != nil {
		return err
	}
	a.blobs = blobs

	publisher := publish.NewCoordinator(a.store, a.market, publish.HTTPDownloader{}, a.logger)
	if a.cfg.Disclosure != "" {
		publisher.Disclosure = a.cfg.Disclosure
	}

	a.supervisor = pipeline.NewSupervisor(ctx, a.logger)
	a.orch = pipeline.New(a.store, pipeline.Collaborators{
		Researcher: research.NewResearcher(a.market, a.logger, opts...),
		Analyzer:   analysis.NewAnalyzer(client, a.logger),
		Generator:  generation.NewGenerator(client, a.logger),
		Quality:    quality.NewJudge(client, a.logger),
		Serializer: rendering.NewZipSerializer(),
		Blobs:      blobs,
	}, publisher, a.supervisor, a.logger)
	return nil
}

// Close releases resources in reverse order
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}
