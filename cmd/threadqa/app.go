package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/dshills/threadqa-mcp/internal/cache"
	"github.com/dshills/threadqa-mcp/internal/config"
	"github.com/dshills/threadqa-mcp/internal/crawler"
	"github.com/dshills/threadqa-mcp/internal/embedder"
	"github.com/dshills/threadqa-mcp/internal/indexer"
	"github.com/dshills/threadqa-mcp/internal/llm"
	"github.com/dshills/threadqa-mcp/internal/metrics"
	"github.com/dshills/threadqa-mcp/internal/parser"
	"github.com/dshills/threadqa-mcp/internal/pipeline"
	"github.com/dshills/threadqa-mcp/internal/resilience"
	"github.com/dshills/threadqa-mcp/internal/searcher"
	"github.com/dshills/threadqa-mcp/internal/storage"
	"github.com/dshills/threadqa-mcp/internal/threads"
	"github.com/dshills/threadqa-mcp/internal/vectorindex"
)

// app holds the collaborators shared by the commands
type app struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	embedder embedder.Embedder
	qdrant   *vectorindex.Qdrant // Nil unless VECTOR_BACKEND=qdrant
	metrics  *metrics.Metrics
	cache    *cache.Memory
}

// openApp opens the archive and embedder, and the Qdrant mirror when configured
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" && cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store, metrics: metrics.New()}

	a.embedder, err = embedder.New(embedderConfig(cfg))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	if cfg.VectorBackend == config.VectorBackendQdrant {
		host, port, err := cfg.QdrantHostPort()
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.qdrant, err = vectorindex.NewQdrant(host, port, cfg.QdrantCollection, store)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		if err := a.qdrant.EnsureCollection(ctx, a.embedder.Dimension()); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	a.cache, err = cache.NewMemory(cache.Config{Size: cfg.CacheSize, TTL: cfg.CacheTTL})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("db_path", cfg.DBPath).
		Str("build_mode", storage.BuildMode).
		Str("embedding_provider", a.embedder.Provider()).
		Str("embedding_model", a.embedder.Model()).
		Str("vector_backend", cfg.VectorBackend).
		Msg("archive_opened")

	return a, nil
}

func embedderConfig(cfg *config.Config) embedder.Config {
	ec := embedder.Config{
		Provider:  cfg.EmbeddingProvider,
		Model:     cfg.EmbeddingModel,
		CacheSize: 10000,
	}
	switch cfg.EmbeddingProvider {
	case embedder.ProviderOpenAI:
		ec.APIKey = cfg.OpenAIAPIKey
		ec.BaseURL = cfg.OpenAIBaseURL
	case embedder.ProviderJina:
		ec.APIKey = cfg.JinaAPIKey
	}
	return ec
}

// archiveURL is the archive root crawled and linked from messages
func archiveURL(cfg *config.Config) string {
	if cfg.ArchiveURL != "" {
		return cfg.ArchiveURL
	}
	return parser.DefaultArchiveURL
}

func crawlerConfig(cfg *config.Config) crawler.Config {
	return crawler.Config{
		BaseURL:     archiveURL(cfg),
		UserAgent:   cfg.CrawlUserAgent,
		MaxRequests: cfg.CrawlMaxRequests,
		MaxMonths:   cfg.CrawlMaxMonths,
		Delay:       cfg.CrawlDelay,
		StartPeriod: cfg.CrawlStartPeriod,
	}
}

// indexer builds an ingest indexer mirroring to Qdrant when configured.
// Summaries need the LLM client.
func (a *app) indexer(summarize bool) (*indexer.Indexer, error) {
	opts := []indexer.Option{
		indexer.WithParser(parser.New().WithArchiveURL(archiveURL(a.cfg))),
	}
	if a.qdrant != nil {
		opts = append(opts, indexer.WithVectorMirror(a.qdrant))
	}
	if summarize {
		client, err := a.llmClient()
		if err != nil {
			return nil, fmt.Errorf("summaries need an LLM: %w", err)
		}
		opts = append(opts, indexer.WithSummarizer(client))
	}
	return indexer.New(a.store, a.embedder, opts...), nil
}

// index returns what retrieval and expansion search: the archive itself,
// or the archive with vectors served by Qdrant
func (a *app) index() interface {
	searcher.Index
	threads.Store
} {
	if a.qdrant != nil {
		return vectorindex.NewOverlay(a.store, a.qdrant)
	}
	return a.store
}

// llmClient builds the chat client with retry and circuit breaking
func (a *app) llmClient() (*llm.Client, error) {
	rc := resilience.DefaultConfig()
	rc.BreakerEnabled = a.cfg.LLMBreaker

	return llm.NewClient(llm.Config{
		Provider:     a.cfg.LLMProvider,
		APIKey:       a.cfg.LLMAPIKey,
		SmallModel:   a.cfg.LLMSmallModel,
		ComplexModel: a.cfg.LLMComplexModel,
		HTTPTimeout:  a.cfg.LLMTimeout,
	}, resilience.NewExecutor(rc))
}

// pipeline wires the answer pipeline
func (a *app) pipeline() (*pipeline.Pipeline, error) {
	client, err := a.llmClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	index := a.index()
	return pipeline.New(pipeline.Deps{
		Retriever:   searcher.NewRetriever(index, a.embedder, searcher.Config{Timeout: a.cfg.SearchTimeout}, a.metrics),
		Expander:    threads.NewExpander(index, threads.Config{}),
		Synthesizer: llm.NewSynthesizer(client, llm.SynthesizerConfig{Timeout: a.cfg.LLMTimeout}, a.metrics),
		Cache:       a.cache,
		CacheTTL:    a.cfg.CacheTTL,
		Metrics:     a.metrics,
	})
}

// Close releases everything openApp acquired
func (a *app) Close() error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.qdrant != nil {
		errs = append(errs, a.qdrant.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
