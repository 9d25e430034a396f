package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/threadqa-mcp/internal/embedder"
	"github.com/dshills/threadqa-mcp/internal/llm"
	"github.com/dshills/threadqa-mcp/internal/parser"
	"github.com/dshills/threadqa-mcp/internal/storage"
	"github.com/dshills/threadqa-mcp/internal/vectorindex"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

const (
	// DefaultBatchSize is the number of messages embedded and committed together
	DefaultBatchSize = 100
)

// ErrIngestInProgress is returned when another ingest holds the indexer
var ErrIngestInProgress = errors.New("ingest already in progress")

// VectorMirror receives message vectors after they are committed to SQLite
type VectorMirror interface {
	Upsert(ctx context.Context, points []vectorindex.Point) error
}

// Indexer coordinates the ingest pipeline: parse -> embed -> store -> aggregate
type Indexer struct {
	parser     *parser.Parser
	storage    storage.Storage
	embedder   embedder.Embedder
	mirror     VectorMirror
	summarizer llm.Provider

	lock    IndexLock
	workers int
}

// Config contains per-run ingest settings
type Config struct {
	Workers   int  // Concurrent embedding batches (default: runtime.NumCPU())
	BatchSize int  // Messages per embedding call and transaction (default: 100)
	Summarize bool // Generate LLM thread summaries after the write
	Force     bool // Re-embed messages whose content and model are unchanged
}

// Statistics contains statistics about one ingest run
type Statistics struct {
	MessagesParsed    int
	MessagesStored    int
	ParseErrors       int
	EmbeddingsCreated int
	EmbeddingsSkipped int
	EmbeddingsFailed  int
	AuthorsCount      int
	ThreadsCount      int
	SummariesWritten  int
	Duration          time.Duration
	ErrorMessages     []string
}

// Option configures optional indexer collaborators
type Option func(*Indexer)

// WithParser replaces the default archive parser
func WithParser(p *parser.Parser) Option {
	return func(idx *Indexer) { idx.parser = p }
}

// WithVectorMirror copies committed vectors to an external index
func WithVectorMirror(m VectorMirror) Option {
	return func(idx *Indexer) { idx.mirror = m }
}

// WithSummarizer enables thread summaries through an LLM provider
func WithSummarizer(p llm.Provider) Option {
	return func(idx *Indexer) { idx.summarizer = p }
}

// New creates a new Indexer instance
func New(store storage.Storage, emb embedder.Embedder, opts ...Option) *Indexer {
	idx := &Indexer{
		parser:   parser.New(),
		storage:  store,
		embedder: emb,
		workers:  runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (cfg *Config) normalize() *Config {
	out := Config{}
	if cfg != nil {
		out = *cfg
	}
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU()
	}
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.BatchSize > embedder.MaxBatchSize {
		out.BatchSize = embedder.MaxBatchSize
	}
	return &out
}

// IngestPath parses a JSONL file, an mbox file or a directory of them and
// ingests the messages. Unreadable records are counted, not fatal.
func (idx *Indexer) IngestPath(ctx context.Context, path string, config *Config) (*Statistics, error) {
	result, err := idx.parser.ParsePath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	logger := zerolog.Ctx(ctx)
	for i := range result.Errors {
		logger.Warn().Str("record", result.Errors[i].Error()).Msg("record_skipped")
	}
	logger.Info().Int("messages", len(result.Messages)).Int("skipped", len(result.Errors)).Msg("archive_parsed")

	stats, err := idx.Ingest(ctx, result.Messages, config)
	if stats != nil {
		stats.ParseErrors = len(result.Errors)
	}
	return stats, err
}

// Ingest embeds and stores messages whose thread fields are already set.
// Only one ingest runs per Indexer at a time.
func (idx *Indexer) Ingest(ctx context.Context, messages []*types.Message, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIngestInProgress
	}
	defer idx.lock.Release()

	cfg := config.normalize()
	idx.workers = cfg.Workers

	startTime := time.Now()
	stats := &Statistics{
		MessagesParsed: len(messages),
		ErrorMessages:  make([]string, 0),
	}
	logger := zerolog.Ctx(ctx)

	batches := splitBatches(messages, cfg.BatchSize)
	vectors, err := idx.embedBatches(ctx, batches, cfg, stats)
	if err != nil {
		return nil, fmt.Errorf("failed to embed messages: %w", err)
	}

	for i, batch := range batches {
		if err := idx.writeBatch(ctx, batch, vectors[i]); err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", i+1, err)
		}
		stats.MessagesStored += len(batch)

		if idx.mirror != nil {
			if err := idx.mirror.Upsert(ctx, mirrorPoints(batch, vectors[i])); err != nil {
				return nil, fmt.Errorf("failed to mirror batch %d: %w", i+1, err)
			}
		}
		logger.Info().
			Int("batch_number", i+1).
			Int("total_batches", len(batches)).
			Int("messages_stored", stats.MessagesStored).
			Msg("ingest_batch_complete")
	}

	if stats.AuthorsCount, err = idx.storage.RebuildAuthors(ctx); err != nil {
		return nil, fmt.Errorf("failed to rebuild authors: %w", err)
	}
	if stats.ThreadsCount, err = idx.storage.RebuildThreads(ctx); err != nil {
		return nil, fmt.Errorf("failed to rebuild threads: %w", err)
	}

	if cfg.Summarize && idx.summarizer != nil {
		if err := idx.summarizeThreads(ctx, threadRoots(messages), stats); err != nil {
			return nil, err
		}
	}

	stats.Duration = time.Since(startTime)
	logger.Info().
		Int("messages", stats.MessagesStored).
		Int("embeddings", stats.EmbeddingsCreated).
		Int("threads", stats.ThreadsCount).
		Dur("duration", stats.Duration).
		Msg("ingest_complete")
	return stats, nil
}

// embedBatches embeds every batch on a bounded pool. A failed batch is
// logged and its messages stored without vectors; cancellation aborts.
func (idx *Indexer) embedBatches(ctx context.Context, batches [][]*types.Message, cfg *Config, stats *Statistics) ([][][]float32, error) {
	vectors := make([][][]float32, len(batches))
	logger := zerolog.Ctx(ctx)

	var mu sync.Mutex // Protects stats
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	for i, batch := range batches {
		pending := batch
		if !cfg.Force {
			pending = idx.changedMessages(gctx, batch)
		}

		g.Go(func() error {
			out := make([][]float32, len(batch))
			vectors[i] = out
			mu.Lock()
			stats.EmbeddingsSkipped += len(batch) - len(pending)
			mu.Unlock()
			if len(pending) == 0 {
				return nil
			}

			texts := make([]string, len(pending))
			for j, m := range pending {
				texts[j] = EmbeddingText(m)
			}
			resp, err := idx.embedder.GenerateBatch(gctx, embedder.BatchEmbeddingRequest{Texts: texts})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Error().Err(err).Int("batch_number", i+1).Msg("embedding_batch_failed")
				mu.Lock()
				stats.EmbeddingsFailed += len(pending)
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("batch %d: %v", i+1, err))
				mu.Unlock()
				return nil
			}

			position := make(map[string]int, len(batch))
			for j, m := range batch {
				position[m.ID] = j
			}
			for j, emb := range resp.Embeddings {
				out[position[pending[j].ID]] = emb.Vector
			}
			mu.Lock()
			stats.EmbeddingsCreated += len(resp.Embeddings)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// changedMessages drops messages whose stored text and embedding model match
func (idx *Indexer) changedMessages(ctx context.Context, batch []*types.Message) []*types.Message {
	changed := make([]*types.Message, 0, len(batch))
	for _, m := range batch {
		existing, err := idx.storage.GetMessage(ctx, m.ID)
		if err != nil || EmbeddingText(existing) != EmbeddingText(m) {
			changed = append(changed, m)
			continue
		}
		emb, err := idx.storage.GetEmbedding(ctx, m.ID)
		if err != nil || emb.Provider != idx.embedder.Provider() || emb.Model != idx.embedder.Model() {
			changed = append(changed, m)
		}
	}
	return changed
}

// writeBatch stores a batch of messages and their vectors in one transaction
func (idx *Indexer) writeBatch(ctx context.Context, batch []*types.Message, vectors [][]float32) error {
	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	for i, m := range batch {
		if err := tx.UpsertMessage(ctx, m); err != nil {
			return fmt.Errorf("failed to store message %s: %w", m.ID, err)
		}
		if i >= len(vectors) || len(vectors[i]) == 0 {
			continue
		}
		err := tx.UpsertEmbedding(ctx, &storage.Embedding{
			MessageID: m.ID,
			Vector:    storage.SerializeVector(vectors[i]),
			Dimension: len(vectors[i]),
			Provider:  idx.embedder.Provider(),
			Model:     idx.embedder.Model(),
			CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to store embedding %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// summarizeThreads writes a summary and proposal numbers for each root.
// A failed summary is logged and the next thread is tried.
func (idx *Indexer) summarizeThreads(ctx context.Context, roots []string, stats *Statistics) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().Int("thread_count", len(roots)).Str("llm_provider", idx.summarizer.Name()).Msg("generating_thread_summaries")

	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return err
		}

		thread, err := idx.storage.MessagesInThread(ctx, root)
		if err != nil || len(thread) == 0 {
			logger.Warn().Err(err).Str("root_id", root).Msg("thread_summary_failed")
			continue
		}

		completion, err := idx.summarizer.Complete(ctx, llm.CompletionRequest{
			User:      BuildSummaryPrompt(thread),
			Tier:      llm.TierSmall,
			MaxTokens: SummaryMaxTokens,
		})
		if err != nil {
			logger.Warn().Err(err).Str("root_id", root).Msg("thread_summary_failed")
			continue
		}
		summary := strings.TrimSpace(completion.Text)
		if summary == "" {
			continue
		}

		if err := idx.storage.UpdateThreadSummary(ctx, root, summary, ThreadProposals(thread)); err != nil {
			logger.Warn().Err(err).Str("root_id", root).Msg("thread_summary_failed")
			continue
		}
		stats.SummariesWritten++
	}

	logger.Info().Int("summaries", stats.SummariesWritten).Msg("thread_summaries_complete")
	return nil
}

// EmbeddingText is the text embedded for a message: subject, blank line, body
func EmbeddingText(m *types.Message) string {
	return strings.TrimSpace(m.Subject + "\n\n" + m.Body())
}

func splitBatches(messages []*types.Message, size int) [][]*types.Message {
	var batches [][]*types.Message
	for i := 0; i < len(messages); i += size {
		end := i + size
		if end > len(messages) {
			end = len(messages)
		}
		batches = append(batches, messages[i:end])
	}
	return batches
}

func mirrorPoints(batch []*types.Message, vectors [][]float32) []vectorindex.Point {
	points := make([]vectorindex.Point, 0, len(batch))
	for i, m := range batch {
		if i < len(vectors) && len(vectors[i]) > 0 {
			points = append(points, vectorindex.Point{Message: m, Vector: vectors[i]})
		}
	}
	return points
}

// threadRoots returns the distinct thread roots of messages, sorted
func threadRoots(messages []*types.Message) []string {
	seen := make(map[string]bool)
	var roots []string
	for _, m := range messages {
		root := m.ThreadRootID
		if root == "" {
			root = m.ID
		}
		if !seen[root] {
			seen[root] = true
			roots = append(roots, root)
		}
	}
	sort.Strings(roots)
	return roots
}
