package searcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/threadqa-mcp/internal/embedder"
	"github.com/dshills/threadqa-mcp/internal/metrics"
	"github.com/dshills/threadqa-mcp/internal/storage"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

const (
	// DefaultVectorThreshold is the minimum cosine similarity for a vector match
	DefaultVectorThreshold = 0.25
	// DefaultPageSize is the number of results each branch returns
	DefaultPageSize = 15
	// DefaultTimeout bounds each branch, including query embedding
	DefaultTimeout = 10 * time.Second
)

// Branch names used in logs and metrics
const (
	BranchVector  = "vector"
	BranchLexical = "lexical"
)

// Index is the slice of storage the retriever reads from
type Index interface {
	SearchVector(ctx context.Context, vector []float32, threshold float64, limit int, filters *storage.SearchFilters) ([]storage.VectorResult, error)
	SearchText(ctx context.Context, query string, limit, offset int, filters *storage.SearchFilters) ([]storage.TextResult, error)
}

// Config tunes retrieval
type Config struct {
	VectorThreshold float64
	PageSize        int
	Timeout         time.Duration
}

// DefaultConfig returns the standard retrieval settings
func DefaultConfig() Config {
	return Config{
		VectorThreshold: DefaultVectorThreshold,
		PageSize:        DefaultPageSize,
		Timeout:         DefaultTimeout,
	}
}

// Retrieval holds both branches' matches. QueryVector is nil when embedding failed.
type Retrieval struct {
	Vector      []storage.VectorResult
	Lexical     []storage.TextResult
	QueryVector []float32
}

// Empty reports whether neither branch matched anything
func (r *Retrieval) Empty() bool {
	return len(r.Vector) == 0 && len(r.Lexical) == 0
}

// Retriever runs vector and lexical search side by side
type Retriever struct {
	index    Index
	embedder embedder.Embedder
	cfg      Config
	metrics  *metrics.Metrics
}

// NewRetriever creates a Retriever. m may be nil.
func NewRetriever(index Index, emb embedder.Embedder, cfg Config, m *metrics.Metrics) *Retriever {
	defaults := DefaultConfig()
	if cfg.VectorThreshold <= 0 {
		cfg.VectorThreshold = defaults.VectorThreshold
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &Retriever{index: index, embedder: emb, cfg: cfg, metrics: m}
}

// Retrieve searches both branches concurrently. A failing branch contributes
// an empty list; Retrieve itself never fails.
func (r *Retriever) Retrieve(ctx context.Context, query string, filters types.Filters) *Retrieval {
	storageFilters := storage.FromTypesFilters(filters)
	result := &Retrieval{}

	// No shared cancellation: one branch failing must not abort the other
	var g errgroup.Group

	g.Go(func() error {
		vec, matches, err := r.vectorBranch(ctx, query, storageFilters)
		result.QueryVector = vec
		if err != nil {
			r.degrade(ctx, BranchVector, err)
			result.Vector = []storage.VectorResult{}
			return nil
		}
		result.Vector = matches
		return nil
	})

	g.Go(func() error {
		matches, err := r.lexicalBranch(ctx, query, storageFilters)
		if err != nil {
			r.degrade(ctx, BranchLexical, err)
			result.Lexical = []storage.TextResult{}
			return nil
		}
		result.Lexical = matches
		return nil
	})

	_ = g.Wait()

	r.metrics.ObserveRetrieved(BranchVector, len(result.Vector))
	r.metrics.ObserveRetrieved(BranchLexical, len(result.Lexical))
	return result
}

// vectorBranch embeds the query and searches by similarity
func (r *Retriever) vectorBranch(ctx context.Context, query string, filters *storage.SearchFilters) ([]float32, []storage.VectorResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	vec, err := embedder.Embed(ctx, r.embedder, query)
	if err != nil {
		return nil, nil, err
	}

	matches, err := r.index.SearchVector(ctx, vec, r.cfg.VectorThreshold, r.cfg.PageSize, filters)
	if err != nil {
		return vec, nil, err
	}
	return vec, matches, nil
}

// lexicalBranch runs the first page of full-text search
func (r *Retriever) lexicalBranch(ctx context.Context, query string, filters *storage.SearchFilters) ([]storage.TextResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	matches, err := r.index.SearchText(ctx, query, r.cfg.PageSize, 0, filters)
	if errors.Is(err, storage.ErrEmptyQuery) {
		// Nothing searchable in the question; not a failure
		return []storage.TextResult{}, nil
	}
	return matches, err
}

func (r *Retriever) degrade(ctx context.Context, branch string, err error) {
	zerolog.Ctx(ctx).Warn().Err(err).Str("branch", branch).Msg("retrieval_branch_failed")
	r.metrics.RecordDegraded(branch)
}
