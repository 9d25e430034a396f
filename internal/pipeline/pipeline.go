// Package pipeline answers questions over the archive: retrieve, merge,
// expand, assemble, synthesize, cite.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/threadqa-mcp/internal/cache"
	"github.com/dshills/threadqa-mcp/internal/citations"
	"github.com/dshills/threadqa-mcp/internal/llm"
	"github.com/dshills/threadqa-mcp/internal/metrics"
	"github.com/dshills/threadqa-mcp/internal/prompt"
	"github.com/dshills/threadqa-mcp/internal/searcher"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

const (
	// MinQuestionLength and MaxQuestionLength bound the trimmed question, in runes
	MinQuestionLength = 3
	MaxQuestionLength = 1000

	// DefaultCacheTTL is how long an answer is served from cache
	DefaultCacheTTL = time.Hour

	// NoResultsAnswer is returned when retrieval finds nothing
	NoResultsAnswer = "No relevant discussion found in the archive for this question. " +
		"Try rephrasing it, widening the date range or removing the author filter."
)

// Outcomes recorded on threadqa_ask_total
const (
	OutcomeInvalid = "invalid"
	OutcomeCached  = "cached"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
	OutcomeOK      = "ok"
)

// Retriever runs hybrid retrieval
type Retriever interface {
	Retrieve(ctx context.Context, query string, filters types.Filters) *searcher.Retrieval
}

// Expander adds thread context to merged matches
type Expander interface {
	Expand(ctx context.Context, seeds []types.ScoredMessage, queryVector []float32) []types.ScoredMessage
}

// Synthesizer produces the answer text
type Synthesizer interface {
	Synthesize(ctx context.Context, question, contextText string, merged []types.ScoredMessage) (*llm.Answer, error)
}

// Deps are the collaborators of a Pipeline. Cache and Metrics are optional.
type Deps struct {
	Retriever   Retriever
	Expander    Expander
	Assembler   *prompt.Assembler
	Synthesizer Synthesizer
	Extractor   *citations.Extractor
	Cache       cache.Store
	CacheTTL    time.Duration
	Merge       searcher.MergeConfig
	Metrics     *metrics.Metrics
}

// Pipeline is safe for concurrent use; each Ask is independent
type Pipeline struct {
	retriever   Retriever
	expander    Expander
	assembler   *prompt.Assembler
	synthesizer Synthesizer
	extractor   *citations.Extractor
	cache       cache.Store
	cacheTTL    time.Duration
	merge       searcher.MergeConfig
	metrics     *metrics.Metrics
	newID       func() string
}

// New wires a pipeline. Assembler, Extractor and Merge fall back to defaults.
func New(d Deps) (*Pipeline, error) {
	if d.Retriever == nil {
		return nil, errors.New("pipeline: retriever is required")
	}
	if d.Expander == nil {
		return nil, errors.New("pipeline: expander is required")
	}
	if d.Synthesizer == nil {
		return nil, errors.New("pipeline: synthesizer is required")
	}
	if d.Assembler == nil {
		d.Assembler = prompt.NewAssembler()
	}
	if d.Extractor == nil {
		d.Extractor = citations.NewExtractor()
	}
	if d.Merge.TopK <= 0 {
		d.Merge = searcher.DefaultMergeConfig()
	}
	if d.CacheTTL <= 0 {
		d.CacheTTL = DefaultCacheTTL
	}

	return &Pipeline{
		retriever:   d.Retriever,
		expander:    d.Expander,
		assembler:   d.Assembler,
		synthesizer: d.Synthesizer,
		extractor:   d.Extractor,
		cache:       d.Cache,
		cacheTTL:    d.CacheTTL,
		merge:       d.Merge,
		metrics:     d.Metrics,
		newID:       func() string { return uuid.NewString() },
	}, nil
}

// ValidateQuestion trims the question and checks its length
func ValidateQuestion(question string) (string, error) {
	q := strings.TrimSpace(question)
	n := utf8.RuneCountInString(q)
	if n < MinQuestionLength {
		return "", &types.ValidationError{
			Field:   "question",
			Message: fmt.Sprintf("must be at least %d characters", MinQuestionLength),
		}
	}
	if n > MaxQuestionLength {
		return "", &types.ValidationError{
			Field:   "question",
			Message: fmt.Sprintf("must be at most %d characters", MaxQuestionLength),
		}
	}
	return q, nil
}

// Ask answers question. Validation errors match types.ErrInvalidInput;
// model failures match llm.ErrSynthesisFailed. Degraded retrieval and
// partial expansion are not errors.
func (p *Pipeline) Ask(ctx context.Context, question string, filters types.Filters) (*types.AnswerResult, error) {
	start := time.Now()

	q, err := ValidateQuestion(question)
	if err == nil {
		err = filters.Validate()
	}
	if err != nil {
		p.metrics.RecordAsk(OutcomeInvalid)
		return nil, err
	}

	queryID := p.newID()
	logger := zerolog.Ctx(ctx).With().Str("query_id", queryID).Logger()
	ctx = logger.WithContext(ctx)

	key := CacheKey(q, filters)
	if cached := p.lookup(ctx, key); cached != nil {
		cached.QueryID = queryID
		cached.Cached = true
		p.metrics.RecordAsk(OutcomeCached)
		logger.Info().Dur("duration", time.Since(start)).Msg("ask_cache_hit")
		return cached, nil
	}

	stage := time.Now()
	retrieval := p.retriever.Retrieve(ctx, q, filters)
	merged := searcher.Merge(retrieval.Vector, retrieval.Lexical, p.merge)
	p.metrics.ObserveStage("retrieve", time.Since(stage))
	p.metrics.ObserveRetrieved("merged", len(merged))

	if len(merged) == 0 {
		p.metrics.RecordAsk(OutcomeEmpty)
		logger.Info().Dur("duration", time.Since(start)).Msg("ask_no_results")
		return &types.AnswerResult{
			Answer:    NoResultsAnswer,
			Citations: []types.Citation{},
			ThreadIDs: []string{},
			QueryID:   queryID,
		}, nil
	}

	stage = time.Now()
	expanded := p.expander.Expand(ctx, merged, retrieval.QueryVector)
	p.metrics.ObserveStage("expand", time.Since(stage))
	p.metrics.ObserveRetrieved("expanded", len(expanded))

	assembled := p.assembler.Assemble(expanded)
	p.metrics.ObserveRetrieved("assembled", len(assembled.Messages))

	stage = time.Now()
	answer, err := p.synthesizer.Synthesize(ctx, q, assembled.Text, merged)
	p.metrics.ObserveStage("synthesize", time.Since(stage))
	if err != nil {
		p.metrics.RecordAsk(OutcomeError)
		return nil, err
	}

	result := &types.AnswerResult{
		Answer:    answer.Text,
		Citations: p.extractor.Extract(answer.Text, assembled.Messages),
		ThreadIDs: threadIDs(expanded),
		QueryID:   queryID,
		Model:     answer.Model,
	}

	p.store(ctx, key, result)
	p.metrics.RecordAsk(OutcomeOK)
	p.metrics.ObserveStage("total", time.Since(start))

	logger.Info().
		Int("vector", len(retrieval.Vector)).
		Int("lexical", len(retrieval.Lexical)).
		Int("merged", len(merged)).
		Int("expanded", len(expanded)).
		Int("citations", len(result.Citations)).
		Str("model", result.Model).
		Dur("duration", time.Since(start)).
		Msg("ask_completed")

	return result, nil
}

// threadIDs returns the distinct non-empty thread roots in first-seen order
func threadIDs(messages []types.ScoredMessage) []string {
	seen := make(map[string]bool)
	out := []string{}
	for i := range messages {
		root := messages[i].ThreadRootID
		if root == "" || seen[root] {
			continue
		}
		seen[root] = true
		out = append(out, root)
	}
	return out
}

// CacheKey hashes the normalized question and filters
func CacheKey(question string, filters types.Filters) string {
	var b strings.Builder
	b.WriteString("ask:v1\n")
	b.WriteString(strings.ToLower(strings.Join(strings.Fields(question), " ")))
	b.WriteString("\nfrom=")
	if filters.DateFrom != nil {
		b.WriteString(filters.DateFrom.UTC().Format(time.RFC3339))
	}
	b.WriteString("\nto=")
	if filters.DateTo != nil {
		b.WriteString(filters.DateTo.UTC().Format(time.RFC3339))
	}
	b.WriteString("\nauthor=")
	b.WriteString(strings.ToLower(strings.TrimSpace(filters.Author)))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (p *Pipeline) lookup(ctx context.Context, key string) *types.AnswerResult {
	if p.cache == nil {
		return nil
	}
	data, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("cache_get_failed")
		return nil
	}
	p.metrics.RecordCache(ok)
	if !ok {
		return nil
	}

	var result types.AnswerResult
	if err := json.Unmarshal(data, &result); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("cache_decode_failed")
		return nil
	}
	return &result
}

func (p *Pipeline) store(ctx context.Context, key string, result *types.AnswerResult) {
	if p.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("cache_encode_failed")
		return
	}
	if err := p.cache.Set(ctx, key, data, p.cacheTTL); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("cache_set_failed")
	}
}
