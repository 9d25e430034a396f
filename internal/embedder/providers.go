package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
	openai "github.com/sashabaranov/go-openai"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "feature-hash-384"

	// Base URLs for OpenAI-compatible embedding endpoints
	JinaBaseURL = "https://api.jina.ai/v1"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// OpenAIConfig configures an OpenAI-compatible embedding provider
type OpenAIConfig struct {
	Name      string // Provider name reported in embeddings, defaults to "openai"
	APIKey    string
	BaseURL   string // Empty uses the client default
	Model     string
	Dimension int
	Retry     *RetryConfig // Nil uses DefaultRetryConfig
}

// OpenAIProvider implements Embedder against any OpenAI-compatible embeddings API
type OpenAIProvider struct {
	name       string
	client     *openai.Client
	httpClient *http.Client
	model      string
	dimension  int
	retry      RetryConfig
	cache      *Cache
}

// NewOpenAIProvider creates a new OpenAI-compatible embedder
func NewOpenAIProvider(cfg OpenAIConfig, cache *Cache) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key not set", ErrNoProviderEnabled)
	}
	if cfg.Name == "" {
		cfg.Name = ProviderOpenAI
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = OpenAIDimension
	}
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = httpClient

	return &OpenAIProvider{
		name:       cfg.Name,
		client:     openai.NewClientWithConfig(clientCfg),
		httpClient: httpClient,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		retry:      retry,
		cache:      cache,
	}, nil
}

// NewJinaProvider creates a Jina AI embedder through its OpenAI-compatible endpoint
func NewJinaProvider(apiKey string, cache *Cache) (*OpenAIProvider, error) {
	return NewOpenAIProvider(OpenAIConfig{
		Name:      ProviderJina,
		APIKey:    apiKey,
		BaseURL:   JinaBaseURL,
		Model:     DefaultJinaModel,
		Dimension: JinaDimension,
	}, cache)
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := validateTexts(req.Text); err != nil {
		return nil, err
	}

	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch embeds texts, calling the API only for those not cached
func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := validateTexts(req.Texts...); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := req.Model
	if model == "" {
		model = o.model
	}

	embeddings := make([]*Embedding, len(req.Texts))
	var missing []string
	var missingIdx []int
	for i, text := range req.Texts {
		text = TruncateInput(text)
		if emb, ok := o.cache.Get(model, text); ok {
			embeddings[i] = emb
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		fresh, attempts, err := retryWithBackoff(ctx, o.retry, o.name, func() ([]*Embedding, error) {
			return o.callAPI(ctx, missing, model)
		})
		if err != nil {
			var perr *ProviderError
			if errors.As(err, &perr) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, &ProviderError{Provider: o.name, Err: fmt.Errorf("after %d attempt(s): %w", attempts, err)}
		}
		for j, emb := range fresh {
			emb.Hash = ContentHash(missing[j])
			o.cache.Set(model, missing[j], emb)
			embeddings[missingIdx[j]] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   o.name,
		Model:      model,
	}, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, providerError(o.name, "no embeddings returned")
	}
	if len(resp.Data) != len(texts) {
		return nil, providerError(o.name, "expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([]*Embedding, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, providerError(o.name, "empty vector at index %d", d.Index)
		}
		respModel := string(resp.Model)
		if respModel == "" {
			respModel = model
		}
		embeddings[i] = &Embedding{
			Vector:    d.Embedding,
			Dimension: len(d.Embedding),
			Provider:  o.name,
			Model:     respModel,
		}
	}

	return embeddings, nil
}

func (o *OpenAIProvider) Dimension() int {
	return o.dimension
}

func (o *OpenAIProvider) Provider() string {
	return o.name
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider embeds text offline by feature hashing word unigrams and bigrams.
// Texts sharing vocabulary land close together, which is enough for
// development archives and tests.
type LocalProvider struct {
	model string
	cache *Cache
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{
		model: DefaultLocalModel,
		cache: cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := validateTexts(req.Text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Provider: ProviderLocal, Err: err}
	}

	text := TruncateInput(req.Text)
	if emb, ok := l.cache.Get(l.model, text); ok {
		return emb, nil
	}

	emb := &Embedding{
		Vector:    NormalizeVector(featureHash(text, LocalDimension)),
		Dimension: LocalDimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      ContentHash(text),
	}
	l.cache.Set(l.model, text, emb)
	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := validateTexts(req.Texts...); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	return LocalDimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// featureHash maps lowercase word unigrams and bigrams into dim signed buckets
func featureHash(text string, dim int) []float32 {
	vector := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	add := func(feature string, weight float32) {
		h := xxhash.Sum64String(feature)
		idx := int(h % uint64(dim))
		if h&(1<<63) != 0 {
			weight = -weight
		}
		vector[idx] += weight
	}

	for i, w := range words {
		add(w, 1)
		if i > 0 {
			add(words[i-1]+" "+w, 0.5)
		}
	}
	return vector
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
