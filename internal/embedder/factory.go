package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables read by NewFromEnv and DetectProvider
const (
	EnvProvider     = "EMBEDDING_PROVIDER"
	EnvModel        = "EMBEDDING_MODEL"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvOpenAIBase   = "OPENAI_BASE_URL"
	EnvJinaAPIKey   = "JINA_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	CacheSize int
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. EMBEDDING_PROVIDER (openai, jina, local)
// 2. Check for API keys: OPENAI_API_KEY, JINA_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	provider := DetectProvider()

	cfg := Config{
		Provider:  provider,
		Model:     os.Getenv(EnvModel),
		CacheSize: 10000,
	}
	switch provider {
	case ProviderOpenAI:
		cfg.APIKey = os.Getenv(EnvOpenAIAPIKey)
		cfg.BaseURL = os.Getenv(EnvOpenAIBase)
	case ProviderJina:
		cfg.APIKey = os.Getenv(EnvJinaAPIKey)
	}
	return New(cfg)
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}, cache)
	case ProviderJina:
		return NewOpenAIProvider(OpenAIConfig{
			Name:      ProviderJina,
			APIKey:    cfg.APIKey,
			BaseURL:   firstNonEmpty(cfg.BaseURL, JinaBaseURL),
			Model:     firstNonEmpty(cfg.Model, DefaultJinaModel),
			Dimension: JinaDimension,
		}, cache)
	case ProviderLocal, "":
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}

	return ProviderLocal
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
