// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Vector backends accepted by VECTOR_BACKEND
const (
	VectorBackendSQLite = "sqlite"
	VectorBackendQdrant = "qdrant"
)

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the application
type Config struct {
	DBPath string

	// Embeddings
	EmbeddingProvider string
	EmbeddingModel    string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	JinaAPIKey        string

	// Answer synthesis
	LLMProvider     string
	LLMAPIKey       string // Key for LLMProvider
	LLMSmallModel   string
	LLMComplexModel string
	LLMTimeout      time.Duration
	LLMBreaker      bool // Circuit breaker around LLM calls

	// Request path
	SearchTimeout      time.Duration
	CacheTTL           time.Duration
	CacheSize          int
	RateLimitPerMinute int
	RateLimitBackend   string
	HTTPAddr           string

	// Ingest
	ArchiveURL string // Archive root, crawled and used for message source links

	// Crawl
	CrawlMaxRequests int           // Concurrent page fetches
	CrawlMaxMonths   int           // Months crawled in parallel
	CrawlDelay       time.Duration // Minimum spacing between requests
	CrawlStartPeriod string        // Earliest YYYY/MM month crawled
	CrawlUserAgent   string

	// Logging
	LogLevel  string
	LogFormat string

	// External vector index
	VectorBackend    string
	QdrantURL        string
	QdrantCollection string
}

// Load reads .env when present, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from the current environment only
func FromEnv() *Config {
	cfg := &Config{
		DBPath: getEnv("THREADQA_DB_PATH", defaultDBPath()),

		EmbeddingModel: os.Getenv("EMBEDDING_MODEL"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:  os.Getenv("OPENAI_BASE_URL"),
		JinaAPIKey:     os.Getenv("JINA_API_KEY"),

		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", "groq")),
		LLMSmallModel:   os.Getenv("LLM_SMALL_MODEL"),
		LLMComplexModel: os.Getenv("LLM_COMPLEX_MODEL"),
		LLMTimeout:      getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		LLMBreaker:      getEnvBool("LLM_BREAKER_ENABLED", true),

		SearchTimeout:      getEnvDuration("SEARCH_TIMEOUT", 10*time.Second),
		CacheTTL:           getEnvDuration("CACHE_TTL", time.Hour),
		CacheSize:          getEnvInt("CACHE_SIZE", 1000),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
		RateLimitBackend:   strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "window")),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),

		ArchiveURL: os.Getenv("ARCHIVE_URL"),

		CrawlMaxRequests: getEnvInt("CRAWL_MAX_REQUESTS", 10),
		CrawlMaxMonths:   getEnvInt("CRAWL_MAX_MONTHS", 3),
		CrawlDelay:       getEnvDuration("CRAWL_DELAY", 0),
		CrawlStartPeriod: getEnv("CRAWL_START_PERIOD", "2025/01"),
		CrawlUserAgent:   getEnv("CRAWL_USER_AGENT", "threadqa-crawler/1.0"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		VectorBackend:    strings.ToLower(getEnv("VECTOR_BACKEND", VectorBackendSQLite)),
		QdrantURL:        getEnv("QDRANT_URL", "localhost:6334"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "threadqa_messages"),
	}

	cfg.EmbeddingProvider = strings.ToLower(os.Getenv("EMBEDDING_PROVIDER"))
	if cfg.EmbeddingProvider == "" {
		switch {
		case cfg.OpenAIAPIKey != "":
			cfg.EmbeddingProvider = "openai"
		case cfg.JinaAPIKey != "":
			cfg.EmbeddingProvider = "jina"
		default:
			cfg.EmbeddingProvider = "local"
		}
	}

	switch cfg.LLMProvider {
	case "anthropic":
		cfg.LLMAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	default:
		cfg.LLMAPIKey = os.Getenv("GROQ_API_KEY")
	}

	return cfg
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("%w: THREADQA_DB_PATH is empty", ErrInvalidConfig)
	}
	switch c.EmbeddingProvider {
	case "local", "openai", "jina":
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER %q", ErrInvalidConfig, c.EmbeddingProvider)
	}
	switch c.LLMProvider {
	case "groq", "anthropic":
	default:
		return fmt.Errorf("%w: LLM_PROVIDER %q", ErrInvalidConfig, c.LLMProvider)
	}
	switch c.RateLimitBackend {
	case "window", "token":
	default:
		return fmt.Errorf("%w: RATE_LIMIT_BACKEND %q", ErrInvalidConfig, c.RateLimitBackend)
	}
	switch c.VectorBackend {
	case VectorBackendSQLite:
	case VectorBackendQdrant:
		if c.QdrantURL == "" {
			return fmt.Errorf("%w: QDRANT_URL is required for the qdrant backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND %q", ErrInvalidConfig, c.VectorBackend)
	}
	if c.SearchTimeout <= 0 || c.LLMTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("%w: RATE_LIMIT_PER_MINUTE must be positive", ErrInvalidConfig)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("%w: CACHE_SIZE must be positive", ErrInvalidConfig)
	}
	if c.CrawlMaxRequests <= 0 || c.CrawlMaxMonths <= 0 {
		return fmt.Errorf("%w: CRAWL_MAX_REQUESTS and CRAWL_MAX_MONTHS must be positive", ErrInvalidConfig)
	}
	if c.CrawlDelay < 0 {
		return fmt.Errorf("%w: CRAWL_DELAY must not be negative", ErrInvalidConfig)
	}
	return nil
}

// QdrantHostPort splits QdrantURL into host and gRPC port (default 6334)
func (c *Config) QdrantHostPort() (string, int, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(c.QdrantURL, "http://"), "https://")
	raw = strings.TrimSuffix(raw, "/")
	host, portStr, found := strings.Cut(raw, ":")
	if !found {
		return host, 6334, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: QDRANT_URL port %q", ErrInvalidConfig, portStr)
	}
	return host, port, nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".threadqa", "threadqa.db")
	}
	return filepath.Join(home, ".threadqa", "threadqa.db")
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as integer with a default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or whole seconds ("90")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvBool gets an environment variable as boolean with a default fallback
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
