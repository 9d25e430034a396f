package embedder

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/dshills/threadqa-mcp/internal/resilience"
)

// RetryConfig configures exponential backoff for provider calls
type RetryConfig struct {
	MaxRetries int // Total attempts, including the first
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig returns the backoff used for hosted providers
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// retryable reports whether another attempt could succeed.
// Malformed responses and client errors other than 408/429 are final.
func retryable(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return false
	}
	if class, ok := resilience.ClassifyTransport(err); ok {
		return class.Retryable
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsRetryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return resilience.IsRetryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

// retryWithBackoff calls fn until it succeeds, fails permanently, runs out
// of attempts or ctx ends. It returns the number of attempts made.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, provider string, fn func() (T, error)) (T, int, error) {
	var zero T
	attempts := config.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	backoff := config.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, attempt, ctx.Err()
		}
		if attempt == attempts || !retryable(err) {
			return zero, attempt, lastErr
		}

		zerolog.Ctx(ctx).Warn().
			Err(err).
			Str("provider", provider).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("embedding_retry")

		select {
		case <-ctx.Done():
			return zero, attempt, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxDelay {
			backoff = config.MaxDelay
		}
	}
	return zero, attempts, lastErr
}
